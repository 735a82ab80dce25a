package store

import "time"

// Chunk is one piece of document text with its embedding.
type Chunk struct {
	ID        int64
	Seq       int // Position of the chunk in the document
	Page      int // 1-based page the chunk starts on, 0 when unknown
	Content   string
	Vector    []float32
	Model     string
	CreatedAt time.Time
}

// ScoredChunk is a chunk ranked against a query.
type ScoredChunk struct {
	Chunk    *Chunk
	Score    float32
	Distance float32
}

// IndexMeta describes how and from what an index was built.
type IndexMeta struct {
	SourcePath    string
	SourceSize    int64
	SourceModTime time.Time
	Model         string
	Dimension     int
	ChunkSize     int
	ChunkOverlap  int
	ChunkCount    int
	BuiltAt       time.Time
}
