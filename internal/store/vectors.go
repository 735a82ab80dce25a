package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DreamCats/pdfchat/internal/embedding"
)

// VectorStore provides chunk storage and similarity search operations
type VectorStore struct {
	db *DB
}

// NewVectorStore creates a new vector store
func NewVectorStore(db *DB) *VectorStore {
	return &VectorStore{db: db}
}

// InsertBatch inserts chunks in a single transaction
func (v *VectorStore) InsertBatch(chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO chunks (seq, page, content, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)

	for i, c := range chunks {
		var blob []byte
		if len(c.Vector) > 0 {
			blob = vectorToBlob(c.Vector)
		}
		if _, err := stmt.Exec(c.Seq, c.Page, c.Content, blob, len(c.Vector), c.Model, now); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// Get retrieves a chunk by its sequence number
func (v *VectorStore) Get(seq int) (*Chunk, error) {
	row := v.db.sqlDB.QueryRow(
		"SELECT id, seq, page, content, vector, model, created_at FROM chunks WHERE seq = ?", seq,
	)
	c, err := scanChunk(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chunk not found: %d", seq)
		}
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return c, nil
}

// Search ranks every stored chunk by cosine similarity to the query vector.
func (v *VectorStore) Search(queryVector []float32, topK int) ([]ScoredChunk, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}

	// Brute force is fine for a single document.
	rows, err := v.db.sqlDB.Query("SELECT id, seq, page, content, vector, model, created_at FROM chunks")
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(c.Vector) != len(queryVector) {
			continue
		}

		score := embedding.Similarity(queryVector, c.Vector)
		results = append(results, ScoredChunk{
			Chunk:    c,
			Score:    score,
			Distance: 1 - score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sortResults(results)
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of chunks stored
func (v *VectorStore) Count() (int, error) {
	var count int
	if err := v.db.sqlDB.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var c Chunk
	var blob []byte
	var createdAt any
	if err := row.Scan(&c.ID, &c.Seq, &c.Page, &c.Content, &blob, &c.Model, &createdAt); err != nil {
		return nil, err
	}

	if len(blob) > 0 {
		vector, err := blobToVector(blob)
		if err != nil {
			return nil, err
		}
		c.Vector = vector
	}

	ts, err := parseTimeValue(createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	c.CreatedAt = ts
	return &c, nil
}

// vectorToBlob encodes a float32 slice as little-endian bytes
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:i*4+4], math.Float32bits(v))
	}
	return blob
}

// blobToVector decodes little-endian bytes into a float32 slice
func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("blob size %d is not a multiple of 4", len(blob))
	}

	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vector, nil
}

// sortResults orders by score descending, then by document position
func sortResults(results []ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Seq < results[j].Chunk.Seq
	})
}
