package store

import (
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// TextDoc is the document shape stored in the lexical index.
type TextDoc struct {
	Content string `json:"content"`
	Page    int    `json:"page"`
}

// TextHit is one keyword match.
type TextHit struct {
	Seq   int
	Page  int
	Score float64
}

// TextIndex is a bleve index over the chunks of one document.
type TextIndex struct {
	index bleve.Index
}

// CreateTextIndex creates a fresh index at dir, removing anything already there.
func CreateTextIndex(dir string) (*TextIndex, error) {
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("reset text index dir: %w", err)
	}
	index, err := bleve.New(dir, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create bleve index: %w", err)
	}
	return &TextIndex{index: index}, nil
}

// OpenTextIndex opens an existing index.
func OpenTextIndex(dir string) (*TextIndex, error) {
	index, err := bleve.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &TextIndex{index: index}, nil
}

// IndexChunks adds chunks in one batch, keyed by sequence number.
func (t *TextIndex) IndexChunks(chunks []Chunk) error {
	batch := t.index.NewBatch()
	for _, c := range chunks {
		if err := batch.Index(strconv.Itoa(c.Seq), TextDoc{Content: c.Content, Page: c.Page}); err != nil {
			return fmt.Errorf("index chunk %d: %w", c.Seq, err)
		}
	}
	if err := t.index.Batch(batch); err != nil {
		return fmt.Errorf("write text batch: %w", err)
	}
	return nil
}

// Search runs a match query against chunk content.
func (t *TextIndex) Search(query string, topK int) ([]TextHit, error) {
	if topK <= 0 {
		topK = 10
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("content")

	req := bleve.NewSearchRequestOptions(match, topK, 0, false)
	req.Fields = []string{"page"}

	res, err := t.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}

	hits := make([]TextHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		seq, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		page, _ := hit.Fields["page"].(float64)
		hits = append(hits, TextHit{Seq: seq, Page: int(page), Score: hit.Score})
	}
	return hits, nil
}

// Count returns the number of indexed chunks.
func (t *TextIndex) Count() (uint64, error) {
	return t.index.DocCount()
}

// Close closes the index.
func (t *TextIndex) Close() error {
	return t.index.Close()
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "standard"
	indexMapping.DefaultField = "content"

	docMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = false
	contentField.Index = true
	docMapping.AddFieldMappingsAt("content", contentField)

	pageField := bleve.NewNumericFieldMapping()
	pageField.Store = true
	pageField.Index = false
	docMapping.AddFieldMappingsAt("page", pageField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}
