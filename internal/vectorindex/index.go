package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/store"
)

// Index is an open, queryable chunk index.
type Index struct {
	fp      string
	dir     string
	db      *store.DB
	vectors *store.VectorStore
	text    *store.TextIndex
	meta    store.IndexMeta
	options func() Options
	log     logrus.FieldLogger

	mu  sync.RWMutex
	emb embedding.Embedder
}

// Result is one retrieved chunk.
type Result struct {
	Seq          int     `json:"seq"`
	Page         int     `json:"page"`
	Content      string  `json:"content"`
	Score        float32 `json:"score"`
	VectorScore  float32 `json:"vector_score"`
	KeywordScore float32 `json:"keyword_score"`
}

func newIndex(fp, dir string, db *store.DB, text *store.TextIndex, meta *store.IndexMeta, emb embedding.Embedder, options func() Options, log logrus.FieldLogger) *Index {
	return &Index{
		fp:      fp,
		dir:     dir,
		db:      db,
		vectors: store.NewVectorStore(db),
		text:    text,
		meta:    *meta,
		options: options,
		log:     log,
		emb:     emb,
	}
}

// Fingerprint returns the document fingerprint.
func (idx *Index) Fingerprint() string {
	return idx.fp
}

// Meta returns the build facts recorded with the index.
func (idx *Index) Meta() store.IndexMeta {
	return idx.meta
}

func (idx *Index) setEmbedder(emb embedding.Embedder) {
	idx.mu.Lock()
	idx.emb = emb
	idx.mu.Unlock()
}

func (idx *Index) embedder() embedding.Embedder {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.emb
}

// Search returns the k chunks closest to query. Vector similarity and keyword
// relevance are blended by the configured weights.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		k = 2
	}

	opts := idx.options()
	vw, kw := opts.VectorWeight, opts.KeywordWeight
	total := vw + kw
	if total == 0 {
		vw, total = 1, 1
	}
	vw /= total
	kw /= total

	combined := make(map[int]*Result)

	if vw > 0 {
		queryVector, err := idx.embedder().Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		limit := k
		if kw > 0 {
			limit = k * 2
		}
		hits, err := idx.vectors.Search(queryVector, limit)
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		for _, h := range hits {
			combined[h.Chunk.Seq] = &Result{
				Seq:         h.Chunk.Seq,
				Page:        h.Chunk.Page,
				Content:     h.Chunk.Content,
				VectorScore: h.Score,
			}
		}
	}

	if kw > 0 {
		hits, err := idx.text.Search(query, k*2)
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		for i, h := range hits {
			// Rank-based score so bleve's unbounded scores stay comparable.
			score := float32(1.0 - float64(i)/float64(len(hits)))
			if r, ok := combined[h.Seq]; ok {
				r.KeywordScore = score
				continue
			}
			c, err := idx.vectors.Get(h.Seq)
			if err != nil {
				continue
			}
			combined[h.Seq] = &Result{
				Seq:          c.Seq,
				Page:         c.Page,
				Content:      c.Content,
				KeywordScore: score,
			}
		}
	}

	results := make([]Result, 0, len(combined))
	for _, r := range combined {
		r.Score = vw*r.VectorScore + kw*r.KeywordScore
		results = append(results, *r)
	}
	sortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// KeywordSearch ranks chunks by lexical relevance only.
func (idx *Index) KeywordSearch(query string, k int) ([]Result, error) {
	hits, err := idx.text.Search(query, k)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		c, err := idx.vectors.Get(h.Seq)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Seq:          c.Seq,
			Page:         c.Page,
			Content:      c.Content,
			Score:        float32(h.Score),
			KeywordScore: float32(h.Score),
		})
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (idx *Index) Count() (int, error) {
	return idx.vectors.Count()
}

// Stats returns facts about the index.
func (idx *Index) Stats() (*Stats, error) {
	return statsFrom(idx.fp, idx.dir, idx.db)
}

func (idx *Index) close() error {
	return errors.Join(idx.text.Close(), idx.db.Close())
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq < results[j].Seq
	})
}

// Contents returns the chunk texts in result order.
func Contents(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}
