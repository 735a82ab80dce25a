package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/splitter"
	"github.com/DreamCats/pdfchat/internal/store"
)

// build splits, embeds and persists src into a temporary sibling directory,
// then renames it into place.
func (s *Store) build(ctx context.Context, fp string, src Source, emb embedding.Embedder) (idx *Index, err error) {
	start := time.Now()
	log := s.log.WithFields(logrus.Fields{"fingerprint": fp, "path": src.Path()})
	defer func() {
		s.metrics.IndexBuilt(err, time.Since(start), chunkCount(idx))
	}()

	opts := s.options()
	pages, err := src.Pages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	chunks, err := split(pages, opts)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	log.WithField("chunks", len(chunks)).Info("embedding document")

	if err := s.embed(ctx, chunks, emb, opts); err != nil {
		return nil, err
	}

	meta := &store.IndexMeta{
		SourcePath:   src.Path(),
		Model:        emb.Model(),
		Dimension:    len(chunks[0].Vector),
		ChunkSize:    opts.ChunkSize,
		ChunkOverlap: opts.ChunkOverlap,
		ChunkCount:   len(chunks),
		BuiltAt:      time.Now().UTC(),
	}
	if info, err := os.Stat(src.Path()); err == nil {
		meta.SourceSize = info.Size()
		meta.SourceModTime = info.ModTime()
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database root: %w", err)
	}
	tmp := filepath.Join(s.root, "."+fp+"-"+uuid.NewString()+".tmp")
	if err := persist(ctx, tmp, chunks, meta); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	dir := s.Dir(fp)
	if err := os.RemoveAll(dir); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to clear index dir: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		os.RemoveAll(tmp)
		return nil, fmt.Errorf("failed to move index into place: %w", err)
	}

	idx, err = s.load(fp, emb)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"chunks":   len(chunks),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("built vector index")
	return idx, nil
}

// split chunks each page on its own so every chunk keeps its page number.
func split(pages []pdf.Page, opts Options) ([]store.Chunk, error) {
	sp, err := splitter.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	var chunks []store.Chunk
	for _, page := range pages {
		for _, text := range sp.Split(page.Text) {
			chunks = append(chunks, store.Chunk{
				Seq:     len(chunks),
				Page:    page.Number,
				Content: text,
			})
		}
	}
	return chunks, nil
}

// embed fills in chunk vectors, fanning batches out over MaxWorkers goroutines.
func (s *Store) embed(ctx context.Context, chunks []store.Chunk, emb embedding.Embedder, opts Options) error {
	progress := s.progress
	if progress != nil {
		progress.Start(len(chunks))
		defer progress.Finish()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxWorkers)

	model := emb.Model()
	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Content
			}
			vectors, err := emb.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", batch[0].Seq, batch[len(batch)-1].Seq, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				if len(vectors[i]) == 0 {
					return fmt.Errorf("empty vector for chunk %d", batch[i].Seq)
				}
				batch[i].Vector = vectors[i]
				batch[i].Model = model
				if progress != nil {
					progress.Increment()
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// persist writes the sqlite and bleve halves of the index concurrently.
func persist(ctx context.Context, dir string, chunks []store.Chunk, meta *store.IndexMeta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		db, err := store.Open(filepath.Join(dir, dbFile))
		if err != nil {
			return fmt.Errorf("failed to create index database: %w", err)
		}
		defer db.Close()

		if err := store.NewVectorStore(db).InsertBatch(chunks); err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		if err := store.NewMetaStore(db).Save(meta); err != nil {
			return fmt.Errorf("failed to store index meta: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		text, err := store.CreateTextIndex(filepath.Join(dir, textDir))
		if err != nil {
			return err
		}
		defer text.Close()
		return text.IndexChunks(chunks)
	})
	return g.Wait()
}

func chunkCount(idx *Index) int {
	if idx == nil {
		return 0
	}
	return idx.meta.ChunkCount
}
