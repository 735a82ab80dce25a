// Package vectorindex loads or builds the persisted chunk index of a document,
// keyed by its fingerprint.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/metrics"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/store"
)

// ErrEmptyDocument is returned when a document yields no text to index.
var ErrEmptyDocument = errors.New("document has no extractable text")

const (
	dbFile  = "index.db"
	textDir = "text.bleve"
)

// Source is a document that can be split into pages.
type Source interface {
	Path() string
	Pages(ctx context.Context) ([]pdf.Page, error)
}

// ProgressReporter observes embedding progress during a build.
type ProgressReporter interface {
	Start(total int)
	Increment()
	Finish()
}

// Options controls chunking, embedding fan-out and search blending.
type Options struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxWorkers    int
	BatchSize     int
	VectorWeight  float32
	KeywordWeight float32
}

// OptionsFromConfig reads Options from a loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:     cfg.Indexer.ChunkSize,
		ChunkOverlap:  cfg.Indexer.ChunkOverlap,
		MaxWorkers:    cfg.Indexer.MaxWorkers,
		BatchSize:     cfg.Embedding.BatchSize,
		VectorWeight:  cfg.Search.VectorWeight,
		KeywordWeight: cfg.Search.KeywordWeight,
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 200
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 16
	}
	if o.VectorWeight == 0 && o.KeywordWeight == 0 {
		o.VectorWeight = 1
	}
	return o
}

// Store owns the index directories under one database root.
type Store struct {
	root     string
	opts     Options
	config   config.Provider
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	progress ProgressReporter

	group singleflight.Group
	mu    sync.Mutex
	open  map[string]*Index
}

// Option configures a Store.
type Option func(*Store)

// WithOptions sets chunking and search options.
func WithOptions(o Options) Option {
	return func(s *Store) { s.opts = o.withDefaults() }
}

// WithConfig reads options from provider on every build and search, so
// config changes apply without reopening the store. It overrides WithOptions.
func WithConfig(provider config.Provider) Option {
	return func(s *Store) { s.config = provider }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records builds and loads.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithProgress reports embedding progress.
func WithProgress(p ProgressReporter) Option {
	return func(s *Store) { s.progress = p }
}

// NewStore creates a store rooted at root.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		root: root,
		opts: Options{}.withDefaults(),
		open: make(map[string]*Index),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "vectorindex")
	return s
}

func (s *Store) options() Options {
	if s.config == nil {
		return s.opts
	}
	return OptionsFromConfig(s.config.Current()).withDefaults()
}

// Root returns the database root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of the index for fp.
func (s *Store) Dir(fp string) string {
	return filepath.Join(s.root, fp)
}

// Exists reports whether a complete index for fp is on disk.
func (s *Store) Exists(fp string) bool {
	info, err := os.Stat(filepath.Join(s.Dir(fp), dbFile))
	return err == nil && !info.IsDir()
}

// Resolve returns the index for fp, building it from src when absent.
// Concurrent calls for the same fingerprint share one build or load.
func (s *Store) Resolve(ctx context.Context, fp string, src Source, emb embedding.Embedder) (*Index, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	v, err, _ := s.group.Do(fp, func() (interface{}, error) {
		s.mu.Lock()
		idx, ok := s.open[fp]
		s.mu.Unlock()
		if ok {
			idx.setEmbedder(emb)
			s.warnIfMismatched(idx, src, emb)
			return idx, nil
		}

		if s.Exists(fp) {
			idx, err := s.load(fp, emb)
			if err != nil {
				return nil, err
			}
			s.warnIfMismatched(idx, src, emb)
			s.metrics.IndexLoaded()
			s.remember(fp, idx)
			return idx, nil
		}

		if src == nil {
			return nil, fmt.Errorf("no index for %s and no document to build it from", fp)
		}
		idx, err := s.build(ctx, fp, src, emb)
		if err != nil {
			return nil, err
		}
		s.remember(fp, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Rebuild discards any index for fp and builds it again from src.
func (s *Store) Rebuild(ctx context.Context, fp string, src Source, emb embedding.Embedder) (*Index, error) {
	if err := s.Remove(fp); err != nil {
		return nil, err
	}
	return s.Resolve(ctx, fp, src, emb)
}

// Fingerprints lists the fingerprints of every complete index under the root.
func (s *Store) Fingerprints() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list index root: %w", err)
	}
	var fps []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.Exists(e.Name()) {
			fps = append(fps, e.Name())
		}
	}
	return fps, nil
}

// Remove closes and deletes the index for fp.
func (s *Store) Remove(fp string) error {
	s.forget(fp)
	if err := os.RemoveAll(s.Dir(fp)); err != nil {
		return fmt.Errorf("failed to remove index dir: %w", err)
	}
	return nil
}

// Open returns an existing index without a document, for read-only callers.
func (s *Store) Open(ctx context.Context, fp string, emb embedding.Embedder) (*Index, error) {
	if !s.Exists(fp) {
		return nil, fmt.Errorf("no index for %s", fp)
	}
	return s.Resolve(ctx, fp, nil, emb)
}

// Stats returns facts about the index for fp without keeping it open.
func (s *Store) Stats(fp string) (*Stats, error) {
	s.mu.Lock()
	idx, ok := s.open[fp]
	s.mu.Unlock()
	if ok {
		return idx.Stats()
	}

	if !s.Exists(fp) {
		return nil, fmt.Errorf("no index for %s", fp)
	}
	db, err := store.Open(filepath.Join(s.Dir(fp), dbFile))
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return statsFrom(fp, s.Dir(fp), db)
}

// Close closes every cached index.
func (s *Store) Close() error {
	s.mu.Lock()
	open := s.open
	s.open = make(map[string]*Index)
	s.mu.Unlock()

	var errs []error
	for _, idx := range open {
		if err := idx.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) remember(fp string, idx *Index) {
	s.mu.Lock()
	s.open[fp] = idx
	s.mu.Unlock()
}

func (s *Store) forget(fp string) {
	s.mu.Lock()
	idx, ok := s.open[fp]
	delete(s.open, fp)
	s.mu.Unlock()
	if ok {
		if err := idx.close(); err != nil {
			s.log.WithError(err).WithField("fingerprint", fp).Warn("failed to close index")
		}
	}
}

func (s *Store) load(fp string, emb embedding.Embedder) (*Index, error) {
	dir := s.Dir(fp)
	db, err := store.Open(filepath.Join(dir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	meta, err := store.NewMetaStore(db).Load()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read index meta: %w", err)
	}
	if meta == nil {
		meta = &store.IndexMeta{}
	}

	text, err := store.OpenTextIndex(filepath.Join(dir, textDir))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open text index: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"fingerprint": fp,
		"chunks":      meta.ChunkCount,
		"model":       meta.Model,
	}).Info("loaded vector index")

	return newIndex(fp, dir, db, text, meta, emb, s.options, s.log), nil
}

// warnIfMismatched logs when the index may no longer match its source or embedder.
func (s *Store) warnIfMismatched(idx *Index, src Source, emb embedding.Embedder) {
	meta := idx.Meta()
	log := s.log.WithField("fingerprint", idx.fp)

	if meta.Model != "" && meta.Model != emb.Model() {
		log.WithFields(logrus.Fields{
			"index_model":    meta.Model,
			"embedder_model": emb.Model(),
		}).Warn("index was built with a different embedding model")
	}

	opts := s.options()
	if meta.ChunkSize != 0 && (meta.ChunkSize != opts.ChunkSize || meta.ChunkOverlap != opts.ChunkOverlap) {
		log.WithFields(logrus.Fields{
			"index_chunk_size":  meta.ChunkSize,
			"config_chunk_size": opts.ChunkSize,
		}).Warn("index was built with different chunk settings; run a rebuild to apply them")
	}

	if src == nil || meta.SourceSize == 0 {
		return
	}
	info, err := os.Stat(src.Path())
	if err != nil {
		return
	}
	if info.Size() != meta.SourceSize || !info.ModTime().Equal(meta.SourceModTime) {
		log.WithField("path", src.Path()).Warn("index may be stale; run a rebuild to refresh it")
	}
}

// Stats describes a persisted index.
type Stats struct {
	Fingerprint string    `json:"fingerprint"`
	Dir         string    `json:"dir"`
	SourcePath  string    `json:"source_path"`
	SourceSize  int64     `json:"source_size"`
	SourceMod   time.Time `json:"source_mod_time"`
	Chunks      int64     `json:"chunks"`
	Dimension   int       `json:"dimension"`
	Model       string    `json:"model"`
	BuiltAt     time.Time `json:"built_at"`
	SizeBytes   int64     `json:"size_bytes"`
}

// StaleReason explains why the index no longer matches the file at path.
// It returns "" when the index looks current.
func (st *Stats) StaleReason(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("source unreadable: %v", err)
	}
	if st.SourceSize == 0 {
		return ""
	}
	if info.Size() != st.SourceSize {
		return fmt.Sprintf("source size changed (%d -> %d bytes)", st.SourceSize, info.Size())
	}
	if !info.ModTime().Equal(st.SourceMod) {
		return fmt.Sprintf("source modified at %s, after the index was built", info.ModTime().Format(time.RFC3339))
	}
	return ""
}

func statsFrom(fp, dir string, db *store.DB) (*Stats, error) {
	dbStats, err := db.Stats()
	if err != nil {
		return nil, err
	}
	meta, err := store.NewMetaStore(db).Load()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		meta = &store.IndexMeta{}
	}
	return &Stats{
		Fingerprint: fp,
		Dir:         dir,
		SourcePath:  meta.SourcePath,
		SourceSize:  meta.SourceSize,
		SourceMod:   meta.SourceModTime,
		Chunks:      dbStats.ChunkCount,
		Dimension:   dbStats.Dimension,
		Model:       meta.Model,
		BuiltAt:     meta.BuiltAt,
		SizeBytes:   dirSize(dir),
	}, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
