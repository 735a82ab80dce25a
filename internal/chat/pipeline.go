// Package chat answers questions about one document with retrieval-augmented
// generation over its vector index.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/fingerprint"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/memory"
	"github.com/DreamCats/pdfchat/internal/metrics"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// ErrNotReady is returned by asks made before a successful rebuild.
var ErrNotReady = errors.New("chat chain is not ready")

// Status notifications published during a rebuild.
const (
	StatusTitle    = "Embedding PDF"
	StatusWait     = "Please wait!!"
	StatusFinished = "Embedding finished!!"
	StatusFailed   = "Embedding failed!!"
)

// DefaultSession is the session key used by Ask and AskStreaming.
const DefaultSession = "default"

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateEmbedding
	StateReady
	StateFailed
)

var stateNames = []string{"uninitialized", "embedding", "ready", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EmbedderFactory builds the embedder used to resolve the index.
type EmbedderFactory func(cfg *config.EmbeddingConfig) (embedding.Embedder, error)

// Retriever is the part of an index the pipeline queries.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Result, error)
}

// Pipeline answers questions about a single document.
type Pipeline struct {
	provider    config.Provider
	doc         vectorindex.Source
	fp          string
	indexes     *vectorindex.Store
	memory      *memory.Memory
	status      *event.Bus[event.Status]
	newChat     llm.Factory
	newEmbedder EmbedderFactory
	log         logrus.FieldLogger
	metrics     *metrics.Metrics

	state atomic.Int32
	wg    sync.WaitGroup

	// mu is held for writing across a whole rebuild.
	mu        sync.RWMutex
	retriever Retriever
	model     *modelRef
	language  string
	topK      int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStatusBus publishes rebuild status notifications on bus.
func WithStatusBus(bus *event.Bus[event.Status]) Option {
	return func(p *Pipeline) { p.status = bus }
}

// WithChatFactory overrides how chat models are built.
func WithChatFactory(f llm.Factory) Option {
	return func(p *Pipeline) { p.newChat = f }
}

// WithEmbedderFactory overrides how embedders are built.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(p *Pipeline) { p.newEmbedder = f }
}

// WithMemory shares a conversation memory.
func WithMemory(m *memory.Memory) Option {
	return func(p *Pipeline) { p.memory = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics records asks and state changes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a pipeline for doc. It starts Uninitialized; call Rebuild or
// Subscribe to bring it up.
func New(provider config.Provider, doc vectorindex.Source, indexes *vectorindex.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider: provider,
		doc:      doc,
		fp:       fingerprint.Of(doc.Path()),
		indexes:  indexes,
		newChat:  llm.New,
		newEmbedder: func(cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
			return embedding.NewService(cfg)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.memory == nil {
		p.memory = memory.New(provider.Current().Memory.MaxTurns)
	}
	p.log = logging.OrDefault(p.log, "chat").WithField("fingerprint", p.fp)
	p.metrics.SetPipelineState(StateUninitialized.String(), stateNames)
	return p
}

// Fingerprint returns the document fingerprint.
func (p *Pipeline) Fingerprint() string {
	return p.fp
}

// Memory returns the conversation memory.
func (p *Pipeline) Memory() *memory.Memory {
	return p.memory
}

// State returns the current state without waiting for a rebuild.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Language returns the target language read by the last successful rebuild.
func (p *Pipeline) Language() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.language
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.metrics.SetPipelineState(s.String(), stateNames)
}

func (p *Pipeline) publish(message string) {
	if p.status == nil {
		return
	}
	p.status.Publish(event.Status{Title: StatusTitle, Message: message})
}

// Rebuild re-reads configuration, resolves the index and builds the chat
// model. It holds the pipeline exclusively, so asks wait until it ends.
func (p *Pipeline) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := p.provider.Current()
	p.setState(StateEmbedding)
	p.publish(StatusWait)

	idx, err := p.resolve(ctx, cfg)
	if err != nil {
		p.publish(StatusFailed)
		p.setState(StateFailed)
		p.log.WithError(err).Error("failed to embed document")
		return err
	}
	p.publish(StatusFinished)

	p.retriever = idx
	p.retireModel()

	model, err := p.newChat(&cfg.Chat)
	if err != nil {
		p.setState(StateFailed)
		p.log.WithError(err).Error("failed to create chat model")
		return fmt.Errorf("failed to create chat model: %w", err)
	}

	p.model = newModelRef(model, p.log)
	p.language = cfg.Language.Target
	p.topK = cfg.Search.TopK
	if p.topK <= 0 {
		p.topK = 2
	}
	p.setState(StateReady)
	p.log.WithFields(logrus.Fields{
		"model":    model.Model(),
		"language": p.language,
	}).Info("chat chain ready")
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, cfg *config.Config) (*vectorindex.Index, error) {
	emb, err := p.newEmbedder(&cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	idx, err := p.indexes.Resolve(ctx, p.fp, p.doc, emb)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve index: %w", err)
	}
	return idx, nil
}

// retireModel drops the current chat model. Asks still using it keep it
// open until they finish.
func (p *Pipeline) retireModel() {
	if p.model == nil {
		return
	}
	p.model.retire()
	p.model = nil
}

// Subscribe rebuilds the pipeline on every config change published on bus.
// Each rebuild runs on its own goroutine.
func (p *Pipeline) Subscribe(ctx context.Context, bus *event.Bus[config.Change]) (unsubscribe func()) {
	return bus.Subscribe(func(change config.Change) {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.log.WithField("source", change.Source).Info("config changed, rebuilding chat chain")
			_ = p.Rebuild(ctx)
		}()
	})
}

// Wait blocks until rebuilds started by Subscribe have finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close waits for pending rebuilds and releases the chat model. An answer
// still streaming keeps the model open until it ends.
func (p *Pipeline) Close() error {
	p.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retireModel()
	return nil
}
