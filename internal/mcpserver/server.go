package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/DreamCats/pdfchat/internal/chat"
	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/explain"
	"github.com/DreamCats/pdfchat/internal/fingerprint"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/memory"
	"github.com/DreamCats/pdfchat/internal/metrics"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// Opener turns a resolved document path into an indexable source.
type Opener func(path string) vectorindex.Source

// Server exposes document chat, explain and search via MCP stdio.
type Server struct {
	provider    config.Provider
	indexes     *vectorindex.Store
	memory      *memory.Memory
	open        Opener
	newChat     llm.Factory
	newEmbedder chat.EmbedderFactory
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
	defaultDoc  string
	version     string
	changes     *event.Bus[config.Change]

	// ctx outlives tool calls; first builds and config rebuilds run under it.
	ctx    context.Context
	cancel context.CancelFunc
	builds singleflight.Group

	mu           sync.Mutex
	pipelines    map[string]*chat.Pipeline
	unsubscribes []func()
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultDocument is used when a tool call names no path.
func WithDefaultDocument(path string) Option {
	return func(s *Server) { s.defaultDoc = path }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithOpener overrides how documents are read.
func WithOpener(open Opener) Option {
	return func(s *Server) { s.open = open }
}

// WithChatFactory overrides how chat models are built.
func WithChatFactory(f llm.Factory) Option {
	return func(s *Server) { s.newChat = f }
}

// WithEmbedderFactory overrides how embedders are built.
func WithEmbedderFactory(f chat.EmbedderFactory) Option {
	return func(s *Server) { s.newEmbedder = f }
}

// WithLogger sets the logger. Stdout carries the protocol, so it must not
// write there.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithConfigChanges rebuilds every open document when bus reports a config
// change. A document that failed to load is only retried this way.
func WithConfigChanges(bus *event.Bus[config.Change]) Option {
	return func(s *Server) { s.changes = bus }
}

// WithMetrics records asks, explanations and index builds.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a new MCP server wrapper.
func New(provider config.Provider, indexes *vectorindex.Store, opts ...Option) *Server {
	s := &Server{
		provider: provider,
		indexes:  indexes,
		open: func(path string) vectorindex.Source {
			return pdf.NewFile(path)
		},
		newChat: llm.New,
		newEmbedder: func(cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
			return embedding.NewService(cfg)
		},
		version:   "dev",
		pipelines: make(map[string]*chat.Pipeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDefault(s.log, "mcp")
	s.memory = memory.New(provider.Current().Memory.MaxTurns)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Run starts the MCP stdio server.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()
	return s.mcpServer().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) mcpServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pdfchat",
		Title:   "PDF Chat",
		Version: s.version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name: "pdf_ask",
		Description: `Ask a question about a PDF document.

The document is embedded on first use (this can take a while for long files) and the
index is reused afterwards. Follow-up questions in the same session are reformulated
against the conversation history, which keeps the last turns only.`,
	}, s.askTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "pdf_explain",
		Description: `Explain a selected word or phrase for a language learner.

Modes:
- target: explain in the language the document is written in
- mother: explain in the learner's mother tongue

When context is empty and a document is given, the passages around the selection are
retrieved from the document and used as context.`,
	}, s.explainTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pdf_search",
		Description: "Retrieve the document chunks most relevant to a query, with vector and keyword scores.",
	}, s.searchTool)

	mcp.AddTool(server, &mcp.Tool{
		Name: "pdf_status",
		Description: `Check the index status of a PDF document.

Returns:
- Whether the document is indexed and where
- Chunk count, embedding model and dimension
- Index age and size
- Staleness indicator (if the file changed after indexing)`,
	}, s.statusTool)

	return server
}

// Close releases every pipeline and cached index.
func (s *Server) Close() error {
	s.cancel()

	s.mu.Lock()
	pipelines := s.pipelines
	unsubscribes := s.unsubscribes
	s.pipelines = make(map[string]*chat.Pipeline)
	s.unsubscribes = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	for _, p := range pipelines {
		_ = p.Close()
	}
	return s.indexes.Close()
}

func (s *Server) resolvePath(input string) (string, error) {
	path := strings.TrimSpace(input)
	if path == "" {
		path = s.defaultDoc
	}
	if path == "" {
		return "", fmt.Errorf("path is required (no default document configured)")
	}
	return pdf.AbsPath(path)
}

// pipeline returns the pipeline for path, building it on first use. The first
// build is shared by concurrent callers.
func (s *Server) pipeline(ctx context.Context, path string) (*chat.Pipeline, error) {
	s.mu.Lock()
	p, ok := s.pipelines[path]
	if !ok {
		p = chat.New(s.provider, s.open(path), s.indexes,
			chat.WithChatFactory(s.newChat),
			chat.WithEmbedderFactory(s.newEmbedder),
			chat.WithMemory(s.memory),
			chat.WithLogger(s.log),
			chat.WithMetrics(s.metrics),
		)
		s.pipelines[path] = p
		if s.changes != nil {
			s.unsubscribes = append(s.unsubscribes, p.Subscribe(s.ctx, s.changes))
		}
	}
	s.mu.Unlock()

	if p.State() == chat.StateUninitialized {
		ch := s.builds.DoChan(path, func() (any, error) {
			if p.State() != chat.StateUninitialized {
				return nil, nil
			}
			return nil, p.Rebuild(s.ctx)
		})
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.State() == chat.StateFailed {
		return nil, fmt.Errorf("document %s failed to load; it is retried on the next config change", path)
	}
	return p, nil
}

func (s *Server) askTool(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if strings.TrimSpace(input.Question) == "" {
		return nil, AskOutput{}, fmt.Errorf("question is required")
	}
	path, err := s.resolvePath(input.Path)
	if err != nil {
		return nil, AskOutput{}, err
	}

	p, err := s.pipeline(ctx, path)
	if err != nil {
		return nil, AskOutput{}, err
	}

	session := input.Session
	if session == "" {
		session = chat.DefaultSession
	}
	// One memory serves every document; sessions are per document.
	answer, err := p.AskSession(ctx, p.Fingerprint()+"/"+session, input.Question)
	if err != nil {
		return nil, AskOutput{}, err
	}

	return nil, AskOutput{
		Answer:      answer,
		Session:     session,
		Fingerprint: p.Fingerprint(),
	}, nil
}

func (s *Server) explainTool(ctx context.Context, _ *mcp.CallToolRequest, input ExplainInput) (*mcp.CallToolResult, ExplainOutput, error) {
	if strings.TrimSpace(input.Selected) == "" {
		return nil, ExplainOutput{}, fmt.Errorf("selected is required")
	}
	mode, err := explain.ParseMode(input.Mode)
	if err != nil {
		return nil, ExplainOutput{}, err
	}

	passage := input.Context
	if strings.TrimSpace(passage) == "" && (input.Path != "" || s.defaultDoc != "") {
		passage, err = s.surrounding(ctx, input.Path, input.Selected)
		if err != nil {
			return nil, ExplainOutput{}, err
		}
	}
	if strings.TrimSpace(passage) == "" {
		return nil, ExplainOutput{}, fmt.Errorf("context is required when no document is given")
	}

	var sb strings.Builder
	req := explain.Request{
		Selected: input.Selected,
		Context:  passage,
		Mode:     mode,
	}
	task := explain.New(s.provider, s.newChat, req,
		explain.WithStream(false),
		explain.OnFragment(func(f string) { sb.WriteString(f) }),
		explain.WithLogger(s.log),
		explain.WithMetrics(s.metrics),
	)
	task.Start(ctx)

	select {
	case <-task.Done():
	case <-ctx.Done():
		task.Cancel()
		<-task.Done()
	}

	switch task.State() {
	case explain.StateCompleted:
	case explain.StateCancelled:
		return nil, ExplainOutput{}, fmt.Errorf("explanation cancelled: %w", ctx.Err())
	default:
		if err := task.Err(); err != nil {
			return nil, ExplainOutput{}, err
		}
		return nil, ExplainOutput{}, fmt.Errorf("explain chain is not set")
	}

	vars := task.Vars()
	return nil, ExplainOutput{
		TaskID:         task.ID(),
		Mode:           mode.String(),
		Language:       vars.Language,
		AnswerLanguage: vars.AnswerLanguage,
		Explanation:    sb.String(),
	}, nil
}

// surrounding retrieves the passages of the document closest to selected.
func (s *Server) surrounding(ctx context.Context, input, selected string) (string, error) {
	path, err := s.resolvePath(input)
	if err != nil {
		return "", err
	}
	p, err := s.pipeline(ctx, path)
	if err != nil {
		return "", err
	}
	results, err := p.Retrieve(ctx, selected)
	if err != nil {
		return "", err
	}
	return strings.Join(vectorindex.Contents(results), "\n\n"), nil
}

func (s *Server) searchTool(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}
	path, err := s.resolvePath(input.Path)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	cfg := s.provider.Current()
	emb, err := s.newEmbedder(&cfg.Embedding)
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("failed to create embedder: %w", err)
	}
	idx, err := s.indexes.Resolve(ctx, fingerprint.Of(path), s.open(path), emb)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	topK := pickInt(input.TopK, cfg.Search.TopK)
	var results []vectorindex.Result
	if input.KeywordOnly {
		results, err = idx.KeywordSearch(input.Query, topK)
	} else {
		results, err = idx.Search(ctx, input.Query, topK)
	}
	if err != nil {
		return nil, SearchOutput{}, err
	}

	return nil, SearchOutput{
		Query:   input.Query,
		Count:   len(results),
		Results: mapSearchResults(results),
	}, nil
}

func mapSearchResults(results []vectorindex.Result) []SearchResultItem {
	items := make([]SearchResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, SearchResultItem{
			Seq:     r.Seq,
			Page:    r.Page,
			Content: r.Content,
			Scores: SearchScores{
				Vector:   r.VectorScore,
				Keyword:  r.KeywordScore,
				Combined: r.Score,
			},
		})
	}
	return items
}

func (s *Server) statusTool(ctx context.Context, _ *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	path, err := s.resolvePath(input.Path)
	if err != nil {
		return nil, StatusOutput{
			Path:        input.Path,
			IsStale:     true,
			StaleReason: fmt.Sprintf("Failed to resolve path: %v", err),
		}, nil
	}

	fp := fingerprint.Of(path)
	output := StatusOutput{
		Path:        path,
		Fingerprint: fp,
		IndexDir:    s.indexes.Dir(fp),
	}

	s.mu.Lock()
	if p, ok := s.pipelines[path]; ok {
		output.PipelineState = p.State().String()
	}
	s.mu.Unlock()

	if !s.indexes.Exists(fp) {
		output.IsStale = true
		output.StaleReason = "Document not indexed"
		return nil, output, nil
	}

	stats, err := s.indexes.Stats(fp)
	if err != nil {
		output.IsStale = true
		output.StaleReason = fmt.Sprintf("Failed to read index: %v", err)
		return nil, output, nil
	}

	output.Indexed = true
	output.Chunks = stats.Chunks
	output.Dimension = stats.Dimension
	output.Model = stats.Model
	output.SizeBytes = stats.SizeBytes
	output.SizeStr = formatBytes(stats.SizeBytes)
	if !stats.BuiltAt.IsZero() {
		output.BuiltAt = stats.BuiltAt.Format(time.RFC3339)
		output.IndexAge = formatDuration(time.Since(stats.BuiltAt))
	}
	if reason := stats.StaleReason(path); reason != "" {
		output.IsStale = true
		output.StaleReason = reason
	}

	return nil, output, nil
}
