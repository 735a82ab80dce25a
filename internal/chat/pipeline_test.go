package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/embedding"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// letterEmbedder maps text to letter frequencies.
type letterEmbedder struct {
	gate chan struct{}
}

func (e *letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 27)
	v[26] = 0.01
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.gate != nil {
		<-e.gate
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *letterEmbedder) Model() string { return "letters" }

// stubModel answers deterministically and records every call.
type stubModel struct {
	fragments []string
	streamErr error

	mu      sync.Mutex
	calls   atomic.Int32
	prompts [][]llm.Message
}

func (m *stubModel) record(msgs []llm.Message) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, msgs)
	m.mu.Unlock()
}

func (m *stubModel) lastPrompt() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

func (m *stubModel) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	m.record(msgs)
	if strings.HasPrefix(msgs[0].Content, "Given a chat history") {
		return "standalone: " + msgs[len(msgs)-1].Content, nil
	}
	return strings.Join(m.fragments, ""), nil
}

func (m *stubModel) Stream(ctx context.Context, msgs []llm.Message) (<-chan llm.Chunk, error) {
	m.record(msgs)
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, f := range m.fragments {
			out <- llm.Chunk{Content: f}
		}
		if m.streamErr != nil {
			out <- llm.Chunk{Err: m.streamErr}
		}
	}()
	return out, nil
}

func (m *stubModel) Model() string { return "stub" }

type fixture struct {
	pipeline *Pipeline
	model    *stubModel
	provider *config.Static
	statuses *statusRecorder
	hook     *logtest.Hook
	embedder *letterEmbedder
	factory  atomic.Int32
}

type statusRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *statusRecorder) add(s event.Status) {
	r.mu.Lock()
	r.got = append(r.got, s.Title+"/"+s.Message)
	r.mu.Unlock()
}

func (r *statusRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Root = t.TempDir()
	cfg.Language.Target = "French"

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		model:    &stubModel{fragments: []string{"The ", "answer ", "is 42."}},
		provider: config.NewStatic(cfg),
		statuses: &statusRecorder{},
		hook:     hook,
		embedder: &letterEmbedder{},
	}

	bus := event.NewBus[event.Status]()
	bus.Subscribe(f.statuses.add)

	indexes := vectorindex.NewStore(cfg.Database.Root,
		vectorindex.WithLogger(logger),
		vectorindex.WithOptions(vectorindex.Options{ChunkSize: 60, ChunkOverlap: 10}),
	)
	t.Cleanup(func() { indexes.Close() })

	doc := &pdf.Memory{
		Name: "/books/guide.pdf",
		PageTexts: []string{
			"The answer to the ultimate question is forty two.",
			"Towels are the most useful thing a hitchhiker can carry.",
		},
	}

	base := []Option{
		WithLogger(logger),
		WithStatusBus(bus),
		WithEmbedderFactory(func(*config.EmbeddingConfig) (embedding.Embedder, error) {
			return f.embedder, nil
		}),
		WithChatFactory(func(*config.ChatConfig) (llm.ChatModel, error) {
			f.factory.Add(1)
			return f.model, nil
		}),
	}
	f.pipeline = New(f.provider, doc, indexes, append(base, opts...)...)
	return f
}

func (f *fixture) warned(msg string) bool {
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == msg {
			return true
		}
	}
	return false
}

func TestAskBeforeReadyIsGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.pipeline.State(); got != StateUninitialized {
		t.Fatalf("State() = %v", got)
	}

	if _, err := f.pipeline.Ask(ctx, "hello"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Ask() error = %v, want ErrNotReady", err)
	}
	stream, err := f.pipeline.AskStreaming(ctx, "hello")
	if !errors.Is(err, ErrNotReady) || stream != nil {
		t.Fatalf("AskStreaming() = %v, %v, want nil, ErrNotReady", stream, err)
	}
	if _, err := f.pipeline.Retrieve(ctx, "hello"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Retrieve() error = %v, want ErrNotReady", err)
	}

	if n := f.model.calls.Load(); n != 0 {
		t.Errorf("model invoked %d times before ready", n)
	}
	if !f.warned("chat chain is not ready") {
		t.Error("expected a not-ready warning")
	}
	if f.pipeline.Memory().Get(DefaultSession).Len() != 0 {
		t.Error("guarded ask must not touch history")
	}
}

func TestRebuildPublishesStatusAndBecomesReady(t *testing.T) {
	f := newFixture(t)
	if err := f.pipeline.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	want := []string{StatusTitle + "/" + StatusWait, StatusTitle + "/" + StatusFinished}
	if got := f.statuses.messages(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if f.pipeline.State() != StateReady {
		t.Errorf("State() = %v", f.pipeline.State())
	}
	if f.pipeline.Language() != "French" {
		t.Errorf("Language() = %q", f.pipeline.Language())
	}
}

func TestRebuildEmbeddingFailure(t *testing.T) {
	f := newFixture(t, WithEmbedderFactory(func(*config.EmbeddingConfig) (embedding.Embedder, error) {
		return nil, errors.New("no embedding backend")
	}))

	err := f.pipeline.Rebuild(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no embedding backend") {
		t.Fatalf("Rebuild() error = %v", err)
	}

	want := []string{StatusTitle + "/" + StatusWait, StatusTitle + "/" + StatusFailed}
	if got := f.statuses.messages(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if f.pipeline.State() != StateFailed {
		t.Errorf("State() = %v", f.pipeline.State())
	}
	if f.factory.Load() != 0 {
		t.Error("chat model must not be built when embedding fails")
	}
	if _, err := f.pipeline.Ask(context.Background(), "q"); !errors.Is(err, ErrNotReady) {
		t.Errorf("Ask() error = %v, want ErrNotReady", err)
	}
}

func TestRebuildChatModelFailure(t *testing.T) {
	f := newFixture(t, WithChatFactory(func(*config.ChatConfig) (llm.ChatModel, error) {
		return nil, errors.New("bad chat config")
	}))

	if err := f.pipeline.Rebuild(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	want := []string{StatusTitle + "/" + StatusWait, StatusTitle + "/" + StatusFinished}
	if got := f.statuses.messages(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if f.pipeline.State() != StateFailed {
		t.Errorf("State() = %v", f.pipeline.State())
	}
}

func TestAskUsesRetrievedContextAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	answer, err := f.pipeline.Ask(ctx, "What is the answer to the ultimate question?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer != "The answer is 42." {
		t.Errorf("Ask() = %q", answer)
	}
	if n := f.model.calls.Load(); n != 1 {
		t.Fatalf("first ask should skip reformulation, model calls = %d", n)
	}
	prompt := f.model.lastPrompt()
	if prompt[0].Role != llm.RoleSystem || !strings.Contains(prompt[0].Content, "forty two") {
		t.Errorf("answer prompt missing retrieved context: %q", prompt[0].Content)
	}

	if _, err := f.pipeline.Ask(ctx, "And towels?"); err != nil {
		t.Fatal(err)
	}
	if n := f.model.calls.Load(); n != 3 {
		t.Fatalf("second ask should reformulate then answer, model calls = %d", n)
	}
	prompt = f.model.lastPrompt()
	if len(prompt) != 4 || prompt[1].Role != llm.RoleHuman || prompt[2].Role != llm.RoleAssistant {
		t.Errorf("answer prompt should carry history: %+v", prompt)
	}
	if prompt[3].Content != "And towels?" {
		t.Errorf("answer prompt should end with the original question, got %q", prompt[3].Content)
	}

	if n := f.pipeline.Memory().Get(DefaultSession).Len(); n != 4 {
		t.Errorf("history length = %d, want 4", n)
	}
	if n := f.pipeline.Memory().Get("other").Len(); n != 0 {
		t.Errorf("other session should be empty, has %d", n)
	}
}

func TestAskStreamingReassemblesAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := f.pipeline.AskStreamingSession(ctx, "s1", "What is the answer?")
	if err != nil {
		t.Fatalf("AskStreamingSession() error = %v", err)
	}

	var fragments []string
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		fragments = append(fragments, chunk.Content)
	}
	if len(fragments) != 3 {
		t.Errorf("fragments = %q", fragments)
	}
	if got := strings.Join(fragments, ""); got != "The answer is 42." {
		t.Errorf("reassembled = %q", got)
	}

	turns := f.pipeline.Memory().Get("s1").Messages()
	if len(turns) != 2 || turns[1].Content != "The answer is 42." {
		t.Errorf("history after stream = %+v", turns)
	}
}

func TestAskStreamingErrorKeepsHistory(t *testing.T) {
	f := newFixture(t)
	f.model.streamErr = errors.New("connection reset")
	ctx := context.Background()
	if err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := f.pipeline.AskStreaming(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	_, err = llm.Collect(stream)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected stream error, got %v", err)
	}
	if n := f.pipeline.Memory().Get(DefaultSession).Len(); n != 0 {
		t.Errorf("failed stream must not be recorded, history has %d turns", n)
	}
}

func TestSubscribeRebuildsOnConfigChange(t *testing.T) {
	f := newFixture(t)
	bus := event.NewBus[config.Change]()
	unsubscribe := f.pipeline.Subscribe(context.Background(), bus)
	defer unsubscribe()

	bus.Publish(config.Change{Config: f.provider.Current(), Source: "manual"})
	f.pipeline.Wait()
	if f.pipeline.State() != StateReady || f.pipeline.Language() != "French" {
		t.Fatalf("after first change: state %v language %q", f.pipeline.State(), f.pipeline.Language())
	}

	next := config.Default()
	next.Database.Root = f.provider.Current().Database.Root
	next.Language.Target = "German"
	f.provider.Set(next)
	bus.Publish(config.Change{Config: next, Source: "manual"})
	f.pipeline.Wait()

	if f.pipeline.Language() != "German" {
		t.Errorf("Language() = %q, want German", f.pipeline.Language())
	}
	if n := f.factory.Load(); n != 2 {
		t.Errorf("chat factory calls = %d, want 2", n)
	}
}

func TestRebuildBlocksAsks(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.embedder.gate = gate
	ctx := context.Background()

	rebuilt := make(chan error, 1)
	go func() { rebuilt <- f.pipeline.Rebuild(ctx) }()

	deadline := time.After(5 * time.Second)
	for f.pipeline.State() != StateEmbedding {
		select {
		case <-deadline:
			t.Fatal("rebuild never entered Embedding")
		case <-time.After(time.Millisecond):
		}
	}

	answered := make(chan error, 1)
	go func() {
		_, err := f.pipeline.Ask(ctx, "What is the answer?")
		answered <- err
	}()

	select {
	case err := <-answered:
		t.Fatalf("Ask returned during rebuild: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	if err := <-rebuilt; err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-answered:
		if err != nil {
			t.Fatalf("Ask() after rebuild error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Ask never completed")
	}
}

// gatedModel streams one fragment, then waits for gate before the rest. A
// closed model fails the rest of the stream.
type gatedModel struct {
	gate   chan struct{}
	closed atomic.Bool
}

func (m *gatedModel) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	return "", errors.New("not used")
}

func (m *gatedModel) Stream(ctx context.Context, msgs []llm.Message) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		out <- llm.Chunk{Content: "first "}
		<-m.gate
		if m.closed.Load() {
			out <- llm.Chunk{Err: errors.New("model closed")}
			return
		}
		out <- llm.Chunk{Content: "second"}
	}()
	return out, nil
}

func (m *gatedModel) Model() string { return "gated" }

func (m *gatedModel) Close() error {
	m.closed.Store(true)
	return nil
}

func TestRebuildKeepsStreamingModelOpen(t *testing.T) {
	first := &gatedModel{gate: make(chan struct{})}
	second := &gatedModel{gate: make(chan struct{})}
	var builds atomic.Int32
	f := newFixture(t, WithChatFactory(func(*config.ChatConfig) (llm.ChatModel, error) {
		if builds.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}))
	ctx := context.Background()
	if err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}

	stream, err := f.pipeline.AskStreaming(ctx, "What is the answer?")
	if err != nil {
		t.Fatal(err)
	}
	if chunk := <-stream; chunk.Content != "first " {
		t.Fatalf("first chunk = %+v", chunk)
	}

	if err := f.pipeline.Rebuild(ctx); err != nil {
		t.Fatalf("Rebuild() during stream error = %v", err)
	}
	if first.closed.Load() {
		t.Fatal("model closed while an answer was still streaming")
	}

	close(first.gate)
	rest, err := llm.Collect(stream)
	if err != nil {
		t.Fatalf("stream error after rebuild: %v", err)
	}
	if rest != "second" {
		t.Errorf("rest of stream = %q, want second", rest)
	}
	if !first.closed.Load() {
		t.Error("retired model not closed after its last answer")
	}
	if second.closed.Load() {
		t.Error("current model closed")
	}

	if err := f.pipeline.Close(); err != nil {
		t.Fatal(err)
	}
	if !second.closed.Load() {
		t.Error("Close() did not release the current model")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateEmbedding:     "embedding",
		StateReady:         "ready",
		StateFailed:        "failed",
		State(9):           "state(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
