package explain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/llm"
)

// feedModel streams whatever the test sends on feed.
type feedModel struct {
	feed     chan llm.Chunk
	reply    string
	prompts  []string
	mu       sync.Mutex
	generate chan struct{}
}

func (m *feedModel) record(msgs []llm.Message) {
	m.mu.Lock()
	m.prompts = append(m.prompts, msgs[len(msgs)-1].Content)
	m.mu.Unlock()
}

func (m *feedModel) Generate(ctx context.Context, msgs []llm.Message) (string, error) {
	m.record(msgs)
	if m.generate != nil {
		<-m.generate
	}
	return m.reply, nil
}

func (m *feedModel) Stream(ctx context.Context, msgs []llm.Message) (<-chan llm.Chunk, error) {
	m.record(msgs)
	return m.feed, nil
}

func (m *feedModel) Model() string { return "feed" }

type collector struct {
	mu  sync.Mutex
	got []string
	ch  chan string
}

func newCollector() *collector {
	return &collector{ch: make(chan string, 16)}
}

func (c *collector) add(s string) {
	c.mu.Lock()
	c.got = append(c.got, s)
	c.mu.Unlock()
	c.ch <- s
}

func (c *collector) fragments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func testProvider() *config.Static {
	cfg := config.Default()
	cfg.Language.Target = "English"
	cfg.Language.MotherTongue = "Japanese"
	cfg.Explain.TargetPrompt = "T[{word}|{data}|{language}|{answer_language}]"
	cfg.Explain.MotherTonguePrompt = "M[{word}|{data}|{language}|{answer_language}]"
	return config.NewStatic(cfg)
}

func factoryFor(m llm.ChatModel) llm.Factory {
	return func(*config.ChatConfig) (llm.ChatModel, error) { return m, nil }
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestModeSelection(t *testing.T) {
	tests := []struct {
		mode           Mode
		wantAnswerLang string
		wantPrompt     string
	}{
		{TargetLanguage, "English", "T[serendipity|a happy accident|English|English]"},
		{MotherTongue, "Japanese", "M[serendipity|a happy accident|English|Japanese]"},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			model := &feedModel{reply: "explained"}
			task := New(testProvider(), factoryFor(model), Request{
				Selected: "serendipity",
				Context:  "a happy accident",
				Mode:     tt.mode,
			}, WithStream(false))

			vars := task.Vars()
			if vars.Language != "English" {
				t.Errorf("Language = %q", vars.Language)
			}
			if vars.AnswerLanguage != tt.wantAnswerLang {
				t.Errorf("AnswerLanguage = %q, want %q", vars.AnswerLanguage, tt.wantAnswerLang)
			}
			if task.Prompt() != tt.wantPrompt {
				t.Errorf("Prompt() = %q, want %q", task.Prompt(), tt.wantPrompt)
			}
			if task.State() != StateReady {
				t.Errorf("State() = %v", task.State())
			}

			task.Start(context.Background())
			waitDone(t, task)
			if len(model.prompts) != 1 || model.prompts[0] != tt.wantPrompt {
				t.Errorf("model saw prompts %q", model.prompts)
			}
		})
	}
}

func TestStreamingCancellationStopsDelivery(t *testing.T) {
	model := &feedModel{feed: make(chan llm.Chunk)}
	frags := newCollector()
	task := New(testProvider(), factoryFor(model), Request{Selected: "word"},
		WithStream(true), OnFragment(frags.add))

	task.Start(context.Background())

	model.feed <- llm.Chunk{Content: "first "}
	select {
	case <-frags.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("first fragment never delivered")
	}

	task.Cancel()
	model.feed <- llm.Chunk{Content: "second"}
	waitDone(t, task)

	if got := frags.fragments(); len(got) != 1 || got[0] != "first " {
		t.Errorf("fragments = %q, want only the one before Cancel", got)
	}
	if task.State() != StateCancelled {
		t.Errorf("State() = %v, want cancelled", task.State())
	}
}

func TestStreamingCompletes(t *testing.T) {
	model := &feedModel{feed: make(chan llm.Chunk, 3)}
	model.feed <- llm.Chunk{Content: "a"}
	model.feed <- llm.Chunk{Content: "b"}
	model.feed <- llm.Chunk{Content: "c"}
	close(model.feed)

	frags := newCollector()
	task := New(testProvider(), factoryFor(model), Request{Selected: "w"}, WithStream(true), OnFragment(frags.add))
	task.Start(context.Background())
	waitDone(t, task)

	if got := strings.Join(frags.fragments(), ""); got != "abc" {
		t.Errorf("fragments = %q", got)
	}
	if task.State() != StateCompleted {
		t.Errorf("State() = %v", task.State())
	}
}

func TestStreamingErrorFails(t *testing.T) {
	model := &feedModel{feed: make(chan llm.Chunk, 2)}
	model.feed <- llm.Chunk{Content: "partial"}
	model.feed <- llm.Chunk{Err: errors.New("stream broke")}
	close(model.feed)

	task := New(testProvider(), factoryFor(model), Request{Selected: "w"}, WithStream(true))
	task.Start(context.Background())
	waitDone(t, task)

	if task.State() != StateFailed || task.Err() == nil {
		t.Errorf("State() = %v, Err() = %v", task.State(), task.Err())
	}
}

func TestSingleShotCancelledBeforeEmit(t *testing.T) {
	model := &feedModel{reply: "whole answer", generate: make(chan struct{})}
	frags := newCollector()
	task := New(testProvider(), factoryFor(model), Request{Selected: "w"}, WithStream(false), OnFragment(frags.add))

	task.Start(context.Background())
	task.Cancel()
	close(model.generate)
	waitDone(t, task)

	if got := frags.fragments(); len(got) != 0 {
		t.Errorf("cancelled single-shot task emitted %q", got)
	}
	if task.State() != StateCancelled {
		t.Errorf("State() = %v", task.State())
	}
}

func TestSingleShotEmitsOnce(t *testing.T) {
	model := &feedModel{reply: "whole answer"}
	frags := newCollector()
	task := New(testProvider(), factoryFor(model), Request{Selected: "w"}, WithStream(false), OnFragment(frags.add))

	task.Start(context.Background())
	task.Start(context.Background())
	waitDone(t, task)

	if got := frags.fragments(); len(got) != 1 || got[0] != "whole answer" {
		t.Errorf("fragments = %q", got)
	}
	if task.State() != StateCompleted {
		t.Errorf("State() = %v", task.State())
	}
}

func TestChatModelFailure(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	frags := newCollector()
	task := New(testProvider(), func(*config.ChatConfig) (llm.ChatModel, error) {
		return nil, errors.New("no api key")
	}, Request{Selected: "w"}, WithLogger(logger), OnFragment(frags.add))

	if task.State() != StateFailed {
		t.Fatalf("State() = %v, want failed", task.State())
	}

	task.Start(context.Background())
	waitDone(t, task)
	if got := frags.fragments(); len(got) != 0 {
		t.Errorf("failed task emitted %q", got)
	}

	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "explain chain is not set" {
			found = true
		}
	}
	if !found {
		t.Error("expected 'explain chain is not set' log")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"target", TargetLanguage, false},
		{"", TargetLanguage, false},
		{"mother", MotherTongue, false},
		{"Mother_Tongue", MotherTongue, false},
		{"klingon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestTaskIDsAreUnique(t *testing.T) {
	model := &feedModel{reply: "x"}
	a := New(testProvider(), factoryFor(model), Request{})
	b := New(testProvider(), factoryFor(model), Request{})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("IDs %q and %q", a.ID(), b.ID())
	}
}
