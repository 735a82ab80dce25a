// Package explain runs one-off explanations of a selected word or phrase as
// cancellable background tasks.
package explain

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/metrics"
)

// Mode selects the language the explanation is written in.
type Mode int

const (
	// TargetLanguage explains in the language being learned.
	TargetLanguage Mode = iota
	// MotherTongue explains in the learner's own language.
	MotherTongue
)

func (m Mode) String() string {
	switch m {
	case TargetLanguage:
		return "target"
	case MotherTongue:
		return "mother_tongue"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "target" and "mother" (or "mother_tongue").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "target", "target_language", "":
		return TargetLanguage, nil
	case "mother", "mother_tongue", "mother-tongue":
		return MotherTongue, nil
	default:
		return 0, fmt.Errorf("unknown explain mode %q (want target or mother)", s)
	}
}

// Request is what the user selected and the text around it.
type Request struct {
	Selected string
	Context  string
	Mode     Mode
}

// Vars are the values substituted into a prompt template.
type Vars struct {
	Word           string `json:"word"`
	Data           string `json:"data"`
	Language       string `json:"language"`
	AnswerLanguage string `json:"answer_language"`
}

// Render replaces {word}, {data}, {language} and {answer_language} in tmpl.
func (v Vars) Render(tmpl string) string {
	return strings.NewReplacer(
		"{word}", v.Word,
		"{data}", v.Data,
		"{language}", v.Language,
		"{answer_language}", v.AnswerLanguage,
	).Replace(tmpl)
}

// State is the lifecycle state of a Task.
type State int32

const (
	StateConfiguring State = iota
	StateReady
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Task is one explanation request.
type Task struct {
	id         string
	req        Request
	vars       Vars
	prompt     string
	model      llm.ChatModel
	stream     *bool
	onFragment func(string)
	log        logrus.FieldLogger
	metrics    *metrics.Metrics

	state     atomic.Int32
	quit      atomic.Bool
	startOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
}

// Option configures a Task.
type Option func(*Task)

// WithStream overrides explain.stream from config.
func WithStream(stream bool) Option {
	return func(t *Task) { t.stream = &stream }
}

// OnFragment receives each piece of the explanation, in order.
func OnFragment(fn func(string)) Option {
	return func(t *Task) { t.onFragment = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Task) { t.log = l }
}

// WithMetrics records finished tasks.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Task) { t.metrics = m }
}

// New configures a task for req. When the chat model cannot be built the
// task is Failed and Start emits nothing.
func New(provider config.Provider, factory llm.Factory, req Request, opts ...Option) *Task {
	t := &Task{
		id:   uuid.NewString(),
		req:  req,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = logging.OrDefault(t.log, "explain").WithFields(logrus.Fields{
		"task": t.id,
		"mode": req.Mode.String(),
	})
	t.setState(StateConfiguring)

	cfg := provider.Current()
	if t.stream == nil {
		stream := cfg.Explain.StreamEnabled()
		t.stream = &stream
	}

	model, err := factory(&cfg.Chat)
	if err != nil {
		t.log.WithError(err).Error("failed to create chat model")
		t.fail(err)
		return t
	}
	t.model = model

	t.vars = Vars{
		Word:     req.Selected,
		Data:     req.Context,
		Language: cfg.Language.Target,
	}
	tmpl := cfg.Explain.TargetPrompt
	if req.Mode == TargetLanguage {
		t.vars.AnswerLanguage = cfg.Language.Target
	} else {
		t.vars.AnswerLanguage = cfg.Language.MotherTongue
		tmpl = cfg.Explain.MotherTonguePrompt
	}
	t.prompt = t.vars.Render(tmpl)

	t.log.WithFields(logrus.Fields{
		"word":            t.vars.Word,
		"language":        t.vars.Language,
		"answer_language": t.vars.AnswerLanguage,
		"context_chars":   len(t.vars.Data),
	}).Info("explain request")
	t.setState(StateReady)
	return t
}

// ID returns the task id.
func (t *Task) ID() string { return t.id }

// Vars returns the prompt variables.
func (t *Task) Vars() Vars { return t.vars }

// Prompt returns the rendered prompt.
func (t *Task) Prompt() string { return t.prompt }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task has finished, whatever the outcome.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure cause of a Failed task.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Start runs the explanation on its own goroutine. Calls after the first do nothing.
func (t *Task) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		if t.model == nil {
			t.log.Error("explain chain is not set")
			close(t.done)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()

		t.setState(StateRunning)
		go func() {
			defer close(t.done)
			defer cancel()
			t.run(ctx)
		}()
	})
}

// Cancel asks the task to stop. No fragment is delivered after Cancel returns
// unless it was already being delivered.
func (t *Task) Cancel() {
	t.quit.Store(true)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Task) run(ctx context.Context) {
	if t.quit.Load() {
		t.finish(StateCancelled)
		return
	}

	msgs := []llm.Message{{Role: llm.RoleHuman, Content: t.prompt}}

	if *t.stream {
		stream, err := t.model.Stream(ctx, msgs)
		if err != nil {
			t.finishErr(err)
			return
		}
		for chunk := range stream {
			if t.quit.Load() {
				t.log.Debug("explanation cancelled")
				t.finish(StateCancelled)
				return
			}
			if chunk.Err != nil {
				t.finishErr(chunk.Err)
				return
			}
			t.emit(chunk.Content)
		}
		if t.quit.Load() {
			t.finish(StateCancelled)
			return
		}
		t.finish(StateCompleted)
		return
	}

	content, err := t.model.Generate(ctx, msgs)
	if t.quit.Load() {
		t.log.Debug("explanation cancelled")
		t.finish(StateCancelled)
		return
	}
	if err != nil {
		t.finishErr(err)
		return
	}
	t.emit(content)
	t.finish(StateCompleted)
}

func (t *Task) emit(fragment string) {
	if t.onFragment != nil {
		t.onFragment(fragment)
	}
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.setState(StateFailed)
	t.metrics.ExplainFinished(t.req.Mode.String(), StateFailed.String())
}

func (t *Task) finishErr(err error) {
	if t.quit.Load() {
		t.finish(StateCancelled)
		return
	}
	t.log.WithError(err).Error("explanation failed")
	t.fail(fmt.Errorf("failed to explain: %w", err))
}

func (t *Task) finish(s State) {
	t.setState(s)
	t.metrics.ExplainFinished(t.req.Mode.String(), s.String())
	t.log.WithField("state", s.String()).Debug("explanation finished")
}
