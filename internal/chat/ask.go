package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/memory"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// snapshot is what an ask needs from a Ready pipeline. It holds a use of
// the chat model until release is called.
type snapshot struct {
	retriever Retriever
	model     llm.ChatModel
	topK      int
	ref       *modelRef
}

func (p *Pipeline) snapshot() (snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.State() != StateReady || p.model == nil || p.retriever == nil {
		return snapshot{}, false
	}
	p.model.acquire()
	return snapshot{
		retriever: p.retriever,
		model:     p.model.model,
		topK:      p.topK,
		ref:       p.model,
	}, true
}

func (s snapshot) release() {
	s.ref.release()
}

func (p *Pipeline) notReady(mode string) error {
	p.log.WithField("state", p.State().String()).Warn("chat chain is not ready")
	p.metrics.Asked(mode, "not_ready", 0)
	return ErrNotReady
}

// Ask answers text in the default session.
func (p *Pipeline) Ask(ctx context.Context, text string) (string, error) {
	return p.AskSession(ctx, DefaultSession, text)
}

// AskSession answers text using the history of session.
func (p *Pipeline) AskSession(ctx context.Context, session, text string) (string, error) {
	snap, ok := p.snapshot()
	if !ok {
		return "", p.notReady("sync")
	}
	defer snap.release()

	start := time.Now()
	h := p.memory.Get(session)
	p.memory.AppendAndTrim(h)
	history := h.Messages()

	msgs, err := p.prepare(ctx, snap, history, text)
	if err != nil {
		p.metrics.Asked("sync", "error", 0)
		return "", err
	}

	answer, err := snap.model.Generate(ctx, msgs)
	if err != nil {
		p.metrics.Asked("sync", "error", 0)
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	p.remember(h, text, answer)
	p.metrics.Asked("sync", "ok", time.Since(start))
	p.log.WithFields(logrus.Fields{
		"session":  session,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("answered question")
	return answer, nil
}

// AskStreaming answers text in the default session fragment by fragment.
func (p *Pipeline) AskStreaming(ctx context.Context, text string) (<-chan llm.Chunk, error) {
	return p.AskStreamingSession(ctx, DefaultSession, text)
}

// AskStreamingSession streams the answer to text using the history of
// session. The history is updated only when the stream ends without error.
func (p *Pipeline) AskStreamingSession(ctx context.Context, session, text string) (<-chan llm.Chunk, error) {
	snap, ok := p.snapshot()
	if !ok {
		return nil, p.notReady("stream")
	}

	start := time.Now()
	h := p.memory.Get(session)
	p.memory.AppendAndTrim(h)
	history := h.Messages()

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		defer snap.release()

		fail := func(err error) {
			p.metrics.Asked("stream", "error", 0)
			select {
			case out <- llm.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}

		msgs, err := p.prepare(ctx, snap, history, text)
		if err != nil {
			fail(err)
			return
		}

		stream, err := snap.model.Stream(ctx, msgs)
		if err != nil {
			fail(fmt.Errorf("failed to stream answer: %w", err))
			return
		}

		var answer strings.Builder
		for chunk := range stream {
			if chunk.Err != nil {
				fail(chunk.Err)
				return
			}
			answer.WriteString(chunk.Content)
			select {
			case out <- chunk:
			case <-ctx.Done():
				p.metrics.Asked("stream", "error", 0)
				return
			}
		}
		if ctx.Err() != nil {
			p.metrics.Asked("stream", "error", 0)
			return
		}

		p.remember(h, text, answer.String())
		p.metrics.Asked("stream", "ok", time.Since(start))
	}()
	return out, nil
}

// Retrieve runs only the retrieval step for question.
func (p *Pipeline) Retrieve(ctx context.Context, question string) ([]vectorindex.Result, error) {
	snap, ok := p.snapshot()
	if !ok {
		return nil, p.notReady("retrieve")
	}
	defer snap.release()
	return p.retrieve(ctx, snap, question)
}

// prepare reformulates the question against history when there is one,
// retrieves context for it and returns the answer prompt.
func (p *Pipeline) prepare(ctx context.Context, snap snapshot, history []memory.Turn, text string) ([]llm.Message, error) {
	question := text
	if len(history) > 0 {
		standalone, err := snap.model.Generate(ctx, contextualizeMessages(history, text))
		if err != nil {
			return nil, fmt.Errorf("failed to reformulate question: %w", err)
		}
		if s := strings.TrimSpace(standalone); s != "" {
			question = s
		}
	}

	results, err := p.retrieve(ctx, snap, question)
	if err != nil {
		return nil, err
	}
	return answerMessages(vectorindex.Contents(results), history, text), nil
}

func (p *Pipeline) retrieve(ctx context.Context, snap snapshot, question string) ([]vectorindex.Result, error) {
	results, err := snap.retriever.Search(ctx, question, snap.topK)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	return results, nil
}

func (p *Pipeline) remember(h *memory.History, question, answer string) {
	p.memory.AppendAndTrim(h,
		memory.Turn{Role: llm.RoleHuman, Content: question},
		memory.Turn{Role: llm.RoleAssistant, Content: answer},
	)
}
