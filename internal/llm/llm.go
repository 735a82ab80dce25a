// Package llm wraps the chat-model providers behind one small interface with
// single-shot and streamed generation.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DreamCats/pdfchat/internal/config"
)

// Role tags a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a chat model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chunk is one streamed fragment. A chunk with Err set is the last one sent.
type Chunk struct {
	Content string
	Err     error
}

// ChatModel generates a reply to a list of messages.
type ChatModel interface {
	Generate(ctx context.Context, messages []Message) (string, error)
	// Stream returns a channel that is closed after the final fragment.
	Stream(ctx context.Context, messages []Message) (<-chan Chunk, error)
	Model() string
}

// Factory builds a chat model from configuration.
type Factory func(cfg *config.ChatConfig) (ChatModel, error)

// New is the default Factory.
func New(cfg *config.ChatConfig) (ChatModel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("chat config is required")
	}

	switch cfg.Provider {
	case "ollama":
		return NewOllama(cfg)
	case "openai":
		return NewOpenAI(cfg)
	case "gemini":
		return NewGemini(cfg)
	case "ark":
		return NewArk(cfg)
	default:
		return nil, fmt.Errorf("unsupported chat provider: %s", cfg.Provider)
	}
}

// timeout is chat.timeout_sec, defaulting to two minutes.
func timeout(cfg *config.ChatConfig) time.Duration {
	if cfg.TimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(cfg.TimeoutSec) * time.Second
}

// httpClient bounds connecting and waiting for response headers only.
// Reading a streamed body is bounded by the caller's context.
func httpClient(cfg *config.ChatConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout(cfg)
	return &http.Client{Transport: transport}
}

// Collect drains a stream into one string, returning the first error seen.
func Collect(stream <-chan Chunk) (string, error) {
	var sb strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return sb.String(), chunk.Err
		}
		sb.WriteString(chunk.Content)
	}
	return sb.String(), nil
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitSystem separates leading system messages from the conversation.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// wireRole maps roles to the OpenAI/Ollama vocabulary.
func wireRole(r Role) string {
	switch r {
	case RoleHuman:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return string(r)
	}
}
