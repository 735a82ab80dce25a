package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/DreamCats/pdfchat/internal/config"
)

// Ollama is a ChatModel backed by a local Ollama server.
type Ollama struct {
	client      *ollama.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOllama creates a new Ollama chat client.
func NewOllama(cfg *config.ChatConfig) (*Ollama, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama chat model is required")
	}

	return &Ollama{
		client:      ollama.NewClient(base, httpClient(cfg)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout(cfg),
	}, nil
}

// Model returns the model name.
func (o *Ollama) Model() string {
	return o.model
}

// Generate returns the complete reply.
func (o *Ollama) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var sb strings.Builder
	err := o.client.Chat(ctx, o.request(messages, false), func(resp ollama.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to chat with ollama: %w", err)
	}
	return sb.String(), nil
}

// Stream returns the reply fragment by fragment.
func (o *Ollama) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		err := o.client.Chat(ctx, o.request(messages, true), func(resp ollama.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			if !send(ctx, out, Chunk{Content: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("failed to chat with ollama: %w", err)})
		}
	}()
	return out, nil
}

func (o *Ollama) request(messages []Message, stream bool) *ollama.ChatRequest {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: wireRole(m.Role), Content: m.Content}
	}
	req := &ollama.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
	}
	if o.temperature > 0 {
		req.Options = map[string]interface{}{"temperature": o.temperature}
	}
	return req
}
