package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/DreamCats/pdfchat/internal/config"
)

// OpenAI is a ChatModel for OpenAI-compatible chat completion APIs.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

// NewOpenAI creates a new OpenAI chat client. chat.endpoint, when set, replaces the base URL.
func NewOpenAI(cfg *config.ChatConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai chat api_key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	clientCfg.HTTPClient = httpClient(cfg)

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout(cfg),
	}, nil
}

// Model returns the model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Generate returns the complete reply.
func (o *OpenAI) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream returns the reply fragment by fragment.
func (o *OpenAI) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion stream: %w", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("failed to read chat completion stream: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, out, Chunk{Content: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return out, nil
}

func (o *OpenAI) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: wireRole(m.Role), Content: m.Content}
	}
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   stream,
	}
	if o.temperature != 0 {
		t := o.temperature
		req.Temperature = &t
	}
	return req
}
