package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DreamCats/pdfchat/internal/config"
)

// Ark is a ChatModel for the VolcEngine Ark chat completions endpoint.
type Ark struct {
	client      *http.Client
	apiKey      string
	endpoint    string
	model       string
	temperature float32
	timeout     time.Duration
}

// NewArk creates a new Ark chat client.
func NewArk(cfg *config.ChatConfig) (*Ark, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat.api_key is required for ark")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://ark.cn-beijing.volces.com/api/v3/chat/completions"
	}

	model := cfg.Model
	if model == "" {
		model = "doubao-1-5-pro-32k-250115"
	}

	return &Ark{
		client:      httpClient(cfg),
		apiKey:      cfg.APIKey,
		endpoint:    endpoint,
		model:       model,
		temperature: cfg.Temperature,
		timeout:     timeout(cfg),
	}, nil
}

// Model returns the model name.
func (a *Ark) Model() string {
	return a.model
}

type arkMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type arkRequest struct {
	Model       string       `json:"model"`
	Messages    []arkMessage `json:"messages"`
	Temperature float32      `json:"temperature,omitempty"`
	Stream      bool         `json:"stream"`
}

type arkResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type arkStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate returns the complete reply.
func (a *Ark) Generate(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.do(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded arkResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// Stream reads the server-sent events of a streamed completion.
func (a *Ark) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	resp, err := a.do(ctx, messages, true)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			line = strings.TrimPrefix(line, "data: ")
			if line == "[DONE]" {
				return
			}

			var chunk arkStreamChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !send(ctx, out, Chunk{Content: content}) {
					return
				}
			}
			if fr := chunk.Choices[0].FinishReason; fr != nil && *fr == "stop" {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(ctx, out, Chunk{Err: fmt.Errorf("error reading stream: %w", err)})
		}
	}()
	return out, nil
}

func (a *Ark) do(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	body := arkRequest{
		Model:       a.model,
		Messages:    make([]arkMessage, len(messages)),
		Temperature: a.temperature,
		Stream:      stream,
	}
	for i, m := range messages {
		body.Messages[i] = arkMessage{Role: wireRole(m.Role), Content: m.Content}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(msg))
	}
	return resp, nil
}
