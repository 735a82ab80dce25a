package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/DreamCats/pdfchat/internal/config"
)

// Gemini is a ChatModel backed by the Google Generative AI API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a new Gemini chat client.
func NewGemini(cfg *config.ChatConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini chat api_key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Gemini{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the model name.
func (g *Gemini) Model() string {
	return g.model
}

// Close releases the underlying connection.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Generate returns the complete reply.
func (g *Gemini) Generate(ctx context.Context, messages []Message) (string, error) {
	session, last, err := g.session(messages)
	if err != nil {
		return "", err
	}
	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return "", fmt.Errorf("failed to send gemini message: %w", err)
	}
	return responseText(resp), nil
}

// Stream returns the reply fragment by fragment.
func (g *Gemini) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	session, last, err := g.session(messages)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, last...)
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				send(ctx, out, Chunk{Err: fmt.Errorf("failed to read gemini stream: %w", err)})
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !send(ctx, out, Chunk{Content: text}) {
				return
			}
		}
	}()
	return out, nil
}

// session builds a chat session whose history holds every message but the
// last, which is returned as the parts to send.
func (g *Gemini) session(messages []Message) (*genai.ChatSession, []genai.Part, error) {
	system, history, last, err := geminiContents(messages)
	if err != nil {
		return nil, nil, err
	}

	model := g.client.GenerativeModel(g.model)
	if g.temperature > 0 {
		model.SetTemperature(g.temperature)
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := model.StartChat()
	session.History = history
	return session, last, nil
}

// geminiContents converts messages to Gemini's user/model vocabulary.
func geminiContents(messages []Message) (string, []*genai.Content, []genai.Part, error) {
	system, rest := splitSystem(messages)
	if len(rest) == 0 {
		return "", nil, nil, fmt.Errorf("at least one non-system message is required")
	}

	history := make([]*genai.Content, 0, len(rest)-1)
	for _, m := range rest[:len(rest)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	last := []genai.Part{genai.Text(rest[len(rest)-1].Content)}
	return system, history, last, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	return sb.String()
}
