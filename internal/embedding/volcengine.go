package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/DreamCats/pdfchat/internal/config"
)

// VolcEngineClient implements Client for VolcEngine's multimodal embedding API
type VolcEngineClient struct {
	apiKey         string
	endpoint       string
	model          string
	dimensions     int
	encodingFormat string
	client         *http.Client
}

type volcEngineRequest struct {
	Input          []volcEngineInput `json:"input"`
	Model          string            `json:"model"`
	EncodingFormat string            `json:"encoding_format,omitempty"`
	Dimensions     int               `json:"dimensions,omitempty"`
}

type volcEngineInput struct {
	Type string `json:"type"` // "text" | "image_url" | "video_url"
	Text string `json:"text,omitempty"`
}

type volcEngineResponse struct {
	ID    string          `json:"id"`
	Model string          `json:"model"`
	Data  json.RawMessage `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type volcEngineData struct {
	Embedding []float32 `json:"embedding"`
	Object    string    `json:"object"`
}

// NewVolcEngineClient creates a new VolcEngine embedding client
func NewVolcEngineClient(cfg *config.EmbeddingConfig) (*VolcEngineClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("volcengine api_key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://ark.cn-beijing.volces.com/api/v3/embeddings/multimodal"
	}

	model := cfg.Model
	if model == "" {
		model = "doubao-embedding-vision-250615"
	}

	format := cfg.EncodingFormat
	if format == "" {
		format = "float"
	}

	return &VolcEngineClient{
		apiKey:         cfg.APIKey,
		endpoint:       endpoint,
		model:          model,
		dimensions:     cfg.Dimensions,
		encodingFormat: format,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Model returns the embedding model name
func (c *VolcEngineClient) Model() string {
	return c.model
}

// Dimensions returns the requested vector size
func (c *VolcEngineClient) Dimensions() int {
	return c.dimensions
}

// Embed generates an embedding for a single text
func (c *VolcEngineClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedText(ctx, text)
}

// EmbedBatch generates embeddings for multiple texts.
// The multimodal endpoint accepts one sample per request, so texts are sent one by one.
func (c *VolcEngineClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vector, err := c.embedText(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vector
	}
	return embeddings, nil
}

func (c *VolcEngineClient) embedText(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(volcEngineRequest{
		Input:          []volcEngineInput{{Type: "text", Text: text}},
		Model:          c.model,
		EncodingFormat: c.encodingFormat,
		Dimensions:     c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp volcEngineResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	data, err := parseVolcEngineData(apiResp.Data)
	if err != nil {
		return nil, err
	}
	if len(data) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(data))
	}

	return data[0].Embedding, nil
}

// parseVolcEngineData accepts both the array and the single-object shape of "data".
func parseVolcEngineData(raw json.RawMessage) ([]volcEngineData, error) {
	trimmed := bytes.TrimLeft(raw, " \n\r\t")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty embedding data")
	}

	switch trimmed[0] {
	case '[':
		var data []volcEngineData
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return nil, fmt.Errorf("failed to parse embedding array: %w", err)
		}
		return data, nil
	case '{':
		var data volcEngineData
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return nil, fmt.Errorf("failed to parse embedding object: %w", err)
		}
		return []volcEngineData{data}, nil
	default:
		return nil, fmt.Errorf("unexpected embedding data format")
	}
}
