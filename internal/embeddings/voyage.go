package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const voyageAPIURL = "https://api.voyageai.com/v1/embeddings"

// voyageDimensions maps the Voyage models relevant here to their output
// dimension; voyage-law-2 is tuned for legal text.
var voyageDimensions = map[string]int{
	"voyage-law-2":  1024,
	"voyage-3":      1024,
	"voyage-3-lite": 512,
}

// VoyageEmbedder implements Embedder against the Voyage AI API.
type VoyageEmbedder struct {
	client    *http.Client
	apiKey    string
	model     string
	dimension int
}

// NewVoyageEmbedder creates a Voyage AI embedder for the given model,
// defaulting the dimension to 1024 for models not in the table.
func NewVoyageEmbedder(apiKey, model string, timeout time.Duration) *VoyageEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dim := voyageDimensions[model]
	if dim == 0 {
		dim = 1024
	}
	return &VoyageEmbedder{
		client:    &http.Client{Timeout: timeout},
		apiKey:    apiKey,
		model:     model,
		dimension: dim,
	}
}

type voyageRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type voyageError struct {
	Detail string `json:"detail"`
}

func (v *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := v.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (v *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(voyageRequest{Model: v.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, voyageAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr voyageError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Detail != "" {
			return nil, fmt.Errorf("voyage API %d: %s", resp.StatusCode, apiErr.Detail)
		}
		return nil, fmt.Errorf("voyage API %d", resp.StatusCode)
	}

	var parsed voyageResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("voyage returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	// The API documents index-ordered data; place by index anyway.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("voyage returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (v *VoyageEmbedder) Dimension() int { return v.dimension }
func (v *VoyageEmbedder) Model() string  { return v.model }
