package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPClient talks to a completion service over HTTP. The service is free
// to answer either `{content, usage: {total_tokens}}` or a bare JSON
// string; Unwrap normalizes both shapes.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	model   string
}

// NewHTTPClientFromEnv reads LLM_SERVICE_URL and LLM_MODEL; it returns
// nil when no service URL is configured, which downstream components
// treat as "no language model configured" and degrade accordingly.
func NewHTTPClientFromEnv() *HTTPClient {
	baseURL := os.Getenv("LLM_SERVICE_URL")
	if baseURL == "" {
		return nil
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: baseURL,
		model:   os.Getenv("LLM_MODEL"),
	}
}

type completionRequest struct {
	Prompt         string  `json:"prompt"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(completionRequest{
		Prompt:         req.Prompt,
		Model:          model,
		Temperature:    req.Temperature,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("completion request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read completion response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("completion service returned %d", httpResp.StatusCode)
	}

	var raw interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		// Not JSON at all: treat the body as the content, per the
		// plain-string half of the contract.
		return Response{Content: string(payload)}, nil
	}
	return Unwrap(raw), nil
}
