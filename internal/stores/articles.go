package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// HTTPArticleFetcher backs the article_fetch tool against an external,
// possibly slow article service. The service resolves a legislative
// reference to the article's current text and URN; whatever scraping or
// ingestion produces that text lives outside this system.
type HTTPArticleFetcher struct {
	client  *http.Client
	baseURL string
}

// NewHTTPArticleFetcherFromEnv reads ARTICLE_SERVICE_URL; it returns nil
// when no service is configured, in which case the article_fetch tool
// reports failure on every call.
func NewHTTPArticleFetcherFromEnv() *HTTPArticleFetcher {
	baseURL := os.Getenv("ARTICLE_SERVICE_URL")
	if baseURL == "" {
		return nil
	}
	return &HTTPArticleFetcher{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: baseURL,
	}
}

type articleResponse struct {
	Text string `json:"text"`
	URN  string `json:"urn"`
}

// FetchArticle resolves one legislative reference.
func (f *HTTPArticleFetcher) FetchArticle(ctx context.Context, tipoAtto, numeroArticolo, dataAtto, numeroAtto string) (string, string, error) {
	q := url.Values{}
	q.Set("tipo_atto", tipoAtto)
	q.Set("numero_articolo", numeroArticolo)
	if dataAtto != "" {
		q.Set("data_atto", dataAtto)
	}
	if numeroAtto != "" {
		q.Set("numero_atto", numeroAtto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", "", fmt.Errorf("build article request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("article request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("read article response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("article service returned %d", resp.StatusCode)
	}

	var parsed articleResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", "", fmt.Errorf("parse article response: %w", err)
	}
	if parsed.Text == "" {
		return "", "", fmt.Errorf("article service returned no text for %s art. %s", tipoAtto, numeroArticolo)
	}
	return parsed.Text, parsed.URN, nil
}
