// Package embeddings provides vector embedding generation for the
// semantic half of hybrid retrieval: legal chunk text in, dense vectors
// out.
package embeddings

import (
	"context"
	"os"
	"time"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int

	// Model returns the model identifier.
	Model() string
}

// Config holds embedding configuration.
type Config struct {
	Provider string `json:"provider"` // "voyage" or "mock"
	Model    string `json:"model"`    // e.g. "voyage-law-2"
	APIKey   string `json:"api_key,omitempty"`

	// Caching
	CacheEmbeddings bool          `json:"cache_embeddings"`
	CacheSize       int           `json:"cache_size"`
	CacheTTL        time.Duration `json:"cache_ttl"`

	// Performance
	BatchSize int           `json:"batch_size"`
	Timeout   time.Duration `json:"timeout"`
}

// DefaultConfig returns the default embedding configuration: the
// law-tuned Voyage model, with caching on.
func DefaultConfig() Config {
	return Config{
		Provider:        "voyage",
		Model:           "voyage-law-2",
		CacheEmbeddings: true,
		CacheSize:       2048,
		CacheTTL:        24 * time.Hour,
		BatchSize:       64,
		Timeout:         30 * time.Second,
	}
}

// ConfigFromEnv overlays VOYAGE_API_KEY / EMBEDDING_MODEL /
// EMBEDDING_PROVIDER onto the defaults.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("VOYAGE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	return cfg
}

// NewFromConfig assembles the embedder stack the configuration asks for:
// a Voyage client when an API key is present, the deterministic mock
// otherwise, wrapped in the LRU cache when caching is enabled.
func NewFromConfig(cfg Config) Embedder {
	var base Embedder
	if cfg.Provider == "voyage" && cfg.APIKey != "" {
		base = NewVoyageEmbedder(cfg.APIKey, cfg.Model, cfg.Timeout)
	} else {
		base = NewMockEmbedder(mockDimension)
	}
	if cfg.CacheEmbeddings {
		return NewCachedEmbedder(base, cfg.CacheSize, cfg.CacheTTL)
	}
	return base
}
