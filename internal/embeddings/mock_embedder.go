package embeddings

import (
	"context"
	"hash/fnv"
	"math"
)

const mockDimension = 128

// MockEmbedder generates deterministic embeddings from a hash of the
// input text. Identical texts map to identical vectors and similar texts
// do NOT map to similar vectors — it backs component tests and
// no-API-key deployments, not semantic quality.
type MockEmbedder struct {
	dimension int
}

// NewMockEmbedder creates a mock embedder of the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = mockDimension
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	// xorshift over the text hash: deterministic, full-dimension spread.
	vector := make([]float32, m.dimension)
	state := seed
	var norm float64
	for i := range vector {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		v := float64(int64(state)) / math.MaxInt64
		vector[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (m *MockEmbedder) Dimension() int { return m.dimension }
func (m *MockEmbedder) Model() string  { return "mock" }
