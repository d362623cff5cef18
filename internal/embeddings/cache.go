package embeddings

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// CachedEmbedder wraps an Embedder with an in-memory LRU + TTL cache
// keyed by the exact input text. Article and massime text recurs across
// queries, so a warm cache short-circuits most embedding calls.
type CachedEmbedder struct {
	inner    Embedder
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	order   *list.List // front = most recently used
	entries map[string]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	text      string
	vector    []float32
	expiresAt time.Time
}

// NewCachedEmbedder wraps inner with a cache of the given capacity; a
// non-positive ttl means entries never expire.
func NewCachedEmbedder(inner Embedder, capacity int, ttl time.Duration) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[text]
	if !ok {
		c.misses++
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, text)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return entry.vector, true
}

func (c *CachedEmbedder) store(text string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[text]; ok {
		el.Value.(*cacheEntry).vector = vector
		el.Value.(*cacheEntry).expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).text)
	}

	c.entries[text] = c.order.PushFront(&cacheEntry{
		text:      text,
		vector:    vector,
		expiresAt: time.Now().Add(c.ttl),
	})
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := c.lookup(text); ok {
		return vector, nil
	}
	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, vector)
	return vector, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if v, ok := c.lookup(t); ok {
			vectors[i] = v
		} else {
			missing = append(missing, t)
			missingIdx = append(missingIdx, i)
		}
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range fresh {
		c.store(missing[j], v)
		vectors[missingIdx[j]] = v
	}
	return vectors, nil
}

func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *CachedEmbedder) Model() string  { return c.inner.Model() }

// Stats reports cache effectiveness.
func (c *CachedEmbedder) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.order.Len()
}
