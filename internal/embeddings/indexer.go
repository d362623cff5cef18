package embeddings

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"legalinterpret/internal/types"
)

// IndexSink receives embedded chunks; implemented by the vector store.
type IndexSink interface {
	AddEmbedded(ctx context.Context, chunk types.Chunk, embedding []float32) error
}

// IndexerConfig tunes bulk indexing.
type IndexerConfig struct {
	BatchSize      int           // texts per embedding call
	MaxConcurrency int           // concurrent embedding batches
	Timeout        time.Duration // per-batch deadline
}

// DefaultIndexerConfig returns the default bulk-indexing configuration.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		BatchSize:      64,
		MaxConcurrency: 4,
		Timeout:        60 * time.Second,
	}
}

// IndexStats tracks one bulk-indexing run.
type IndexStats struct {
	Total     int64
	Succeeded int64
	Failed    int64
	Duration  time.Duration
}

// Indexer embeds chunks in batches and hands them to the sink. It backs
// the administrative index surface: chunking itself happens upstream,
// outside this system.
type Indexer struct {
	embedder Embedder
	sink     IndexSink
	cfg      IndexerConfig
}

// NewIndexer creates a bulk indexer.
func NewIndexer(embedder Embedder, sink IndexSink, cfg IndexerConfig) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultIndexerConfig().BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultIndexerConfig().MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultIndexerConfig().Timeout
	}
	return &Indexer{embedder: embedder, sink: sink, cfg: cfg}
}

// IndexChunks embeds every chunk and stores it, batching embedding calls
// and bounding concurrency. A failed batch is logged and counted; the
// rest of the run continues.
func (ix *Indexer) IndexChunks(ctx context.Context, chunks []types.Chunk) IndexStats {
	start := time.Now()
	stats := IndexStats{Total: int64(len(chunks))}

	sem := make(chan struct{}, ix.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for begin := 0; begin < len(chunks); begin += ix.cfg.BatchSize {
		end := begin + ix.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[begin:end]

		wg.Add(1)
		sem <- struct{}{}
		go func(batch []types.Chunk) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := ix.indexBatch(ctx, batch, &stats); err != nil {
				log.Printf("[WARN] index batch of %d chunks failed: %v", len(batch), err)
				atomic.AddInt64(&stats.Failed, int64(len(batch)))
			}
		}(batch)
	}

	wg.Wait()
	stats.Duration = time.Since(start)
	return stats
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []types.Chunk, stats *IndexStats) error {
	batchCtx, cancel := context.WithTimeout(ctx, ix.cfg.Timeout)
	defer cancel()

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.EmbedBatch(batchCtx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}

	for i, c := range batch {
		if err := ix.sink.AddEmbedded(batchCtx, c, vectors[i]); err != nil {
			log.Printf("[WARN] store chunk %s failed: %v", c.ChunkID, err)
			atomic.AddInt64(&stats.Failed, 1)
			continue
		}
		atomic.AddInt64(&stats.Succeeded, 1)
	}
	return nil
}
