// Package stores adapts the external collaborators (vector store, graph
// store, bridge store, article service) to the interfaces the retriever
// and tools consume.
package stores

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	"legalinterpret/internal/embeddings"
	"legalinterpret/internal/types"
)

// VectorPoint is one candidate returned by a vector-store query.
type VectorPoint struct {
	ID      string
	Score   float64
	Payload types.Metadata
}

// VectorStore provides semantic similarity search over chunk text.
type VectorStore struct {
	db         *chromem.DB
	embedder   embeddings.Embedder
	collection string

	mu  sync.RWMutex
	ids map[string]bool // chunk ids indexed this process lifetime
}

// VectorStoreConfig configures a VectorStore.
type VectorStoreConfig struct {
	PersistPath string // empty = in-memory only
	Embedder    embeddings.Embedder
	Collection  string
}

// NewVectorStore creates a vector store backed by chromem-go, persistent
// when a path is configured and in-memory otherwise.
func NewVectorStore(cfg VectorStoreConfig) (*VectorStore, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("create persistent vector store: %w", err)
		}
		log.Printf("[DEBUG] vector store initialized with persistence at %s", cfg.PersistPath)
	} else {
		db = chromem.NewDB()
		log.Printf("[DEBUG] vector store initialized (in-memory only)")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "chunks"
	}

	return &VectorStore{db: db, embedder: cfg.Embedder, collection: collection, ids: make(map[string]bool)}, nil
}

// getOrCreateCollection gets the chunk collection or creates it.
func (vs *VectorStore) getOrCreateCollection() (*chromem.Collection, error) {
	if col := vs.db.GetCollection(vs.collection, nil); col != nil {
		return col, nil
	}
	return vs.db.CreateCollection(vs.collection, nil, nil)
}

// AddChunk indexes a chunk's text for later similarity search.
func (vs *VectorStore) AddChunk(ctx context.Context, chunk types.Chunk) error {
	embedding, err := vs.embedder.Embed(ctx, chunk.Text)
	if err != nil {
		return fmt.Errorf("embed chunk %s: %w", chunk.ChunkID, err)
	}
	return vs.AddEmbedded(ctx, chunk, embedding)
}

// AddEmbedded indexes a chunk whose embedding was already computed (the
// bulk indexer's path — it batches embedding calls itself).
func (vs *VectorStore) AddEmbedded(ctx context.Context, chunk types.Chunk, embedding []float32) error {
	col, err := vs.getOrCreateCollection()
	if err != nil {
		return fmt.Errorf("get or create collection: %w", err)
	}

	meta := map[string]string{"source_type": string(chunk.SourceType)}
	if chunk.ArticleURN != "" {
		meta["article_urn"] = chunk.ArticleURN
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        chunk.ChunkID,
		Content:   chunk.Text,
		Metadata:  meta,
		Embedding: embedding,
	}); err != nil {
		return err
	}

	vs.mu.Lock()
	vs.ids[chunk.ChunkID] = true
	vs.mu.Unlock()
	return nil
}

// QueryPoints issues a top-k similarity search, honouring the caller's
// limit exactly (the over-retrieve factor is the retriever's concern,
// not the store's). Any failure is logged and degrades to an empty
// result set rather than aborting the caller.
func (vs *VectorStore) QueryPoints(ctx context.Context, queryEmbedding []float32, limit int) []VectorPoint {
	col := vs.db.GetCollection(vs.collection, nil)
	if col == nil {
		log.Printf("[WARN] vector store query on missing collection %q", vs.collection)
		return nil
	}

	// chromem rejects a limit above the collection size.
	if count := col.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil
	}

	results, err := col.QueryEmbedding(ctx, queryEmbedding, limit, nil, nil)
	if err != nil {
		log.Printf("[WARN] vector store query failed: %v", err)
		return nil
	}

	points := make([]VectorPoint, 0, len(results))
	for _, r := range results {
		payload := types.Metadata{"text": r.Content}
		for k, v := range r.Metadata {
			payload[k] = v
		}
		points = append(points, VectorPoint{ID: r.ID, Score: float64(r.Similarity), Payload: payload})
	}
	return points
}

// HasChunk reports whether this store indexed a chunk with the given id.
func (vs *VectorStore) HasChunk(_ context.Context, chunkID string) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.ids[chunkID]
}

// EmbedQuery generates an embedding for free-text query input, used when
// the caller did not already supply one in the ExpertContext.
func (vs *VectorStore) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return vs.embedder.Embed(ctx, text)
}

// ChunkIDFromVectorID maps an integer vector-store id to a stable ChunkId
// UUID via MD5. UUID-shaped ids pass through unchanged.
func ChunkIDFromVectorID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		// Not an integer id either; return as-is rather than guessing.
		return id
	}
	return uuid.NewMD5(uuid.Nil, []byte(id)).String() // non-security-sensitive: stable id bridging only
}
