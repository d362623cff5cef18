// Package retrieval implements the hybrid retriever: it blends dense
// vector similarity with graph-topology scoring, resolving each
// candidate chunk to its graph nodes through the bridge table and
// re-ranking by the blended score.
package retrieval

import (
	"context"
	"log"
	"math"
	"sort"
	"sync"

	"legalinterpret/internal/stores"
	"legalinterpret/internal/types"
)

const (
	// DefaultAlpha blends similarity and graph score.
	DefaultAlpha = 0.7
	AlphaMin     = 0.3
	AlphaMax     = 0.9

	DefaultOverRetrieveFactor = 3
	DefaultMaxGraphHops       = 3
	DefaultGraphScore         = 0.5

	nodeResolutionHopLimit   = 10 // 1-hop neighbourhood limit when resolving via article_urn
	densityFallbackSideCap   = 3  // cap chunk/context nodes considered for the density fallback
	maxURNsConsideredPerPair = 5
)

// Config tunes the retriever's behaviour; unset or out-of-range fields
// get defaults applied by New.
type Config struct {
	OverRetrieveFactor  int  // must be >= 1
	MaxGraphHops        int  // must be in [1,5]
	GraphScoringEnabled bool // globally disables graph scoring when false
	DefaultGraphScore   float64
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		OverRetrieveFactor:  DefaultOverRetrieveFactor,
		MaxGraphHops:        DefaultMaxGraphHops,
		GraphScoringEnabled: true,
		DefaultGraphScore:   DefaultGraphScore,
	}
}

// VectorSearcher is the slice of the vector store the retriever
// consumes.
type VectorSearcher interface {
	QueryPoints(ctx context.Context, queryEmbedding []float32, limit int) []stores.VectorPoint
}

// BridgeResolver is the slice of the bridge store the retriever
// consumes.
type BridgeResolver interface {
	GetNodesForChunk(ctx context.Context, chunkID string) []types.BridgeMapping
}

// Retriever implements the hybrid retriever. α is mutable and learnable
// (update via UpdateAlpha), serialized through mu.
type Retriever struct {
	vector VectorSearcher
	graph  stores.GraphStore
	bridge BridgeResolver

	cfg Config

	mu    sync.Mutex
	alpha float64
}

// New constructs a Retriever over the three owning stores; the retriever
// holds read-only references, none owns another.
func New(vector VectorSearcher, graph stores.GraphStore, bridge BridgeResolver, cfg Config) *Retriever {
	if cfg.OverRetrieveFactor < 1 {
		cfg.OverRetrieveFactor = DefaultOverRetrieveFactor
	}
	if cfg.MaxGraphHops < 1 || cfg.MaxGraphHops > 5 {
		cfg.MaxGraphHops = DefaultMaxGraphHops
	}
	if cfg.DefaultGraphScore == 0 {
		cfg.DefaultGraphScore = DefaultGraphScore
	}
	return &Retriever{vector: vector, graph: graph, bridge: bridge, cfg: cfg, alpha: DefaultAlpha}
}

// Alpha returns the current blending coefficient.
func (r *Retriever) Alpha() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alpha
}

// UpdateAlpha adjusts α based on feedback correlation and source
// authority: correlation > 0.5 decreases α by 0.01·authority, otherwise
// increases it by the same amount, clamped to [0.3, 0.9].
func (r *Retriever) UpdateAlpha(correlation, authority float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delta := 0.01 * authority
	if correlation > 0.5 {
		r.alpha -= delta
	} else {
		r.alpha += delta
	}
	if r.alpha < AlphaMin {
		r.alpha = AlphaMin
	}
	if r.alpha > AlphaMax {
		r.alpha = AlphaMax
	}
}

// candidate is an over-retrieved chunk before graph scoring.
type candidate struct {
	point stores.VectorPoint
	urns  []string
}

// Retrieve over-retrieves candidates, resolves their graph nodes, scores
// them and returns results sorted by final_score descending (a stable
// sort, so equal scores keep vector-store order).
func (r *Retriever) Retrieve(ctx context.Context, queryEmbedding []float32, contextNodes []string, expertType types.ExpertType, topK int) ([]types.RetrievalResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points := r.vector.QueryPoints(ctx, queryEmbedding, topK*r.cfg.OverRetrieveFactor)
	if len(points) == 0 {
		return nil, nil
	}

	candidates := make([]candidate, 0, len(points))
	for _, p := range points {
		candidates = append(candidates, candidate{point: p, urns: r.resolveNodes(ctx, p)})
	}

	weights := DefaultTraversalWeights()[expertType]
	alpha := r.Alpha()

	results := make([]types.RetrievalResult, 0, len(candidates))
	for _, c := range candidates {
		graphScore := r.graphScore(ctx, c.urns, contextNodes, weights)
		similarity := c.point.Score
		final := alpha*similarity + (1-alpha)*graphScore

		results = append(results, types.RetrievalResult{
			ChunkID:         stores.ChunkIDFromVectorID(c.point.ID),
			Text:            stringField(c.point.Payload, "text"),
			SimilarityScore: similarity,
			GraphScore:      graphScore,
			FinalScore:      final,
			LinkedNodes:     c.urns,
			SourceType:      types.SourceType(stringField(c.point.Payload, "source_type")),
			Metadata:        c.point.Payload,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].FinalScore > results[j].FinalScore })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func stringField(m types.Metadata, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// resolveNodes implements step 2: prefer the chunk's article_urn and its
// 1-hop neighbourhood, falling back to the bridge store's mappings.
func (r *Retriever) resolveNodes(ctx context.Context, p stores.VectorPoint) []string {
	if urn := stringField(p.Payload, "article_urn"); urn != "" {
		nodes, _, err := r.graph.Neighbors(ctx, urn, nil, 1, stores.DirectionBoth)
		if err != nil {
			log.Printf("[WARN] graph neighbour resolution failed for %s: %v", urn, err)
		} else {
			urns := []string{urn}
			for i, n := range nodes {
				if i >= nodeResolutionHopLimit {
					break
				}
				urns = append(urns, n.URN)
			}
			return urns
		}
	}

	if r.bridge == nil {
		return nil
	}
	chunkID := stores.ChunkIDFromVectorID(p.ID)
	mappings := r.bridge.GetNodesForChunk(ctx, chunkID)
	urns := make([]string, 0, len(mappings))
	for _, m := range mappings {
		urns = append(urns, m.NodeURN)
	}
	return urns
}

// graphScore implements step 3: centrality when no context nodes are
// given, shortest-path scoring when they are and a path exists, relation
// density otherwise, and the global disable switch from step 3's last
// bullet.
func (r *Retriever) graphScore(ctx context.Context, chunkNodes, contextNodes []string, weights TraversalWeights) float64 {
	if !r.cfg.GraphScoringEnabled {
		return r.cfg.DefaultGraphScore
	}
	if len(chunkNodes) == 0 {
		return r.cfg.DefaultGraphScore
	}

	if len(contextNodes) == 0 {
		return r.centrality(ctx, chunkNodes[0])
	}

	best := 0.0
	found := false
	for _, cn := range limitURNs(chunkNodes) {
		for _, ctxNode := range limitURNs(contextNodes) {
			edges, ok, err := r.graph.ShortestPath(ctx, cn, ctxNode, r.cfg.MaxGraphHops)
			if err != nil {
				log.Printf("[WARN] shortest path query failed for %s->%s: %v", cn, ctxNode, err)
				continue
			}
			if !ok {
				continue
			}
			found = true
			score := pathScore(edges, weights)
			if score > best {
				best = score
			}
		}
	}
	if found {
		return best
	}

	return r.densityFallback(ctx, chunkNodes, contextNodes)
}

func limitURNs(urns []string) []string {
	if len(urns) > maxURNsConsideredPerPair {
		return urns[:maxURNsConsideredPerPair]
	}
	return urns
}

// pathScore computes (1/(L+1)) * product(w_r) for one shortest path.
func pathScore(edges []types.GraphEdge, weights TraversalWeights) float64 {
	l := len(edges)
	score := 1.0 / float64(l+1)
	for _, e := range edges {
		score *= weights.Get(e.Type)
	}
	return score
}

// centrality implements the no-context-nodes branch: min(degree/10, 1.0),
// floored at 0.2 if the node exists.
func (r *Retriever) centrality(ctx context.Context, urn string) float64 {
	node, ok, err := r.graph.GetNode(ctx, urn)
	if err != nil {
		log.Printf("[WARN] node lookup failed for %s: %v", urn, err)
		return r.cfg.DefaultGraphScore
	}
	if !ok || node.URN == "" {
		return r.cfg.DefaultGraphScore
	}

	degree, err := r.graph.Degree(ctx, urn)
	if err != nil {
		log.Printf("[WARN] degree query failed for %s: %v", urn, err)
		return r.cfg.DefaultGraphScore
	}

	score := math.Min(float64(degree)/10.0, 1.0)
	if score < 0.2 {
		score = 0.2
	}
	return score
}

// densityFallback counts distinct shared 1-hop neighbours between any
// chunk node and any context node, capped at densityFallbackSideCap of
// each side, mapped min(shared/5, 0.8) with a 0.2 floor.
func (r *Retriever) densityFallback(ctx context.Context, chunkNodes, contextNodes []string) float64 {
	a := chunkNodes
	if len(a) > densityFallbackSideCap {
		a = a[:densityFallbackSideCap]
	}
	b := contextNodes
	if len(b) > densityFallbackSideCap {
		b = b[:densityFallbackSideCap]
	}

	shared, err := r.graph.SharedNeighbors(ctx, a, b)
	if err != nil {
		log.Printf("[WARN] shared-neighbour query failed: %v", err)
		return r.cfg.DefaultGraphScore
	}

	score := math.Min(float64(shared)/5.0, 0.8)
	if score < 0.2 {
		score = 0.2
	}
	return score
}
