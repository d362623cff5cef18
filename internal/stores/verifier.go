package stores

import (
	"context"
	"log"
)

// CompositeVerifier backs the verify_sources tool: an id verifies when it
// names a node present in the graph or a chunk present in the vector
// store.
type CompositeVerifier struct {
	graph  GraphStore
	vector *VectorStore
}

// NewCompositeVerifier builds a verifier over the two stores; either may
// be nil, in which case that side never verifies.
func NewCompositeVerifier(graph GraphStore, vector *VectorStore) *CompositeVerifier {
	return &CompositeVerifier{graph: graph, vector: vector}
}

// Verify returns the subset of sourceIDs actually present in the graph or
// vector store, preserving input order. Lookup failures are logged and
// treated as "not present" — verification never aborts the caller.
func (v *CompositeVerifier) Verify(ctx context.Context, sourceIDs []string) []string {
	verified := make([]string, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		if id == "" {
			continue
		}
		if v.graph != nil {
			_, ok, err := v.graph.GetNode(ctx, id)
			if err != nil {
				log.Printf("[WARN] source verification graph lookup failed for %s: %v", id, err)
			} else if ok {
				verified = append(verified, id)
				continue
			}
		}
		if v.vector != nil && v.vector.HasChunk(ctx, id) {
			verified = append(verified, id)
		}
	}
	return verified
}
