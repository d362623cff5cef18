package tools

import (
	"context"
	"fmt"

	"legalinterpret/internal/retrieval"
	"legalinterpret/internal/stores"
	"legalinterpret/internal/types"
)

// ArticleFetcher is the possibly-slow external collaborator behind
// article_fetch. Only the interface is consumed here; whatever ingestion
// system backs it lives elsewhere.
type ArticleFetcher interface {
	FetchArticle(ctx context.Context, tipoAtto string, numeroArticolo string, dataAtto, numeroAtto string) (text string, urn string, err error)
}

// SourceVerifier checks whether ids are still present in the graph or
// vector store, backing verify_sources.
type SourceVerifier interface {
	Verify(ctx context.Context, sourceIDs []string) []string
}

// RegisterCoreTools wires the six retrieval tools into registry.
func RegisterCoreTools(registry *Registry, retriever *retrieval.Retriever, graph stores.GraphStore, articles ArticleFetcher, verifier SourceVerifier, embedQuery func(ctx context.Context, text string) ([]float32, error)) {
	registry.Register(Tool{
		Name:        "semantic_search",
		Description: "Dense+graph hybrid similarity search over legal text chunks.",
		Parameters: []Parameter{
			{Name: "query", Type: ParamString, Description: "Free-text query", Required: true},
			{Name: "top_k", Type: ParamInteger, Description: "Maximum results", Default: 10},
			{Name: "source_types", Type: ParamArray, Description: "Restrict to these source types"},
			{Name: "expert_type", Type: ParamString, Description: "Traversal-weight profile to apply", Enum: []string{"literal", "systemic", "principles", "precedent"}},
		},
		Handler: semanticSearchHandler(retriever, embedQuery),
	})

	registry.Register(Tool{
		Name:        "graph_search",
		Description: "Expands a node's neighbourhood in the knowledge graph.",
		Parameters: []Parameter{
			{Name: "start_node", Type: ParamString, Description: "URN to expand from", Required: true},
			{Name: "relation_types", Type: ParamArray, Description: "Restrict traversal to these relation types"},
			{Name: "max_hops", Type: ParamInteger, Description: "Hop limit in [1,5]", Default: 2},
			{Name: "direction", Type: ParamString, Description: "Traversal direction", Default: "both", Enum: []string{"outgoing", "incoming", "both"}},
		},
		Handler: graphSearchHandler(graph),
	})

	registry.Register(Tool{
		Name:        "article_fetch",
		Description: "Fetches the current text of a norm article by its legislative reference.",
		Parameters: []Parameter{
			{Name: "tipo_atto", Type: ParamString, Description: "Type of legislative act", Required: true},
			{Name: "numero_articolo", Type: ParamString, Description: "Article number", Required: true},
			{Name: "data_atto", Type: ParamString, Description: "Act date"},
			{Name: "numero_atto", Type: ParamString, Description: "Act number"},
		},
		Handler: articleFetchHandler(articles),
	})

	registry.Register(Tool{
		Name:        "definition_lookup",
		Description: "Looks up a legal definition by graph traversal over 'definisce' edges.",
		Parameters: []Parameter{
			{Name: "term", Type: ParamString, Description: "Term or concept to define", Required: true},
		},
		Handler: definitionLookupHandler(graph),
	})

	registry.Register(Tool{
		Name:        "hierarchy_navigation",
		Description: "Walks the kelsenian hierarchy above or below a norm node.",
		Parameters: []Parameter{
			{Name: "start_node", Type: ParamString, Description: "URN to start from", Required: true},
			{Name: "direction", Type: ParamString, Description: "Traversal direction", Default: "both", Enum: []string{"outgoing", "incoming", "both"}},
		},
		Handler: hierarchyNavigationHandler(graph),
	})

	registry.Register(Tool{
		Name:        "verify_sources",
		Description: "Confirms that cited source ids are still present in the graph or vector store.",
		Parameters: []Parameter{
			{Name: "source_ids", Type: ParamArray, Description: "Ids to verify", Required: true},
			{Name: "strict_mode", Type: ParamBoolean, Description: "Reject partial matches", Default: false},
		},
		Handler: verifySourcesHandler(verifier),
	})
}

func semanticSearchHandler(retriever *retrieval.Retriever, embedQuery func(ctx context.Context, text string) ([]float32, error)) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		query, _ := args["query"].(string)
		topK := intArg(args, "top_k", 10)
		expertType := types.ExpertType(stringArg(args, "expert_type", ""))
		allowed := stringSetArg(args, "source_types")

		embedding, err := embedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}

		results, err := retriever.Retrieve(ctx, embedding, nil, expertType, topK)
		if err != nil {
			return nil, err
		}

		filtered := make([]map[string]interface{}, 0, len(results))
		for _, r := range results {
			if len(allowed) > 0 && !allowed[string(r.SourceType)] {
				continue
			}
			filtered = append(filtered, map[string]interface{}{
				"chunk_id":         r.ChunkID,
				"text":             r.Text,
				"similarity_score": r.SimilarityScore,
				"final_score":      r.FinalScore,
				"source_type":      string(r.SourceType),
				"metadata":         r.Metadata,
			})
		}
		return map[string]interface{}{"results": filtered, "total": len(filtered)}, nil
	}
}

func graphSearchHandler(graph stores.GraphStore) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		start, _ := args["start_node"].(string)
		maxHops := intArg(args, "max_hops", 2)
		direction := stores.Direction(stringArg(args, "direction", "both"))
		relationTypes := stringSliceArg(args, "relation_types")

		nodes, edges, err := graph.Neighbors(ctx, start, relationTypes, maxHops, direction)
		if err != nil {
			return nil, err
		}

		nodeOut := make([]map[string]interface{}, 0, len(nodes))
		for _, n := range nodes {
			nodeOut = append(nodeOut, map[string]interface{}{"urn": n.URN, "type": n.Type, "properties": n.Properties})
		}
		edgeOut := make([]map[string]interface{}, 0, len(edges))
		for _, e := range edges {
			edgeOut = append(edgeOut, map[string]interface{}{"type": e.Type, "properties": e.Properties})
		}

		return map[string]interface{}{
			"nodes": nodeOut, "edges": edgeOut,
			"total_nodes": len(nodeOut), "total_edges": len(edgeOut),
		}, nil
	}
}

func articleFetchHandler(articles ArticleFetcher) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		if articles == nil {
			return nil, fmt.Errorf("no article fetch collaborator configured")
		}
		text, urn, err := articles.FetchArticle(ctx,
			stringArg(args, "tipo_atto", ""),
			stringArg(args, "numero_articolo", ""),
			stringArg(args, "data_atto", ""),
			stringArg(args, "numero_atto", ""),
		)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"text": text, "urn": urn}, nil
	}
}

func definitionLookupHandler(graph stores.GraphStore) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		term, _ := args["term"].(string)
		nodes, _, err := graph.Neighbors(ctx, term, []string{"definisce"}, 1, stores.DirectionIncoming)
		if err != nil {
			return nil, err
		}
		defs := make([]map[string]interface{}, 0, len(nodes))
		for _, n := range nodes {
			defs = append(defs, map[string]interface{}{"urn": n.URN, "type": n.Type, "properties": n.Properties})
		}
		return map[string]interface{}{"definitions": defs}, nil
	}
}

func hierarchyNavigationHandler(graph stores.GraphStore) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		start, _ := args["start_node"].(string)
		direction := stores.Direction(stringArg(args, "direction", "both"))
		nodes, _, err := graph.Neighbors(ctx, start, []string{"gerarchia_kelseniana"}, 3, direction)
		if err != nil {
			return nil, err
		}
		hierarchy := make([]map[string]interface{}, 0, len(nodes))
		for _, n := range nodes {
			hierarchy = append(hierarchy, map[string]interface{}{"urn": n.URN, "type": n.Type, "properties": n.Properties})
		}
		return map[string]interface{}{"hierarchy": hierarchy}, nil
	}
}

func verifySourcesHandler(verifier SourceVerifier) Handler {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		if verifier == nil {
			return map[string]interface{}{"verified": []string{}}, nil
		}
		ids := stringSliceArg(args, "source_ids")
		verified := verifier.Verify(ctx, ids)
		return map[string]interface{}{"verified": verified}, nil
	}
}

func intArg(args map[string]interface{}, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func stringArg(args map[string]interface{}, key, def string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return def
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func stringSetArg(args map[string]interface{}, key string) map[string]bool {
	items := stringSliceArg(args, key)
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
