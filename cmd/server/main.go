// Package main provides the entry point for the legal interpretation MCP
// server.
//
// The server is designed to be spawned as a child process by an MCP host
// and communicates via stdio using the Model Context Protocol. It exposes
// the interpret entry point plus administrative tools for populating the
// vector, graph and bridge stores.
//
// Environment variables:
//   - DEBUG: set to "true" to enable debug logging
//   - NEO4J_URI / NEO4J_USERNAME / NEO4J_PASSWORD: graph store; an
//     in-memory graph fixture is used when NEO4J_URI is unset
//   - VOYAGE_API_KEY / EMBEDDING_MODEL: embedding provider; a
//     deterministic mock embedder is used when no key is set
//   - LLM_SERVICE_URL / LLM_MODEL: completion service; experts degrade to
//     source listings when unset
//   - EXPERT_CONFIG_PATH / ROUTER_CONFIG_PATH: YAML configuration files
//   - ARTICLE_SERVICE_URL: external article text service
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"legalinterpret/internal/config"
	"legalinterpret/internal/embeddings"
	"legalinterpret/internal/experts"
	"legalinterpret/internal/gating"
	"legalinterpret/internal/llm"
	"legalinterpret/internal/orchestrator"
	"legalinterpret/internal/retrieval"
	"legalinterpret/internal/routing"
	"legalinterpret/internal/server"
	"legalinterpret/internal/stores"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

func main() {
	if os.Getenv("DEBUG") == "true" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Starting legal interpretation server in debug mode...")
	}

	cfg, err := config.Load(os.Getenv("EXPERT_CONFIG_PATH"), os.Getenv("ROUTER_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	embedder := embeddings.NewFromConfig(embeddings.ConfigFromEnv())
	log.Printf("Initialized embedder: %s", embedder.Model())

	vectorStore, err := stores.NewVectorStore(stores.VectorStoreConfig{
		PersistPath: cfg.Retrieval.VectorPersistPath,
		Embedder:    embedder,
	})
	if err != nil {
		log.Fatalf("Failed to initialize vector store: %v", err)
	}

	graphStore := openGraphStore()

	bridgeStore, err := stores.NewBridgeStore(cfg.Retrieval.BridgePath)
	if err != nil {
		log.Fatalf("Failed to initialize bridge store: %v", err)
	}
	defer func() {
		if err := bridgeStore.Close(); err != nil {
			log.Printf("Warning: failed to close bridge store: %v", err)
		}
	}()

	retriever := retrieval.New(vectorStore, graphStore, bridgeStore, retrieval.Config{
		OverRetrieveFactor:  cfg.Retrieval.OverRetrieveFactor,
		MaxGraphHops:        cfg.Retrieval.MaxGraphHops,
		GraphScoringEnabled: cfg.Retrieval.GraphScoringEnabled,
		DefaultGraphScore:   cfg.Retrieval.DefaultGraphScore,
	})

	var fetcher tools.ArticleFetcher
	if f := stores.NewHTTPArticleFetcherFromEnv(); f != nil {
		fetcher = f
		log.Println("Initialized external article fetcher")
	}

	registry := tools.NewRegistry()
	tools.RegisterCoreTools(registry, retriever, graphStore, fetcher,
		stores.NewCompositeVerifier(graphStore, vectorStore), vectorStore.EmbedQuery)
	log.Printf("Registered retrieval tools: %v", registry.Names())

	client := llm.NewHTTPClientFromEnv()
	var llmClient llm.Client
	if client != nil {
		llmClient = client
		log.Println("Initialized language-model client")
	} else {
		log.Println("[WARN] no LLM_SERVICE_URL configured; experts will degrade to source listings")
	}

	expertSet := make(map[types.ExpertType]*experts.Expert, len(types.AllExpertTypes))
	handles := make(map[types.ExpertType]server.ExpertHandle, len(types.AllExpertTypes))
	for _, kind := range types.AllExpertTypes {
		e := experts.New(kind, expertConfigFor(cfg, kind), registry, llmClient)
		expertSet[kind] = e
		handles[kind] = e
	}
	log.Println("Initialized experts: literal, systemic, principles, precedent")

	var router orchestrator.Router
	var bandit orchestrator.BanditFeedback
	if cfg.Orchestration.RoutingStrategy == "thompson" {
		tr := routing.NewThompsonRouter(time.Now().UnixNano())
		router = tr
		bandit = tr
		log.Println("Initialized Thompson-Sampling router")
	} else {
		router = routing.New(routing.Config{
			SelectionThreshold: cfg.Orchestration.SelectionThreshold,
			MaxExperts:         cfg.Orchestration.MaxExperts,
			QueryTypeWeights:   cfg.Router.QueryTypeWeights(),
		})
		log.Println("Initialized pattern-family router")
	}

	orch := orchestrator.New(router, expertSet, gating.New(llmClient), llmClient, trace.New())
	if bandit != nil {
		orch.SetBandit(bandit)
	}
	hash, configs := cfg.Snapshot()
	orch.SetConfigSnapshot(trace.ConfigSnapshot{Hash: hash, Configs: configs})

	indexer := embeddings.NewIndexer(embedder, vectorStore, embeddings.DefaultIndexerConfig())

	srv := server.New(orch, retriever, registry, handles, indexer, bridgeStore)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	}, nil)
	srv.RegisterTools(mcpServer)
	log.Println("Registered MCP tools: interpret, run_single_expert, get_trace, list_retrieval_tools, update_alpha, record_expert_feedback, index_chunks, add_bridge_mapping")

	transport := &mcp.StdioTransport{}
	ctx := context.Background()
	log.Println("Starting MCP server...")
	if err := mcpServer.Run(ctx, transport); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// openGraphStore connects to Neo4j when configured, falling back to the
// in-memory graph fixture so the server still runs without one.
func openGraphStore() stores.GraphStore {
	if os.Getenv("NEO4J_URI") == "" {
		log.Println("[WARN] no NEO4J_URI configured; using in-memory graph store")
		return stores.NewInMemoryGraphStore()
	}
	g, err := stores.NewNeo4jGraphStore(stores.Neo4jConfigFromEnv())
	if err != nil {
		log.Fatalf("Failed to connect to Neo4j: %v", err)
	}
	return g
}

// expertConfigFor folds the expert configuration file (when present) into
// one expert's construction-time config; instance config overrides file
// config.
func expertConfigFor(cfg *config.Config, kind types.ExpertType) experts.Config {
	entry := cfg.Experts.Entry(kind)

	out := experts.Config{
		Model:                 entry.Model,
		PromptTemplate:        entry.PromptTemplate,
		UseReact:              entry.UseReact,
		ReactMaxIterations:    entry.ReactMaxIterations,
		ReactNoveltyThreshold: entry.ReactNoveltyThreshold,
		TopK:                  entry.TopK,
	}
	if entry.Temperature != nil {
		out.Temperature = *entry.Temperature
	}
	if len(entry.TraversalWeights) > 0 {
		out.TraversalWeights = retrieval.TraversalWeights(entry.TraversalWeights)
	}
	return out
}
