// Package server exposes the interpretation core over the Model Context
// Protocol: the interpret entry point and its companions, plus
// administrative tools for populating the owning stores and steering the
// learnable parameters.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"legalinterpret/internal/embeddings"
	"legalinterpret/internal/orchestrator"
	"legalinterpret/internal/retrieval"
	"legalinterpret/internal/stores"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

// InterpretServer binds the orchestration core to the MCP tool surface.
type InterpretServer struct {
	orchestrator *orchestrator.Orchestrator
	retriever    *retrieval.Retriever
	registry     *tools.Registry
	experts      map[types.ExpertType]ExpertHandle
	indexer      *embeddings.Indexer
	bridge       *stores.BridgeStore
}

// ExpertHandle is the slice of the expert surface the server forwards
// to: feedback recording against traversal weights.
type ExpertHandle interface {
	RecordFeedback(relation string, userRating float64)
	ApplyWeightUpdates() retrieval.TraversalWeights
}

// New builds the server over its collaborators; indexer and bridge may be
// nil when the deployment does not expose the administrative surface.
func New(orch *orchestrator.Orchestrator, retriever *retrieval.Retriever, registry *tools.Registry, experts map[types.ExpertType]ExpertHandle, indexer *embeddings.Indexer, bridge *stores.BridgeStore) *InterpretServer {
	return &InterpretServer{
		orchestrator: orch,
		retriever:    retriever,
		registry:     registry,
		experts:      experts,
		indexer:      indexer,
		bridge:       bridge,
	}
}

// RegisterTools registers every MCP tool on mcpServer.
func (s *InterpretServer) RegisterTools(mcpServer *mcp.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "interpret",
		Description: "Answer a natural-language legal query with a grounded, source-attributed synthesis from the four interpretive experts",
	}, s.handleInterpret)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "run_single_expert",
		Description: "Run one named interpretive expert on a query, bypassing routing",
	}, s.handleRunSingleExpert)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_trace",
		Description: "Fetch the sealed trace document for a completed query",
	}, s.handleGetTrace)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_retrieval_tools",
		Description: "List the retrieval tool descriptors the experts can invoke",
	}, s.handleListRetrievalTools)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "update_alpha",
		Description: "Adjust the retriever's similarity/graph blending coefficient from feedback",
	}, s.handleUpdateAlpha)

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "record_expert_feedback",
		Description: "Record user feedback against one expert's traversal weight for a relation",
	}, s.handleRecordFeedback)

	if s.indexer != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        "index_chunks",
			Description: "Embed and index pre-chunked legal text into the vector store",
		}, s.handleIndexChunks)
	}
	if s.bridge != nil {
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        "add_bridge_mapping",
			Description: "Record a chunk-to-graph-node bridge mapping",
		}, s.handleAddBridgeMapping)
	}
}

// InterpretRequest carries the interpret tool's parameters.
type InterpretRequest struct {
	Query             string   `json:"query"`
	MaxExperts        int      `json:"max_experts,omitempty"`
	AggregationMethod string   `json:"aggregation_method,omitempty"`
	TimeoutSeconds    float64  `json:"timeout_seconds,omitempty"`
	IncludeSearch     *bool    `json:"include_search,omitempty"` // default true
	NormReferences    []string `json:"norm_references,omitempty"`
	LegalConcepts     []string `json:"legal_concepts,omitempty"`
	Sequential        bool     `json:"sequential,omitempty"`
	Baseline          bool     `json:"baseline,omitempty"`
	WithRouting       bool     `json:"with_routing,omitempty"`
}

// InterpretResponse wraps the aggregated response with the trace id the
// caller needs to fetch the full trace document.
type InterpretResponse struct {
	Response types.AggregatedResponse `json:"response"`
	Routing  *types.RoutingDecision   `json:"routing,omitempty"`
	TraceID  string                   `json:"trace_id"`
}

func (s *InterpretServer) handleInterpret(ctx context.Context, req *mcp.CallToolRequest, input InterpretRequest) (*mcp.CallToolResult, *InterpretResponse, error) {
	if input.Query == "" {
		return nil, nil, fmt.Errorf("query must not be empty")
	}

	includeSearch := true
	if input.IncludeSearch != nil {
		includeSearch = *input.IncludeSearch
	}

	in := orchestrator.Input{
		QueryText:         input.Query,
		MaxExperts:        input.MaxExperts,
		AggregationMethod: types.AggregationMethod(input.AggregationMethod),
		TimeoutSeconds:    input.TimeoutSeconds,
		IncludeSearch:     includeSearch,
		HintEntities: types.Entities{
			NormReferences: input.NormReferences,
			LegalConcepts:  input.LegalConcepts,
		},
		Sequential: input.Sequential,
		Baseline:   input.Baseline,
	}

	response := &InterpretResponse{}
	if input.WithRouting {
		agg, decision := s.orchestrator.ProcessWithRouting(ctx, in)
		response.Response = agg
		response.Routing = &decision
	} else {
		response.Response = s.orchestrator.Interpret(ctx, in)
	}
	response.TraceID = response.Response.TraceID

	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// RunSingleExpertRequest selects one expert by type.
type RunSingleExpertRequest struct {
	Expert         string   `json:"expert"` // literal, systemic, principles, precedent
	Query          string   `json:"query"`
	NormReferences []string `json:"norm_references,omitempty"`
}

// RunSingleExpertResponse is the expert's raw structured output.
type RunSingleExpertResponse struct {
	Response types.ExpertResponse `json:"response"`
}

func (s *InterpretServer) handleRunSingleExpert(ctx context.Context, req *mcp.CallToolRequest, input RunSingleExpertRequest) (*mcp.CallToolResult, *RunSingleExpertResponse, error) {
	if input.Query == "" {
		return nil, nil, fmt.Errorf("query must not be empty")
	}
	kind := types.ExpertType(input.Expert)
	if !validExpert(kind) {
		return nil, nil, fmt.Errorf("unknown expert %q", input.Expert)
	}

	resp := s.orchestrator.RunSingleExpert(ctx, kind, orchestrator.Input{
		QueryText:     input.Query,
		IncludeSearch: true,
		HintEntities:  types.Entities{NormReferences: input.NormReferences},
	})
	response := &RunSingleExpertResponse{Response: resp}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// GetTraceRequest fetches one sealed trace.
type GetTraceRequest struct {
	TraceID string `json:"trace_id"`
}

// GetTraceResponse carries the materialised document.
type GetTraceResponse struct {
	Trace trace.Document `json:"trace"`
}

func (s *InterpretServer) handleGetTrace(ctx context.Context, req *mcp.CallToolRequest, input GetTraceRequest) (*mcp.CallToolResult, *GetTraceResponse, error) {
	doc, ok := s.orchestrator.Collector().Document(input.TraceID)
	if !ok {
		return nil, nil, fmt.Errorf("no sealed trace for id %q", input.TraceID)
	}
	response := &GetTraceResponse{Trace: doc}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// EmptyRequest is for tools that take no parameters.
type EmptyRequest struct{}

// ListRetrievalToolsResponse carries the JSON-schema descriptors.
type ListRetrievalToolsResponse struct {
	Tools []tools.Descriptor `json:"tools"`
}

func (s *InterpretServer) handleListRetrievalTools(ctx context.Context, req *mcp.CallToolRequest, input EmptyRequest) (*mcp.CallToolResult, *ListRetrievalToolsResponse, error) {
	response := &ListRetrievalToolsResponse{Tools: s.registry.Descriptors()}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// UpdateAlphaRequest carries the retriever's feedback signal.
type UpdateAlphaRequest struct {
	Correlation float64 `json:"correlation"` // in [-1, 1]
	Authority   float64 `json:"authority"`   // in [0, 1]
}

// UpdateAlphaResponse reports the coefficient after the update.
type UpdateAlphaResponse struct {
	Alpha float64 `json:"alpha"`
}

func (s *InterpretServer) handleUpdateAlpha(ctx context.Context, req *mcp.CallToolRequest, input UpdateAlphaRequest) (*mcp.CallToolResult, *UpdateAlphaResponse, error) {
	if input.Correlation < -1 || input.Correlation > 1 {
		return nil, nil, fmt.Errorf("correlation must be in [-1, 1], got %v", input.Correlation)
	}
	if input.Authority < 0 || input.Authority > 1 {
		return nil, nil, fmt.Errorf("authority must be in [0, 1], got %v", input.Authority)
	}
	s.retriever.UpdateAlpha(input.Correlation, input.Authority)
	response := &UpdateAlphaResponse{Alpha: s.retriever.Alpha()}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// RecordFeedbackRequest carries one RLCF feedback event.
type RecordFeedbackRequest struct {
	Expert     string  `json:"expert"`
	Relation   string  `json:"relation"`
	UserRating float64 `json:"user_rating"` // in [0, 1]
}

// RecordFeedbackResponse echoes the expert's updated weight table.
type RecordFeedbackResponse struct {
	Weights retrieval.TraversalWeights `json:"weights"`
}

func (s *InterpretServer) handleRecordFeedback(ctx context.Context, req *mcp.CallToolRequest, input RecordFeedbackRequest) (*mcp.CallToolResult, *RecordFeedbackResponse, error) {
	kind := types.ExpertType(input.Expert)
	handle, ok := s.experts[kind]
	if !ok {
		return nil, nil, fmt.Errorf("unknown expert %q", input.Expert)
	}
	if input.UserRating < 0 || input.UserRating > 1 {
		return nil, nil, fmt.Errorf("user_rating must be in [0, 1], got %v", input.UserRating)
	}
	if input.Relation == "" {
		return nil, nil, fmt.Errorf("relation must not be empty")
	}

	handle.RecordFeedback(input.Relation, input.UserRating)
	response := &RecordFeedbackResponse{Weights: handle.ApplyWeightUpdates()}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// ChunkInput is one pre-chunked unit of legal text to index.
type ChunkInput struct {
	ChunkID    string `json:"chunk_id,omitempty"` // minted when empty
	Text       string `json:"text"`
	SourceType string `json:"source_type"`
	ArticleURN string `json:"article_urn,omitempty"`
}

// IndexChunksRequest carries a batch of chunks.
type IndexChunksRequest struct {
	Chunks []ChunkInput `json:"chunks"`
}

// IndexChunksResponse reports the bulk-indexing outcome.
type IndexChunksResponse struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

func (s *InterpretServer) handleIndexChunks(ctx context.Context, req *mcp.CallToolRequest, input IndexChunksRequest) (*mcp.CallToolResult, *IndexChunksResponse, error) {
	if len(input.Chunks) == 0 {
		return nil, nil, fmt.Errorf("chunks must not be empty")
	}

	chunks := make([]types.Chunk, 0, len(input.Chunks))
	for _, c := range input.Chunks {
		if c.Text == "" {
			return nil, nil, fmt.Errorf("chunk text must not be empty")
		}
		id := c.ChunkID
		if id == "" {
			id = types.NewChunkID()
		}
		chunks = append(chunks, types.Chunk{
			ChunkID:    id,
			Text:       c.Text,
			SourceType: types.SourceType(c.SourceType),
			ArticleURN: c.ArticleURN,
		})
	}

	stats := s.indexer.IndexChunks(ctx, chunks)
	response := &IndexChunksResponse{Total: stats.Total, Succeeded: stats.Succeeded, Failed: stats.Failed}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

// AddBridgeMappingRequest records one chunk-to-node mapping.
type AddBridgeMappingRequest struct {
	ChunkID      string  `json:"chunk_id"`
	NodeURN      string  `json:"node_urn"`
	MappingType  string  `json:"mapping_type"` // PRIMARY or HIERARCHIC
	Confidence   float64 `json:"confidence"`
	RelationType string  `json:"relation_type,omitempty"`
}

// AddBridgeMappingResponse acknowledges the upsert.
type AddBridgeMappingResponse struct {
	Status string `json:"status"`
}

func (s *InterpretServer) handleAddBridgeMapping(ctx context.Context, req *mcp.CallToolRequest, input AddBridgeMappingRequest) (*mcp.CallToolResult, *AddBridgeMappingResponse, error) {
	if input.ChunkID == "" || input.NodeURN == "" {
		return nil, nil, fmt.Errorf("chunk_id and node_urn must not be empty")
	}
	mt := types.MappingType(input.MappingType)
	if mt != types.MappingPrimary && mt != types.MappingHierarchic {
		return nil, nil, fmt.Errorf("mapping_type must be PRIMARY or HIERARCHIC, got %q", input.MappingType)
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return nil, nil, fmt.Errorf("confidence must be in [0, 1], got %v", input.Confidence)
	}

	err := s.bridge.Upsert(ctx, types.BridgeMapping{
		ChunkID:      input.ChunkID,
		NodeURN:      input.NodeURN,
		MappingType:  mt,
		Confidence:   input.Confidence,
		RelationType: input.RelationType,
	})
	if err != nil {
		return nil, nil, err
	}
	response := &AddBridgeMappingResponse{Status: "ok"}
	return &mcp.CallToolResult{Content: toJSONContent(response)}, response, nil
}

func validExpert(kind types.ExpertType) bool {
	for _, k := range types.AllExpertTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// toJSONContent renders a response value as a single JSON text block.
func toJSONContent(data interface{}) []mcp.Content {
	jsonData, err := json.Marshal(data)
	if err != nil {
		errData := map[string]string{"error": err.Error()}
		jsonData, _ = json.Marshal(errData)
	}
	return []mcp.Content{
		&mcp.TextContent{Text: string(jsonData)},
	}
}
