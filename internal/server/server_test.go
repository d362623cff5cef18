package server

import (
	"context"
	"strings"
	"testing"

	"legalinterpret/internal/experts"
	"legalinterpret/internal/gating"
	"legalinterpret/internal/orchestrator"
	"legalinterpret/internal/retrieval"
	"legalinterpret/internal/routing"
	"legalinterpret/internal/stores"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

func fixtureServer(t *testing.T) *InterpretServer {
	t.Helper()

	graph := stores.NewInMemoryGraphStore()
	graph.AddNode(types.GraphNode{URN: "urn:norma:cc:1218", Type: "Norma", Properties: types.Metadata{"testo": "Il debitore..."}})

	registry := tools.NewRegistry()
	registry.Register(tools.Tool{
		Name:        "semantic_search",
		Description: "search",
		Parameters: []tools.Parameter{
			{Name: "query", Type: tools.ParamString, Required: true},
			{Name: "top_k", Type: tools.ParamInteger, Default: 10},
			{Name: "source_types", Type: tools.ParamArray},
			{Name: "expert_type", Type: tools.ParamString},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"results": []map[string]interface{}{
				{"chunk_id": "chunk-1", "text": "Il debitore che non esegue...", "source_type": "norma"},
			}, "total": 1}, nil
		},
	})

	retriever := retrieval.New(nil, graph, nil, retrieval.DefaultConfig())

	expertSet := make(map[types.ExpertType]*experts.Expert)
	handles := make(map[types.ExpertType]ExpertHandle)
	for _, kind := range types.AllExpertTypes {
		e := experts.New(kind, experts.Config{}, registry, nil)
		expertSet[kind] = e
		handles[kind] = e
	}

	orch := orchestrator.New(routing.New(routing.Config{}), expertSet, gating.New(nil), nil, trace.New())
	return New(orch, retriever, registry, handles, nil, nil)
}

func TestHandleInterpret(t *testing.T) {
	s := fixtureServer(t)

	result, resp, err := s.handleInterpret(context.Background(), nil, InterpretRequest{
		Query: "Cosa prevede l'art. 1218 c.c.?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.TraceID == "" {
		t.Error("response should carry a trace id")
	}
	if len(resp.Response.ExpertContributions) == 0 {
		t.Error("expected expert contributions")
	}
	if result == nil || len(result.Content) == 0 {
		t.Error("expected JSON content")
	}

	// The sealed trace must be fetchable through the get_trace surface.
	_, traceResp, err := s.handleGetTrace(context.Background(), nil, GetTraceRequest{TraceID: resp.TraceID})
	if err != nil {
		t.Fatal(err)
	}
	if traceResp.Trace.TraceID != resp.TraceID {
		t.Error("trace id mismatch")
	}
}

func TestHandleInterpretValidation(t *testing.T) {
	s := fixtureServer(t)
	if _, _, err := s.handleInterpret(context.Background(), nil, InterpretRequest{}); err == nil {
		t.Error("empty query should be rejected")
	}
}

func TestHandleInterpretWithRouting(t *testing.T) {
	s := fixtureServer(t)
	_, resp, err := s.handleInterpret(context.Background(), nil, InterpretRequest{
		Query:       "Orientamento della Cassazione",
		WithRouting: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Routing == nil || resp.Routing.QueryType != types.QueryJurisprudential {
		t.Errorf("routing = %+v", resp.Routing)
	}
}

func TestHandleRunSingleExpert(t *testing.T) {
	s := fixtureServer(t)

	_, resp, err := s.handleRunSingleExpert(context.Background(), nil, RunSingleExpertRequest{
		Expert: "precedent",
		Query:  "orientamento sulla fideiussione",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Response.ExpertType != types.ExpertPrecedent {
		t.Errorf("expert_type = %s", resp.Response.ExpertType)
	}

	if _, _, err := s.handleRunSingleExpert(context.Background(), nil, RunSingleExpertRequest{
		Expert: "romanista", Query: "x",
	}); err == nil || !strings.Contains(err.Error(), "romanista") {
		t.Errorf("unknown expert should fail naming it, got %v", err)
	}
}

func TestHandleUpdateAlpha(t *testing.T) {
	s := fixtureServer(t)

	_, resp, err := s.handleUpdateAlpha(context.Background(), nil, UpdateAlphaRequest{Correlation: 0.9, Authority: 1.0})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Alpha >= 0.70 {
		t.Errorf("alpha = %v, want a decrease from 0.70", resp.Alpha)
	}

	if _, _, err := s.handleUpdateAlpha(context.Background(), nil, UpdateAlphaRequest{Correlation: 2}); err == nil {
		t.Error("out-of-range correlation should be rejected")
	}
	if _, _, err := s.handleUpdateAlpha(context.Background(), nil, UpdateAlphaRequest{Authority: -1}); err == nil {
		t.Error("out-of-range authority should be rejected")
	}
}

func TestHandleRecordFeedback(t *testing.T) {
	s := fixtureServer(t)

	_, resp, err := s.handleRecordFeedback(context.Background(), nil, RecordFeedbackRequest{
		Expert: "literal", Relation: "cita", UserRating: 1.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Weights["cita"] <= 0.75 {
		t.Errorf("cita weight = %v, want an increase over the default 0.75", resp.Weights["cita"])
	}

	if _, _, err := s.handleRecordFeedback(context.Background(), nil, RecordFeedbackRequest{
		Expert: "literal", Relation: "cita", UserRating: 2,
	}); err == nil {
		t.Error("out-of-range rating should be rejected")
	}
	if _, _, err := s.handleRecordFeedback(context.Background(), nil, RecordFeedbackRequest{
		Expert: "ignoto", Relation: "cita", UserRating: 0.5,
	}); err == nil {
		t.Error("unknown expert should be rejected")
	}
}

func TestHandleListRetrievalTools(t *testing.T) {
	s := fixtureServer(t)
	_, resp, err := s.handleListRetrievalTools(context.Background(), nil, EmptyRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Tools) != 1 || resp.Tools[0].Name != "semantic_search" {
		t.Errorf("tools = %+v", resp.Tools)
	}
	if resp.Tools[0].InputSchema == nil {
		t.Error("descriptor should carry an input schema")
	}
}
