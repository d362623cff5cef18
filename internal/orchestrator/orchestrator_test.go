package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"legalinterpret/internal/experts"
	"legalinterpret/internal/gating"
	"legalinterpret/internal/routing"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

// quickRegistry serves one canned chunk instantly.
func quickRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Tool{
		Name:       "semantic_search",
		Parameters: searchParams(),
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"results": []map[string]interface{}{
				{"chunk_id": "chunk-1", "text": "testo normativo", "source_type": "norma"},
			}, "total": 1}, nil
		},
	})
	return r
}

// hangingRegistry blocks on every search well past any test deadline, so
// the expert's task reliably outlives its timeout.
func hangingRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Tool{
		Name:       "semantic_search",
		Parameters: searchParams(),
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			time.Sleep(3 * time.Second)
			return nil, ctx.Err()
		},
	})
	return r
}

func searchParams() []tools.Parameter {
	return []tools.Parameter{
		{Name: "query", Type: tools.ParamString, Required: true},
		{Name: "top_k", Type: tools.ParamInteger, Default: 10},
		{Name: "source_types", Type: tools.ParamArray},
		{Name: "expert_type", Type: tools.ParamString},
	}
}

func buildOrchestrator(literalRegistry *tools.Registry) *Orchestrator {
	expertSet := make(map[types.ExpertType]*experts.Expert)
	for _, kind := range types.AllExpertTypes {
		registry := quickRegistry()
		if kind == types.ExpertLiteral && literalRegistry != nil {
			registry = literalRegistry
		}
		expertSet[kind] = experts.New(kind, experts.Config{}, registry, nil)
	}
	return New(routing.New(routing.Config{}), expertSet, gating.New(nil), nil, trace.New())
}

func TestTimeoutIsolation(t *testing.T) {
	o := buildOrchestrator(hangingRegistry())

	agg := o.Interpret(context.Background(), Input{
		QueryText:      "domanda generica senza pattern",
		TimeoutSeconds: 0.1,
		IncludeSearch:  true,
	})

	literal, ok := agg.ExpertContributions[types.ExpertLiteral]
	if !ok {
		t.Fatal("literal expert must still appear in the contributions")
	}
	if literal.Confidence != 0 {
		t.Errorf("timed-out expert confidence = %v, want 0", literal.Confidence)
	}
	if !strings.Contains(literal.Interpretation, "Timeout") {
		t.Errorf("timed-out interpretation = %q, want it to contain Timeout", literal.Interpretation)
	}

	// The other experts completed; aggregated confidence derives only from
	// them (all degraded to 0.3 without a language model).
	for _, kind := range []types.ExpertType{types.ExpertSystemic, types.ExpertPrinciples, types.ExpertPrecedent} {
		resp, ok := agg.ExpertContributions[kind]
		if !ok {
			t.Fatalf("%s missing from contributions", kind)
		}
		if resp.Confidence != 0.3 {
			t.Errorf("%s confidence = %v, want the 0.3 no-model fallback", kind, resp.Confidence)
		}
	}
	if agg.Confidence <= 0 {
		t.Error("aggregated confidence should derive from the surviving experts")
	}
}

func TestSequentialDispatch(t *testing.T) {
	o := buildOrchestrator(nil)
	agg := o.Interpret(context.Background(), Input{
		QueryText:     "domanda generica",
		Sequential:    true,
		IncludeSearch: true,
	})
	if len(agg.ExpertContributions) == 0 {
		t.Fatal("sequential dispatch should still produce contributions")
	}
}

func TestDeterministicAggregation(t *testing.T) {
	run := func() types.AggregatedResponse {
		o := buildOrchestrator(nil)
		return o.Interpret(context.Background(), Input{
			QueryText:         "Orientamento della Cassazione sulla fideiussione",
			AggregationMethod: types.AggregationWeightedAverage,
			IncludeSearch:     true,
		})
	}

	first := run()
	second := run()

	if first.Synthesis != second.Synthesis {
		t.Error("same frozen backend should yield identical synthesis")
	}
	if first.Confidence != second.Confidence {
		t.Errorf("confidence differs: %v vs %v", first.Confidence, second.Confidence)
	}
	if len(first.CombinedLegalBasis) != len(second.CombinedLegalBasis) {
		t.Fatal("combined basis length differs")
	}
	for i := range first.CombinedLegalBasis {
		if first.CombinedLegalBasis[i].SourceID != second.CombinedLegalBasis[i].SourceID {
			t.Errorf("basis order differs at %d", i)
		}
	}
}

func TestTraceSealedWithDocument(t *testing.T) {
	o := buildOrchestrator(nil)
	agg := o.Interpret(context.Background(), Input{QueryText: "domanda", IncludeSearch: true})

	doc, ok := o.Collector().Document(agg.TraceID)
	if !ok {
		t.Fatal("expected a sealed trace document")
	}
	if doc.Query != "domanda" {
		t.Errorf("trace query = %q", doc.Query)
	}
	if len(doc.ExpertResults) == 0 {
		t.Error("trace should carry expert results")
	}
	if doc.Aggregation.TraceID != agg.TraceID {
		t.Error("trace aggregation should match the emitted response")
	}
}

func TestConfigSnapshotRecorded(t *testing.T) {
	o := buildOrchestrator(nil)
	o.SetConfigSnapshot(trace.ConfigSnapshot{Hash: "abc123"})

	agg := o.Interpret(context.Background(), Input{QueryText: "domanda", IncludeSearch: true})
	doc, _ := o.Collector().Document(agg.TraceID)
	if doc.ConfigSnapshot == nil || doc.ConfigSnapshot.Hash != "abc123" {
		t.Errorf("config snapshot not pinned: %+v", doc.ConfigSnapshot)
	}
}

func TestRunSingleExpert(t *testing.T) {
	o := buildOrchestrator(nil)
	resp := o.RunSingleExpert(context.Background(), types.ExpertPrecedent, Input{QueryText: "cassazione"})
	if resp.ExpertType != types.ExpertPrecedent {
		t.Errorf("expert_type = %s", resp.ExpertType)
	}

	missing := o.RunSingleExpert(context.Background(), types.ExpertType("romanista"), Input{QueryText: "x"})
	if missing.Confidence != 0 {
		t.Error("unknown expert should yield a zero-confidence stub")
	}
}

func TestProcessWithRouting(t *testing.T) {
	o := buildOrchestrator(nil)
	agg, decision := o.ProcessWithRouting(context.Background(), Input{
		QueryText:     "Orientamento della Cassazione",
		IncludeSearch: true,
	})
	if decision.QueryType != types.QueryJurisprudential {
		t.Errorf("query_type = %s, want jurisprudential", decision.QueryType)
	}
	if agg.TraceID == "" {
		t.Error("aggregated response should carry a trace id")
	}
}

func TestBanditReceivesOutcomes(t *testing.T) {
	tr := routing.NewThompsonRouter(7)

	expertSet := make(map[types.ExpertType]*experts.Expert)
	for _, kind := range types.AllExpertTypes {
		expertSet[kind] = experts.New(kind, experts.Config{}, quickRegistry(), nil)
	}
	o := New(tr, expertSet, gating.New(nil), nil, trace.New())
	o.SetBandit(tr)

	_ = o.Interpret(context.Background(), Input{QueryText: "domanda", IncludeSearch: true})

	trials := 0
	for _, m := range tr.Metrics() {
		trials += m.TotalTrials
	}
	if trials == 0 {
		t.Error("bandit arms should record outcomes after aggregation")
	}
}

func TestCallerCancellation(t *testing.T) {
	o := buildOrchestrator(hangingRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	agg := o.Interpret(ctx, Input{QueryText: "domanda", TimeoutSeconds: 10, IncludeSearch: true})
	if time.Since(start) > 5*time.Second {
		t.Fatal("caller cancellation should end the dispatch promptly")
	}
	if agg.TraceID == "" {
		t.Error("cancelled dispatch still seals a trace with partial results")
	}
}
