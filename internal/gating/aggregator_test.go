package gating

import (
	"context"
	"strings"
	"testing"

	"legalinterpret/internal/llm"
	"legalinterpret/internal/types"
)

func respWith(kind types.ExpertType, confidence float64, sourceIDs ...string) *types.ExpertResponse {
	basis := make([]types.LegalSource, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		basis = append(basis, types.LegalSource{SourceID: id, SourceType: types.SourceNorma, Citation: id})
	}
	return &types.ExpertResponse{
		ExpertType:     kind,
		Interpretation: "interpretazione " + string(kind),
		LegalBasis:     basis,
		ReasoningSteps: []string{"passo uno", "passo due"},
		Confidence:     confidence,
	}
}

func TestWeightedAverageConfidenceAndDedup(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{
		types.ExpertLiteral:   0.6,
		types.ExpertPrecedent: 0.4,
	}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:   respWith(types.ExpertLiteral, 0.8, "S1", "S2"),
		types.ExpertPrecedent: respWith(types.ExpertPrecedent, 0.6, "S2", "S3"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")

	want := 0.6*0.8 + 0.4*0.6
	if diff := agg.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", agg.Confidence, want)
	}

	seen := map[string]bool{}
	for _, s := range agg.CombinedLegalBasis {
		if seen[s.SourceID] {
			t.Errorf("duplicate source_id %q in combined basis", s.SourceID)
		}
		seen[s.SourceID] = true
	}
	if len(agg.CombinedLegalBasis) != 3 {
		t.Errorf("combined basis = %d entries, want 3", len(agg.CombinedLegalBasis))
	}

	// Reasoning steps carry the expert prefix, higher-weighted expert
	// first.
	if len(agg.CombinedReasoning) == 0 || !strings.HasPrefix(agg.CombinedReasoning[0], "[literal]") {
		t.Errorf("first reasoning step should come from the top-weighted expert, got %v", agg.CombinedReasoning)
	}
}

func TestConflictDetection(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{
		types.ExpertLiteral:   0.5,
		types.ExpertPrecedent: 0.5,
	}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:   respWith(types.ExpertLiteral, 0.9, "S1", "S2"),
		types.ExpertPrecedent: respWith(types.ExpertPrecedent, 0.4, "S3", "S4"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")

	var divergence, overlap bool
	for _, c := range agg.Conflicts {
		if strings.Contains(c, "significant divergence") {
			divergence = true
		}
		if strings.Contains(c, "poorly overlapping sources") {
			overlap = true
		}
	}
	if !divergence {
		t.Errorf("expected a significant-divergence conflict, got %v", agg.Conflicts)
	}
	if !overlap {
		t.Errorf("expected a poorly-overlapping-sources conflict, got %v", agg.Conflicts)
	}
}

func TestBestConfidence(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 0.5, types.ExpertSystemic: 0.5}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:  respWith(types.ExpertLiteral, 0.4, "S1"),
		types.ExpertSystemic: respWith(types.ExpertSystemic, 0.9, "S2"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationBestConfidence, weights, responses, "t1")

	if agg.Synthesis != "interpretazione systemic" {
		t.Errorf("best_confidence should emit the winner verbatim, got %q", agg.Synthesis)
	}
	if agg.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", agg.Confidence)
	}
}

func TestConsensus(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{
		types.ExpertLiteral:   0.4,
		types.ExpertSystemic:  0.3,
		types.ExpertPrecedent: 0.3,
	}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:   respWith(types.ExpertLiteral, 0.8, "S1", "S2"),
		types.ExpertSystemic:  respWith(types.ExpertSystemic, 0.7, "S1", "S3"),
		types.ExpertPrecedent: respWith(types.ExpertPrecedent, 0.6, "S4"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationConsensus, weights, responses, "t1")

	if len(agg.CombinedLegalBasis) != 1 || agg.CombinedLegalBasis[0].SourceID != "S1" {
		t.Fatalf("consensus basis should hold only S1, got %v", agg.CombinedLegalBasis)
	}
	// 1 consensus source over 4 distinct: min(1/4 + 0.3, 1.0) = 0.55.
	if diff := agg.Confidence - 0.55; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want 0.55", agg.Confidence)
	}
}

func TestConsensusWithNoSharedSources(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 0.5, types.ExpertSystemic: 0.5}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:  respWith(types.ExpertLiteral, 0.8, "S1"),
		types.ExpertSystemic: respWith(types.ExpertSystemic, 0.7, "S2"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationConsensus, weights, responses, "t1")
	// min(0/2 + 0.3, 1) = 0.3 when sources exist but none are shared.
	if diff := agg.Confidence - 0.3; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want 0.3", agg.Confidence)
	}
}

func TestEnsemble(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 0.5, types.ExpertSystemic: 0.5}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:  respWith(types.ExpertLiteral, 0.8, "S1"),
		types.ExpertSystemic: respWith(types.ExpertSystemic, 0.6, "S2"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationEnsemble, weights, responses, "t1")

	if !strings.Contains(agg.Synthesis, "=== literal ===") || !strings.Contains(agg.Synthesis, "=== systemic ===") {
		t.Errorf("ensemble synthesis should carry per-expert headings, got %q", agg.Synthesis)
	}
	if diff := agg.Confidence - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want mean 0.7", agg.Confidence)
	}
}

func TestAllExpertsFailed(t *testing.T) {
	a := New(nil)
	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, nil, nil, "t1")

	if agg.Synthesis != "No response to aggregate" {
		t.Errorf("synthesis = %q", agg.Synthesis)
	}
	if agg.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", agg.Confidence)
	}
	if len(agg.Conflicts) == 0 {
		t.Error("expected an explicit conflicts note")
	}
}

func TestReasoningCap(t *testing.T) {
	a := New(nil)
	long := respWith(types.ExpertLiteral, 0.8, "S1")
	long.ReasoningSteps = make([]string, 20)
	for i := range long.ReasoningSteps {
		long.ReasoningSteps[i] = "passo"
	}
	responses := map[types.ExpertType]*types.ExpertResponse{types.ExpertLiteral: long}
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 1}

	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")
	if len(agg.CombinedReasoning) > types.MaxCombinedReasoning {
		t.Errorf("reasoning = %d steps, cap is %d", len(agg.CombinedReasoning), types.MaxCombinedReasoning)
	}
}

func TestLegalBasisCap(t *testing.T) {
	a := New(nil)
	ids := make([]string, 14)
	for i := range ids {
		ids[i] = string(rune('A' + i))
	}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral: respWith(types.ExpertLiteral, 0.8, ids...),
	}
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 1}

	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")
	if len(agg.CombinedLegalBasis) > types.MaxCombinedLegalBasis {
		t.Errorf("basis = %d entries, cap is %d", len(agg.CombinedLegalBasis), types.MaxCombinedLegalBasis)
	}
}

func TestSynthesisUsesLanguageModelWhenPresent(t *testing.T) {
	client := llm.NewMockClient("Sintesi integrata delle prospettive.")
	a := New(client)
	weights := map[types.ExpertType]float64{types.ExpertLiteral: 1}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral: respWith(types.ExpertLiteral, 0.8, "S1"),
	}

	agg := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")
	if agg.Synthesis != "Sintesi integrata delle prospettive." {
		t.Errorf("synthesis = %q, want the model's output", agg.Synthesis)
	}

	calls := client.Calls()
	if len(calls) != 1 || !strings.Contains(calls[0].Prompt, "interpretazione literal") {
		t.Error("synthesis prompt should summarize the expert interpretations")
	}
}

func TestDeterministicOrdering(t *testing.T) {
	a := New(nil)
	weights := map[types.ExpertType]float64{
		types.ExpertLiteral:   0.7,
		types.ExpertPrecedent: 0.3,
	}
	responses := map[types.ExpertType]*types.ExpertResponse{
		types.ExpertLiteral:   respWith(types.ExpertLiteral, 0.8, "S1"),
		types.ExpertPrecedent: respWith(types.ExpertPrecedent, 0.6, "S2"),
	}

	first := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")
	second := a.Aggregate(context.Background(), types.AggregationWeightedAverage, weights, responses, "t1")

	if first.Synthesis != second.Synthesis {
		t.Error("same inputs should aggregate identically")
	}
	if len(first.CombinedLegalBasis) != len(second.CombinedLegalBasis) {
		t.Fatal("combined basis length differs between runs")
	}
	for i := range first.CombinedLegalBasis {
		if first.CombinedLegalBasis[i].SourceID != second.CombinedLegalBasis[i].SourceID {
			t.Errorf("basis order differs at %d", i)
		}
	}
}
