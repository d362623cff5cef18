// Package gating combines expert responses into one aggregated answer
// under one of four aggregation methods.
package gating

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"legalinterpret/internal/llm"
	"legalinterpret/internal/types"
)

const (
	significantDivergenceThreshold = 0.4
	poorOverlapThreshold           = 0.2
	noResponseSynthesis            = "No response to aggregate"
)

// Aggregator merges ExpertResponses into one AggregatedResponse.
type Aggregator struct {
	client llm.Client // nil means template-based synthesis only
}

// New constructs an Aggregator; client may be nil.
func New(client llm.Client) *Aggregator {
	return &Aggregator{client: client}
}

// Aggregate dispatches to the named method, defaulting to
// weighted_average.
func (a *Aggregator) Aggregate(ctx context.Context, method types.AggregationMethod, weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse, traceID string) types.AggregatedResponse {
	if len(responses) == 0 {
		return types.AggregatedResponse{
			Synthesis:           noResponseSynthesis,
			ExpertContributions: responses,
			Confidence:          0,
			ConfidenceBreakdown: types.ConfidenceBreakdown{},
			Conflicts:           []string{"all experts failed"},
			AggregationMethod:   method,
			TraceID:             traceID,
		}
	}

	switch method {
	case types.AggregationBestConfidence:
		return a.bestConfidence(responses, traceID)
	case types.AggregationConsensus:
		return a.consensus(weights, responses, traceID)
	case types.AggregationEnsemble:
		return a.ensemble(ctx, weights, responses, traceID)
	default:
		return a.weightedAverage(ctx, weights, responses, traceID)
	}
}

func orderedExperts(weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse) []types.ExpertType {
	kinds := make([]types.ExpertType, 0, len(responses))
	for k := range responses {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return weights[kinds[i]] > weights[kinds[j]] })
	return kinds
}

func (a *Aggregator) weightedAverage(ctx context.Context, weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse, traceID string) types.AggregatedResponse {
	order := orderedExperts(weights, responses)

	combinedBasis := dedupeLegalBasis(order, responses, types.MaxCombinedLegalBasis)
	combinedReasoning := combinedReasoningSteps(order, responses, types.MaxCombinedReasoning)

	confidence := 0.0
	breakdown := types.ConfidenceBreakdown{}
	for _, k := range order {
		r := responses[k]
		confidence += weights[k] * r.Confidence
		breakdown[k] = r.Confidence
	}

	conflicts := detectConflicts(responses)
	synthesis := a.synthesize(ctx, order, weights, responses, conflicts)

	return types.AggregatedResponse{
		Synthesis:           synthesis,
		ExpertContributions: responses,
		CombinedLegalBasis:  combinedBasis,
		CombinedReasoning:   combinedReasoning,
		Confidence:          confidence,
		ConfidenceBreakdown: breakdown,
		Conflicts:           conflicts,
		AggregationMethod:   types.AggregationWeightedAverage,
		TraceID:             traceID,
	}
}

func (a *Aggregator) bestConfidence(responses map[types.ExpertType]*types.ExpertResponse, traceID string) types.AggregatedResponse {
	var bestKind types.ExpertType
	var best *types.ExpertResponse
	for k, r := range responses {
		if best == nil || r.Confidence > best.Confidence {
			best, bestKind = r, k
		}
	}
	return types.AggregatedResponse{
		Synthesis:           best.Interpretation,
		ExpertContributions: responses,
		CombinedLegalBasis:  dedupeSources(best.LegalBasis, types.MaxCombinedLegalBasis),
		CombinedReasoning:   prefixSteps(bestKind, best.ReasoningSteps),
		Confidence:          best.Confidence,
		ConfidenceBreakdown: types.ConfidenceBreakdown{bestKind: best.Confidence},
		Conflicts:           detectConflicts(responses),
		AggregationMethod:   types.AggregationBestConfidence,
		TraceID:             traceID,
	}
}

func (a *Aggregator) consensus(weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse, traceID string) types.AggregatedResponse {
	citingCount := make(map[string]int)
	distinct := make(map[string]bool)
	for _, r := range responses {
		for _, s := range r.LegalBasis {
			citingCount[s.SourceID]++
			distinct[s.SourceID] = true
		}
	}

	var consensusBasis []types.LegalSource
	consensusCount := 0
	seen := make(map[string]bool)
	order := orderedExperts(weights, responses)
	for _, k := range order {
		for _, s := range responses[k].LegalBasis {
			if citingCount[s.SourceID] >= 2 && !seen[s.SourceID] {
				seen[s.SourceID] = true
				consensusBasis = append(consensusBasis, s)
				consensusCount++
			}
		}
	}
	if len(consensusBasis) > types.MaxCombinedLegalBasis {
		consensusBasis = consensusBasis[:types.MaxCombinedLegalBasis]
	}

	confidence := 0.4
	if len(distinct) > 0 {
		confidence = math.Min(float64(consensusCount)/float64(len(distinct))+0.3, 1.0)
	}

	synthesis := noResponseSynthesis
	if len(consensusBasis) > 0 {
		synthesis = fmt.Sprintf("Fonti confermate da almeno due esperti: %d su %d fonti totali.", consensusCount, len(distinct))
	}

	breakdown := types.ConfidenceBreakdown{}
	for _, k := range order {
		breakdown[k] = responses[k].Confidence
	}

	return types.AggregatedResponse{
		Synthesis:           synthesis,
		ExpertContributions: responses,
		CombinedLegalBasis:  consensusBasis,
		CombinedReasoning:   combinedReasoningSteps(order, responses, types.MaxCombinedReasoning),
		Confidence:          confidence,
		ConfidenceBreakdown: breakdown,
		Conflicts:           detectConflicts(responses),
		AggregationMethod:   types.AggregationConsensus,
		TraceID:             traceID,
	}
}

func (a *Aggregator) ensemble(ctx context.Context, weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse, traceID string) types.AggregatedResponse {
	order := orderedExperts(weights, responses)

	var sb strings.Builder
	sum := 0.0
	breakdown := types.ConfidenceBreakdown{}
	for _, k := range order {
		r := responses[k]
		sb.WriteString(fmt.Sprintf("=== %s ===\n%s\n\n", k, r.Interpretation))
		sum += r.Confidence
		breakdown[k] = r.Confidence
	}

	const ensembleCap = 15
	combinedBasis := dedupeLegalBasis(order, responses, ensembleCap)

	return types.AggregatedResponse{
		Synthesis:           sb.String(),
		ExpertContributions: responses,
		CombinedLegalBasis:  combinedBasis,
		CombinedReasoning:   combinedReasoningSteps(order, responses, types.MaxCombinedReasoning),
		Confidence:          sum / float64(len(order)),
		ConfidenceBreakdown: breakdown,
		Conflicts:           detectConflicts(responses),
		AggregationMethod:   types.AggregationEnsemble,
		TraceID:             traceID,
	}
}

func dedupeLegalBasis(order []types.ExpertType, responses map[types.ExpertType]*types.ExpertResponse, limit int) []types.LegalSource {
	seen := make(map[string]bool)
	var out []types.LegalSource
	for _, k := range order {
		for _, s := range responses[k].LegalBasis {
			if seen[s.SourceID] {
				continue
			}
			seen[s.SourceID] = true
			out = append(out, s)
			if len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func dedupeSources(sources []types.LegalSource, limit int) []types.LegalSource {
	seen := make(map[string]bool)
	var out []types.LegalSource
	for _, s := range sources {
		if seen[s.SourceID] {
			continue
		}
		seen[s.SourceID] = true
		out = append(out, s)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func combinedReasoningSteps(order []types.ExpertType, responses map[types.ExpertType]*types.ExpertResponse, limit int) []string {
	var out []string
	for _, k := range order {
		out = append(out, prefixSteps(k, responses[k].ReasoningSteps)...)
		if len(out) >= limit {
			break
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func prefixSteps(kind types.ExpertType, steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		out = append(out, fmt.Sprintf("[%s] %s", kind, s))
	}
	return out
}

// detectConflicts flags significant
// divergence in confidence, and poorly overlapping cited sources.
func detectConflicts(responses map[types.ExpertType]*types.ExpertResponse) []string {
	var conflicts []string

	var maxKind, minKind types.ExpertType
	maxConf, minConf := -1.0, 2.0
	for k, r := range responses {
		if r.Confidence > maxConf {
			maxConf, maxKind = r.Confidence, k
		}
		if r.Confidence < minConf {
			minConf, minKind = r.Confidence, k
		}
	}
	if maxConf-minConf > significantDivergenceThreshold {
		conflicts = append(conflicts, fmt.Sprintf("significant divergence between %s (%.2f) and %s (%.2f)", maxKind, maxConf, minKind, minConf))
	}

	union := make(map[string]bool)
	intersectionCandidates := make(map[string]int)
	anyEmpty := false
	for _, r := range responses {
		if len(r.LegalBasis) == 0 {
			anyEmpty = true
		}
		local := make(map[string]bool)
		for _, s := range r.LegalBasis {
			union[s.SourceID] = true
			local[s.SourceID] = true
		}
		for id := range local {
			intersectionCandidates[id]++
		}
	}
	if !anyEmpty && len(union) > 0 {
		intersection := 0
		for _, count := range intersectionCandidates {
			if count == len(responses) {
				intersection++
			}
		}
		if float64(intersection)/float64(len(union)) < poorOverlapThreshold {
			conflicts = append(conflicts, "poorly overlapping sources")
		}
	}

	return conflicts
}

// synthesize produces the combined answer: a language-model call when
// available, otherwise a deterministic template.
func (a *Aggregator) synthesize(ctx context.Context, order []types.ExpertType, weights map[types.ExpertType]float64, responses map[types.ExpertType]*types.ExpertResponse, conflicts []string) string {
	if a.client == nil {
		return templateSynthesis(order, responses, conflicts)
	}

	var sb strings.Builder
	sb.WriteString("Sintetizza in italiano le seguenti interpretazioni giuridiche, integrando le prospettive, evidenziando eventuali divergenze e citando le fonti piu' rilevanti.\n\n")
	for _, k := range order {
		r := responses[k]
		sb.WriteString(fmt.Sprintf("[%s] peso=%.2f confidenza=%.2f\n%s\nCitazioni principali: %s\n\n", k, weights[k], r.Confidence, r.Interpretation, topCitations(r.LegalBasis, 3)))
	}

	resp, err := a.client.Generate(ctx, llm.Request{Prompt: sb.String(), ResponseFormat: ""})
	if err != nil {
		return templateSynthesis(order, responses, conflicts)
	}
	return llm.StripCodeFence(resp.Content)
}

func topCitations(sources []types.LegalSource, n int) string {
	if len(sources) < n {
		n = len(sources)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, sources[i].Citation)
	}
	return strings.Join(parts, "; ")
}

func templateSynthesis(order []types.ExpertType, responses map[types.ExpertType]*types.ExpertResponse, conflicts []string) string {
	var sb strings.Builder
	for _, k := range order {
		sb.WriteString(fmt.Sprintf("%s: %s\n", k, responses[k].Interpretation))
	}
	if len(conflicts) > 0 {
		sb.WriteString("Divergenze rilevate: " + strings.Join(conflicts, "; ") + "\n")
	}
	return sb.String()
}
