// Package orchestrator implements the end-to-end query executor wiring
// router, experts and gating together: route, fan out under per-expert
// deadlines, aggregate, trace.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"legalinterpret/internal/experts"
	"legalinterpret/internal/gating"
	"legalinterpret/internal/llm"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

const (
	defaultTimeoutSeconds = 30.0

	// banditSuccessThreshold is the confidence at or above which a
	// dispatched expert's response counts as a success for the optional
	// Thompson-Sampling arm update.
	banditSuccessThreshold = 0.5
)

// Input is the interpret entry point's parameter bundle.
type Input struct {
	QueryText         string
	MaxExperts        int
	AggregationMethod types.AggregationMethod
	TimeoutSeconds    float64
	// IncludeSearch lets experts run their own retrieval; when false they
	// work only from PreRetrievedChunks. Callers building an Input by hand
	// must set it explicitly (the MCP surface defaults it to true).
	IncludeSearch     bool
	HintEntities      types.Entities
	PreRetrievedChunks []types.RetrievalResult
	Sequential        bool
	Baseline          bool
}

// Router produces a RoutingDecision for a query; satisfied by both the
// deterministic routing.Router and the opt-in routing.ThompsonRouter.
type Router interface {
	Route(query string, entities types.Entities) types.RoutingDecision
}

// BanditFeedback receives per-expert outcomes after aggregation, feeding
// the Thompson-Sampling selection posterior when that strategy is in use.
type BanditFeedback interface {
	RecordOutcome(kind types.ExpertType, success bool) error
}

// Orchestrator owns dispatch; it holds read-only references to its
// collaborators for the lifetime of the process. None of them owns the
// Orchestrator back.
type Orchestrator struct {
	router     Router
	experts    map[types.ExpertType]*experts.Expert
	aggregator *gating.Aggregator
	client     llm.Client // for optional baseline comparison; may be nil
	collector  *trace.Collector

	bandit         BanditFeedback        // optional
	configSnapshot *trace.ConfigSnapshot // optional, recorded per query
}

// New constructs an Orchestrator over the given experts (keyed by kind).
// A nil collector is replaced with a fresh one so tracing never needs a
// nil check on the hot path.
func New(router Router, expertSet map[types.ExpertType]*experts.Expert, aggregator *gating.Aggregator, client llm.Client, collector *trace.Collector) *Orchestrator {
	if collector == nil {
		collector = trace.New()
	}
	for _, e := range expertSet {
		e.SetCollector(collector)
	}
	return &Orchestrator{router: router, experts: expertSet, aggregator: aggregator, client: client, collector: collector}
}

// SetBandit attaches the optional Thompson-Sampling feedback sink: after
// each aggregation, every dispatched expert's outcome (confidence at or
// above banditSuccessThreshold counts as success) updates its arm.
func (o *Orchestrator) SetBandit(b BanditFeedback) { o.bandit = b }

// SetConfigSnapshot pins the configuration snapshot recorded into every
// subsequent query's trace document.
func (o *Orchestrator) SetConfigSnapshot(snap trace.ConfigSnapshot) { o.configSnapshot = &snap }

// Collector exposes the trace sink, letting callers fetch the sealed
// document for a completed query.
func (o *Orchestrator) Collector() *trace.Collector { return o.collector }

// Interpret runs the full pipeline for one query: route, dispatch,
// aggregate, seal the trace.
func (o *Orchestrator) Interpret(ctx context.Context, in Input) types.AggregatedResponse {
	start := time.Now()
	traceID := types.NewTraceID(start)
	o.collector.Begin(traceID, in.QueryText)
	defer o.collector.Seal(traceID)

	if o.configSnapshot != nil {
		o.collector.RecordConfigSnapshot(traceID, *o.configSnapshot)
	}

	routingDecision := o.router.Route(in.QueryText, in.HintEntities)
	o.collector.RecordRouting(traceID, routingDecision)

	selected := selectedExperts(routingDecision, in.MaxExperts)

	if len(in.PreRetrievedChunks) > 0 {
		o.recordPreRetrieved(traceID, in)
	}

	ec := types.ExpertContext{
		QueryText:       in.QueryText,
		Entities:        in.HintEntities,
		RetrievedChunks: in.PreRetrievedChunks,
		TraceID:         traceID,
	}
	if !in.IncludeSearch {
		ec.Metadata = types.Metadata{"include_search": false}
	}

	timeout := in.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds
	}

	var responses map[types.ExpertType]*types.ExpertResponse
	if in.Sequential {
		responses = o.dispatchSequential(ctx, ec, selected, timeout, traceID)
	} else {
		responses = o.dispatchParallel(ctx, ec, selected, timeout, traceID)
	}

	method := in.AggregationMethod
	if method == "" {
		method = types.AggregationWeightedAverage
	}
	aggregated := o.aggregator.Aggregate(ctx, method, selected, responses, traceID)
	aggregated.ExecutionTimeMs = time.Since(start).Milliseconds()
	o.collector.RecordAggregation(traceID, aggregated)

	if in.Baseline && o.client != nil {
		o.runBaseline(ctx, traceID, in.QueryText)
	}

	if o.bandit != nil {
		for kind, resp := range responses {
			if err := o.bandit.RecordOutcome(kind, resp.Confidence >= banditSuccessThreshold); err != nil {
				log.Printf("[WARN] bandit outcome for %s not recorded: %v", kind, err)
			}
		}
	}

	return aggregated
}

// recordPreRetrieved folds caller-supplied chunks into the trace's
// grounding set so citations of pre-retrieved material validate like any
// retrieved source.
func (o *Orchestrator) recordPreRetrieved(traceID string, in Input) {
	ids := make([]string, 0, len(in.PreRetrievedChunks))
	for _, r := range in.PreRetrievedChunks {
		ids = append(ids, r.ChunkID)
		ids = append(ids, r.LinkedNodes...)
	}
	o.collector.RecordRetrievalStep(traceID, trace.RetrievalStepRecord{
		Query:     in.QueryText,
		Results:   len(in.PreRetrievedChunks),
		Timestamp: time.Now(),
		ChunkIDs:  ids,
	})
}

// ProcessWithRouting is a convenience entry point that also returns the
// RoutingDecision for callers that want to inspect routing without
// re-querying.
func (o *Orchestrator) ProcessWithRouting(ctx context.Context, in Input) (types.AggregatedResponse, types.RoutingDecision) {
	decision := o.router.Route(in.QueryText, in.HintEntities)
	return o.Interpret(ctx, in), decision
}

// RunSingleExpert bypasses routing entirely to run one named expert at
// full weight, for operators debugging a single canon.
func (o *Orchestrator) RunSingleExpert(ctx context.Context, kind types.ExpertType, in Input) types.ExpertResponse {
	e, ok := o.experts[kind]
	if !ok {
		return types.ExpertResponse{ExpertType: kind, Confidence: 0, Interpretation: fmt.Sprintf("expert %s not configured", kind)}
	}
	traceID := types.NewTraceID(time.Now())
	ec := types.ExpertContext{QueryText: in.QueryText, Entities: in.HintEntities, RetrievedChunks: in.PreRetrievedChunks, TraceID: traceID}
	return e.Analyze(ctx, ec)
}

func selectedExperts(decision types.RoutingDecision, maxExperts int) map[types.ExpertType]float64 {
	if len(decision.ExpertWeights) == 0 {
		equal := 1.0 / float64(len(types.AllExpertTypes))
		out := make(map[types.ExpertType]float64, len(types.AllExpertTypes))
		for _, k := range types.AllExpertTypes {
			out[k] = equal
		}
		return out
	}
	if maxExperts <= 0 || len(decision.ExpertWeights) <= maxExperts {
		return decision.ExpertWeights
	}

	type pair struct {
		kind   types.ExpertType
		weight float64
	}
	pairs := make([]pair, 0, len(decision.ExpertWeights))
	for k, v := range decision.ExpertWeights {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].weight > pairs[j].weight })

	out := make(map[types.ExpertType]float64, maxExperts)
	for i := 0; i < maxExperts && i < len(pairs); i++ {
		out[pairs[i].kind] = pairs[i].weight
	}
	return out
}

// dispatchParallel runs every selected expert concurrently under its own
// timeout deadline; a timeout or panic never aborts the whole query.
func (o *Orchestrator) dispatchParallel(ctx context.Context, ec types.ExpertContext, selected map[types.ExpertType]float64, timeoutSeconds float64, traceID string) map[types.ExpertType]*types.ExpertResponse {
	var wg sync.WaitGroup
	var mu sync.Mutex
	responses := make(map[types.ExpertType]*types.ExpertResponse, len(selected))

	for kind := range selected {
		e, ok := o.experts[kind]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(kind types.ExpertType, e *experts.Expert) {
			defer wg.Done()
			resp := o.runExpertWithDeadline(ctx, e, ec, timeoutSeconds, traceID)
			mu.Lock()
			responses[kind] = &resp
			mu.Unlock()
		}(kind, e)
	}
	wg.Wait()
	return responses
}

// dispatchSequential runs the selected experts one at a time with the
// same per-expert deadline, in descending-weight order.
func (o *Orchestrator) dispatchSequential(ctx context.Context, ec types.ExpertContext, selected map[types.ExpertType]float64, timeoutSeconds float64, traceID string) map[types.ExpertType]*types.ExpertResponse {
	type pair struct {
		kind   types.ExpertType
		weight float64
	}
	pairs := make([]pair, 0, len(selected))
	for k, v := range selected {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].weight > pairs[j].weight })

	responses := make(map[types.ExpertType]*types.ExpertResponse, len(selected))
	for _, p := range pairs {
		e, ok := o.experts[p.kind]
		if !ok {
			continue
		}
		resp := o.runExpertWithDeadline(ctx, e, ec, timeoutSeconds, traceID)
		responses[p.kind] = &resp
	}
	return responses
}

// runExpertWithDeadline runs one expert under a hard deadline. On expiry
// it returns a stub response rather than propagating the cancellation to
// the caller.
func (o *Orchestrator) runExpertWithDeadline(ctx context.Context, e *experts.Expert, ec types.ExpertContext, timeoutSeconds float64, traceID string) types.ExpertResponse {
	deadline := time.Duration(timeoutSeconds * float64(time.Second))
	childCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	resultCh := make(chan types.ExpertResponse, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- types.ExpertResponse{
					ExpertType:      e.Kind(),
					Interpretation:  fmt.Sprintf("expert panicked: %v", r),
					Confidence:      0,
					Limitations:     "expert exception",
					TraceID:         traceID,
					ExecutionTimeMs: time.Since(start).Milliseconds(),
				}
				return
			}
		}()
		resultCh <- e.Analyze(childCtx, ec)
	}()

	select {
	case resp := <-resultCh:
		o.collector.RecordExpertResult(traceID, resp)
		return resp
	case <-childCtx.Done():
		resp := types.ExpertResponse{
			ExpertType:      e.Kind(),
			Interpretation:  "Timeout",
			Confidence:      0,
			Limitations:     fmt.Sprintf("expert exceeded %.1fs deadline", timeoutSeconds),
			TraceID:         traceID,
			ExecutionTimeMs: time.Since(start).Milliseconds(),
		}
		o.collector.RecordExpertResult(traceID, resp)
		return resp
	}
}

// runBaseline issues the optional diagnostic no-retrieval call; it
// shares no state with the main pipeline.
func (o *Orchestrator) runBaseline(ctx context.Context, traceID, query string) {
	start := time.Now()
	resp, err := o.client.Generate(ctx, llm.Request{Prompt: query})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		o.collector.RecordBaseline(traceID, trace.BaselineRecord{Response: fmt.Sprintf("baseline call failed: %v", err), LatencyMs: latency})
		return
	}
	o.collector.RecordBaseline(traceID, trace.BaselineRecord{Response: resp.Content, LatencyMs: latency})
}
