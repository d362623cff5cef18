// Package trace implements the trace collector: an append-only,
// per-query structured log materialised into one JSON-serialisable
// document per query.
package trace

import (
	"sync"
	"time"

	"legalinterpret/internal/types"
	"legalinterpret/internal/validation"
)

// RetrievalStepRecord is one hybrid-retrieval invocation.
type RetrievalStepRecord struct {
	Expert    types.ExpertType `json:"expert"`
	Query     string           `json:"query"`
	Results   int              `json:"results"`
	LatencyMs int64            `json:"latency_ms"`
	Timestamp time.Time        `json:"timestamp"`
	ChunkIDs  []string         `json:"-"` // feeds source_validation, not serialized verbatim
}

// LLMCallRecord is one language-model completion call.
type LLMCallRecord struct {
	Expert    types.ExpertType `json:"expert"`
	Prompt    string           `json:"prompt"`
	Response  string           `json:"response"`
	Tokens    int              `json:"tokens"`
	LatencyMs int64            `json:"latency_ms"`
	Timestamp time.Time        `json:"timestamp"`
}

// ToolCallRecord is one tool invocation.
type ToolCallRecord struct {
	Expert      types.ExpertType `json:"expert"`
	Tool        string           `json:"tool"`
	Params      map[string]interface{} `json:"params"`
	ResultCount int              `json:"result_count"`
	LatencyMs   int64            `json:"latency_ms"`
	Timestamp   time.Time        `json:"timestamp"`
	URNs        []string         `json:"-"`
}

// BaselineRecord is the optional diagnostic no-retrieval comparison.
type BaselineRecord struct {
	Response     string   `json:"response"`
	LatencyMs    int64    `json:"latency_ms"`
	SourcesCited []string `json:"sources_cited,omitempty"`
}

// ConfigSnapshot pins the configuration a query ran under.
type ConfigSnapshot struct {
	Hash      string                 `json:"hash"`
	Configs   map[string]interface{} `json:"configs,omitempty"`
	Overrides map[string]interface{} `json:"overrides,omitempty"`
}

// Document is the materialised per-query trace.
type Document struct {
	TraceID          string                                  `json:"trace_id"`
	Query            string                                  `json:"query"`
	Timestamp        time.Time                               `json:"timestamp"`
	TotalLatencyMs   int64                                   `json:"total_latency_ms"`
	Routing          types.RoutingDecision                   `json:"routing"`
	RetrievalSteps   []RetrievalStepRecord                   `json:"retrieval_steps"`
	LLMCalls         []LLMCallRecord                         `json:"llm_calls"`
	ToolCalls        []ToolCallRecord                        `json:"tool_calls"`
	ExpertResults    map[types.ExpertType]types.ExpertResponse `json:"expert_results"`
	Aggregation      types.AggregatedResponse               `json:"aggregation"`
	Baseline         *BaselineRecord                        `json:"baseline,omitempty"`
	SourceValidation validation.Report                      `json:"source_validation"`
	ConfigSnapshot   *ConfigSnapshot                        `json:"config_snapshot,omitempty"`
}

// query is the live, mutable accumulator for one in-flight query. The
// collector is a single writer per query: callers must not share a
// traceID across concurrent queries.
type query struct {
	start          time.Time
	queryText      string
	routing        types.RoutingDecision
	retrievalSteps []RetrievalStepRecord
	llmCalls       []LLMCallRecord
	toolCalls      []ToolCallRecord
	expertResults  map[types.ExpertType]types.ExpertResponse
	aggregation    types.AggregatedResponse
	baseline       *BaselineRecord
	configSnapshot *ConfigSnapshot
	groundedIDs    map[string]bool
	sealed         bool
}

// Collector holds the live state for every in-flight query plus every
// materialised document. Records append only; queries never alias.
type Collector struct {
	mu        sync.Mutex
	live      map[string]*query
	documents map[string]Document
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{live: make(map[string]*query), documents: make(map[string]Document)}
}

// Begin opens a new per-query accumulator.
func (c *Collector) Begin(traceID, queryText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live[traceID] = &query{
		start:         time.Now(),
		queryText:     queryText,
		expertResults: make(map[types.ExpertType]types.ExpertResponse),
		groundedIDs:   make(map[string]bool),
	}
}

func (c *Collector) get(traceID string) *query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[traceID]
}

// RecordRouting appends the Router's decision.
func (c *Collector) RecordRouting(traceID string, decision types.RoutingDecision) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	q.routing = decision
}

// RecordRetrievalStep appends one hybrid-retrieval invocation and folds
// its chunk ids into the grounding set.
func (c *Collector) RecordRetrievalStep(traceID string, rec RetrievalStepRecord) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.retrievalSteps = append(q.retrievalSteps, rec)
	for _, id := range rec.ChunkIDs {
		q.groundedIDs[id] = true
	}
}

// RecordLLMCall appends one language-model completion call.
func (c *Collector) RecordLLMCall(traceID string, rec LLMCallRecord) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.llmCalls = append(q.llmCalls, rec)
}

// RecordToolCall appends one tool invocation and folds its urns into the
// grounding set.
func (c *Collector) RecordToolCall(traceID string, rec ToolCallRecord) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.toolCalls = append(q.toolCalls, rec)
	for _, u := range rec.URNs {
		q.groundedIDs[u] = true
	}
}

// RecordExpertResult appends one expert's outcome. Cited sources are NOT
// folded into the grounding set: source validation compares citations
// against what retrieval actually returned, so counting an expert's own
// citations as evidence would make every citation trivially grounded.
func (c *Collector) RecordExpertResult(traceID string, resp types.ExpertResponse) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.expertResults[resp.ExpertType] = resp
}

// RecordAggregation stores the Gating stage's combined output.
func (c *Collector) RecordAggregation(traceID string, agg types.AggregatedResponse) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.aggregation = agg
}

// RecordBaseline stores the optional diagnostic no-retrieval comparison.
func (c *Collector) RecordBaseline(traceID string, rec BaselineRecord) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.baseline = &rec
}

// RecordConfigSnapshot pins the configuration in effect for this query.
func (c *Collector) RecordConfigSnapshot(traceID string, snap ConfigSnapshot) {
	q := c.get(traceID)
	if q == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	q.configSnapshot = &snap
}

// Seal materialises the query's accumulated records into a Document and
// retires the live accumulator.
func (c *Collector) Seal(traceID string) {
	c.mu.Lock()
	q, ok := c.live[traceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.live, traceID)
	c.mu.Unlock()

	sourceValidation := validation.CheckGrounding(q.aggregation.CombinedLegalBasis, q.groundedIDs)

	doc := Document{
		TraceID:          traceID,
		Query:            q.queryText,
		Timestamp:        q.start,
		TotalLatencyMs:   time.Since(q.start).Milliseconds(),
		Routing:          q.routing,
		RetrievalSteps:   q.retrievalSteps,
		LLMCalls:         q.llmCalls,
		ToolCalls:        q.toolCalls,
		ExpertResults:    q.expertResults,
		Aggregation:      q.aggregation,
		Baseline:         q.baseline,
		SourceValidation: sourceValidation,
		ConfigSnapshot:   q.configSnapshot,
	}

	c.mu.Lock()
	c.documents[traceID] = doc
	c.mu.Unlock()
}

// Document returns the materialised trace for a completed query.
func (c *Collector) Document(traceID string) (Document, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.documents[traceID]
	return doc, ok
}
