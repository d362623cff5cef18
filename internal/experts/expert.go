// Package experts implements the four interpretive canons — literal,
// systemic, principles, precedent — sharing one Analyze contract. The
// four behaviours are data (prompt, weights, tool inventory, mode flag),
// not subclasses.
package experts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"legalinterpret/internal/llm"
	"legalinterpret/internal/react"
	"legalinterpret/internal/retrieval"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/trace"
	"legalinterpret/internal/types"
)

const (
	degradedConfidence    = 0.3
	degradedParseMarker   = "failed to parse structured response"
	degradedNoLLMMarker   = "no language-model service configured"
	maxParseRetries       = 3
	backoffBaseSeconds    = 0.5
	weightUpdateLearnRate = 0.1
	weightMin             = 0.1
	weightMax             = 1.0
	urnsConsideredPerLoop = 5
)

// sourceTypeFilters maps each expert to its standard-mode semantic_search
// filter.
var sourceTypeFilters = map[types.ExpertType][]string{
	types.ExpertLiteral:    {string(types.SourceNorma)},
	types.ExpertSystemic:   {string(types.SourceNorma)},
	types.ExpertPrinciples: {string(types.SourceRatio), string(types.SourceSpiegazione), string(types.SourcePrincipio)},
	types.ExpertPrecedent:  {string(types.SourceMassima), string(types.SourceSentenza)},
}

// graphDirection maps each expert to its standard-mode graph_search
// direction; precedent traverses incoming edges to find the judgments
// citing a norm.
var graphDirection = map[types.ExpertType]string{
	types.ExpertLiteral:    "both",
	types.ExpertSystemic:   "both",
	types.ExpertPrinciples: "both",
	types.ExpertPrecedent:  "incoming",
}

// relationPriority is the expert's priority relation set for graph_search,
// falling back to no filter (nil) when unspecified.
var relationPriority = map[types.ExpertType][]string{
	types.ExpertLiteral:    {"contiene", "disciplina", "definisce", "rinvia"},
	types.ExpertSystemic:   {"modifica", "connesso_a", "cita"},
	types.ExpertPrinciples: {"attua", "esprime"},
	types.ExpertPrecedent:  {"interpreta", "applica", "conferma", "cita"},
}

// Config is one expert's tunable configuration; instance config
// overrides file config at construction.
type Config struct {
	Model                  string
	Temperature            float64
	PromptTemplate         string
	TraversalWeights       retrieval.TraversalWeights
	UseReact               bool
	ReactMaxIterations     int
	ReactNoveltyThreshold  float64
	TopK                   int
}

// Expert is one interpretive canon, parameterised entirely by data.
type Expert struct {
	kind      types.ExpertType
	cfg       Config
	registry  *tools.Registry
	client    llm.Client       // nil means "no language-model configured"
	collector *trace.Collector // optional; nil means no trace sink attached

	mu               sync.Mutex
	traversalWeights retrieval.TraversalWeights
	feedbackCount    int

	exploreMu sync.Mutex
	exploration ExplorationMetrics
}

// ExplorationMetrics tracks an expert's standard-mode source-collection
// loop, mirroring the ReAct controller's per-iteration bookkeeping for
// experts that never invoke ReAct (original_source/merlt/experts/base.py
// explore_iteratively / get_exploration_metrics).
type ExplorationMetrics struct {
	Iterations  int
	NewSources  int
	NewURNs     int
}

// New constructs an Expert of the given kind. client may be nil: with no
// language-model service the expert degrades to source listings.
func New(kind types.ExpertType, cfg Config, registry *tools.Registry, client llm.Client) *Expert {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.ReactMaxIterations <= 0 {
		cfg.ReactMaxIterations = react.DefaultMaxIterations
	}
	if cfg.ReactNoveltyThreshold <= 0 {
		cfg.ReactNoveltyThreshold = react.DefaultNoveltyThreshold
	}
	weights := cfg.TraversalWeights
	if weights == nil {
		weights = retrieval.DefaultTraversalWeights()[kind]
	}
	return &Expert{kind: kind, cfg: cfg, registry: registry, client: client, traversalWeights: weights}
}

// Kind returns the expert's interpretive canon.
func (e *Expert) Kind() types.ExpertType { return e.kind }

// SetCollector attaches a trace sink; every tool call and language-model
// call this expert makes afterward is recorded under the query's traceID
// at call time.
func (e *Expert) SetCollector(collector *trace.Collector) {
	e.collector = collector
}

// Analyze is the expert's sole public contract: context in, response
// out, never returning a Go error — failures degrade the response in
// place.
func (e *Expert) Analyze(ctx context.Context, ec types.ExpertContext) types.ExpertResponse {
	start := time.Now()

	var sources []react.Source
	var reactMetrics *react.Metrics

	if e.cfg.UseReact && e.client != nil {
		controller := react.New(e.registry, e.client, react.Config{MaxIterations: e.cfg.ReactMaxIterations, NoveltyThreshold: e.cfg.ReactNoveltyThreshold})
		m := controller.Run(ctx, ec.QueryText, true)
		reactMetrics = &m
		sources = m.Sources
	} else {
		sources = e.standardCollect(ctx, ec)
	}

	legalBasis := sourcesToLegalBasis(sources, ec.RetrievedChunks)

	if e.client == nil {
		return e.noLLMFallback(ec, legalBasis, start)
	}

	resp, tokens := e.synthesize(ctx, ec, sources, legalBasis)
	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	resp.TokensUsed = tokens
	if reactMetrics != nil {
		resp.TokensUsed += reactMetrics.TotalTokens
		if resp.Metadata == nil {
			resp.Metadata = types.Metadata{}
		}
		resp.Metadata["react_iterations"] = reactMetrics.Iterations
		resp.Metadata["react_converged"] = reactMetrics.Converged
		resp.Metadata["react_finish_reason"] = reactMetrics.FinishReason
	}
	resp.TraceID = ec.TraceID
	resp.ExpertType = e.kind
	return resp
}

// standardCollect gathers sources for the fixed-sequence mode: retrieve,
// union URNs, expand the neighbourhood of each, recording exploration
// metrics along the way.
// When the caller disabled search (interpret's include_search=false), only
// the pre-retrieved chunks feed the expert.
func (e *Expert) standardCollect(ctx context.Context, ec types.ExpertContext) []react.Source {
	var sources []react.Source
	seen := make(map[string]bool)

	for _, chunk := range ec.RetrievedChunks {
		key := chunk.ChunkID
		if chunk.Text == "" || seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, react.Source{URN: chunk.ChunkID, Text: chunk.Text, Type: string(chunk.SourceType)})
	}

	if searchDisabled(ec) {
		return sources
	}

	callStart := time.Now()
	searchResult := e.registry.Execute(ctx, "semantic_search", map[string]interface{}{
		"query":        ec.QueryText,
		"top_k":        e.cfg.TopK,
		"source_types": sourceTypeFilters[e.kind],
		"expert_type":  string(e.kind),
	})

	urns := append([]string{}, ec.Entities.NormReferences...)
	var resultChunkIDs []string
	if searchResult.Success {
		results, _ := searchResult.Data["results"].([]map[string]interface{})
		novel := 0
		for _, r := range results {
			text, _ := r["text"].(string)
			chunkID, _ := r["chunk_id"].(string)
			if text == "" {
				continue
			}
			resultChunkIDs = append(resultChunkIDs, chunkID)
			if !seen[chunkID] {
				seen[chunkID] = true
				urn := articleURNOf(r)
				if urn == "" {
					urn = chunkID
				}
				sources = append(sources, react.Source{URN: urn, Text: text, Type: str(r["source_type"])})
				novel++
			}
			if u := articleURNOf(r); u != "" {
				urns = append(urns, u)
			}
		}
		e.recordIteration(novel, len(results))
	}
	e.recordRetrievalStep(ec.TraceID, ec.QueryText, resultChunkIDs, time.Since(callStart))
	e.recordToolCall(ec.TraceID, "semantic_search", map[string]interface{}{
		"query":        ec.QueryText,
		"top_k":        e.cfg.TopK,
		"source_types": sourceTypeFilters[e.kind],
		"expert_type":  string(e.kind),
	}, searchResult, resultChunkIDs, time.Since(callStart))

	urns = dedupeStrings(urns)
	if len(urns) > urnsConsideredPerLoop {
		urns = urns[:urnsConsideredPerLoop]
	}

	for _, urn := range urns {
		params := map[string]interface{}{
			"start_node":     urn,
			"relation_types": relationPriority[e.kind],
			"max_hops":       2,
			"direction":      graphDirection[e.kind],
		}
		graphStart := time.Now()
		graphResult := e.registry.Execute(ctx, "graph_search", params)
		if !graphResult.Success {
			e.recordIteration(0, 0)
			e.recordToolCall(ec.TraceID, "graph_search", params, graphResult, nil, time.Since(graphStart))
			continue
		}
		nodes, _ := graphResult.Data["nodes"].([]map[string]interface{})
		novel := 0
		var nodeURNs []string
		for _, n := range nodes {
			nodeURN := str(n["urn"])
			if nodeURN != "" {
				nodeURNs = append(nodeURNs, nodeURN)
			}
			if seen[nodeURN] {
				continue
			}
			props, _ := n["properties"].(map[string]interface{})
			text := str(props["testo_vigente"])
			if text == "" {
				text = str(props["testo"])
			}
			if text == "" {
				continue
			}
			seen[nodeURN] = true
			sources = append(sources, react.Source{URN: nodeURN, Text: text, Type: str(n["type"])})
			novel++
		}
		e.recordIteration(novel, len(nodes))
		e.recordToolCall(ec.TraceID, "graph_search", params, graphResult, append(nodeURNs, urn), time.Since(graphStart))
	}

	return sources
}

// searchDisabled reports whether the caller asked the pipeline to skip
// expert-driven retrieval and rely solely on pre-retrieved chunks.
func searchDisabled(ec types.ExpertContext) bool {
	if ec.Metadata == nil {
		return false
	}
	v, ok := ec.Metadata["include_search"].(bool)
	return ok && !v
}

func articleURNOf(r map[string]interface{}) string {
	if u := str(r["article_urn"]); u != "" {
		return u
	}
	if meta, ok := r["metadata"].(types.Metadata); ok {
		if u, ok := meta["article_urn"].(string); ok {
			return u
		}
	}
	if meta, ok := r["metadata"].(map[string]interface{}); ok {
		if u, ok := meta["article_urn"].(string); ok {
			return u
		}
	}
	return ""
}

// recordRetrievalStep forwards one retrieval invocation to the trace sink.
func (e *Expert) recordRetrievalStep(traceID, query string, chunkIDs []string, latency time.Duration) {
	if e.collector == nil {
		return
	}
	e.collector.RecordRetrievalStep(traceID, trace.RetrievalStepRecord{
		Expert:    e.kind,
		Query:     query,
		Results:   len(chunkIDs),
		LatencyMs: latency.Milliseconds(),
		Timestamp: time.Now(),
		ChunkIDs:  chunkIDs,
	})
}

// recordToolCall forwards one tool invocation to the trace sink; urns feed
// the grounding set used by source validation at seal time.
func (e *Expert) recordToolCall(traceID, tool string, params map[string]interface{}, result types.ToolResult, urns []string, latency time.Duration) {
	if e.collector == nil {
		return
	}
	count := 0
	if result.Success {
		if total, ok := result.Data["total"].(int); ok {
			count = total
		} else if total, ok := result.Data["total_nodes"].(int); ok {
			count = total
		}
	}
	e.collector.RecordToolCall(traceID, trace.ToolCallRecord{
		Expert:      e.kind,
		Tool:        tool,
		Params:      params,
		ResultCount: count,
		LatencyMs:   latency.Milliseconds(),
		Timestamp:   time.Now(),
		URNs:        urns,
	})
}

// recordLLMCall forwards one completion call to the trace sink.
func (e *Expert) recordLLMCall(traceID, prompt, response string, tokens int, latency time.Duration) {
	if e.collector == nil {
		return
	}
	e.collector.RecordLLMCall(traceID, trace.LLMCallRecord{
		Expert:    e.kind,
		Prompt:    prompt,
		Response:  response,
		Tokens:    tokens,
		LatencyMs: latency.Milliseconds(),
		Timestamp: time.Now(),
	})
}

func (e *Expert) recordIteration(novelSources, novelURNs int) {
	e.exploreMu.Lock()
	defer e.exploreMu.Unlock()
	e.exploration.Iterations++
	e.exploration.NewSources += novelSources
	e.exploration.NewURNs += novelURNs
}

// ExplorationMetrics returns the expert's cumulative standard-mode source
// collection statistics.
func (e *Expert) ExplorationMetrics() ExplorationMetrics {
	e.exploreMu.Lock()
	defer e.exploreMu.Unlock()
	return e.exploration
}

func sourcesToLegalBasis(sources []react.Source, preRetrieved []types.RetrievalResult) []types.LegalSource {
	seen := make(map[string]bool, len(sources))
	out := make([]types.LegalSource, 0, len(sources))
	for _, s := range sources {
		id := firstNonEmpty2(s.URN, s.Text)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, types.LegalSource{
			SourceType: types.SourceType(s.Type),
			SourceID:   id,
			Citation:   s.URN,
			Excerpt:    truncate(s.Text, 300),
			Relevance:  1.0,
		})
	}
	for _, r := range preRetrieved {
		if seen[r.ChunkID] {
			continue
		}
		seen[r.ChunkID] = true
		out = append(out, types.LegalSource{SourceType: r.SourceType, SourceID: r.ChunkID, Excerpt: truncate(r.Text, 300), Relevance: r.FinalScore})
	}
	return out
}

func (e *Expert) noLLMFallback(ec types.ExpertContext, legalBasis []types.LegalSource, start time.Time) types.ExpertResponse {
	listing := "Fonti piu' rilevanti individuate:\n"
	limit := 5
	if len(legalBasis) < limit {
		limit = len(legalBasis)
	}
	for i := 0; i < limit; i++ {
		listing += fmt.Sprintf("- %s\n", truncate(legalBasis[i].Excerpt, 200))
	}
	return types.ExpertResponse{
		ExpertType:      e.kind,
		Interpretation:  listing,
		LegalBasis:      legalBasis,
		Confidence:      degradedConfidence,
		Limitations:     degradedNoLLMMarker,
		TraceID:         ec.TraceID,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
}

// llmResponse is the structured shape expected from the language model.
type llmResponse struct {
	Interpretation    string                   `json:"interpretation"`
	ReasoningSteps    []string                 `json:"reasoning_steps"`
	Confidence        float64                  `json:"confidence"`
	ConfidenceFactors types.ConfidenceFactors  `json:"confidence_factors"`
	Limitations       string                   `json:"limitations,omitempty"`
}

func (e *Expert) synthesize(ctx context.Context, ec types.ExpertContext, sources []react.Source, legalBasis []types.LegalSource) (types.ExpertResponse, int) {
	prompt := buildPrompt(e.kind, e.cfg.PromptTemplate, ec.QueryText, sources)

	var lastErr error
	lastContent := ""
	totalTokens := 0
	for attempt := 0; attempt < maxParseRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDuration(attempt)):
			case <-ctx.Done():
				return e.degradedParse(legalBasis, ctx.Err().Error()), totalTokens
			}
		}

		callStart := time.Now()
		resp, err := e.client.Generate(ctx, llm.Request{Prompt: prompt, Model: e.cfg.Model, Temperature: e.cfg.Temperature, ResponseFormat: "json_object"})
		if err != nil {
			lastErr = err
			log.Printf("[WARN] expert %s: language-model call failed (attempt %d): %v", e.kind, attempt+1, err)
			continue
		}
		totalTokens += resp.TotalTokens
		lastContent = resp.Content
		e.recordLLMCall(ec.TraceID, prompt, resp.Content, resp.TotalTokens, time.Since(callStart))

		clean := llm.StripCodeFence(resp.Content)
		var parsed llmResponse
		if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
			lastErr = err
			log.Printf("[WARN] expert %s: response parse failed (attempt %d): %v", e.kind, attempt+1, err)
			continue
		}

		return types.ExpertResponse{
			Interpretation:    parsed.Interpretation,
			LegalBasis:        legalBasis,
			ReasoningSteps:    parsed.ReasoningSteps,
			Confidence:        parsed.Confidence,
			ConfidenceFactors: parsed.ConfidenceFactors,
			Limitations:       parsed.Limitations,
		}, totalTokens
	}

	log.Printf("[WARN] expert %s: exhausted parse retries, degrading: %v", e.kind, lastErr)
	if lastContent == "" {
		lastContent = degradedParseMarker
	}
	return e.degradedParse(legalBasis, lastContent), totalTokens
}

func (e *Expert) degradedParse(legalBasis []types.LegalSource, reason string) types.ExpertResponse {
	return types.ExpertResponse{
		Interpretation: truncate(reason, 500),
		LegalBasis:     legalBasis,
		Confidence:     degradedConfidence,
		Limitations:    degradedParseMarker,
	}
}

func backoffDuration(attempt int) time.Duration {
	seconds := backoffBaseSeconds * math.Pow(2, float64(attempt))
	return time.Duration(seconds * float64(time.Second))
}

func buildPrompt(kind types.ExpertType, template, query string, sources []react.Source) string {
	prompt := template
	if prompt == "" {
		prompt = defaultPromptFor(kind)
	}
	prompt += fmt.Sprintf("\n\nQuery: %s\n\nFonti disponibili (cita solo queste):\n", query)
	for _, s := range sources {
		prompt += fmt.Sprintf("- [%s] %s\n", s.URN, truncate(s.Text, 400))
	}
	prompt += "\nRispondi in JSON con i campi: interpretation, reasoning_steps, confidence, confidence_factors, limitations."
	return prompt
}

// RecordFeedback folds one user rating into the expert's traversal
// weight for a relation: fixed learning rate of 0.1, clamped to
// [0.1, 1.0]. Nothing is persisted here; callers read the updated table
// via ApplyWeightUpdates when they decide to.
func (e *Expert) RecordFeedback(relation string, userRating float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feedbackCount++
	current := e.traversalWeights.Get(relation)
	delta := weightUpdateLearnRate * (userRating - 0.5)
	updated := current + delta
	if updated < weightMin {
		updated = weightMin
	}
	if updated > weightMax {
		updated = weightMax
	}
	if e.traversalWeights == nil {
		e.traversalWeights = retrieval.TraversalWeights{}
	}
	e.traversalWeights[relation] = updated
}

// ApplyWeightUpdates returns a copy of the expert's current traversal
// weight table, reflecting any RecordFeedback calls so far. Never invoked
// automatically — callers outside this core decide when to persist it.
func (e *Expert) ApplyWeightUpdates() retrieval.TraversalWeights {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(retrieval.TraversalWeights, len(e.traversalWeights))
	for k, v := range e.traversalWeights {
		out[k] = v
	}
	return out
}

func firstNonEmpty2(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
