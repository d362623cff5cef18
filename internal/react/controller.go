// Package react implements the iterative exploration loop: a
// tool-calling controller that lets an expert decide dynamically, across
// bounded iterations, which retrieval tool to invoke next, with
// convergence detection by novelty ratio.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"legalinterpret/internal/llm"
	"legalinterpret/internal/tools"
	"legalinterpret/internal/types"
)

const (
	DefaultMaxIterations    = 5
	DefaultNoveltyThreshold = 0.1
	historyWindow           = 3
	sourcePreviewLimit      = 5
)

// Source is one piece of retrieved material surfaced to the controller's
// decision prompt and, ultimately, to the expert.
type Source struct {
	URN  string
	Text string
	Type string
}

func (s Source) key() string {
	if s.URN != "" {
		return s.URN
	}
	return s.Text
}

// HistoryEntry records one iteration's thought, action and novelty count.
type HistoryEntry struct {
	Thought     string
	Action      string
	NovelSources int
}

// Decision is the language model's per-iteration choice.
type Decision struct {
	Action     string                 `json:"action"` // "finish" or "tool"
	Thought    string                 `json:"thought"`
	Reason     string                 `json:"reason,omitempty"`
	Tool       string                 `json:"tool,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Metrics is the controller's per-query outcome, exposed to the trace.
type Metrics struct {
	Sources      []Source
	Iterations   int
	History      []HistoryEntry
	Converged    bool
	FinishReason string
	TotalTokens  int
}

// Controller runs the bounded thought/action/observation loop.
type Controller struct {
	registry         *tools.Registry
	client           llm.Client
	maxIterations    int
	noveltyThreshold float64
}

// Config tunes a Controller; zero values fall back to spec defaults.
type Config struct {
	MaxIterations    int
	NoveltyThreshold float64
}

// New builds a Controller bound to registry (for tool execution) and
// client (for per-iteration decisions).
func New(registry *tools.Registry, client llm.Client, cfg Config) *Controller {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.NoveltyThreshold <= 0 {
		cfg.NoveltyThreshold = DefaultNoveltyThreshold
	}
	return &Controller{registry: registry, client: client, maxIterations: cfg.MaxIterations, noveltyThreshold: cfg.NoveltyThreshold}
}

// Run executes the loop for one query, optionally verifying the final
// source set via verify_sources when verifyStrict is true.
func (c *Controller) Run(ctx context.Context, query string, verifyStrict bool) Metrics {
	seen := make(map[string]bool)
	var sources []Source
	var history []HistoryEntry
	totalTokens := 0
	converged := false
	finishReason := "max_iterations"

	for i := 0; i < c.maxIterations; i++ {
		decision, tokens := c.decide(ctx, query, sources, history)
		totalTokens += tokens

		if decision.Action == "finish" {
			history = append(history, HistoryEntry{Thought: decision.Thought, Action: "finish"})
			finishReason = "converged"
			if decision.Reason != "" {
				finishReason = decision.Reason
			}
			converged = true
			break
		}

		result := c.registry.Execute(ctx, decision.Tool, decision.Parameters)
		novel, total := c.extractNovel(result, seen, &sources)

		history = append(history, HistoryEntry{Thought: decision.Thought, Action: decision.Tool, NovelSources: novel})

		if i > 0 && total > 0 {
			ratio := float64(novel) / float64(total)
			if ratio < c.noveltyThreshold {
				converged = true
				finishReason = "converged"
				break
			}
		}
	}

	if verifyStrict && len(sources) > 0 {
		sources = c.verify(ctx, sources)
	}

	return Metrics{Sources: sources, Iterations: len(history), History: history, Converged: converged, FinishReason: finishReason, TotalTokens: totalTokens}
}

func (c *Controller) decide(ctx context.Context, query string, sources []Source, history []HistoryEntry) (Decision, int) {
	prompt := buildDecisionPrompt(query, c.registry.SchemaOfAll(), sources, lastN(history, historyWindow))

	resp, err := c.client.Generate(ctx, llm.Request{Prompt: prompt, ResponseFormat: "json_object"})
	if err != nil {
		log.Printf("[WARN] react decision call failed: %v", err)
		return Decision{Action: "finish", Thought: "decision call failed", Reason: "error"}, 0
	}

	var decision Decision
	clean := llm.StripCodeFence(resp.Content)
	if err := json.Unmarshal([]byte(clean), &decision); err != nil {
		log.Printf("[WARN] react decision parse failed: %v", err)
		return Decision{Action: "finish", Thought: "could not parse decision", Reason: "parse_error"}, resp.TotalTokens
	}
	return decision, resp.TotalTokens
}

func buildDecisionPrompt(query string, toolSchemas []tools.Tool, sources []Source, history []HistoryEntry) string {
	prompt := fmt.Sprintf("Query: %s\n\nAvailable tools:\n", query)
	for _, t := range toolSchemas {
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			prompt += fmt.Sprintf("- %s: %s\n", t.Name, t.Description)
			continue
		}
		prompt += fmt.Sprintf("- %s: %s\n  parameters: %s\n", t.Name, t.Description, schema)
	}

	prompt += "\nSources collected so far:\n"
	for i, s := range sources {
		if i >= sourcePreviewLimit {
			break
		}
		prompt += fmt.Sprintf("- [%s] %s\n", s.URN, truncate(s.Text, 120))
	}

	prompt += "\nRecent iterations:\n"
	for _, h := range history {
		prompt += fmt.Sprintf("- thought=%q action=%q novel=%d\n", h.Thought, h.Action, h.NovelSources)
	}

	prompt += "\nRespond with JSON: {\"action\":\"finish\",\"thought\":...,\"reason\":...} or {\"action\":\"tool\",\"tool\":...,\"parameters\":{...},\"thought\":...}"
	return prompt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func lastN(h []HistoryEntry, n int) []HistoryEntry {
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// extractNovel pulls sources out of a ToolResult according to tool kind,
// de-duplicates against seen, appends the novel ones to
// *sources, and returns the novel count alongside the total number of
// usable entries the tool returned (the novelty ratio's denominator).
func (c *Controller) extractNovel(result types.ToolResult, seen map[string]bool, sources *[]Source) (int, int) {
	if !result.Success {
		return 0, 0
	}

	var extracted []Source
	extracted = append(extracted, extractList(result.Data["results"], func(m map[string]interface{}) Source {
		return Source{URN: str(m["chunk_id"]), Text: str(m["text"]), Type: "chunk"}
	})...)
	extracted = append(extracted, extractList(result.Data["nodes"], func(m map[string]interface{}) Source {
		props, _ := m["properties"].(map[string]interface{})
		text := str(props["testo_vigente"])
		if text == "" {
			text = str(props["testo"])
		}
		return Source{URN: str(m["urn"]), Text: text, Type: str(m["type"])}
	})...)
	extracted = append(extracted, extractList(result.Data["definitions"], func(m map[string]interface{}) Source {
		return Source{URN: str(m["urn"]), Text: str(m["text"]), Type: "definition"}
	})...)
	extracted = append(extracted, extractList(result.Data["hierarchy"], func(m map[string]interface{}) Source {
		return Source{URN: str(m["urn"]), Text: str(m["text"]), Type: "hierarchy"}
	})...)

	novel, total := 0, 0
	for _, s := range extracted {
		if s.Text == "" || s.key() == "" {
			continue
		}
		total++
		if seen[s.key()] {
			continue
		}
		seen[s.key()] = true
		*sources = append(*sources, s)
		novel++
	}
	return novel, total
}

func extractList(raw interface{}, convert func(map[string]interface{}) Source) []Source {
	items, ok := raw.([]map[string]interface{})
	if !ok {
		return nil
	}
	out := make([]Source, 0, len(items))
	for _, item := range items {
		out = append(out, convert(item))
	}
	return out
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func (c *Controller) verify(ctx context.Context, sources []Source) []Source {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.key())
	}
	result := c.registry.Execute(ctx, "verify_sources", map[string]interface{}{"source_ids": ids, "strict_mode": true})
	if !result.Success {
		return sources
	}
	verifiedRaw, _ := result.Data["verified"].([]string)
	verified := make(map[string]bool, len(verifiedRaw))
	for _, id := range verifiedRaw {
		verified[id] = true
	}
	filtered := make([]Source, 0, len(sources))
	for _, s := range sources {
		if verified[s.key()] {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
