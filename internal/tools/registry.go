// Package tools implements the tool registry: named, schema-described
// retrieval operations invocable by name, with argument validation
// against each tool's declared parameters.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"legalinterpret/internal/types"
)

// ParamType enumerates the JSON-schema-equivalent parameter types a tool
// descriptor may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// Parameter describes one argument a tool accepts.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Default     interface{}
	Enum        []string
}

// Handler executes a tool call; it must never panic across this boundary.
// Tool-level failures are reported via the error return, which Execute
// folds into a ToolResult rather than propagating.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// Tool is a named, schema-described operation.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Registry holds named tools and is safe for concurrent Execute calls
// once registration has settled.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any existing tool of the same name
// (idempotent by name).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t
	r.tools[t.Name] = &cp
}

// Get returns the named tool, or false if absent.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}

// SchemaOfAll returns every tool's descriptor in name order, suitable as
// input to a language-model function-calling interface.
func (r *Registry) SchemaOfAll() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute validates args against the named tool's schema and invokes its
// handler, catching handler errors into a failed ToolResult instead of
// propagating them.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) types.ToolResult {
	start := time.Now()
	name = types.InternToolName(name)
	meta := types.Metadata{"timestamp": start.UTC(), "tool_name": name}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return types.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool: %s", name), Metadata: meta}
	}

	if err := validate(*t, args); err != nil {
		return types.ToolResult{Success: false, Error: err.Error(), Metadata: meta}
	}

	data, err := safeInvoke(ctx, t.Handler, args)
	meta["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		return types.ToolResult{Success: false, Error: err.Error(), Metadata: meta}
	}
	return types.ToolResult{Success: true, Data: data, Metadata: meta}
}

// safeInvoke recovers from a panicking handler and folds it into an error,
// since the source language's tool handlers raise exceptions freely.
func safeInvoke(ctx context.Context, h Handler, args map[string]interface{}) (data map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool handler panicked: %v", rec)
		}
	}()
	return h(ctx, args)
}

// validate rejects any argument set missing a required parameter or
// containing an unknown parameter, naming the offending parameter.
func validate(t Tool, args map[string]interface{}) error {
	known := make(map[string]Parameter, len(t.Parameters))
	for _, p := range t.Parameters {
		known[p.Name] = p
	}
	for _, p := range t.Parameters {
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Errorf("missing required parameter %q for tool %q", p.Name, t.Name)
			}
		}
	}
	for name := range args {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown parameter %q for tool %q", name, t.Name)
		}
	}
	return nil
}
