package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its arguments",
		Parameters: []Parameter{
			{Name: "query", Type: ParamString, Description: "free text", Required: true},
			{Name: "top_k", Type: ParamInteger, Description: "limit", Default: 10},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": args["query"]}, nil
		},
	}
}

func TestRegisterIsIdempotentByName(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("semantic_search"))
	r.Register(echoTool("semantic_search"))

	if got := len(r.Names()); got != 1 {
		t.Fatalf("expected exactly one entry after double registration, got %d", got)
	}
	if _, ok := r.Get("semantic_search"); !ok {
		t.Fatal("expected tool to be retrievable")
	}
}

func TestReRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("lookup"))

	replacement := echoTool("lookup")
	replacement.Description = "replacement"
	r.Register(replacement)

	tool, ok := r.Get("lookup")
	if !ok {
		t.Fatal("expected tool after re-registration")
	}
	if tool.Description != "replacement" {
		t.Errorf("expected replacement to win, got %q", tool.Description)
	}
}

func TestExecuteValidation(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("search"))

	tests := []struct {
		name        string
		args        map[string]interface{}
		wantSuccess bool
		errContains string
	}{
		{
			name:        "valid args",
			args:        map[string]interface{}{"query": "art. 1218"},
			wantSuccess: true,
		},
		{
			name:        "missing required parameter",
			args:        map[string]interface{}{"top_k": 5},
			errContains: `"query"`,
		},
		{
			name:        "unknown parameter",
			args:        map[string]interface{}{"query": "x", "bogus": 1},
			errContains: `"bogus"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := r.Execute(context.Background(), "search", tt.args)
			if result.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (error: %s)", result.Success, tt.wantSuccess, result.Error)
			}
			if tt.errContains != "" && !strings.Contains(result.Error, tt.errContains) {
				t.Errorf("error %q should name the offending parameter %s", result.Error, tt.errContains)
			}
		})
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), "nope", nil)
	if result.Success {
		t.Fatal("expected failure for unknown tool")
	}
	if !strings.Contains(result.Error, "nope") {
		t.Errorf("error should name the tool, got %q", result.Error)
	}
}

func TestExecuteCapturesHandlerFailures(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name: "fails",
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("backend unreachable")
		},
	})
	r.Register(Tool{
		Name: "panics",
		Handler: func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			panic("boom")
		},
	})

	result := r.Execute(context.Background(), "fails", nil)
	if result.Success || !strings.Contains(result.Error, "backend unreachable") {
		t.Errorf("handler error should fold into ToolResult, got %+v", result)
	}

	result = r.Execute(context.Background(), "panics", nil)
	if result.Success || !strings.Contains(result.Error, "boom") {
		t.Errorf("handler panic should fold into ToolResult, got %+v", result)
	}
}

func TestExecuteMetadata(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("search"))

	result := r.Execute(context.Background(), "search", map[string]interface{}{"query": "x"})
	if result.Metadata["tool_name"] != "search" {
		t.Errorf("metadata should carry the tool name, got %v", result.Metadata["tool_name"])
	}
	if _, ok := result.Metadata["timestamp"]; !ok {
		t.Error("metadata should carry a timestamp")
	}
}

func TestInputSchema(t *testing.T) {
	tool := Tool{
		Name:        "graph_search",
		Description: "expand a neighbourhood",
		Parameters: []Parameter{
			{Name: "start_node", Type: ParamString, Description: "URN", Required: true},
			{Name: "relation_types", Type: ParamArray, Description: "edge filter"},
			{Name: "direction", Type: ParamString, Default: "both", Enum: []string{"outgoing", "incoming", "both"}},
		},
	}

	schema := tool.InputSchema()
	if schema.Type != "object" {
		t.Fatalf("schema type = %q, want object", schema.Type)
	}
	if len(schema.Properties) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(schema.Properties))
	}
	if len(schema.Required) != 1 || schema.Required[0] != "start_node" {
		t.Errorf("required = %v, want [start_node]", schema.Required)
	}
	if schema.Properties["relation_types"].Items == nil {
		t.Error("array parameter should declare an items schema")
	}
	if got := len(schema.Properties["direction"].Enum); got != 3 {
		t.Errorf("enum length = %d, want 3", got)
	}

	// The descriptor set must serialise cleanly for a function-calling
	// interface.
	r := NewRegistry()
	r.Register(tool)
	data, err := json.Marshal(r.Descriptors())
	if err != nil {
		t.Fatalf("descriptors should marshal: %v", err)
	}
	if !strings.Contains(string(data), "start_node") {
		t.Error("serialised descriptors should carry parameter names")
	}
}

func TestSchemaOfAllIsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("zeta"))
	r.Register(echoTool("alpha"))
	r.Register(echoTool("mid"))

	all := r.SchemaOfAll()
	if len(all) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(all))
	}
	if all[0].Name != "alpha" || all[2].Name != "zeta" {
		t.Errorf("tools should be name-sorted, got %s..%s", all[0].Name, all[2].Name)
	}
}
