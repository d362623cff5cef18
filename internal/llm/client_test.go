package llm

import (
	"context"
	"testing"
)

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json untouched", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"anonymous fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
		{"plain text untouched", "nessuna recinzione", "nessuna recinzione"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	tests := []struct {
		name       string
		in         interface{}
		wantText   string
		wantTokens int
	}{
		{"plain string", "solo testo", "solo testo", 0},
		{
			"content map with usage",
			map[string]interface{}{
				"content": "risposta",
				"usage":   map[string]interface{}{"total_tokens": 42.0},
			},
			"risposta", 42,
		},
		{
			"content map without usage",
			map[string]interface{}{"content": "risposta"},
			"risposta", 0,
		},
		{"unknown shape", 12345, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unwrap(tt.in)
			if got.Content != tt.wantText || got.TotalTokens != tt.wantTokens {
				t.Errorf("Unwrap = %+v, want {%q %d}", got, tt.wantText, tt.wantTokens)
			}
		})
	}
}

func TestMockClientSequence(t *testing.T) {
	m := NewMockClient("uno", "due")

	first, err := m.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil || first.Content != "uno" {
		t.Fatalf("first = %+v err=%v", first, err)
	}
	second, _ := m.Generate(context.Background(), Request{Prompt: "p"})
	if second.Content != "due" {
		t.Fatalf("second = %q", second.Content)
	}
	// Exhausted: the last response repeats.
	third, _ := m.Generate(context.Background(), Request{Prompt: "p"})
	if third.Content != "due" {
		t.Fatalf("third = %q", third.Content)
	}
	if len(m.Calls()) != 3 {
		t.Errorf("calls = %d, want 3", len(m.Calls()))
	}
}
