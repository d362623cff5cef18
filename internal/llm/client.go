// Package llm provides the language-model collaborator interface consumed
// by experts, the ReAct controller and the gating synthesis step.
//
// The completion service may answer either {content, usage:
// {total_tokens}} or a plain string; callers tolerate both shapes via
// Unwrap.
package llm

import "context"

// Request carries the parameters a caller supplies to a completion call.
type Request struct {
	Prompt         string
	Model          string
	Temperature    float64
	ResponseFormat string // e.g. "json_object"; empty means free text
}

// Response is the normalized result of a completion call, after unwrapping
// whichever shape the underlying service returned.
type Response struct {
	Content     string
	TotalTokens int
}

// Client is the language-model collaborator. Implementations must be safe
// for concurrent use: experts hold a shared, read-only reference to one
// Client instance.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Unwrap accepts either a plain string or a map with a "content" key (and
// optionally a nested "usage.total_tokens") and normalizes it to a
// Response. Used by adapters around services that don't commit to one
// shape.
func Unwrap(raw interface{}) Response {
	switch v := raw.(type) {
	case string:
		return Response{Content: v}
	case Response:
		return v
	case map[string]interface{}:
		resp := Response{}
		if c, ok := v["content"]; ok {
			if s, ok := c.(string); ok {
				resp.Content = s
			}
		}
		if u, ok := v["usage"].(map[string]interface{}); ok {
			if tt, ok := u["total_tokens"].(int); ok {
				resp.TotalTokens = tt
			} else if tt, ok := u["total_tokens"].(float64); ok {
				resp.TotalTokens = int(tt)
			}
		}
		return resp
	default:
		return Response{}
	}
}
