package tools

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// InputSchema renders a tool's parameter descriptors as a JSON schema,
// the shape a language-model function-calling interface expects.
func (t Tool) InputSchema() *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(t.Parameters))
	var required []string

	for _, p := range t.Parameters {
		prop := &jsonschema.Schema{
			Type:        string(p.Type),
			Description: p.Description,
		}
		if p.Type == ParamArray {
			prop.Items = &jsonschema.Schema{Type: string(ParamString)}
		}
		if len(p.Enum) > 0 {
			enum := make([]any, 0, len(p.Enum))
			for _, e := range p.Enum {
				enum = append(enum, e)
			}
			prop.Enum = enum
		}
		if p.Default != nil {
			if raw, err := json.Marshal(p.Default); err == nil {
				prop.Default = raw
			}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// Descriptor is one tool's serialisable function-calling descriptor.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

// Descriptors returns every registered tool's descriptor, sorted by name
// so the output is stable across calls.
func (r *Registry) Descriptors() []Descriptor {
	all := r.SchemaOfAll()
	out := make([]Descriptor, 0, len(all))
	for _, t := range all {
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema()})
	}
	return out
}
