package retrieval

import "legalinterpret/internal/types"

// TraversalWeights maps a relation type to the path-score weight an
// expert's canon assigns it; "default" applies to any relation not named
// explicitly.
type TraversalWeights map[string]float64

// Get returns the weight for relation, falling back to the table's
// "default" entry, or 0.5 if even that is absent.
func (w TraversalWeights) Get(relation string) float64 {
	if v, ok := w[relation]; ok {
		return v
	}
	if v, ok := w["default"]; ok {
		return v
	}
	return 0.5
}

// DefaultTraversalWeights returns the built-in per-expert traversal
// weight tables.
func DefaultTraversalWeights() map[types.ExpertType]TraversalWeights {
	return map[types.ExpertType]TraversalWeights{
		types.ExpertLiteral: {
			"contiene":   1.00,
			"disciplina": 0.95,
			"definisce":  0.95,
			"rinvia":     0.90,
			"modifica":   0.85,
			"cita":       0.75,
			"default":    0.50,
		},
		types.ExpertSystemic: {
			"contiene":    0.85,
			"disciplina":  0.85,
			"modifica":    0.95,
			"connesso_a":  1.00,
			"cita":        0.70,
			"default":     0.50,
		},
		types.ExpertPrinciples: {
			"disciplina": 0.90,
			"attua":      1.00,
			"esprime":    0.95,
			"default":    0.50,
		},
		types.ExpertPrecedent: {
			"disciplina":  0.70,
			"interpreta":  1.00,
			"applica":     0.95,
			"conferma":    0.85,
			"cita":        0.90,
			"default":     0.50,
		},
	}
}
