package routing

import (
	"math"
	"testing"

	"legalinterpret/internal/types"
)

func weightsSum(w map[types.ExpertType]float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

func TestRouteNormGroundedQuery(t *testing.T) {
	r := New(Config{})
	decision := r.Route(
		"Cosa prevede l'art. 1218 c.c. sulla responsabilità del debitore?",
		types.Entities{NormReferences: []string{"art. 1218 c.c."}},
	)

	if decision.QueryType != types.QueryDefinitional && decision.QueryType != types.QueryInterpretive {
		t.Errorf("query_type = %s, want definitional or interpretive", decision.QueryType)
	}
	if w := decision.ExpertWeights[types.ExpertLiteral]; w < 0.35 {
		t.Errorf("literal weight = %v, want >= 0.35 with a norm reference present", w)
	}
	if math.Abs(weightsSum(decision.ExpertWeights)-1.0) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", weightsSum(decision.ExpertWeights))
	}
}

func TestRouteJurisprudentialBoost(t *testing.T) {
	r := New(Config{})
	decision := r.Route("Orientamento della Cassazione sulla fideiussione omnibus", types.Entities{})

	if decision.QueryType != types.QueryJurisprudential {
		t.Fatalf("query_type = %s, want jurisprudential", decision.QueryType)
	}
	if w := decision.ExpertWeights[types.ExpertPrecedent]; w < 0.55 {
		t.Errorf("precedent weight = %v, want >= 0.55", w)
	}
}

func TestRouteGeneralFallback(t *testing.T) {
	r := New(Config{})
	decision := r.Route("qualcosa di completamente diverso", types.Entities{})

	if decision.QueryType != types.QueryGeneral {
		t.Fatalf("query_type = %s, want general", decision.QueryType)
	}
	if decision.Confidence != 0.5 {
		t.Errorf("general confidence = %v, want 0.5", decision.Confidence)
	}
	if math.Abs(weightsSum(decision.ExpertWeights)-1.0) > 1e-9 {
		t.Errorf("weights sum to %v, want 1", weightsSum(decision.ExpertWeights))
	}
}

func TestEntityAdjustments(t *testing.T) {
	tests := []struct {
		name     string
		entities types.Entities
		boosted  types.ExpertType
	}{
		{
			name:     "abstract concepts boost principles",
			entities: types.Entities{LegalConcepts: []string{"principio di proporzionalità"}},
			boosted:  types.ExpertPrinciples,
		},
		{
			name:     "judgment references boost precedent",
			entities: types.Entities{LegalConcepts: []string{"sentenza della corte"}},
			boosted:  types.ExpertPrecedent,
		},
	}

	r := New(Config{})
	query := "qualcosa di neutro senza pattern"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := r.Route(query, types.Entities{})
			adjusted := r.Route(query, tt.entities)
			if adjusted.ExpertWeights[tt.boosted] <= base.ExpertWeights[tt.boosted] {
				t.Errorf("%s weight did not increase: %v -> %v",
					tt.boosted, base.ExpertWeights[tt.boosted], adjusted.ExpertWeights[tt.boosted])
			}
		})
	}
}

func TestKeywordAdjustments(t *testing.T) {
	r := New(Config{})
	base := r.Route("domanda neutra", types.Entities{})
	boosted := r.Route("qual e' la ratio della disposizione", types.Entities{})

	if boosted.ExpertWeights[types.ExpertPrinciples] <= base.ExpertWeights[types.ExpertPrinciples] {
		t.Errorf("ratio keyword should boost principles: %v -> %v",
			base.ExpertWeights[types.ExpertPrinciples], boosted.ExpertWeights[types.ExpertPrinciples])
	}
}

func TestSelectionThreshold(t *testing.T) {
	r := New(Config{SelectionThreshold: 0.9})
	decision := r.Route("Orientamento della Cassazione", types.Entities{})

	// Nothing clears a 0.9 threshold; fall back to equal weights over all
	// four experts.
	if len(decision.ExpertWeights) != len(types.AllExpertTypes) {
		t.Fatalf("expected equal-weight fallback over all experts, got %d", len(decision.ExpertWeights))
	}
	for _, w := range decision.ExpertWeights {
		if math.Abs(w-0.25) > 1e-9 {
			t.Errorf("fallback weight = %v, want 0.25", w)
		}
	}
}

func TestMaxExpertsBound(t *testing.T) {
	r := New(Config{MaxExperts: 2, SelectionThreshold: 0.01})
	decision := r.Route("interpretazione della norma", types.Entities{})
	if len(decision.ExpertWeights) > 2 {
		t.Errorf("expected at most 2 experts, got %d", len(decision.ExpertWeights))
	}
}

func TestQueryTypeWeightsOverride(t *testing.T) {
	override := map[types.QueryType]map[types.ExpertType]float64{
		types.QueryJurisprudential: {
			types.ExpertLiteral:    0.05,
			types.ExpertSystemic:   0.05,
			types.ExpertPrinciples: 0.05,
			types.ExpertPrecedent:  0.85,
		},
	}
	r := New(Config{QueryTypeWeights: override})
	decision := r.Route("Orientamento della Cassazione sulla fideiussione", types.Entities{})

	if w := decision.ExpertWeights[types.ExpertPrecedent]; w < 0.80 {
		t.Errorf("override table should dominate, precedent weight = %v", w)
	}
}

func TestThompsonRouterNormalizesAndLearns(t *testing.T) {
	tr := NewThompsonRouter(42)
	decision := tr.Route("interpretazione dell'articolo", types.Entities{})

	if math.Abs(weightsSum(decision.ExpertWeights)-1.0) > 1e-9 {
		t.Fatalf("thompson weights sum to %v, want 1", weightsSum(decision.ExpertWeights))
	}

	// Uniform priors start equal.
	for _, w := range decision.ExpertWeights {
		if math.Abs(w-0.25) > 1e-9 {
			t.Errorf("uniform prior weight = %v, want 0.25", w)
		}
	}

	// Feedback moves the posterior.
	for i := 0; i < 10; i++ {
		if err := tr.RecordOutcome(types.ExpertPrecedent, true); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
		if err := tr.RecordOutcome(types.ExpertLiteral, false); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	after := tr.Route("interpretazione dell'articolo", types.Entities{})
	if after.ExpertWeights[types.ExpertPrecedent] <= after.ExpertWeights[types.ExpertLiteral] {
		t.Errorf("precedent should outweigh literal after feedback: %v vs %v",
			after.ExpertWeights[types.ExpertPrecedent], after.ExpertWeights[types.ExpertLiteral])
	}

	metrics := tr.Metrics()
	if len(metrics) != len(types.AllExpertTypes) {
		t.Errorf("expected %d arm metrics, got %d", len(types.AllExpertTypes), len(metrics))
	}
}
