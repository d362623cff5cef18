// Package routing implements the router: it classifies a query into a
// pattern family (compiled regex families scored by match ratio) and
// derives per-expert weights from it.
package routing

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"legalinterpret/internal/types"
)

const (
	DefaultSelectionThreshold = 0.2
	DefaultMaxExperts         = 4
	generalConfidence         = 0.5
)

// family is one of the six compiled pattern families scored against a
// lowercased query.
type family struct {
	queryType types.QueryType
	patterns  []*regexp.Regexp
}

var families = []family{
	{types.QueryDefinitional, compileAll(`cos'?[eè]`, `cosa si intende`, `definizione di`, `che cosa significa`, `cosa (prevede|dispone|stabilisce)`)},
	{types.QueryInterpretive, compileAll(`interpretazion[ei]`, `come va interpretat`, `significato di`, `portata della norma`)},
	{types.QueryProcedural, compileAll(`come si fa`, `quali sono i passaggi`, `procedura per`, `termini per`)},
	{types.QueryConstitutional, compileAll(`costituzional`, `corte costituzionale`, `legittimit[aà] costituzionale`)},
	{types.QueryJurisprudential, compileAll(`cassazione`, `orientamento della giurisprudenza`, `sentenza`, `giurisprudenza`)},
	{types.QuerySystemic, compileAll(`connession[ei]`, `rapporto tra`, `sistema normativo`, `coordinamento tra norme`)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// baseWeights are the fixed per-family expert weight tables.
var baseWeights = map[types.QueryType]map[types.ExpertType]float64{
	types.QueryDefinitional:    {types.ExpertLiteral: 0.45, types.ExpertSystemic: 0.15, types.ExpertPrinciples: 0.25, types.ExpertPrecedent: 0.15},
	types.QueryInterpretive:    {types.ExpertLiteral: 0.30, types.ExpertSystemic: 0.25, types.ExpertPrinciples: 0.30, types.ExpertPrecedent: 0.15},
	types.QueryProcedural:      {types.ExpertLiteral: 0.50, types.ExpertSystemic: 0.20, types.ExpertPrinciples: 0.10, types.ExpertPrecedent: 0.20},
	types.QueryConstitutional:  {types.ExpertLiteral: 0.15, types.ExpertSystemic: 0.25, types.ExpertPrinciples: 0.45, types.ExpertPrecedent: 0.15},
	types.QueryJurisprudential: {types.ExpertLiteral: 0.15, types.ExpertSystemic: 0.15, types.ExpertPrinciples: 0.10, types.ExpertPrecedent: 0.60},
	types.QuerySystemic:        {types.ExpertLiteral: 0.20, types.ExpertSystemic: 0.45, types.ExpertPrinciples: 0.20, types.ExpertPrecedent: 0.15},
	types.QueryGeneral:         {types.ExpertLiteral: 0.25, types.ExpertSystemic: 0.25, types.ExpertPrinciples: 0.25, types.ExpertPrecedent: 0.25},
}

var abstractConceptMarkers = []string{"principio", "diritto", "libert", "tutela"}
var judgmentMarkers = []string{"sentenza", "cassazione", "corte", "tribunale"}

var systemicKeywords = compileAll(`storic[oa]`, `evoluzione`, `modifica`)
var principlesKeywords = compileAll(`ratio`, `scopo`, `finalit[aà]`)
var literalKeywords = compileAll(`letteral[ei]`, `testual[ei]`, `parola`)
var precedentKeywords = compileAll(`applicazione`, `prassi`, `giurisprudenza`)

const (
	normReferenceBoost = 1.2
	conceptBoost       = 1.3
	judgmentBoost      = 1.4
	keywordBoost       = 1.3
)

// Config tunes the Router's selection policy; zero values fall back to
// the built-in defaults. QueryTypeWeights, when set (router
// configuration file), replaces the built-in per-family weight tables
// for the families it names.
type Config struct {
	SelectionThreshold float64
	MaxExperts         int
	QueryTypeWeights   map[types.QueryType]map[types.ExpertType]float64
}

// Router classifies queries and builds routing decisions.
type Router struct {
	cfg Config
}

// New constructs a Router, applying defaults to unset fields.
func New(cfg Config) *Router {
	if cfg.SelectionThreshold <= 0 {
		cfg.SelectionThreshold = DefaultSelectionThreshold
	}
	if cfg.MaxExperts <= 0 {
		cfg.MaxExperts = DefaultMaxExperts
	}
	return &Router{cfg: cfg}
}

func (r *Router) weightsFor(queryType types.QueryType) map[types.ExpertType]float64 {
	if w, ok := r.cfg.QueryTypeWeights[queryType]; ok {
		return w
	}
	return baseWeights[queryType]
}

// Route classifies the query, derives and adjusts expert weights,
// normalizes them and selects the engaged experts.
func (r *Router) Route(query string, entities types.Entities) types.RoutingDecision {
	lower := strings.ToLower(query)

	queryType, confidence := classify(lower)
	weights := cloneWeights(r.weightsFor(queryType))

	applyEntityAdjustments(weights, entities)
	applyKeywordAdjustments(weights, lower)
	normalize(weights)

	selected := selectExperts(weights, r.cfg.SelectionThreshold, r.cfg.MaxExperts)

	return types.RoutingDecision{
		ExpertWeights: selected,
		QueryType:     queryType,
		Confidence:    confidence,
		Reasoning:     reasoningFor(queryType, confidence),
		Parallel:      true,
	}
}

func classify(lower string) (types.QueryType, float64) {
	best := types.QueryGeneral
	bestScore := 0.0
	for _, f := range families {
		matched := 0
		for _, p := range f.patterns {
			if p.MatchString(lower) {
				matched++
			}
		}
		score := float64(matched) / float64(len(f.patterns))
		if score > bestScore {
			bestScore = score
			best = f.queryType
		}
	}
	if bestScore == 0 {
		return types.QueryGeneral, generalConfidence
	}
	return best, math.Min(2*bestScore, 1.0)
}

func cloneWeights(src map[types.ExpertType]float64) map[types.ExpertType]float64 {
	out := make(map[types.ExpertType]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func applyEntityAdjustments(weights map[types.ExpertType]float64, entities types.Entities) {
	if len(entities.NormReferences) > 0 {
		weights[types.ExpertLiteral] = math.Min(weights[types.ExpertLiteral]*normReferenceBoost, 1.0)
	}
	for _, c := range entities.LegalConcepts {
		lc := strings.ToLower(c)
		if containsAny(lc, abstractConceptMarkers) {
			weights[types.ExpertPrinciples] = math.Min(weights[types.ExpertPrinciples]*conceptBoost, 1.0)
		}
		if containsAny(lc, judgmentMarkers) {
			weights[types.ExpertPrecedent] = math.Min(weights[types.ExpertPrecedent]*judgmentBoost, 1.0)
		}
	}
}

func applyKeywordAdjustments(weights map[types.ExpertType]float64, lower string) {
	if matchesAny(systemicKeywords, lower) {
		weights[types.ExpertSystemic] = math.Min(weights[types.ExpertSystemic]*keywordBoost, 1.0)
	}
	if matchesAny(principlesKeywords, lower) {
		weights[types.ExpertPrinciples] = math.Min(weights[types.ExpertPrinciples]*keywordBoost, 1.0)
	}
	if matchesAny(literalKeywords, lower) {
		weights[types.ExpertLiteral] = math.Min(weights[types.ExpertLiteral]*keywordBoost, 1.0)
	}
	if matchesAny(precedentKeywords, lower) {
		weights[types.ExpertPrecedent] = math.Min(weights[types.ExpertPrecedent]*keywordBoost, 1.0)
	}
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func normalize(weights map[types.ExpertType]float64) {
	sum := 0.0
	for _, v := range weights {
		sum += v
	}
	if sum == 0 {
		for _, et := range types.AllExpertTypes {
			weights[et] = 1.0 / float64(len(types.AllExpertTypes))
		}
		return
	}
	for k, v := range weights {
		weights[k] = v / sum
	}
}

// selectExperts keeps the experts at or above
// threshold, bounded to maxExperts by descending weight; equal-weight
// fallback over all four if nothing clears the threshold. The surviving
// subset is renormalized so the decision's weights always sum to 1.
func selectExperts(weights map[types.ExpertType]float64, threshold float64, maxExperts int) map[types.ExpertType]float64 {
	type pair struct {
		kind   types.ExpertType
		weight float64
	}
	pairs := make([]pair, 0, len(weights))
	for k, v := range weights {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].weight > pairs[j].weight })

	selected := make(map[types.ExpertType]float64, maxExperts)
	for _, p := range pairs {
		if p.weight >= threshold && len(selected) < maxExperts {
			selected[p.kind] = p.weight
		}
	}
	if len(selected) == 0 {
		equal := 1.0 / float64(len(types.AllExpertTypes))
		for _, et := range types.AllExpertTypes {
			selected[et] = equal
		}
		return selected
	}
	normalize(selected)
	return selected
}

func reasoningFor(qt types.QueryType, confidence float64) string {
	if qt == types.QueryGeneral {
		return "nessuna famiglia di pattern corrisponde con sufficiente sicurezza; classificazione generale"
	}
	return "classificata come " + string(qt)
}
