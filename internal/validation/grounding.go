// Package validation computes source-grounding for a completed query's
// trace: an aggregated response's cited legal basis compared against the
// set of chunk and node ids retrieval actually returned.
package validation

import "legalinterpret/internal/types"

// Report is the trace document's source_validation field.
type Report struct {
	Validated     []string `json:"validated"`
	Hallucinated  []string `json:"hallucinated"`
	GroundingRate float64  `json:"grounding_rate"`
}

// CheckGrounding partitions basis's source ids into validated (present in
// grounded) and hallucinated (absent), and reports the grounding rate —
// 1.0 when there is nothing to check, matching an aggregated response
// with an empty legal basis rather than flagging it as fully hallucinated.
func CheckGrounding(basis []types.LegalSource, grounded map[string]bool) Report {
	var validated, hallucinated []string
	for _, s := range basis {
		if grounded[s.SourceID] {
			validated = append(validated, s.SourceID)
		} else {
			hallucinated = append(hallucinated, s.SourceID)
		}
	}
	rate := 1.0
	if total := len(validated) + len(hallucinated); total > 0 {
		rate = float64(len(validated)) / float64(total)
	}
	return Report{Validated: validated, Hallucinated: hallucinated, GroundingRate: rate}
}
