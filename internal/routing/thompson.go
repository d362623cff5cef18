package routing

import (
	"strings"

	"legalinterpret/internal/reinforcement"
	"legalinterpret/internal/types"
)

// ThompsonRouter is the optional exploratory selection strategy: each
// expert is a bandit arm with a Beta(success, failure) posterior, used
// instead of the deterministic pattern-family weighting only when a
// caller opts in. The default Router is unaffected. Route weights every
// expert by its arm's posterior mean and takes no random draw, so equal
// posteriors always yield equal weights.
type ThompsonRouter struct {
	selector *reinforcement.Selector
}

// NewThompsonRouter seeds one arm per interpretive expert with a uniform
// Beta(1,1) prior.
func NewThompsonRouter(seed int64) *ThompsonRouter {
	tr := &ThompsonRouter{selector: reinforcement.NewSelector(seed)}
	for _, kind := range types.AllExpertTypes {
		tr.selector.AddArm(&reinforcement.Arm{
			ID:       string(kind),
			Name:     string(kind),
			Expert:   string(kind),
			IsActive: true,
			Alpha:    1.0,
			Beta:     1.0,
		})
	}
	return tr
}

// Route derives expert weights from each arm's posterior mean and
// normalizes them into a routing decision, classifying queryType the same
// deterministic way as Router.Route so the trace still records a
// meaningful pattern family.
func (tr *ThompsonRouter) Route(query string, entities types.Entities) types.RoutingDecision {
	lower := strings.ToLower(query)
	queryType, confidence := classify(lower)

	weights := make(map[types.ExpertType]float64, len(types.AllExpertTypes))
	for _, kind := range types.AllExpertTypes {
		arm, err := tr.selector.GetArm(string(kind))
		if err != nil {
			weights[kind] = 1.0 / float64(len(types.AllExpertTypes))
			continue
		}
		weights[kind] = reinforcement.BetaMean(arm.Alpha, arm.Beta)
	}
	normalize(weights)

	return types.RoutingDecision{
		ExpertWeights: weights,
		QueryType:     queryType,
		Confidence:    confidence,
		Reasoning:     "thompson-sampling exploratory selection over " + string(queryType),
		Parallel:      true,
	}
}

// RecordOutcome feeds an expert's success/failure back into its arm;
// invoked by the Orchestrator after aggregation, never by the router
// itself.
func (tr *ThompsonRouter) RecordOutcome(kind types.ExpertType, success bool) error {
	return tr.selector.RecordOutcome(string(kind), success)
}

// Metrics reports the per-arm posteriors for operators inspecting the
// exploratory strategy.
func (tr *ThompsonRouter) Metrics() []*reinforcement.ArmMetrics {
	arms := tr.selector.AllArms()
	out := make([]*reinforcement.ArmMetrics, 0, len(arms))
	for _, arm := range arms {
		out = append(out, reinforcement.ComputeArmMetrics(arm))
	}
	return out
}
