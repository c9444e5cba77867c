package routing

import (
	"fmt"
	"sort"

	"github.com/tributary-ai/llm-gateway/internal/bridge"
	"github.com/tributary-ai/llm-gateway/internal/health"
	"github.com/tributary-ai/llm-gateway/internal/metrics"
	"github.com/tributary-ai/llm-gateway/internal/types"
)

// Candidate bundles the view RoutingLogic needs of one eligible provider:
// its static config, its health record, and its bridge's live concurrency
// reading.
type Candidate struct {
	Config *types.ProviderConfig
	Health *health.Record
	Bridge bridge.Bridge
}

// Filter applies §4.3.2's candidate predicate to the full provider set.
// requestedModel is req.Model; an empty string skips the model-support
// check.
func Filter(all []Candidate, requiredCapabilities types.Capability, requestedModel string) []Candidate {
	out := make([]Candidate, 0, len(all))
	for _, c := range all {
		if !c.Config.Enabled {
			continue
		}
		if requestedModel != "" && !c.Config.SupportsModel(requestedModel) {
			continue
		}
		if !c.Health.CanAcceptRequests() {
			continue
		}
		if !c.Health.Capabilities().Has(requiredCapabilities) {
			continue
		}
		if c.Config.MaxConcurrentRequests > 0 {
			if conc := c.Bridge.CurrentConcurrency(); conc >= 0 && conc >= c.Config.MaxConcurrentRequests {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// scored pairs a candidate name with its computed priority score.
type scored struct {
	name  string
	score float64
}

// Logic implements §4.3.3-§4.3.5: priority scoring plus the active load
// balancer breaking ties.
type Logic struct {
	selectFn func(candidates []string, reqType types.RequestType) string
}

// LoadBalancerSelector is the minimal surface Logic needs from a
// loadbalancer.LoadBalancer, kept as an interface here so routing does not
// import loadbalancer directly (loadbalancer has no dependency on routing,
// but the gateway wires both together).
type LoadBalancerSelector interface {
	Select(candidates []string, reqType types.RequestType) string
}

func NewLogic(lb LoadBalancerSelector) *Logic {
	return &Logic{selectFn: lb.Select}
}

// Route produces a RoutingDecision from already-filtered candidates (spec
// §4.3.5). candidates must come from Filter; an empty slice yields a
// well-formed failure decision.
func (l *Logic) Route(candidates []Candidate, priority types.RoutingPriority, analysis types.RequestAnalysis, custom types.CustomSelector, healthSnapshot map[string]types.HealthStatus) types.RoutingDecision {
	if len(candidates) == 0 {
		return types.RoutingDecision{
			PriorityUsed: priority,
			Reasoning:    "no candidate passed capability/capacity filtering",
		}
	}

	if priority == "" {
		priority = types.PriorityBalanced
	}

	ranked := l.score(candidates, priority, analysis, custom, healthSnapshot)

	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.name
	}

	// The load balancer only chooses among the candidates tied for the top
	// score; ranked is sorted best-first, so they form its prefix.
	top := 1
	for top < len(ranked) && ranked[top].score == ranked[0].score {
		top++
	}

	winner := l.selectFn(names[:top], analysis.Type)
	if winner == "" {
		winner = names[0]
	}

	alternatives := make([]string, 0, len(names)-1)
	var winnerScore float64
	for _, r := range ranked {
		if r.name == winner {
			winnerScore = r.score
			continue
		}
		alternatives = append(alternatives, r.name)
	}

	return types.RoutingDecision{
		SelectedProvider:     winner,
		AlternativeProviders: alternatives,
		PriorityUsed:         priority,
		SelectionScore:       winnerScore,
		Reasoning:            fmt.Sprintf("selected %s by %s priority among %d eligible candidate(s)", winner, priority, len(candidates)),
	}
}

func (l *Logic) score(candidates []Candidate, priority types.RoutingPriority, analysis types.RequestAnalysis, custom types.CustomSelector, healthSnapshot map[string]types.HealthStatus) []scored {
	if priority == types.PriorityCustom && custom != nil {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Config.Name
		}
		chosen := custom(names, analysis, healthSnapshot)
		out := make([]scored, 0, len(names))
		for _, n := range names {
			s := 0.0
			if n == chosen {
				s = 1.0
			}
			out = append(out, scored{name: n, score: s})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
		return out
	}

	out := make([]scored, len(candidates))
	for i, c := range candidates {
		snap := c.Health.Metrics().Snapshot()
		out[i] = scored{name: c.Config.Name, score: scoreFor(priority, snap, c.Config, c.Health)}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return tieBreak(priority, out[i], out[j], candidateByName(candidates, out[i].name), candidateByName(candidates, out[j].name))
	})
	return out
}

func candidateByName(candidates []Candidate, name string) Candidate {
	for _, c := range candidates {
		if c.Config.Name == name {
			return c
		}
	}
	return Candidate{}
}

// scoreFor computes the per-strategy scalar score (spec §4.3.3). Higher is
// always better; COST scores the negated sum of the per-token input and
// output costs, so all four strategies share a "higher wins" convention.
func scoreFor(priority types.RoutingPriority, snap metrics.Snapshot, cfg *types.ProviderConfig, rec *health.Record) float64 {
	switch priority {
	case types.PriorityCost:
		return -(cfg.CostPerInputToken + cfg.CostPerOutputToken)
	case types.PriorityPerformance:
		return snap.PerformanceScore
	case types.PriorityReliability:
		return snap.SuccessRate
	default: // BALANCED
		return 0.4*snap.PerformanceScore + 0.3*snap.SuccessRate + 0.2*snap.CostScore + 0.1*(cfg.PriorityScore/100.0)
	}
}

// tieBreak returns true if a sorts before b (a should rank higher).
func tieBreak(priority types.RoutingPriority, a, b scored, ca, cb Candidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	switch priority {
	case types.PriorityCost:
		return ca.Health.Metrics().Snapshot().SuccessRate > cb.Health.Metrics().Snapshot().SuccessRate
	case types.PriorityPerformance:
		return ca.Health.Metrics().Snapshot().AvgResponseTimeMs < cb.Health.Metrics().Snapshot().AvgResponseTimeMs
	case types.PriorityReliability:
		return ca.Health.ConsecutiveFailures() < cb.Health.ConsecutiveFailures()
	default:
		return a.name < b.name
	}
}
