package orchestrator

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/voxgate/voxgate/internal/provider/health"
)

const (
	// latencyCeiling is the latency at which the latency share of the
	// confidence score reaches zero.
	latencyCeiling = 3000.0 // ms

	unknownConfidence  = 0.5
	degradedConfidence = 0.1
)

type candidate struct {
	pref    ProviderPreference
	metrics health.ProviderMetrics
	hasData bool
}

// latencyKnown reports whether the retained window holds at least one
// successful check, which is where latency figures come from.
func (c candidate) latencyKnown() bool {
	return c.hasData && c.metrics.UptimePercentage > 0
}

func (c candidate) latencyMS() float64 {
	return float64(c.metrics.AvgLatency) / 1e6
}

// confidence blends uptime, latency headroom and success rate into [0, 1].
func confidence(c candidate) float64 {
	if !c.hasData {
		return unknownConfidence
	}
	var headroom float64
	if c.latencyKnown() {
		headroom = math.Max(0, 1-c.latencyMS()/latencyCeiling)
	}
	score := 0.4*c.metrics.UptimePercentage/100 + 0.3*headroom + 0.3*c.metrics.SuccessRate/100
	return math.Round(score*100) / 100
}

// partition splits the enabled, capable preferences into eligible and gated
// candidates, both in configuration order.
func (o *Orchestrator) partition(required []string) (eligible, gated []candidate) {
	for _, pref := range o.config.Preferences {
		if !pref.Enabled || !pref.HasCapabilities(required) {
			continue
		}

		c := candidate{pref: pref}
		if o.health != nil {
			c.metrics, c.hasData = o.health.ProviderHealth(pref.ProviderID)
			c.hasData = c.hasData && c.metrics.HasData()
		}

		switch {
		case o.breakerRejects(pref.ProviderID):
			gated = append(gated, c)
		case o.config.HealthCheckGating && c.hasData && c.metrics.UptimePercentage < o.config.MinProviderHealthScore:
			gated = append(gated, c)
		default:
			eligible = append(eligible, c)
		}
	}
	return eligible, gated
}

func (o *Orchestrator) breakerRejects(providerID string) bool {
	if !o.config.CircuitBreakerEnabled {
		return false
	}
	cb, err := o.breakers.Breaker(providerID)
	if err != nil {
		return false
	}
	// A provider whose cool-down has elapsed is selectable again; its breaker
	// moves to half-open only when the next call arrives.
	return !cb.Allow()
}

// order arranges eligible candidates by strategy, best first, and explains
// the choice. The caller holds o.mu.
func (o *Orchestrator) order(eligible []candidate) ([]candidate, string) {
	ordered := slices.Clone(eligible)

	switch o.config.Strategy {
	case StrategyBestPerformance:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			if a.latencyKnown() != b.latencyKnown() {
				return a.latencyKnown()
			}
			if a.metrics.AvgLatency != b.metrics.AvgLatency {
				return a.metrics.AvgLatency < b.metrics.AvgLatency
			}
			return a.pref.Priority < b.pref.Priority
		})
		best := ordered[0]
		if !best.latencyKnown() {
			return ordered, "best performance: no latency data yet, using configuration order"
		}
		return ordered, fmt.Sprintf("best performance: lowest average latency (%.0fms)", best.latencyMS())

	case StrategyHighestAvailability:
		sort.SliceStable(ordered, func(i, j int) bool {
			a, b := ordered[i], ordered[j]
			if a.hasData != b.hasData {
				return a.hasData
			}
			if a.metrics.UptimePercentage != b.metrics.UptimePercentage {
				return a.metrics.UptimePercentage > b.metrics.UptimePercentage
			}
			return a.pref.Priority < b.pref.Priority
		})
		best := ordered[0]
		if !best.hasData {
			return ordered, "highest availability: no uptime data yet, using configuration order"
		}
		return ordered, fmt.Sprintf("highest availability: %.2f%% uptime", best.metrics.UptimePercentage)

	case StrategyRoundRobin:
		start := o.rrIndex % len(ordered)
		o.rrIndex++
		rotated := append(slices.Clone(ordered[start:]), ordered[:start]...)
		return rotated, fmt.Sprintf("round robin: position %d of %d", start+1, len(ordered))

	case StrategyRandom:
		pick := o.weightedPick(ordered)
		chosen := ordered[pick]
		rest := append(slices.Clone(ordered[:pick]), ordered[pick+1:]...)
		sortByPriority(rest)
		return append([]candidate{chosen}, rest...), fmt.Sprintf("random: weighted draw (weight %.2f)", chosen.pref.Weight)

	default: // StrategyPriorityList
		sortByPriority(ordered)
		return ordered, fmt.Sprintf("priority list: rank %d", ordered[0].pref.Priority)
	}
}

// weightedPick draws an index proportionally to weight. When every weight is
// zero the draw is uniform.
func (o *Orchestrator) weightedPick(cs []candidate) int {
	total := 0.0
	for _, c := range cs {
		total += c.pref.Weight
	}

	r := o.randFloat()
	if total <= 0 {
		return min(int(r*float64(len(cs))), len(cs)-1)
	}

	target := r * total
	for i, c := range cs {
		if target < c.pref.Weight {
			return i
		}
		target -= c.pref.Weight
	}
	return len(cs) - 1
}

func sortByPriority(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].pref.Priority < cs[j].pref.Priority
	})
}

func providerIDs(cs []candidate) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.pref.ProviderID)
	}
	return ids
}

// decide builds a selection. It never fails: with no eligible candidate it
// falls back to the first enabled preference in degraded mode.
func (o *Orchestrator) decide(required []string) ProviderSelection {
	eligible, gated := o.partition(required)

	sel := ProviderSelection{
		ID:        o.newID(),
		Strategy:  o.config.Strategy,
		Timestamp: o.now(),
	}

	if len(eligible) == 0 {
		fallback := o.degradedFallback(required)
		sel.ProviderID = fallback.ProviderID
		sel.ProviderType = fallback.ProviderType
		sel.Confidence = degradedConfidence
		sel.Degraded = true
		sel.Reason = fmt.Sprintf("degraded mode: no provider passed capability, breaker and health gates, falling back to %s", fallback.ProviderID)

		sortByPriority(gated)
		for _, c := range gated {
			if c.pref.ProviderID != fallback.ProviderID {
				sel.FallbackProviders = append(sel.FallbackProviders, c.pref.ProviderID)
			}
		}
		if sel.FallbackProviders == nil {
			sel.FallbackProviders = []string{}
		}
		return sel
	}

	o.mu.Lock()
	ordered, reason := o.order(eligible)
	o.mu.Unlock()

	best := ordered[0]
	sortByPriority(gated)

	sel.ProviderID = best.pref.ProviderID
	sel.ProviderType = best.pref.ProviderType
	sel.Reason = reason
	sel.Confidence = confidence(best)
	sel.FallbackProviders = append(providerIDs(ordered[1:]), providerIDs(gated)...)
	return sel
}

// degradedFallback picks the first enabled preference offering the required
// capabilities, then the first enabled one, then the first one overall.
func (o *Orchestrator) degradedFallback(required []string) ProviderPreference {
	for _, p := range o.config.Preferences {
		if p.Enabled && p.HasCapabilities(required) {
			return p
		}
	}
	for _, p := range o.config.Preferences {
		if p.Enabled {
			return p
		}
	}
	return o.config.Preferences[0]
}
