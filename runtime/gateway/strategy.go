package gateway

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/strandworks/strand/runtime/program"
)

// costTable maps model name fragments to a relative per-token cost rank used
// by the cost_optimized strategy. Matching is by substring over the lowercased
// identifier so versioned names (gpt-4o-2024-08-06,
// claude-3-5-haiku-20241022) rank like their family. Entries are ordered most
// specific first; the first match wins.
var costTable = []struct {
	fragment string
	cost     float64
}{
	{"nano", 1},
	{"mini", 1},
	{"haiku", 2},
	{"gpt-3.5", 3},
	{"gpt-4o", 6},
	{"sonnet", 6},
	{"gpt-4", 12},
	{"opus", 20},
}

// modelCost returns the cost rank of a model identifier. Unknown models rank
// last so cost_optimized prefers models with a known price point.
func modelCost(name string) float64 {
	lower := strings.ToLower(name)
	for _, e := range costTable {
		if strings.Contains(lower, e.fragment) {
			return e.cost
		}
	}
	return math.MaxFloat64
}

// orderCandidates returns the candidates to try, in order, for the strategy.
// Round-robin picks exactly one candidate keyed off the ordinal of the
// incoming request (prior completed requests across all providers plus one);
// the other strategies produce a failover list. latency_optimized is a
// declared placeholder pending latency tracking and behaves as failover.
func orderCandidates(strategy program.Strategy, candidates []program.Target, priorRequests int64) []program.Target {
	switch strategy {
	case program.StrategyCostOptimized:
		ordered := slices.Clone(candidates)
		sort.SliceStable(ordered, func(i, j int) bool {
			return modelCost(ordered[i].Model) < modelCost(ordered[j].Model)
		})
		return ordered
	case program.StrategyRoundRobin:
		idx := (priorRequests + 1) % int64(len(candidates))
		return candidates[idx : idx+1]
	default:
		return candidates
	}
}
