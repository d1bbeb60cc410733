package program

import "strings"

type (
	// ModelRef names the model (or failover group) a completion runs against.
	// Implementations are exactly SimpleModel and AdvancedModel. The loader
	// resolves both source shapes (a bare "provider/model" string, or a
	// primary/fallback object) into these variants once, at load.
	ModelRef interface {
		isModelRef()
	}

	// SimpleModel targets a single provider/model pair with no fallback.
	SimpleModel struct {
		Target Target
	}

	// AdvancedModel targets a primary model with ordered fallbacks and a
	// selection strategy.
	AdvancedModel struct {
		// Primary is tried first (strategy permitting).
		Primary Target

		// Fallback lists alternates in declared order.
		Fallback []Target

		// Strategy selects among the candidates. Zero value is
		// StrategyFailover.
		Strategy Strategy
	}

	// Target is one provider/model pair.
	Target struct {
		// Provider is the provider id declared in the program.
		Provider string

		// Model is the provider-specific model identifier. Empty means the
		// provider's DefaultModel.
		Model string
	}

	// Strategy is the closed set of candidate selection strategies.
	Strategy int
)

const (
	// StrategyFailover tries candidates in declared order until one succeeds.
	StrategyFailover Strategy = iota
	// StrategyCostOptimized orders candidates by modeled cost, then fails over.
	StrategyCostOptimized
	// StrategyLatencyOptimized is reserved; it currently behaves as failover.
	StrategyLatencyOptimized
	// StrategyRoundRobin picks a single candidate by rotating on the request
	// ordinal; it does not fall back on failure.
	StrategyRoundRobin
)

func (SimpleModel) isModelRef()   {}
func (AdvancedModel) isModelRef() {}

// Candidates returns the primary target followed by the fallbacks.
func (m AdvancedModel) Candidates() []Target {
	out := make([]Target, 0, 1+len(m.Fallback))
	out = append(out, m.Primary)
	return append(out, m.Fallback...)
}

// ParseTarget splits a "provider/model" reference into its Target. A reference
// without a slash names a provider only; the model falls back to the
// provider's DefaultModel at call time.
func ParseTarget(s string) Target {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "/"); i >= 0 {
		return Target{Provider: s[:i], Model: s[i+1:]}
	}
	return Target{Provider: s}
}

// ParseStrategy maps a source strategy label to its Strategy. Empty and
// unknown labels map to StrategyFailover, the documented default.
func ParseStrategy(s string) Strategy {
	switch s {
	case "cost_optimized":
		return StrategyCostOptimized
	case "latency_optimized":
		return StrategyLatencyOptimized
	case "round_robin":
		return StrategyRoundRobin
	default:
		return StrategyFailover
	}
}

// String returns the canonical label of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyCostOptimized:
		return "cost_optimized"
	case StrategyLatencyOptimized:
		return "latency_optimized"
	case StrategyRoundRobin:
		return "round_robin"
	default:
		return "failover"
	}
}
