package resolve

import "fmt"

// Strategy selects how disagreeing rule outcomes are reconciled.
type Strategy string

const (
	// StrategyStrictest picks the most restrictive outcome.
	StrategyStrictest Strategy = "strictest"

	// StrategyPriority picks the outcome of the highest-priority rule.
	StrategyPriority Strategy = "priority"

	// StrategyMostRecent picks the outcome of the most recently edited rule.
	StrategyMostRecent Strategy = "most_recent"

	// StrategyManual flags the transaction for a human when rules disagree.
	// A unanimous outcome is returned unchanged.
	StrategyManual Strategy = "manual"
)

// DefaultStrategy is used when none is configured.
const DefaultStrategy = StrategyStrictest

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyStrictest, StrategyPriority, StrategyMostRecent, StrategyManual:
		return true
	}
	return false
}

// ParseStrategy converts a configuration value. An empty string yields the default.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return DefaultStrategy, nil
	}
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown conflict strategy %q (valid: strictest, priority, most_recent, manual)", s)
	}
	return st, nil
}
