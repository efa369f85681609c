package spend

import (
	"time"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/policy/model"
)

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// windowStart returns the start of the window containing t.
func windowStart(scope model.LimitScope, t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	switch scope {
	case model.ScopeDaily:
		return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	case model.ScopeMonthly:
		return time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, loc)
	}
	return time.Time{}
}

// windowEnd returns the exclusive end of the window starting at start.
func windowEnd(scope model.LimitScope, start time.Time) time.Time {
	switch scope {
	case model.ScopeDaily:
		return start.AddDate(0, 0, 1)
	case model.ScopeMonthly:
		return start.AddDate(0, 1, 0)
	}
	return time.Time{}
}

// rollover resets usage when now falls in a later window than the state's.
// It reports whether the state changed.
func rollover(state *model.SpendLimitState, now time.Time) bool {
	if state.Scope == model.ScopePerTransaction {
		return false
	}
	current := windowStart(state.Scope, now, loadLocation(state.Location))
	if !current.After(state.WindowStart) {
		return false
	}
	state.CurrentUsage = decimal.Zero
	state.WindowStart = current
	return true
}
