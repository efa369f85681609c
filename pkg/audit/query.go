package audit

import "fmt"

const (
	// DefaultLimit is the number of records returned when Query.Limit is zero.
	DefaultLimit = 100

	// MaxLimit is the largest Query.Limit accepted.
	MaxLimit = 10000
)

// ValidateQuery checks the paging, ordering and time range of q.
func ValidateQuery(q *Query) error {
	if q == nil {
		return nil
	}
	if q.Limit < 0 {
		return NewQueryError(q, fmt.Errorf("limit must be >= 0, got %d", q.Limit))
	}
	if q.Limit > MaxLimit {
		return NewQueryError(q, fmt.Errorf("limit must be <= %d, got %d", MaxLimit, q.Limit))
	}
	if q.Offset < 0 {
		return NewQueryError(q, fmt.Errorf("offset must be >= 0, got %d", q.Offset))
	}
	if q.SortOrder != "" && q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return NewQueryError(q, fmt.Errorf("invalid sort order: %s (must be 'asc' or 'desc')", q.SortOrder))
	}
	if q.StartTime != nil && q.EndTime != nil && q.StartTime.After(*q.EndTime) {
		return NewQueryError(q, fmt.Errorf("start_time must be before end_time"))
	}
	return nil
}

// EffectiveLimit returns the page size a backend should apply.
func (q *Query) EffectiveLimit() int {
	if q == nil || q.Limit == 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Descending reports whether results are ordered newest first.
func (q *Query) Descending() bool {
	return q == nil || q.SortOrder != SortAsc
}
