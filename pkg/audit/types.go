package audit

import (
	"context"
	"slices"
	"time"
)

// DefaultActor is recorded when a decision was produced without a human operator.
const DefaultActor = "system"

// ActionSummary is the dispatched result of one action.
type ActionSummary struct {
	RuleID string `json:"ruleId,omitempty"`
	Type   string `json:"type"`
	Result string `json:"result"`
	Detail string `json:"detail,omitempty"`
}

// Record is one immutable audit entry.
type Record struct {
	ID                 string          `json:"id"`
	TransactionID      string          `json:"transactionId"`
	EntityID           string          `json:"entityId"`
	Outcome            string          `json:"outcome"`
	FailureCode        string          `json:"failureCode,omitempty"`
	RequiredSignatures int             `json:"requiredSignatures"`
	TimeDelaySeconds   int             `json:"timeDelaySeconds"`
	ApproverRoles      []string        `json:"approverRoles,omitempty"`
	TriggeredRuleIDs   []string        `json:"triggeredRuleIds,omitempty"`
	TriggeredPolicyIDs []string        `json:"triggeredPolicyIds,omitempty"`
	Reasons            []string        `json:"reasons,omitempty"`
	Actions            []ActionSummary `json:"actions,omitempty"`
	Actor              string          `json:"actor"`
	Timestamp          time.Time       `json:"timestamp"`
	SnapshotVersion    int64           `json:"snapshotVersion"`
	PrevHash           string          `json:"prevHash,omitempty"`
	Hash               string          `json:"hash,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.ApproverRoles = slices.Clone(r.ApproverRoles)
	c.TriggeredRuleIDs = slices.Clone(r.TriggeredRuleIDs)
	c.TriggeredPolicyIDs = slices.Clone(r.TriggeredPolicyIDs)
	c.Reasons = slices.Clone(r.Reasons)
	c.Actions = slices.Clone(r.Actions)
	return &c
}

// Sort orders for Query.SortOrder.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Query filters audit records. Zero-valued fields do not filter.
type Query struct {
	TransactionID string
	EntityID      string
	Outcome       string
	RuleID        string
	PolicyID      string

	// StartTime and EndTime bound Timestamp inclusively.
	StartTime *time.Time
	EndTime   *time.Time

	Limit  int
	Offset int

	// SortOrder orders by Timestamp; records are returned newest first by default.
	SortOrder string
}

// Matches reports whether r satisfies every filter of q.
func (q *Query) Matches(r *Record) bool {
	if q == nil {
		return true
	}
	if q.TransactionID != "" && r.TransactionID != q.TransactionID {
		return false
	}
	if q.EntityID != "" && r.EntityID != q.EntityID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.RuleID != "" && !slices.Contains(r.TriggeredRuleIDs, q.RuleID) {
		return false
	}
	if q.PolicyID != "" && !slices.Contains(r.TriggeredPolicyIDs, q.PolicyID) {
		return false
	}
	if q.StartTime != nil && r.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

// Storage persists audit records. Implementations never modify a stored record.
type Storage interface {
	// Store appends a record. Storing an ID twice fails with ErrDuplicateRecord.
	Store(ctx context.Context, record *Record) error

	// Query returns matching records ordered by Timestamp.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of matching records, ignoring Limit and Offset.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes matching records and returns how many were removed.
	// Only the retention pruner deletes records.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases resources held by the backend.
	Close() error
}
