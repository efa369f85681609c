package dispatch

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/multisig"
)

// Results recorded for each dispatched action.
const (
	ResultApplied   = "applied"
	ResultRequested = "requested"
	ResultEnqueued  = "enqueued"
	ResultDuplicate = "duplicate"
	ResultDropped   = "dropped"
	ResultFailed    = "failed"
)

// ActionResult describes what happened to one action.
type ActionResult struct {
	RuleID  string
	Type    model.ActionType
	Result  string
	Details map[string]interface{}
	Error   error
}

// Success reports whether the action took effect.
func (r ActionResult) Success() bool {
	return r.Error == nil && r.Result != ResultFailed && r.Result != ResultDropped
}

func (r ActionResult) summary() audit.ActionSummary {
	s := audit.ActionSummary{RuleID: r.RuleID, Type: string(r.Type), Result: r.Result}
	if r.Error != nil {
		s.Detail = r.Error.Error()
	}
	return s
}

// Notification is delivered to a Notifier for each notify action.
type Notification struct {
	TransactionID string        `json:"transactionId"`
	EntityID      string        `json:"entityId"`
	RuleID        string        `json:"ruleId"`
	Outcome       model.Outcome `json:"outcome"`
	Recipients    []string      `json:"recipients"`
	Channel       string        `json:"channel,omitempty"`
	Template      string        `json:"template,omitempty"`
	Reasons       []string      `json:"reasons,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ApprovalWorkflow opens a signing request for an escalated transaction.
type ApprovalWorkflow interface {
	RequestApproval(ctx context.Context, transactionID string, req multisig.Requirement) error
}

// AuditSink receives the audit record of every dispatch.
type AuditSink interface {
	Record(ctx context.Context, record *audit.Record) error
}

// LimitSetter applies setLimit actions. *spend.Tracker implements it.
type LimitSetter interface {
	SetLimit(ctx context.Context, entityID string, scope model.LimitScope, limit decimal.Decimal, location string) error
}

// Observer is notified of each dispatched action.
type Observer interface {
	ObserveAction(actionType, result string)
}
