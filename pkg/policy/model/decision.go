package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome is the authorization verdict for a transaction.
type Outcome string

const (
	OutcomeApprove  Outcome = "approve"
	OutcomeFlag     Outcome = "flag"
	OutcomeEscalate Outcome = "escalate"
	OutcomeBlock    Outcome = "block"
)

// Severity ranks outcomes for strictest resolution: block > escalate > flag > approve.
func (o Outcome) Severity() int {
	switch o {
	case OutcomeBlock:
		return 3
	case OutcomeEscalate:
		return 2
	case OutcomeFlag:
		return 1
	case OutcomeApprove:
		return 0
	}
	return -1
}

// Stricter returns the more restrictive of two outcomes.
func Stricter(a, b Outcome) Outcome {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// OutcomeForAction maps a gating action type to its outcome.
func OutcomeForAction(t ActionType) (Outcome, bool) {
	switch t {
	case ActionBlock:
		return OutcomeBlock, true
	case ActionEscalate:
		return OutcomeEscalate, true
	case ActionFlag:
		return OutcomeFlag, true
	case ActionApprove:
		return OutcomeApprove, true
	}
	return "", false
}

// Failure codes carried on fail-closed decisions.
const (
	FailureMissingRequiredField     = "MissingRequiredField"
	FailureUnsatisfiableRequirement = "UnsatisfiableRequirement"
	FailureManualResolution         = "ManualResolutionRequired"
	FailureSpendLimitExceeded       = "SpendLimitExceeded"
	FailureApprovalRequest          = "ApprovalRequestFailed"
	FailureInternal                 = "InternalError"
)

// RuleAction is an action scheduled for dispatch together with the rule that produced it.
type RuleAction struct {
	RuleID string
	Action Action
}

// TraceEntry records how a single rule or policy evaluated.
type TraceEntry struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Matched  bool          `json:"matched"`
	Outcome  Outcome       `json:"outcome,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Decision is the result of evaluating one transaction.
type Decision struct {
	TransactionID      string    `json:"transactionId"`
	EntityID           string    `json:"entityId"`
	Outcome            Outcome   `json:"outcome"`
	RequiredSignatures int       `json:"requiredSignatures"`
	TimeDelaySeconds   int       `json:"timeDelaySeconds"`
	ApproverRoles      []string  `json:"approverRoles,omitempty"`
	TriggeredRuleIDs   []string  `json:"triggeredRuleIds"`
	TriggeredPolicyIDs []string  `json:"triggeredPolicyIds"`
	Reasons            []string  `json:"reasons"`
	FailureCode        string    `json:"failureCode,omitempty"`
	Strategy           string    `json:"strategy,omitempty"`
	SnapshotVersion    int64     `json:"snapshotVersion"`
	EvaluatedAt        time.Time `json:"evaluatedAt"`

	// Trace holds per-rule results when tracing is enabled.
	Trace []TraceEntry `json:"trace,omitempty"`

	// Actions are the side effects of the triggered rules, in rule precedence order.
	Actions []RuleAction `json:"-"`
}

// Block turns the decision into a fail-closed block with the given code and reason.
// Signature requirements are cleared since a blocked transaction is never signed.
func (d *Decision) Block(code, reason string) {
	d.Outcome = OutcomeBlock
	d.FailureCode = code
	d.RequiredSignatures = 0
	d.TimeDelaySeconds = 0
	d.ApproverRoles = nil
	if reason != "" {
		d.Reasons = append(d.Reasons, reason)
	}
}

// TransactionContext is the input to an evaluation.
type TransactionContext struct {
	TransactionID string          `json:"transactionId" yaml:"transactionId"`
	EntityID      string          `json:"entityId" yaml:"entityId"`
	WalletID      string          `json:"walletId,omitempty" yaml:"walletId,omitempty"`
	Amount        decimal.Decimal `json:"amount" yaml:"-"`
	Currency      string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	Timestamp     time.Time       `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`

	// Fields carries additional attributes such as riskScore or country.
	Fields map[string]interface{} `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldMap flattens the transaction into the map read by conditions.
// Built-in attributes take precedence over entries of Fields with the same key.
func (tx *TransactionContext) FieldMap() map[string]interface{} {
	out := make(map[string]interface{}, len(tx.Fields)+6)
	for k, v := range tx.Fields {
		out[k] = v
	}
	out["transactionId"] = tx.TransactionID
	out["entityId"] = tx.EntityID
	out["amount"] = tx.Amount
	if tx.WalletID != "" {
		out["walletId"] = tx.WalletID
	}
	if tx.Currency != "" {
		out["currency"] = tx.Currency
	}
	if !tx.Timestamp.IsZero() {
		out["timestamp"] = tx.Timestamp
		out["hour"] = tx.Timestamp.Hour()
		out["weekday"] = tx.Timestamp.Weekday().String()
	}
	return out
}
