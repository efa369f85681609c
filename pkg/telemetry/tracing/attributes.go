package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"monay-hq/authz/pkg/policy/model"
)

// Attribute keys for authorization spans.
const (
	AttrTransactionID   = "authz.transaction_id"
	AttrEntityID        = "authz.entity_id"
	AttrOutcome         = "authz.outcome"
	AttrFailureCode     = "authz.failure_code"
	AttrSnapshotVersion = "authz.snapshot_version"
	AttrTriggeredRules  = "authz.triggered_rules"
	AttrSignatures      = "authz.required_signatures"
)

// TransactionAttributes identify the transaction being evaluated. Amounts
// and counterparties are not recorded on spans.
func TransactionAttributes(tx *model.TransactionContext) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTransactionID, tx.TransactionID),
		attribute.String(AttrEntityID, tx.EntityID),
	}
}

// SetDecisionAttributes records the outcome on span. An internal failure
// marks the span as an error.
func SetDecisionAttributes(span trace.Span, d *model.Decision) {
	span.SetAttributes(
		attribute.String(AttrOutcome, string(d.Outcome)),
		attribute.Int64(AttrSnapshotVersion, d.SnapshotVersion),
		attribute.StringSlice(AttrTriggeredRules, d.TriggeredRuleIDs),
		attribute.Int(AttrSignatures, d.RequiredSignatures),
	)
	if d.FailureCode != "" {
		span.SetAttributes(attribute.String(AttrFailureCode, d.FailureCode))
	}
	if d.FailureCode == model.FailureInternal {
		span.SetStatus(codes.Error, "internal error")
	}
}

// HTTPAttributes describe an inbound request.
func HTTPAttributes(r *http.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.method", r.Method),
		attribute.String("http.route", r.URL.Path),
	}
}

// SetHTTPStatus records the response status; 5xx marks the span as an error.
func SetHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
