package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"monay-hq/authz/pkg/limits/spend"
	"monay-hq/authz/pkg/policy/condition"
	"monay-hq/authz/pkg/policy/dispatch"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/multisig"
	"monay-hq/authz/pkg/policy/resolve"
	"monay-hq/authz/pkg/policy/store"
	"monay-hq/authz/pkg/telemetry/tracing"
)

// RuleSource provides the current rule snapshot. Implemented by *store.Store.
type RuleSource interface {
	Snapshot() *store.Snapshot
}

// SpendTracker is the reservation protocol of *spend.Tracker.
type SpendTracker interface {
	CheckAndReserve(ctx context.Context, entityID string, scope model.LimitScope, amount decimal.Decimal) (*spend.Reservation, error)
	Commit(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
	Close() error
}

// ActionDispatcher executes decisions. Implemented by *dispatch.Dispatcher.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, decision *model.Decision) ([]dispatch.ActionResult, error)
	Close() error
}

// Observer receives evaluation results, typically for metrics.
type Observer interface {
	ObserveEvaluation(outcome model.Outcome, duration time.Duration)
	ObserveRuleHit(ruleID string)
}

// Dependencies are the components an Engine orchestrates.
type Dependencies struct {
	Rules      RuleSource
	Limits     SpendTracker
	Dispatcher ActionDispatcher
}

// Engine evaluates transactions. It is safe for concurrent use.
type Engine struct {
	config   Config
	deps     Dependencies
	deriver  *condition.Deriver
	clock    func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer

	pendingMu sync.Mutex
	pending   map[string]*pendingTx

	mu     sync.RWMutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an engine. Rules is required; a nil Limits disables spend
// limit checks and a nil Dispatcher skips side effects and audit.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("%w: rule source cannot be nil", ErrInvalidConfig)
	}
	if cfg.ConflictStrategy == "" {
		cfg.ConflictStrategy = resolve.DefaultStrategy
	}
	if cfg.PendingTTL == 0 {
		cfg.PendingTTL = 72 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer(tracing.InstrumentationName)
	}
	logger := cfg.Logger.With("component", "policy.engine")

	deriver, err := condition.NewDeriver(cfg.DerivedFields, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e := &Engine{
		config:   cfg,
		deps:     deps,
		deriver:  deriver,
		clock:    cfg.Clock,
		logger:   logger,
		tracer:   cfg.Tracer,
		observer: cfg.Observer,
		pending:  make(map[string]*pendingTx),
		stopCh:   make(chan struct{}),
	}

	e.wg.Add(1)
	go e.janitor(pendingSweepInterval(cfg.PendingTTL))
	return e, nil
}

// evaluation carries the state of one Evaluate call.
type evaluation struct {
	tx       *model.TransactionContext
	start    time.Time
	snapshot *store.Snapshot
	fields   map[string]interface{}

	reservations []*spend.Reservation
	failures     []failure
	trace        []model.TraceEntry
}

// failure is a reason the decision must be block regardless of rule outcomes.
type failure struct {
	code   string
	reason string
}

func (ev *evaluation) fail(code, reason string) {
	ev.failures = append(ev.failures, failure{code: code, reason: reason})
}

// Evaluate decides a transaction. The error is non-nil only for a
// malformed request or a closed engine; every other problem yields a block
// decision.
func (e *Engine) Evaluate(ctx context.Context, tx *model.TransactionContext) (decision *model.Decision, err error) {
	if err := validateRequest(tx); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	ctx, span := e.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(tracing.TransactionAttributes(tx)...),
	)
	defer func() {
		if decision != nil {
			tracing.SetDecisionAttributes(span, decision)
		}
		span.End()
	}()

	ev := &evaluation{tx: tx, start: e.clock()}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic during evaluation, failing closed",
				"transaction_id", tx.TransactionID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			e.releaseAll(ctx, ev.reservations)
			e.removePending(tx.TransactionID, ev)
			decision = e.internalBlock(ev, fmt.Sprintf("internal error: %v", r))
			e.dispatchSafely(ctx, decision)
			e.observe(decision, ev.start)
			err = nil
		}
	}()

	decision = e.evaluate(ctx, ev)
	e.observe(decision, ev.start)
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, ev *evaluation) *model.Decision {
	tx := ev.tx

	ev.snapshot = e.deps.Rules.Snapshot()
	if ev.snapshot == nil {
		decision := e.internalBlock(ev, "no rule snapshot available")
		e.dispatchSafely(ctx, decision)
		return decision
	}

	ev.fields = tx.FieldMap()
	if err := e.reserve(ctx, ev); err != nil {
		e.releaseAll(ctx, ev.reservations)
		ev.reservations = nil
		e.logger.Error("spend limit check failed, failing closed",
			"transaction_id", tx.TransactionID,
			"entity_id", tx.EntityID,
			"error", err,
		)
		decision := e.internalBlock(ev, "spend limit check failed")
		e.dispatchSafely(ctx, decision)
		return decision
	}
	ev.fields = e.deriver.Apply(ev.fields)

	outcomes := e.evaluateRules(ev)
	req := e.evaluatePolicies(ev)

	resolved := resolve.Resolve(outcomes, req, e.config.ConflictStrategy)
	decision := &resolved
	decision.TransactionID = tx.TransactionID
	decision.EntityID = tx.EntityID
	decision.SnapshotVersion = ev.snapshot.Version
	decision.EvaluatedAt = ev.start
	if e.config.Trace {
		decision.Trace = ev.trace
	}

	if len(ev.failures) > 0 {
		decision.Block(ev.failures[0].code, "")
		for _, f := range ev.failures {
			decision.Reasons = append(decision.Reasons, f.reason)
		}
	}

	// Auto-committed reservations stay held until the decision is audited,
	// so a decision that fails closed during dispatch never consumes limit.
	commit := e.settle(ctx, ev, decision)

	if e.deps.Dispatcher != nil {
		outcome := decision.Outcome
		if _, err := e.deps.Dispatcher.Dispatch(ctx, decision); err != nil {
			e.logger.Error("decision dispatch failed, failing closed",
				"transaction_id", tx.TransactionID,
				"outcome", outcome,
				"error", err,
			)
			decision.Block(model.FailureInternal, "audit record not written")
		}
		if outcome != model.OutcomeBlock && decision.Outcome == model.OutcomeBlock {
			if commit {
				e.releaseAll(ctx, ev.reservations)
				commit = false
			}
			e.dropPending(ctx, tx.TransactionID)
		}
	}

	if commit && !e.commit(ctx, ev, decision) {
		e.dispatchSafely(ctx, decision)
	}

	e.logger.Debug("transaction evaluated",
		"transaction_id", tx.TransactionID,
		"entity_id", tx.EntityID,
		"outcome", decision.Outcome,
		"triggered_rules", decision.TriggeredRuleIDs,
		"triggered_policies", decision.TriggeredPolicyIDs,
		"snapshot_version", decision.SnapshotVersion,
		"duration_ms", e.clock().Sub(ev.start).Milliseconds(),
	)
	return decision
}

// reserve holds the transaction amount in every configured scope and
// exposes the results as spend.<scope>.* fields. A rejected scope is
// recorded as a failure; only storage errors are returned.
func (e *Engine) reserve(ctx context.Context, ev *evaluation) error {
	if e.deps.Limits == nil {
		return nil
	}
	for _, scope := range e.config.LimitScopes {
		res, err := e.deps.Limits.CheckAndReserve(ctx, ev.tx.EntityID, scope, ev.tx.Amount)
		if err != nil {
			return fmt.Errorf("scope %s: %w", scope, err)
		}
		if res.Unlimited {
			continue
		}

		prefix := "spend." + string(scope) + "."
		ev.fields[prefix+"limit"] = res.Limit
		ev.fields[prefix+"usage"] = res.Usage
		ev.fields[prefix+"remaining"] = res.Remaining
		ev.fields[prefix+"exceeded"] = !res.OK

		if !res.OK {
			ev.fail(model.FailureSpendLimitExceeded, fmt.Sprintf("%s spend limit exceeded: %s remaining of %s",
				scope, res.Remaining.StringFixed(2), res.Limit.StringFixed(2)))
			continue
		}
		if res.ID != "" {
			ev.reservations = append(ev.reservations, res)
		}
	}
	return nil
}

// evaluateRules runs every active rule and returns the outcomes of those
// that matched, in precedence order.
func (e *Engine) evaluateRules(ev *evaluation) []resolve.RuleOutcome {
	var outcomes []resolve.RuleOutcome
	for _, r := range ev.snapshot.ActiveRules() {
		var started time.Time
		if e.config.Trace {
			started = e.clock()
		}

		matched, err := condition.EvaluateRequired(r.Conditions, ev.fields, r.RequiredFields)
		entry := model.TraceEntry{ID: r.ID, Kind: "rule", Matched: matched}

		switch {
		case err != nil:
			entry.Error = err.Error()
			var missing *model.MissingFieldError
			if errors.As(err, &missing) {
				ev.fail(model.FailureMissingRequiredField, fmt.Sprintf("rule %q: %v", r.ID, err))
			} else {
				// Stored rules are validated, so this is an inconsistency.
				e.logger.Error("rule evaluation failed", "rule_id", r.ID, "error", err)
				ev.fail(model.FailureInternal, fmt.Sprintf("rule %q could not be evaluated", r.ID))
			}
		case matched:
			o := resolve.NewRuleOutcome(r)
			entry.Outcome = o.Outcome
			outcomes = append(outcomes, o)
			if e.observer != nil {
				e.observer.ObserveRuleHit(r.ID)
			}
		}

		if e.config.Trace {
			entry.Duration = e.clock().Sub(started)
			ev.trace = append(ev.trace, entry)
		}
	}
	return outcomes
}

// evaluatePolicies matches enforced multisig policies and aggregates them.
func (e *Engine) evaluatePolicies(ev *evaluation) multisig.Requirement {
	policies := ev.snapshot.EnforcedPolicies()
	if len(policies) == 0 {
		return multisig.Requirement{}
	}

	matched, err := multisig.Match(policies, ev.tx.WalletID, ev.fields)
	if err != nil {
		var missing *model.MissingFieldError
		if errors.As(err, &missing) {
			ev.fail(model.FailureMissingRequiredField, err.Error())
		} else {
			e.logger.Error("multisig policy evaluation failed", "error", err)
			ev.fail(model.FailureInternal, "multisig policies could not be evaluated")
		}
		return multisig.Requirement{}
	}

	if e.config.Trace {
		hit := make(map[string]struct{}, len(matched))
		for _, p := range matched {
			hit[p.ID] = struct{}{}
		}
		for _, p := range policies {
			if !p.AppliesToWallet(ev.tx.WalletID) {
				continue
			}
			_, ok := hit[p.ID]
			ev.trace = append(ev.trace, model.TraceEntry{ID: p.ID, Kind: "policy", Matched: ok})
		}
	}

	req, err := multisig.Aggregate(matched)
	if err != nil {
		var unsat *model.UnsatisfiableError
		if errors.As(err, &unsat) {
			e.logger.Error("multisig configuration alert: requirement cannot be satisfied",
				"transaction_id", ev.tx.TransactionID,
				"policy_ids", unsat.PolicyIDs,
				"required_signatures", unsat.RequiredSignatures,
				"approver_roles", unsat.ApproverRoles,
			)
			ev.fail(model.FailureUnsatisfiableRequirement, err.Error())
		} else {
			ev.fail(model.FailureInternal, err.Error())
		}
	}
	return req
}

// settle releases or holds the reservations of one evaluation according to
// the decision and reports whether they still have to be committed. Held
// transactions are tracked even with no reservations so that the approval
// workflow can always Confirm them.
func (e *Engine) settle(ctx context.Context, ev *evaluation, decision *model.Decision) bool {
	switch decision.Outcome {
	case model.OutcomeBlock:
		e.releaseAll(ctx, ev.reservations)
		return false

	case model.OutcomeApprove, model.OutcomeFlag:
		if !e.config.AutoCommit {
			e.hold(ctx, ev)
			return false
		}
		return len(ev.reservations) > 0

	default:
		e.hold(ctx, ev)
		return false
	}
}

// commit debits the reservations of an approved evaluation. On failure the
// remaining reservations are released, decision is turned into a block and
// false is returned.
func (e *Engine) commit(ctx context.Context, ev *evaluation, decision *model.Decision) bool {
	for i, res := range ev.reservations {
		if err := e.deps.Limits.Commit(ctx, res.ID); err != nil {
			e.logger.Error("reservation commit failed, failing closed",
				"transaction_id", ev.tx.TransactionID,
				"reservation_id", res.ID,
				"scope", res.Scope,
				"error", err,
			)
			e.releaseAll(ctx, ev.reservations[i+1:])
			code := model.FailureInternal
			if errors.Is(err, model.ErrLimitExceeded) {
				code = model.FailureSpendLimitExceeded
			}
			decision.Block(code, fmt.Sprintf("%s reservation could not be committed", res.Scope))
			return false
		}
	}
	return true
}

func (e *Engine) releaseAll(ctx context.Context, reservations []*spend.Reservation) {
	if e.deps.Limits == nil {
		return
	}
	for _, res := range reservations {
		if err := e.deps.Limits.Release(ctx, res.ID); err != nil {
			e.logger.Warn("reservation release failed",
				"reservation_id", res.ID,
				"scope", res.Scope,
				"error", err,
			)
		}
	}
}

// internalBlock builds a fail-closed decision for ev.
func (e *Engine) internalBlock(ev *evaluation, reason string) *model.Decision {
	d := &model.Decision{
		TransactionID:      ev.tx.TransactionID,
		EntityID:           ev.tx.EntityID,
		TriggeredRuleIDs:   []string{},
		TriggeredPolicyIDs: []string{},
		EvaluatedAt:        ev.start,
	}
	if ev.snapshot != nil {
		d.SnapshotVersion = ev.snapshot.Version
	}
	d.Block(model.FailureInternal, reason)
	return d
}

// dispatchSafely dispatches a fail-closed decision so that it is audited.
// It never panics.
func (e *Engine) dispatchSafely(ctx context.Context, decision *model.Decision) {
	if e.deps.Dispatcher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while dispatching fail-closed decision",
				"transaction_id", decision.TransactionID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if _, err := e.deps.Dispatcher.Dispatch(ctx, decision); err != nil {
		e.logger.Error("fail-closed decision dispatch failed",
			"transaction_id", decision.TransactionID,
			"error", err,
		)
	}
}

func (e *Engine) observe(decision *model.Decision, start time.Time) {
	if e.observer != nil && decision != nil {
		e.observer.ObserveEvaluation(decision.Outcome, e.clock().Sub(start))
	}
}

// Close stops the engine, then closes the dispatcher and the spend tracker.
// Held reservations are not released.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	var errs []error
	if e.deps.Dispatcher != nil {
		if err := e.deps.Dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispatcher: %w", err))
		}
	}
	if e.deps.Limits != nil {
		if err := e.deps.Limits.Close(); err != nil {
			errs = append(errs, fmt.Errorf("spend tracker: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validateRequest(tx *model.TransactionContext) error {
	switch {
	case tx == nil:
		return &RequestError{Field: "transaction", Reason: "is required"}
	case tx.TransactionID == "":
		return &RequestError{Field: "transactionId", Reason: "is required"}
	case tx.EntityID == "":
		return &RequestError{Field: "entityId", Reason: "is required"}
	case tx.Amount.IsNegative():
		return &RequestError{Field: "amount", Reason: "cannot be negative"}
	}
	return nil
}
