package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/multisig"
)

// ErrAuditFailed is returned by Dispatch when the audit record could not be handed off.
var ErrAuditFailed = errors.New("audit record not written")

// Config configures a Dispatcher.
type Config struct {
	// NotifyWorkers is the number of goroutines delivering notifications.
	// Default: 4
	NotifyWorkers int

	// NotifyQueue bounds pending notifications; overflow is dropped.
	// Default: 256
	NotifyQueue int

	// NotifyTimeout bounds one delivery.
	// Default: 10 seconds
	NotifyTimeout time.Duration

	// DedupTTL is how long a setLimit for one rule and transaction is remembered.
	// Default: 24 hours
	DedupTTL time.Duration

	Logger   *slog.Logger
	Observer Observer
	Clock    func() time.Time
}

// Dependencies are the collaborators a Dispatcher calls.
type Dependencies struct {
	Notifier  Notifier
	Approvals ApprovalWorkflow
	Audit     AuditSink
	Limits    LimitSetter
}

// Dispatcher executes decision side effects.
type Dispatcher struct {
	deps   Dependencies
	config Config
	logger *slog.Logger
	dedup  *dedupTable

	queue chan Notification
	wg    sync.WaitGroup

	// intake guards closed; Dispatch holds it shared while enqueueing.
	intake sync.RWMutex
	closed bool
}

// NewDispatcher starts the notification workers. A nil Notifier or
// ApprovalWorkflow falls back to the logging implementations.
func NewDispatcher(cfg Config, deps Dependencies) *Dispatcher {
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = 4
	}
	if cfg.NotifyQueue <= 0 {
		cfg.NotifyQueue = 256
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "policy.dispatch")

	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(logger)
	}
	if deps.Approvals == nil {
		deps.Approvals = NewLogApprovalWorkflow(logger)
	}

	d := &Dispatcher{
		deps:   deps,
		config: cfg,
		logger: logger,
		dedup:  newDedupTable(cfg.DedupTTL, cfg.Clock),
		queue:  make(chan Notification, cfg.NotifyQueue),
	}
	for i := 0; i < cfg.NotifyWorkers; i++ {
		d.wg.Add(1)
		go d.notifyWorker()
	}
	return d
}

// Dispatch runs the decision's actions and writes its audit record. The
// decision may be rewritten to block when an approval request fails. The
// returned error is non-nil only when the audit record was not accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, decision *model.Decision) ([]ActionResult, error) {
	var results []ActionResult

	switch decision.Outcome {
	case model.OutcomeBlock:
		results = append(results, d.result("", model.ActionBlock, ResultApplied, nil))
		d.logger.Warn("transaction blocked",
			"transaction_id", decision.TransactionID,
			"entity_id", decision.EntityID,
			"failure_code", decision.FailureCode,
			"reasons", decision.Reasons,
		)
	case model.OutcomeEscalate:
		results = append(results, d.escalate(ctx, decision))
	}

	if decision.Outcome == model.OutcomeFlag {
		results = append(results, d.result("", model.ActionFlag, ResultApplied, nil))
		d.logger.Warn("transaction flagged for review",
			"transaction_id", decision.TransactionID,
			"entity_id", decision.EntityID,
			"reasons", decision.Reasons,
		)
	}

	for _, ra := range decision.Actions {
		if ra.Action.Type == model.ActionNotify {
			results = append(results, d.notify(decision, ra))
		}
	}

	for _, ra := range decision.Actions {
		if ra.Action.Type == model.ActionSetLimit {
			results = append(results, d.setLimit(ctx, decision, ra))
		}
	}

	if decision.Outcome == model.OutcomeApprove {
		results = append(results, d.result("", model.ActionApprove, ResultApplied, nil))
	}

	if err := d.audit(ctx, decision, results); err != nil {
		return results, err
	}
	return results, nil
}

func (d *Dispatcher) escalate(ctx context.Context, decision *model.Decision) ActionResult {
	req := multisig.Requirement{
		RequiredSignatures: decision.RequiredSignatures,
		TimeDelaySeconds:   decision.TimeDelaySeconds,
		ApproverRoles:      decision.ApproverRoles,
		PolicyIDs:          decision.TriggeredPolicyIDs,
	}
	if len(req.PolicyIDs) > 0 {
		req.GoverningPolicyID = req.PolicyIDs[0]
	}

	if err := d.deps.Approvals.RequestApproval(ctx, decision.TransactionID, req); err != nil {
		d.logger.Error("approval request failed, blocking transaction",
			"transaction_id", decision.TransactionID,
			"required_signatures", req.RequiredSignatures,
			"error", err,
		)
		decision.Block(model.FailureApprovalRequest, fmt.Sprintf("approval request failed: %v", err))
		return d.result("", model.ActionEscalate, ResultFailed, err)
	}

	d.logger.Info("approval requested",
		"transaction_id", decision.TransactionID,
		"required_signatures", req.RequiredSignatures,
		"time_delay_seconds", req.TimeDelaySeconds,
		"approver_roles", req.ApproverRoles,
	)
	return d.result("", model.ActionEscalate, ResultRequested, nil)
}

func (d *Dispatcher) notify(decision *model.Decision, ra model.RuleAction) ActionResult {
	params, ok := notifyParams(ra.Action)
	if !ok {
		return d.result(ra.RuleID, model.ActionNotify, ResultFailed, fmt.Errorf("%w: notify parameters missing", model.ErrMalformedAction))
	}

	n := Notification{
		TransactionID: decision.TransactionID,
		EntityID:      decision.EntityID,
		RuleID:        ra.RuleID,
		Outcome:       decision.Outcome,
		Recipients:    params.Recipients,
		Channel:       params.Channel,
		Template:      params.Template,
		Reasons:       decision.Reasons,
		Timestamp:     d.config.Clock(),
	}

	d.intake.RLock()
	defer d.intake.RUnlock()
	if d.closed {
		return d.result(ra.RuleID, model.ActionNotify, ResultDropped, errors.New("dispatcher closed"))
	}

	select {
	case d.queue <- n:
		return d.result(ra.RuleID, model.ActionNotify, ResultEnqueued, nil)
	default:
		d.logger.Warn("notification queue full, dropping notification",
			"transaction_id", decision.TransactionID,
			"rule_id", ra.RuleID,
			"queue_capacity", d.config.NotifyQueue,
		)
		return d.result(ra.RuleID, model.ActionNotify, ResultDropped, errors.New("notification queue full"))
	}
}

func (d *Dispatcher) setLimit(ctx context.Context, decision *model.Decision, ra model.RuleAction) ActionResult {
	params, ok := setLimitParams(ra.Action)
	if !ok {
		return d.result(ra.RuleID, model.ActionSetLimit, ResultFailed, fmt.Errorf("%w: setLimit parameters missing", model.ErrMalformedAction))
	}
	if d.deps.Limits == nil {
		return d.result(ra.RuleID, model.ActionSetLimit, ResultFailed, errors.New("no limit tracker configured"))
	}

	key := ra.RuleID + "|" + decision.TransactionID
	if !d.dedup.claim(key) {
		return d.result(ra.RuleID, model.ActionSetLimit, ResultDuplicate, nil)
	}

	entity := params.EntityID
	if entity == "" {
		entity = decision.EntityID
	}
	if err := d.deps.Limits.SetLimit(ctx, entity, params.Scope, params.Amount, params.Location); err != nil {
		d.dedup.forget(key)
		d.logger.Error("setLimit action failed",
			"transaction_id", decision.TransactionID,
			"rule_id", ra.RuleID,
			"entity_id", entity,
			"scope", params.Scope,
			"error", err,
		)
		return d.result(ra.RuleID, model.ActionSetLimit, ResultFailed, err)
	}

	r := d.result(ra.RuleID, model.ActionSetLimit, ResultApplied, nil)
	r.Details = map[string]interface{}{
		"entity_id": entity,
		"scope":     string(params.Scope),
		"amount":    params.Amount.String(),
	}
	return r
}

func (d *Dispatcher) audit(ctx context.Context, decision *model.Decision, results []ActionResult) error {
	if d.deps.Audit == nil {
		return nil
	}

	record := &audit.Record{
		TransactionID:      decision.TransactionID,
		EntityID:           decision.EntityID,
		Outcome:            string(decision.Outcome),
		FailureCode:        decision.FailureCode,
		RequiredSignatures: decision.RequiredSignatures,
		TimeDelaySeconds:   decision.TimeDelaySeconds,
		ApproverRoles:      decision.ApproverRoles,
		TriggeredRuleIDs:   decision.TriggeredRuleIDs,
		TriggeredPolicyIDs: decision.TriggeredPolicyIDs,
		Reasons:            decision.Reasons,
		Actor:              audit.DefaultActor,
		Timestamp:          decision.EvaluatedAt,
		SnapshotVersion:    decision.SnapshotVersion,
	}
	for _, r := range results {
		record.Actions = append(record.Actions, r.summary())
	}

	if err := d.deps.Audit.Record(ctx, record.Clone()); err != nil {
		d.logger.Error("failed to write audit record",
			"transaction_id", decision.TransactionID,
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrAuditFailed, err)
	}
	return nil
}

func (d *Dispatcher) result(ruleID string, t model.ActionType, result string, err error) ActionResult {
	if d.config.Observer != nil {
		d.config.Observer.ObserveAction(string(t), result)
	}
	return ActionResult{RuleID: ruleID, Type: t, Result: result, Error: err}
}

func (d *Dispatcher) notifyWorker() {
	defer d.wg.Done()
	for n := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.NotifyTimeout)
		if err := d.deps.Notifier.Notify(ctx, n); err != nil {
			d.logger.Warn("notification delivery failed",
				"transaction_id", n.TransactionID,
				"rule_id", n.RuleID,
				"recipients", n.Recipients,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (d *Dispatcher) Close() error {
	d.intake.Lock()
	if d.closed {
		d.intake.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.intake.Unlock()

	d.wg.Wait()
	return nil
}

func notifyParams(a model.Action) (model.NotifyParams, bool) {
	switch p := a.Params.(type) {
	case model.NotifyParams:
		return p, true
	case *model.NotifyParams:
		if p != nil {
			return *p, true
		}
	}
	return model.NotifyParams{}, false
}

func setLimitParams(a model.Action) (model.SetLimitParams, bool) {
	switch p := a.Params.(type) {
	case model.SetLimitParams:
		return p, true
	case *model.SetLimitParams:
		if p != nil {
			return *p, true
		}
	}
	return model.SetLimitParams{}, false
}
