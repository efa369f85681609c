package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/policy/model"
	"monay-hq/authz/pkg/policy/multisig"
)

type captureAudit struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (a *captureAudit) Record(ctx context.Context, r *audit.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, r)
	return nil
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []Notification
	block chan struct{}
}

func (n *captureNotifier) Notify(ctx context.Context, note Notification) error {
	if n.block != nil {
		<-n.block
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type stubApprovals struct {
	err  error
	reqs []multisig.Requirement
}

func (s *stubApprovals) RequestApproval(ctx context.Context, txID string, req multisig.Requirement) error {
	s.reqs = append(s.reqs, req)
	return s.err
}

type limitCall struct {
	entity string
	scope  model.LimitScope
	amount decimal.Decimal
}

type stubLimits struct {
	mu    sync.Mutex
	calls []limitCall
	err   error
}

func (s *stubLimits) SetLimit(ctx context.Context, entityID string, scope model.LimitScope, limit decimal.Decimal, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, limitCall{entityID, scope, limit})
	return s.err
}

func escalated() *model.Decision {
	return &model.Decision{
		TransactionID:      "tx-1",
		EntityID:           "ent-1",
		Outcome:            model.OutcomeEscalate,
		RequiredSignatures: 3,
		TimeDelaySeconds:   3600,
		ApproverRoles:      []string{"cfo", "ceo", "treasurer"},
		TriggeredRuleIDs:   []string{"large-amount", "notify-ops", "tighten"},
		TriggeredPolicyIDs: []string{"treasury"},
		Reasons:            []string{"amount above threshold"},
		SnapshotVersion:    4,
		EvaluatedAt:        time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		Actions: []model.RuleAction{
			{RuleID: "tighten", Action: model.NewAction(model.SetLimitParams{Scope: model.ScopeDaily, Amount: decimal.NewFromInt(500)})},
			{RuleID: "large-amount", Action: model.NewAction(model.EscalateParams{ApprovalLevels: 2})},
			{RuleID: "notify-ops", Action: model.NewAction(model.NotifyParams{Recipients: []string{"ops@example.com"}})},
		},
	}
}

func TestDispatch_FixedOrderAndSingleAuditRecord(t *testing.T) {
	sink := &captureAudit{}
	notifier := &captureNotifier{}
	approvals := &stubApprovals{}
	limits := &stubLimits{}

	d := NewDispatcher(Config{}, Dependencies{Notifier: notifier, Approvals: approvals, Audit: sink, Limits: limits})

	decision := escalated()
	results, err := d.Dispatch(context.Background(), decision)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Close()

	wantTypes := []model.ActionType{model.ActionEscalate, model.ActionNotify, model.ActionSetLimit}
	if len(results) != len(wantTypes) {
		t.Fatalf("Expected %d results, got %d: %+v", len(wantTypes), len(results), results)
	}
	for i, want := range wantTypes {
		if results[i].Type != want {
			t.Errorf("Expected result %d to be %s, got %s", i, want, results[i].Type)
		}
		if !results[i].Success() {
			t.Errorf("Expected result %d to succeed, got %+v", i, results[i])
		}
	}

	if len(approvals.reqs) != 1 || approvals.reqs[0].RequiredSignatures != 3 || approvals.reqs[0].GoverningPolicyID != "treasury" {
		t.Errorf("Expected one approval request for 3 signatures, got %+v", approvals.reqs)
	}
	if len(limits.calls) != 1 || limits.calls[0].entity != "ent-1" || !limits.calls[0].amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected setLimit on the transaction entity, got %+v", limits.calls)
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Recipients[0] != "ops@example.com" {
		t.Errorf("Expected one delivered notification, got %+v", notifier.notes)
	}

	if len(sink.records) != 1 {
		t.Fatalf("Expected exactly 1 audit record, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Outcome != "escalate" || rec.RequiredSignatures != 3 || rec.SnapshotVersion != 4 {
		t.Errorf("Expected audit record to mirror the decision, got %+v", rec)
	}
	if len(rec.Actions) != 3 || rec.Actions[0].Result != ResultRequested {
		t.Errorf("Expected 3 action summaries starting with requested, got %+v", rec.Actions)
	}
	if rec.Actor != audit.DefaultActor {
		t.Errorf("Expected actor %s, got %s", audit.DefaultActor, rec.Actor)
	}
}

func TestDispatch_ApprovalFailureBlocks(t *testing.T) {
	sink := &captureAudit{}
	approvals := &stubApprovals{err: errors.New("signing service unavailable")}
	d := NewDispatcher(Config{}, Dependencies{Approvals: approvals, Audit: sink, Limits: &stubLimits{}})
	defer d.Close()

	decision := escalated()
	results, err := d.Dispatch(context.Background(), decision)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if decision.Outcome != model.OutcomeBlock {
		t.Errorf("Expected decision to fail closed to block, got %s", decision.Outcome)
	}
	if decision.FailureCode != model.FailureApprovalRequest {
		t.Errorf("Expected failure code %s, got %s", model.FailureApprovalRequest, decision.FailureCode)
	}
	if decision.RequiredSignatures != 0 {
		t.Errorf("Expected signatures cleared on block, got %d", decision.RequiredSignatures)
	}
	if results[0].Type != model.ActionEscalate || results[0].Result != ResultFailed {
		t.Errorf("Expected failed escalate result first, got %+v", results[0])
	}
	if len(sink.records) != 1 || sink.records[0].Outcome != "block" {
		t.Errorf("Expected audit record with the rewritten block outcome, got %+v", sink.records)
	}
}

func TestDispatch_Outcomes(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		want    model.ActionType
	}{
		{model.OutcomeBlock, model.ActionBlock},
		{model.OutcomeFlag, model.ActionFlag},
		{model.OutcomeApprove, model.ActionApprove},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			sink := &captureAudit{}
			d := NewDispatcher(Config{}, Dependencies{Audit: sink})
			defer d.Close()

			results, err := d.Dispatch(context.Background(), &model.Decision{TransactionID: "tx", Outcome: tt.outcome})
			if err != nil {
				t.Fatalf("Dispatch failed: %v", err)
			}
			if len(results) != 1 || results[0].Type != tt.want {
				t.Errorf("Expected single %s result, got %+v", tt.want, results)
			}
			if len(sink.records) != 1 {
				t.Errorf("Expected 1 audit record, got %d", len(sink.records))
			}
		})
	}
}

func TestDispatch_SetLimitDeduplicated(t *testing.T) {
	limits := &stubLimits{}
	d := NewDispatcher(Config{}, Dependencies{Limits: limits})
	defer d.Close()

	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(context.Background(), escalated()); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	if len(limits.calls) != 1 {
		t.Errorf("Expected setLimit once per rule and transaction, got %d", len(limits.calls))
	}

	other := escalated()
	other.TransactionID = "tx-2"
	results, _ := d.Dispatch(context.Background(), other)
	if len(limits.calls) != 2 {
		t.Errorf("Expected a new transaction to apply setLimit again, got %d calls", len(limits.calls))
	}
	if results[len(results)-1].Result != ResultApplied {
		t.Errorf("Expected applied, got %s", results[len(results)-1].Result)
	}
}

func TestDispatch_SetLimitFailureIsRetryable(t *testing.T) {
	limits := &stubLimits{err: errors.New("backend down")}
	d := NewDispatcher(Config{}, Dependencies{Limits: limits})
	defer d.Close()

	results, err := d.Dispatch(context.Background(), escalated())
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	last := results[len(results)-1]
	if last.Type != model.ActionSetLimit || last.Result != ResultFailed {
		t.Errorf("Expected failed setLimit, got %+v", last)
	}

	limits.err = nil
	d.Dispatch(context.Background(), escalated())
	if len(limits.calls) != 2 {
		t.Errorf("Expected retry after failure, got %d calls", len(limits.calls))
	}
}

func TestDispatch_NotifyQueueFullDrops(t *testing.T) {
	notifier := &captureNotifier{block: make(chan struct{})}
	d := NewDispatcher(Config{NotifyWorkers: 1, NotifyQueue: 1}, Dependencies{Notifier: notifier})

	decision := &model.Decision{TransactionID: "tx", Outcome: model.OutcomeFlag}
	for i := 0; i < 5; i++ {
		decision.Actions = append(decision.Actions, model.RuleAction{
			RuleID: "notify",
			Action: model.NewAction(model.NotifyParams{Recipients: []string{"a"}}),
		})
	}

	results, err := d.Dispatch(context.Background(), decision)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	dropped := 0
	for _, r := range results {
		if r.Type == model.ActionNotify && r.Result == ResultDropped {
			dropped++
		}
	}
	if dropped == 0 {
		t.Error("Expected some notifications to be dropped when the queue is full")
	}
	if decision.Outcome != model.OutcomeFlag {
		t.Errorf("Expected notify failures not to change the decision, got %s", decision.Outcome)
	}

	close(notifier.block)
	d.Close()
}

func TestDispatch_AuditFailure(t *testing.T) {
	d := NewDispatcher(Config{}, Dependencies{Audit: &captureAudit{err: errors.New("queue full")}})
	defer d.Close()

	_, err := d.Dispatch(context.Background(), &model.Decision{TransactionID: "tx", Outcome: model.OutcomeApprove})
	if !errors.Is(err, ErrAuditFailed) {
		t.Errorf("Expected ErrAuditFailed, got %v", err)
	}
}

func TestDispatch_AfterClose(t *testing.T) {
	d := NewDispatcher(Config{}, Dependencies{})
	d.Close()

	decision := &model.Decision{TransactionID: "tx", Outcome: model.OutcomeApprove, Actions: []model.RuleAction{
		{RuleID: "n", Action: model.NewAction(model.NotifyParams{Recipients: []string{"a"}})},
	}}
	results, err := d.Dispatch(context.Background(), decision)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if results[0].Result != ResultDropped {
		t.Errorf("Expected dropped notification after Close, got %+v", results[0])
	}
}

func TestDedupTable_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	table := newDedupTable(time.Hour, func() time.Time { return now })

	if !table.claim("r|tx") {
		t.Fatal("Expected first claim to succeed")
	}
	if table.claim("r|tx") {
		t.Error("Expected second claim to be rejected")
	}

	now = now.Add(2 * time.Hour)
	if !table.claim("r|tx") {
		t.Error("Expected claim to succeed after TTL")
	}
	table.claim("other")
	now = now.Add(2 * time.Hour)
	table.claim("fresh")
	if table.len() != 1 {
		t.Errorf("Expected expired entries to be swept, got %d", table.len())
	}
}
