package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"monay-hq/authz/pkg/limits/spend"
)

// pendingTx is the set of reservations held for one transaction until the
// approval workflow confirms or invalidates it.
type pendingTx struct {
	entityID     string
	reservations []*spend.Reservation
	heldAt       time.Time
	owner        *evaluation
}

// hold parks the reservations of ev under its transaction ID. Reservations
// held by an earlier evaluation of the same transaction are released.
func (e *Engine) hold(ctx context.Context, ev *evaluation) {
	e.pendingMu.Lock()
	previous := e.pending[ev.tx.TransactionID]
	e.pending[ev.tx.TransactionID] = &pendingTx{
		entityID:     ev.tx.EntityID,
		reservations: ev.reservations,
		heldAt:       e.clock(),
		owner:        ev,
	}
	e.pendingMu.Unlock()

	if previous != nil {
		e.logger.Warn("transaction re-evaluated while reservations were held, releasing previous hold",
			"transaction_id", ev.tx.TransactionID,
		)
		e.releaseAll(ctx, previous.reservations)
	}
}

func (e *Engine) takePending(txID string) *pendingTx {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	p := e.pending[txID]
	delete(e.pending, txID)
	return p
}

// removePending forgets the hold of txID if it was created by ev.
func (e *Engine) removePending(txID string, ev *evaluation) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if p, ok := e.pending[txID]; ok && p.owner == ev {
		delete(e.pending, txID)
	}
}

func (e *Engine) dropPending(ctx context.Context, txID string) {
	if p := e.takePending(txID); p != nil {
		e.releaseAll(ctx, p.reservations)
	}
}

// Confirm commits the reservations held for an escalated (or, without
// AutoCommit, approved) transaction. A reservation that expired while
// waiting is re-checked against the current limit; if it no longer fits
// the remaining holds are released and an error wrapping
// model.ErrLimitExceeded is returned.
func (e *Engine) Confirm(ctx context.Context, transactionID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	p := e.takePending(transactionID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}

	for i, res := range p.reservations {
		if err := e.deps.Limits.Commit(ctx, res.ID); err != nil {
			e.releaseAll(ctx, p.reservations[i+1:])
			e.logger.Warn("transaction confirmation failed",
				"transaction_id", transactionID,
				"entity_id", p.entityID,
				"scope", res.Scope,
				"error", err,
			)
			return fmt.Errorf("failed to commit %s reservation: %w", res.Scope, err)
		}
	}

	e.logger.Info("transaction confirmed",
		"transaction_id", transactionID,
		"entity_id", p.entityID,
		"reservations", len(p.reservations),
	)
	return nil
}

// Invalidate releases the reservations held for a transaction. It is
// idempotent: invalidating an unknown or already settled transaction is
// not an error.
func (e *Engine) Invalidate(ctx context.Context, transactionID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	p := e.takePending(transactionID)
	if p == nil {
		return nil
	}

	var errs []error
	for _, res := range p.reservations {
		if err := e.deps.Limits.Release(ctx, res.ID); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", res.Scope, err))
		}
	}

	e.logger.Info("transaction invalidated",
		"transaction_id", transactionID,
		"entity_id", p.entityID,
		"reservations", len(p.reservations),
	)
	return errors.Join(errs...)
}

// PendingCount returns the number of transactions with held reservations.
func (e *Engine) PendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}

// sweepPending forgets holds older than PendingTTL. Their reservations have
// long expired in the tracker.
func (e *Engine) sweepPending() int {
	cutoff := e.clock().Add(-e.config.PendingTTL)

	e.pendingMu.Lock()
	var stale []*pendingTx
	for id, p := range e.pending {
		if p.heldAt.Before(cutoff) {
			stale = append(stale, p)
			delete(e.pending, id)
		}
	}
	e.pendingMu.Unlock()

	for _, p := range stale {
		e.releaseAll(context.Background(), p.reservations)
	}
	if len(stale) > 0 {
		e.logger.Info("stale pending transactions dropped", "count", len(stale))
	}
	return len(stale)
}

func (e *Engine) janitor(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepPending()
		}
	}
}

func pendingSweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	return interval
}
