package spend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/limits/storage"
	"monay-hq/authz/pkg/policy/model"
)

const (
	// DefaultReservationTTL is how long a hold lives without commit or release.
	DefaultReservationTTL = 30 * time.Second

	// tombstoneFactor multiplies the TTL to get how long finished
	// reservations are remembered for idempotent commit and release.
	tombstoneFactor = 10
)

// Reservation results reported to the Observer.
const (
	ResultReserved  = "reserved"
	ResultRejected  = "rejected"
	ResultUnlimited = "unlimited"
	ResultCommitted = "committed"
	ResultReleased  = "released"
	ResultExpired   = "expired"
	ResultError     = "error"
)

// Observer receives reservation lifecycle events, typically for metrics.
type Observer interface {
	ObserveReservation(scope model.LimitScope, result string)
}

// Config configures a Tracker.
type Config struct {
	// Backend persists limits and committed usage. Default: in-memory.
	Backend storage.Backend

	// ReservationTTL bounds the life of an uncommitted hold. Default: 30s
	ReservationTTL time.Duration

	// SweepInterval is how often expired holds are reclaimed in the
	// background. Zero uses half the TTL; negative disables the sweeper.
	SweepInterval time.Duration

	// Clock returns the current time. Default: time.Now
	Clock func() time.Time

	Logger   *slog.Logger
	Observer Observer
}

// Reservation is the result of CheckAndReserve.
type Reservation struct {
	// ID identifies the hold. Empty when nothing was held.
	ID string

	// OK reports whether the amount fits within the limit.
	OK bool

	// Unlimited is true when no limit is configured for the entity and scope.
	Unlimited bool

	EntityID string
	Scope    model.LimitScope
	Amount   decimal.Decimal
	Limit    decimal.Decimal

	// Usage is committed usage plus other holds, before this reservation.
	Usage decimal.Decimal

	// Remaining is what is left after this reservation when OK, or what
	// was left before it when rejected.
	Remaining decimal.Decimal

	ExpiresAt time.Time
}

// Usage is a read-only view of one limit.
type Usage struct {
	EntityID     string           `json:"entityId"`
	Scope        model.LimitScope `json:"scope"`
	Limit        decimal.Decimal  `json:"limit"`
	CurrentUsage decimal.Decimal  `json:"currentUsage"`
	Reserved     decimal.Decimal  `json:"reserved"`
	Remaining    decimal.Decimal  `json:"remaining"`
	WindowStart  time.Time        `json:"windowStart,omitempty"`
	WindowEnd    time.Time        `json:"windowEnd,omitempty"`
	Location     string           `json:"location,omitempty"`
}

type reservationStatus int

const (
	statusActive reservationStatus = iota
	statusCommitted
	statusReleased
	statusExpired
)

type reservation struct {
	id        string
	entityID  string
	scope     model.LimitScope
	amount    decimal.Decimal
	expiresAt time.Time
	status    reservationStatus

	// forgetAt is when a finished reservation is dropped.
	forgetAt time.Time
}

func limitKey(entityID string, scope model.LimitScope) string {
	return string(scope) + "|" + entityID
}

// Tracker enforces spend limits with reserve/commit/release semantics.
type Tracker struct {
	backend  storage.Backend
	ttl      time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	observer Observer

	// locks holds one mutex per entity and scope.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// resMu guards reservations and active.
	resMu        sync.Mutex
	reservations map[string]*reservation

	// active indexes the unexpired holds of each windowed limit by key.
	active map[string]map[string]*reservation

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewTracker creates a tracker and starts its sweeper.
func NewTracker(cfg Config) *Tracker {
	if cfg.Backend == nil {
		cfg.Backend = storage.NewMemoryBackend()
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = DefaultReservationTTL
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.ReservationTTL / 2
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Tracker{
		backend:      cfg.Backend,
		ttl:          cfg.ReservationTTL,
		clock:        cfg.Clock,
		logger:       cfg.Logger.With("component", "limits.spend"),
		observer:     cfg.Observer,
		locks:        make(map[string]*sync.Mutex),
		reservations: make(map[string]*reservation),
		active:       make(map[string]map[string]*reservation),
		done:         make(chan struct{}),
	}

	if cfg.SweepInterval > 0 {
		t.wg.Add(1)
		go t.sweepLoop(cfg.SweepInterval)
	}
	return t
}

func (t *Tracker) lockFor(key string) *sync.Mutex {
	t.locksMu.Lock()
	defer t.locksMu.Unlock()
	mu, ok := t.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		t.locks[key] = mu
	}
	return mu
}

func (t *Tracker) observe(scope model.LimitScope, result string) {
	if t.observer != nil {
		t.observer.ObserveReservation(scope, result)
	}
}

// loadState reads a limit and applies lazy rollover. The bool reports
// whether rollover modified the state.
func (t *Tracker) loadState(ctx context.Context, entityID string, scope model.LimitScope, now time.Time) (*model.SpendLimitState, bool, error) {
	state, err := t.backend.Load(ctx, entityID, scope)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load limit for %s/%s: %w", entityID, scope, err)
	}
	if state == nil {
		return nil, false, nil
	}
	return state, rollover(state, now), nil
}

// heldLocked expires the overdue holds of key and returns the total of the
// rest. resMu must be held.
func (t *Tracker) heldLocked(key string, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, r := range t.active[key] {
		if t.expireLocked(r, now) {
			t.observe(r.scope, ResultExpired)
			continue
		}
		total = total.Add(r.amount)
	}
	return total
}

// CheckAndReserve checks whether amount fits within the entity's limit for
// scope and, if so, holds it. A rejection is not an error; the returned
// error only reports storage failures.
func (t *Tracker) CheckAndReserve(ctx context.Context, entityID string, scope model.LimitScope, amount decimal.Decimal) (*Reservation, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("invalid scope %q", scope)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative: %s", amount)
	}

	key := limitKey(entityID, scope)
	mu := t.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := t.clock()
	state, rolled, err := t.loadState(ctx, entityID, scope, now)
	if err != nil {
		t.observe(scope, ResultError)
		return nil, err
	}
	if state == nil {
		t.observe(scope, ResultUnlimited)
		return &Reservation{OK: true, Unlimited: true, EntityID: entityID, Scope: scope, Amount: amount}, nil
	}
	if rolled {
		state.UpdatedAt = now
		if err := t.backend.Save(ctx, state); err != nil {
			t.observe(scope, ResultError)
			return nil, fmt.Errorf("failed to save rollover for %s/%s: %w", entityID, scope, err)
		}
	}

	res := &Reservation{
		EntityID: entityID,
		Scope:    scope,
		Amount:   amount,
		Limit:    state.Limit,
	}

	if scope == model.ScopePerTransaction {
		res.Usage = decimal.Zero
		res.OK = amount.LessThanOrEqual(state.Limit)
		if res.OK {
			res.Remaining = state.Limit.Sub(amount)
		} else {
			res.Remaining = state.Limit
		}
	} else {
		t.resMu.Lock()
		used := state.CurrentUsage.Add(t.heldLocked(key, now))
		t.resMu.Unlock()

		res.Usage = used
		res.OK = used.Add(amount).LessThanOrEqual(state.Limit)
		if res.OK {
			res.Remaining = state.Limit.Sub(used).Sub(amount)
		} else {
			res.Remaining = state.Limit.Sub(used)
		}
	}

	if !res.OK {
		t.observe(scope, ResultRejected)
		t.logger.Debug("spend limit would be exceeded",
			"entity_id", entityID,
			"scope", scope,
			"amount", amount.String(),
			"remaining", res.Remaining.String(),
		)
		return res, nil
	}

	r := &reservation{
		id:        uuid.NewString(),
		entityID:  entityID,
		scope:     scope,
		amount:    amount,
		expiresAt: now.Add(t.ttl),
	}
	t.resMu.Lock()
	t.reservations[r.id] = r
	if scope != model.ScopePerTransaction {
		holds, ok := t.active[key]
		if !ok {
			holds = make(map[string]*reservation)
			t.active[key] = holds
		}
		holds[r.id] = r
	}
	t.resMu.Unlock()

	res.ID = r.id
	res.ExpiresAt = r.expiresAt
	t.observe(scope, ResultReserved)
	return res, nil
}

// Commit moves a held amount into committed usage. Committing a reservation
// twice is a no-op. An expired reservation is re-checked against the limit
// and committed only if it still fits; otherwise ErrLimitExceeded is returned.
func (t *Tracker) Commit(ctx context.Context, reservationID string) error {
	t.resMu.Lock()
	r, ok := t.reservations[reservationID]
	if !ok {
		t.resMu.Unlock()
		return fmt.Errorf("%w: %s", model.ErrReservationNotFound, reservationID)
	}
	key := limitKey(r.entityID, r.scope)
	t.resMu.Unlock()

	mu := t.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := t.clock()

	t.resMu.Lock()
	t.expireLocked(r, now)
	status := r.status
	t.resMu.Unlock()

	switch status {
	case statusCommitted:
		return nil
	case statusReleased:
		return fmt.Errorf("%w: %s was released", model.ErrReservationNotFound, reservationID)
	}

	state, _, err := t.loadState(ctx, r.entityID, r.scope, now)
	if err != nil {
		return err
	}
	if state == nil {
		// The limit was removed while the hold was outstanding.
		t.finish(r, statusCommitted, now)
		return nil
	}

	if status == statusExpired {
		t.logger.Warn("committing expired reservation, re-checking limit",
			"reservation_id", r.id,
			"entity_id", r.entityID,
			"scope", r.scope,
			"error", model.ErrReservationExpired,
		)
		if !t.fits(state, key, r.amount, now) {
			t.observe(r.scope, ResultRejected)
			return fmt.Errorf("%w: expired reservation %s no longer fits within the %s limit of %s",
				model.ErrLimitExceeded, r.id, r.scope, r.entityID)
		}
	}

	if r.scope != model.ScopePerTransaction {
		state.CurrentUsage = state.CurrentUsage.Add(r.amount)
		state.UpdatedAt = now
		if err := t.backend.Save(ctx, state); err != nil {
			t.observe(r.scope, ResultError)
			return fmt.Errorf("failed to save usage for %s/%s: %w", r.entityID, r.scope, err)
		}
	}

	t.finish(r, statusCommitted, now)
	t.observe(r.scope, ResultCommitted)
	return nil
}

// fits reports whether amount still fits given committed usage and active holds.
func (t *Tracker) fits(state *model.SpendLimitState, key string, amount decimal.Decimal, now time.Time) bool {
	if state.Scope == model.ScopePerTransaction {
		return amount.LessThanOrEqual(state.Limit)
	}
	t.resMu.Lock()
	used := state.CurrentUsage.Add(t.heldLocked(key, now))
	t.resMu.Unlock()
	return used.Add(amount).LessThanOrEqual(state.Limit)
}

// Release drops a hold. Releasing an unknown, finished or expired
// reservation is a no-op.
func (t *Tracker) Release(ctx context.Context, reservationID string) error {
	t.resMu.Lock()
	r, ok := t.reservations[reservationID]
	t.resMu.Unlock()
	if !ok {
		return nil
	}

	mu := t.lockFor(limitKey(r.entityID, r.scope))
	mu.Lock()
	defer mu.Unlock()

	t.resMu.Lock()
	defer t.resMu.Unlock()
	if r.status != statusActive {
		return nil
	}
	t.finishLocked(r, statusReleased, t.clock())
	t.observe(r.scope, ResultReleased)
	return nil
}

// finish marks r as done and drops its hold.
func (t *Tracker) finish(r *reservation, status reservationStatus, now time.Time) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	t.finishLocked(r, status, now)
}

func (t *Tracker) finishLocked(r *reservation, status reservationStatus, now time.Time) {
	if r.status == statusActive && r.scope != model.ScopePerTransaction {
		key := limitKey(r.entityID, r.scope)
		if holds, ok := t.active[key]; ok {
			delete(holds, r.id)
			if len(holds) == 0 {
				delete(t.active, key)
			}
		}
	}
	r.status = status
	r.forgetAt = now.Add(t.ttl * tombstoneFactor)
}

// expireLocked expires r if its TTL has passed. resMu must be held.
func (t *Tracker) expireLocked(r *reservation, now time.Time) bool {
	if r.status != statusActive || now.Before(r.expiresAt) {
		return false
	}
	t.finishLocked(r, statusExpired, now)
	return true
}

// Sweep expires overdue holds and forgets old tombstones. It returns the
// number of holds expired.
func (t *Tracker) Sweep() int {
	now := t.clock()
	expired := make([]model.LimitScope, 0)

	t.resMu.Lock()
	for id, r := range t.reservations {
		if t.expireLocked(r, now) {
			expired = append(expired, r.scope)
			continue
		}
		if r.status != statusActive && now.After(r.forgetAt) {
			delete(t.reservations, id)
		}
	}
	t.resMu.Unlock()

	for _, scope := range expired {
		t.observe(scope, ResultExpired)
	}
	if len(expired) > 0 {
		t.logger.Debug("expired spend reservations", "count", len(expired))
	}
	return len(expired)
}

func (t *Tracker) sweepLoop(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-t.done:
			return
		}
	}
}

// GetUsage returns the current view of a limit, including active holds.
// It returns model.ErrLimitNotFound when no limit is configured.
func (t *Tracker) GetUsage(ctx context.Context, entityID string, scope model.LimitScope) (*Usage, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("invalid scope %q", scope)
	}
	state, _, err := t.loadState(ctx, entityID, scope, t.clock())
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s/%s", model.ErrLimitNotFound, entityID, scope)
	}
	return t.usageOf(state), nil
}

// ListUsage returns the usage of every entity with a limit in scope.
func (t *Tracker) ListUsage(ctx context.Context, scope model.LimitScope) ([]*Usage, error) {
	states, err := t.backend.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s limits: %w", scope, err)
	}
	now := t.clock()
	out := make([]*Usage, 0, len(states))
	for _, state := range states {
		rollover(state, now)
		out = append(out, t.usageOf(state))
	}
	return out, nil
}

func (t *Tracker) usageOf(state *model.SpendLimitState) *Usage {
	key := limitKey(state.EntityID, state.Scope)
	t.resMu.Lock()
	reserved := t.heldLocked(key, t.clock())
	t.resMu.Unlock()

	u := &Usage{
		EntityID:     state.EntityID,
		Scope:        state.Scope,
		Limit:        state.Limit,
		CurrentUsage: state.CurrentUsage,
		Reserved:     reserved,
		Remaining:    state.Limit.Sub(state.CurrentUsage).Sub(reserved),
		Location:     state.Location,
	}
	if state.Scope != model.ScopePerTransaction {
		u.WindowStart = state.WindowStart
		u.WindowEnd = windowEnd(state.Scope, state.WindowStart)
	}
	return u
}

// SetLimit creates or updates a limit. Usage in the current window is kept.
// An empty location keeps the existing zone (UTC for new limits).
func (t *Tracker) SetLimit(ctx context.Context, entityID string, scope model.LimitScope, limit decimal.Decimal, location string) error {
	if entityID == "" {
		return fmt.Errorf("entity id cannot be empty")
	}
	if !scope.Valid() {
		return fmt.Errorf("invalid scope %q", scope)
	}
	if limit.IsNegative() {
		return fmt.Errorf("limit cannot be negative: %s", limit)
	}
	if location != "" {
		if _, err := time.LoadLocation(location); err != nil {
			return fmt.Errorf("invalid location %q: %w", location, err)
		}
	}

	key := limitKey(entityID, scope)
	mu := t.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	now := t.clock()
	state, _, err := t.loadState(ctx, entityID, scope, now)
	if err != nil {
		return err
	}
	if state == nil {
		state = &model.SpendLimitState{
			EntityID:     entityID,
			Scope:        scope,
			CurrentUsage: decimal.Zero,
			Location:     location,
		}
		state.WindowStart = windowStart(scope, now, loadLocation(location))
	} else if location != "" && location != state.Location {
		state.Location = location
		state.WindowStart = windowStart(scope, now, loadLocation(location))
	}
	state.Limit = limit
	state.UpdatedAt = now

	if err := t.backend.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to save limit for %s/%s: %w", entityID, scope, err)
	}

	t.logger.Info("spend limit set",
		"entity_id", entityID,
		"scope", scope,
		"limit", limit.String(),
		"location", state.Location,
	)
	return nil
}

// RemoveLimit deletes a limit. Outstanding holds remain until they finish.
func (t *Tracker) RemoveLimit(ctx context.Context, entityID string, scope model.LimitScope) error {
	key := limitKey(entityID, scope)
	mu := t.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	if err := t.backend.Delete(ctx, entityID, scope); err != nil {
		return fmt.Errorf("failed to remove limit for %s/%s: %w", entityID, scope, err)
	}
	return nil
}

// Close stops the sweeper and closes the backend.
func (t *Tracker) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.wg.Wait()
		err = t.backend.Close()
	})
	return err
}
