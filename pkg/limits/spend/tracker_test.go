package spend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"monay-hq/authz/pkg/policy/model"
)

// fakeClock is a settable clock for deterministic expiry and rollover.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveReservation(scope model.LimitScope, result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[result]++
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[result]
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestTracker(t *testing.T, clock *fakeClock) *Tracker {
	t.Helper()
	tracker := NewTracker(Config{
		ReservationTTL: 30 * time.Second,
		SweepInterval:  -1,
		Clock:          clock.Now,
	})
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

// seedUsage sets a daily limit and commits usage through the public API.
func seedUsage(t *testing.T, tracker *Tracker, entityID string, limit, usage string) {
	t.Helper()
	ctx := context.Background()
	if err := tracker.SetLimit(ctx, entityID, model.ScopeDaily, dec(limit), ""); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	if usage == "0" {
		return
	}
	res, err := tracker.CheckAndReserve(ctx, entityID, model.ScopeDaily, dec(usage))
	if err != nil || !res.OK {
		t.Fatalf("seed reservation failed: %v %+v", err, res)
	}
	if err := tracker.Commit(ctx, res.ID); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}
}

// TestCheckAndReserve_ConcurrentDebits covers two $150 debits racing for
// the last $200 of a $5,000 daily limit.
func TestCheckAndReserve_ConcurrentDebits(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-42", "5000", "4800")

	var wg sync.WaitGroup
	results := make([]*Reservation, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tracker.CheckAndReserve(context.Background(), "ent-42", model.ScopeDaily, dec("150"))
			if err != nil {
				t.Errorf("CheckAndReserve failed: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	ok, rejected := 0, 0
	for _, res := range results {
		if res == nil {
			t.Fatal("Expected reservation result")
		}
		if res.OK {
			ok++
			continue
		}
		rejected++
		if res.Remaining.GreaterThan(dec("50")) {
			t.Errorf("Expected remaining <= 50 on rejection, got %s", res.Remaining)
		}
	}
	if ok != 1 || rejected != 1 {
		t.Errorf("Expected exactly one success and one rejection, got %d/%d", ok, rejected)
	}
}

func TestCheckAndReserve_NeverExceedsLimit(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "1000", "0")

	const workers = 50
	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tracker.CheckAndReserve(context.Background(), "ent-1", model.ScopeDaily, dec("75"))
			if err != nil {
				t.Errorf("CheckAndReserve failed: %v", err)
				return
			}
			if res.OK {
				accepted.Add(1)
				if err := tracker.Commit(context.Background(), res.ID); err != nil {
					t.Errorf("Commit failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	// 13 * 75 = 975 fits, 14 * 75 = 1050 does not.
	if got := accepted.Load(); got != 13 {
		t.Errorf("Expected 13 accepted debits, got %d", got)
	}
	usage, err := tracker.GetUsage(context.Background(), "ent-1", model.ScopeDaily)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if usage.CurrentUsage.GreaterThan(usage.Limit) {
		t.Errorf("Usage %s exceeds limit %s", usage.CurrentUsage, usage.Limit)
	}
	if !usage.Reserved.IsZero() {
		t.Errorf("Expected no outstanding holds, got %s", usage.Reserved)
	}
}

func TestCommit_Idempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "1000", "0")
	ctx := context.Background()

	res, err := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("100"))
	if err != nil || !res.OK {
		t.Fatalf("CheckAndReserve failed: %v %+v", err, res)
	}
	for i := 0; i < 2; i++ {
		if err := tracker.Commit(ctx, res.ID); err != nil {
			t.Fatalf("Commit %d failed: %v", i, err)
		}
	}

	usage, _ := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily)
	if !usage.CurrentUsage.Equal(dec("100")) {
		t.Errorf("Expected usage 100 after double commit, got %s", usage.CurrentUsage)
	}
}

func TestRelease(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "500", "0")
	ctx := context.Background()

	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("400"))
	blocked, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("200"))
	if blocked.OK {
		t.Fatal("Expected second reservation to be rejected while first is held")
	}

	for i := 0; i < 2; i++ {
		if err := tracker.Release(ctx, res.ID); err != nil {
			t.Fatalf("Release %d failed: %v", i, err)
		}
	}
	if err := tracker.Release(ctx, "unknown"); err != nil {
		t.Errorf("Expected release of unknown id to be a no-op, got %v", err)
	}

	again, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("200"))
	if !again.OK {
		t.Error("Expected reservation to succeed after release")
	}

	if err := tracker.Commit(ctx, res.ID); !errors.Is(err, model.ErrReservationNotFound) {
		t.Errorf("Expected ErrReservationNotFound committing a released hold, got %v", err)
	}
}

func TestReservation_Expiry(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "500", "0")
	ctx := context.Background()

	stale, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("300"))

	clock.Advance(31 * time.Second)
	if n := tracker.Sweep(); n != 1 {
		t.Errorf("Expected 1 expired hold, got %d", n)
	}

	// The expired hold no longer counts, so a competing debit takes the room.
	other, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("300"))
	if !other.OK {
		t.Fatal("Expected reservation to succeed after expiry")
	}
	if err := tracker.Commit(ctx, other.ID); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Committing the expired hold re-checks and no longer fits.
	err := tracker.Commit(ctx, stale.ID)
	if !errors.Is(err, model.ErrLimitExceeded) {
		t.Errorf("Expected ErrLimitExceeded for stale commit, got %v", err)
	}
}

func TestReservation_ExpiresWithoutSweep(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	obs := &countingObserver{}
	tracker := NewTracker(Config{
		ReservationTTL: 30 * time.Second,
		SweepInterval:  -1,
		Clock:          clock.Now,
		Observer:       obs,
	})
	t.Cleanup(func() { tracker.Close() })
	seedUsage(t, tracker, "ent-1", "500", "0")
	ctx := context.Background()

	first, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("300"))
	if !first.OK {
		t.Fatal("Expected first reservation to succeed")
	}
	if u, _ := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily); !u.Reserved.Equal(dec("300")) {
		t.Fatalf("Expected 300 reserved, got %s", u.Reserved)
	}

	clock.Advance(31 * time.Second)

	u, err := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily)
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if !u.Reserved.IsZero() {
		t.Errorf("Expected overdue hold to stop counting, got %s reserved", u.Reserved)
	}

	second, err := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("300"))
	if err != nil {
		t.Fatalf("CheckAndReserve failed: %v", err)
	}
	if !second.OK {
		t.Fatalf("Expected reservation to succeed once the earlier hold expired, remaining %s", second.Remaining)
	}
	if !second.Remaining.Equal(dec("200")) {
		t.Errorf("Expected remaining 200, got %s", second.Remaining)
	}
	if got := obs.count(ResultExpired); got != 1 {
		t.Errorf("Expected 1 expiry observed, got %d", got)
	}
	if n := tracker.Sweep(); n != 0 {
		t.Errorf("Expected nothing left to sweep, got %d", n)
	}
}

func TestReservation_ExpiredCommitStillFits(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "500", "0")
	ctx := context.Background()

	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("100"))
	clock.Advance(time.Minute)

	if err := tracker.Commit(ctx, res.ID); err != nil {
		t.Fatalf("Expected expired commit to pass the fresh check, got %v", err)
	}
	usage, _ := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily)
	if !usage.CurrentUsage.Equal(dec("100")) {
		t.Errorf("Expected usage 100, got %s", usage.CurrentUsage)
	}
}

func TestTombstonesAreForgotten(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "500", "0")
	ctx := context.Background()

	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("10"))
	if err := tracker.Commit(ctx, res.ID); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	clock.Advance(10*30*time.Second + time.Second)
	tracker.Sweep()

	if err := tracker.Commit(ctx, res.ID); !errors.Is(err, model.ErrReservationNotFound) {
		t.Errorf("Expected ErrReservationNotFound after tombstone retention, got %v", err)
	}
}

func TestDailyRollover(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 23, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "1000", "900")
	ctx := context.Background()

	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("200"))
	if res.OK {
		t.Fatal("Expected rejection before midnight")
	}

	clock.Advance(2 * time.Hour)
	res, err := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("200"))
	if err != nil {
		t.Fatalf("CheckAndReserve failed: %v", err)
	}
	if !res.OK {
		t.Fatalf("Expected success after rollover, remaining %s", res.Remaining)
	}

	usage, _ := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily)
	if !usage.CurrentUsage.IsZero() {
		t.Errorf("Expected usage reset, got %s", usage.CurrentUsage)
	}
	if want := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC); !usage.WindowEnd.Equal(want) {
		t.Errorf("Expected window end %v, got %v", want, usage.WindowEnd)
	}
}

func TestPerTransactionScope(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	ctx := context.Background()

	if err := tracker.SetLimit(ctx, "ent-1", model.ScopePerTransaction, dec("250"), ""); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		res, err := tracker.CheckAndReserve(ctx, "ent-1", model.ScopePerTransaction, dec("250"))
		if err != nil {
			t.Fatalf("CheckAndReserve failed: %v", err)
		}
		if !res.OK {
			t.Fatalf("Expected amount equal to the limit to pass on attempt %d", i)
		}
		if err := tracker.Commit(ctx, res.ID); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopePerTransaction, dec("250.01"))
	if res.OK {
		t.Error("Expected amount above the limit to be rejected")
	}
}

func TestUnlimitedEntity(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)

	res, err := tracker.CheckAndReserve(context.Background(), "nobody", model.ScopeDaily, dec("1000000"))
	if err != nil {
		t.Fatalf("CheckAndReserve failed: %v", err)
	}
	if !res.OK || !res.Unlimited || res.ID != "" {
		t.Errorf("Expected unlimited approval with no hold, got %+v", res)
	}

	_, err = tracker.GetUsage(context.Background(), "nobody", model.ScopeDaily)
	if !errors.Is(err, model.ErrLimitNotFound) {
		t.Errorf("Expected ErrLimitNotFound, got %v", err)
	}
}

func TestSetLimit_PreservesUsage(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	tracker := newTestTracker(t, clock)
	seedUsage(t, tracker, "ent-1", "1000", "600")
	ctx := context.Background()

	if err := tracker.SetLimit(ctx, "ent-1", model.ScopeDaily, dec("700"), ""); err != nil {
		t.Fatalf("SetLimit failed: %v", err)
	}
	usage, _ := tracker.GetUsage(ctx, "ent-1", model.ScopeDaily)
	if !usage.CurrentUsage.Equal(dec("600")) {
		t.Errorf("Expected usage 600 to be preserved, got %s", usage.CurrentUsage)
	}
	if !usage.Remaining.Equal(dec("100")) {
		t.Errorf("Expected remaining 100, got %s", usage.Remaining)
	}

	if err := tracker.SetLimit(ctx, "ent-1", model.ScopeDaily, dec("-1"), ""); err == nil {
		t.Error("Expected error for negative limit")
	}
	if err := tracker.SetLimit(ctx, "ent-1", model.ScopeDaily, dec("1"), "Mars/Olympus"); err == nil {
		t.Error("Expected error for unknown location")
	}
}

func TestObserver(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	obs := &countingObserver{}
	tracker := NewTracker(Config{SweepInterval: -1, Clock: clock.Now, Observer: obs})
	defer tracker.Close()
	ctx := context.Background()

	_ = tracker.SetLimit(ctx, "ent-1", model.ScopeDaily, dec("100"), "")
	res, _ := tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("60"))
	_, _ = tracker.CheckAndReserve(ctx, "ent-1", model.ScopeDaily, dec("60"))
	_ = tracker.Commit(ctx, res.ID)

	if obs.count(ResultReserved) != 1 || obs.count(ResultRejected) != 1 || obs.count(ResultCommitted) != 1 {
		t.Errorf("Unexpected observer counts: %v", obs.counts)
	}
}
