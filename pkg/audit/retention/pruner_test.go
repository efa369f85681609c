package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"monay-hq/authz/pkg/audit"
	"monay-hq/authz/pkg/audit/storage"
)

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

// seed stores one record per day of age, oldest first.
func seed(t *testing.T, s audit.Storage, ages ...int) {
	t.Helper()
	for i, age := range ages {
		err := s.Store(context.Background(), &audit.Record{
			ID:            fmt.Sprintf("rec-%d", i),
			TransactionID: fmt.Sprintf("tx-%d", i),
			Outcome:       "approve",
			Actor:         audit.DefaultActor,
			Timestamp:     now.AddDate(0, 0, -age),
		})
		if err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
}

func newPruner(s audit.Storage, cfg *Config) *Pruner {
	p := NewPruner(s, cfg)
	p.now = func() time.Time { return now }
	return p
}

func TestPruner_ByAge(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, 100, 40, 31, 29, 1)

	p := newPruner(s, &Config{RetentionDays: 30})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted, got %d", deleted)
	}
	if n, _ := s.Count(context.Background(), nil); n != 2 {
		t.Errorf("Expected 2 remaining, got %d", n)
	}
}

func TestPruner_ByCount(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, 5, 4, 3, 2, 1)

	p := newPruner(s, &Config{MaxRecords: 2})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted, got %d", deleted)
	}

	remaining, _ := s.Query(context.Background(), &audit.Query{SortOrder: audit.SortAsc})
	if len(remaining) != 2 || remaining[0].ID != "rec-3" {
		t.Errorf("Expected the two newest records to remain, got %+v", remaining)
	}
}

func TestPruner_Disabled(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, 1000, 500)

	p := newPruner(s, &Config{})
	deleted, err := p.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected nothing deleted, got %d", deleted)
	}
}

func TestPruner_ArchiveBeforeDelete(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, 90, 60, 1)
	dir := t.TempDir()

	p := newPruner(s, &Config{RetentionDays: 30, ArchiveBeforeDelete: true, ArchivePath: dir})
	if _, err := p.Prune(context.Background()); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "audit-age-*.jsonl"))
	if err != nil || len(files) != 1 {
		t.Fatalf("Expected one archive file, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("Expected 2 archived records, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `"id":"rec-0"`) {
		t.Errorf("Expected oldest record first, got %s", lines[0])
	}
}

func TestScheduler_StartStop(t *testing.T) {
	p := newPruner(storage.NewMemoryStorage(), &Config{RetentionDays: 30, PruneSchedule: "0 3 * * *"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.scheduler.IsRunning() {
		t.Error("Expected scheduler to be running")
	}
	next := p.NextPruning()
	if next == nil {
		t.Fatal("Expected next pruning time")
	}
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Expected next run at 03:00, got %v", next)
	}

	p.Stop()
	if p.scheduler.IsRunning() {
		t.Error("Expected scheduler to be stopped")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	p := newPruner(storage.NewMemoryStorage(), &Config{PruneSchedule: "every tuesday"})
	if err := p.Start(context.Background()); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestScheduler_EmptySchedule(t *testing.T) {
	p := newPruner(storage.NewMemoryStorage(), &Config{})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if p.scheduler.IsRunning() {
		t.Error("Expected idle scheduler without a schedule")
	}
	if p.NextPruning() != nil {
		t.Error("Expected no next run")
	}
}

type recordingObserver struct {
	deleted int64
	err     error
	calls   int
}

func (o *recordingObserver) ObserveRetention(deleted int64, err error) {
	o.deleted = deleted
	o.err = err
	o.calls++
}

func TestScheduler_RunNotifiesObserver(t *testing.T) {
	s := storage.NewMemoryStorage()
	seed(t, s, 90, 60, 1)

	obs := &recordingObserver{}
	p := newPruner(s, &Config{RetentionDays: 30, Observer: obs})
	p.scheduler.run(context.Background())

	if obs.calls != 1 {
		t.Fatalf("Expected 1 observation, got %d", obs.calls)
	}
	if obs.deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", obs.deleted)
	}
	if obs.err != nil {
		t.Errorf("Expected no error, got %v", obs.err)
	}
}
