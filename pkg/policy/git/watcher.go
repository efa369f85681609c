package git

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monay-hq/authz/pkg/policy/store"
)

// Watcher polls the rules repository and reloads the store when a new
// commit touches the bundle files.
//
// A commit whose bundle fails to load is rejected: the checkout is rolled
// back to the last accepted commit, the store keeps serving its current
// snapshot, and the rejected commit is not retried until the branch moves
// again.
//
//	w := git.NewWatcher(repo, st, 30*time.Second, logger)
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
type Watcher struct {
	repo     *Repository
	reloader store.Reloader
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	accepted string
	rejected string
	counters Stats
}

// NewWatcher creates a watcher. The repository must already be synced and
// the store loaded from its checkout.
func NewWatcher(repo *Repository, reloader store.Reloader, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		repo:     repo,
		reloader: reloader,
		interval: interval,
		logger:   logger.With("component", "policy.git.watcher"),
	}
}

// Start records the checked out commit as accepted and begins polling.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if w.interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	head, err := w.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to read initial commit: %w", err)
	}

	w.accepted = head.SHA
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("watching rules repository",
		"poll_interval", w.interval,
		"commit", shortSHA(head.SHA),
	)
	go w.loop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop ends polling and waits for an in-flight poll to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher not running")
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	return nil
}

func (w *Watcher) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := w.Sync(ctx); err != nil {
				w.logger.Error("rules repository sync failed", "error", err)
			}
		}
	}
}

// Sync fetches the tracked branch once and applies a new commit if there
// is one. It can be called directly to force an immediate check.
func (w *Watcher) Sync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.accepted == "" {
		head, err := w.repo.Head()
		if err != nil {
			return fmt.Errorf("failed to read current commit: %w", err)
		}
		w.accepted = head.SHA
	}

	result, err := w.repo.Fetch(ctx)
	if err != nil {
		return err
	}
	if result.ToSHA == w.accepted || result.ToSHA == w.rejected {
		return nil
	}

	if err := w.repo.Checkout(result.ToSHA); err != nil {
		return err
	}

	if !w.touchesBundle(result.ChangedFiles) {
		w.counters.SkippedCommits++
		w.logger.Info("commit does not touch rule bundles, skipping reload",
			"commit", shortSHA(result.ToSHA),
			"changed_files", len(result.ChangedFiles),
		)
		w.accepted = result.ToSHA
		return nil
	}

	if err := w.reloader.Reload(ctx); err != nil {
		w.counters.FailedReloads++
		w.rejected = result.ToSHA
		w.logger.Error("commit rejected, rolling back checkout",
			"commit", shortSHA(result.ToSHA),
			"rollback_to", shortSHA(w.accepted),
			"error", err,
		)
		if rbErr := w.repo.Checkout(w.accepted); rbErr != nil {
			return fmt.Errorf("reload of %s failed: %w (rollback: %v)", shortSHA(result.ToSHA), err, rbErr)
		}
		return fmt.Errorf("reload of %s failed: %w", shortSHA(result.ToSHA), err)
	}

	w.counters.Reloads++
	w.logger.Info("rules reloaded from repository",
		"from", shortSHA(w.accepted),
		"to", shortSHA(result.ToSHA),
	)
	w.accepted = result.ToSHA
	w.rejected = ""
	return nil
}

func (w *Watcher) touchesBundle(files []string) bool {
	for _, f := range files {
		if w.repo.tracksFile(f) {
			return true
		}
	}
	return false
}

// AcceptedCommit is the commit the current rule snapshot was loaded from.
func (w *Watcher) AcceptedCommit() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accepted
}

// Stats merges repository and watcher counters.
func (w *Watcher) Stats() Stats {
	s := w.repo.Stats()

	w.mu.Lock()
	defer w.mu.Unlock()
	s.Reloads = w.counters.Reloads
	s.FailedReloads = w.counters.FailedReloads
	s.SkippedCommits = w.counters.SkippedCommits
	s.RejectedSHA = w.rejected
	return s
}
