// Package limits groups the spend and request limiting used by the
// authorization service.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - spend: Per-entity spend limits over rolling windows, with reservations
//     held between evaluation and confirmation
//   - storage: Persistence backends for spend state (memory, SQLite, Redis)
//   - ratelimit: Per-caller token buckets and concurrency caps for the API
//
// # Usage
//
//	backend, err := storage.NewSQLiteBackend("limits.db")
//	if err != nil {
//	    return err
//	}
//	tracker := spend.NewTracker(spend.Config{Backend: backend})
//	defer tracker.Close()
//
//	res, err := tracker.CheckAndReserve(ctx, "acct-1", model.ScopeDaily, amount)
//	if err != nil {
//	    return err
//	}
//	if res.OK {
//	    err = tracker.Commit(ctx, res.ID)
//	}
//
// # Thread Safety
//
// Trackers and limiters are safe for concurrent use. Spend checks for one
// entity are serialized so concurrent reservations never overshoot a limit.
package limits
