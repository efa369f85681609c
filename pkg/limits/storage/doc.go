// Package storage provides persistence backends for spend limit state.
//
// # Overview
//
// A backend stores one model.SpendLimitState per (entity, scope) pair: the
// configured limit, the usage committed in the current window and the window
// start. Reservation holds are never persisted; they live in the tracker.
//
//   - Memory: in-process map, no persistence (default)
//   - SQLite: single-file persistence in WAL mode (modernc.org/sqlite)
//   - Redis: shared state for multi-instance deployments (go-redis)
//
// # Usage
//
//	backend := storage.NewMemoryBackend()
//
//	err := backend.Save(ctx, &model.SpendLimitState{
//	    EntityID: "ent-42",
//	    Scope:    model.ScopeDaily,
//	    Limit:    decimal.NewFromInt(10000),
//	})
//
//	state, err := backend.Load(ctx, "ent-42", model.ScopeDaily)
//
// # Thread Safety
//
// All storage backends are thread-safe. Callers that need read-modify-write
// atomicity for one entity must serialize it themselves; the spend tracker
// does so with a per-entity lock.
package storage
