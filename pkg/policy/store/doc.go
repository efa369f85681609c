// Package store holds the versioned business rules and multisig policies
// and publishes them to evaluators as immutable snapshots.
//
// # Snapshots
//
// Evaluators call Store.Snapshot, which is a single atomic load. A snapshot
// is never modified after it is published: administrative writes and
// reloads build a new snapshot and swap it in, so an evaluation that started
// on one version finishes on that version.
//
// # Writes
//
// Administrative writes are serialized and use optimistic versioning. Each
// update names the version it was based on; a stale version fails with a
// *model.VersionConflictError and changes nothing. Every write is validated
// before it reaches the backend.
//
// # Backends
//
//   - MemoryBackend: in-process, for tests
//   - SQLiteBackend: durable storage with compare-and-swap updates (modernc.org/sqlite)
//   - FileBackend: read-only YAML bundles, reloaded by Watcher on change
package store
