// Package storage provides audit record storage backends.
//
//   - MemoryStorage: in-process, for tests and single-run CLI evaluations
//   - SQLiteStorage: durable single-file storage (github.com/mattn/go-sqlite3)
//
// Both backends are append-only. The SQLite schema installs a trigger that
// aborts any UPDATE of an audit row; rows are only ever removed by the
// retention pruner through Delete.
package storage
