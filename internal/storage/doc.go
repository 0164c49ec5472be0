// Package storage persists scheduled notification records.
//
// Records are keyed by schedule id and indexed by owner namespace. Every
// backend applies a write atomically: a crash mid-write leaves either the old
// record or the new one, never a partial record.
//
// Backends:
//   - file: snapshot + fsynced journal (default, no external services)
//   - sqlite / postgres: one table, shared SQL built with squirrel
//   - redis: hash + per-owner sets, written with MULTI/EXEC
//   - memory: non-durable, for tests and dry runs
package storage
