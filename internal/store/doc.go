// Package store provides the SQLite-backed mutation journal.
//
// The journal is append-only and records:
//   - Batches: every committed engine batch with its ops
//   - Calls: remote calls and how they ended
//   - Checkpoints: encoded graph snapshots used to verify a replay
//
// The journal is a diagnostic log, not persistence: the engine never reads it
// back on its own. `relgraph replay` rebuilds a graph from it and compares the
// result with the last checkpoint.
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - Replaying a journal reproduces the same seq values
//
// Idempotent writes:
//   - Batch ids are content-addressed (ir.BatchID); writing a batch twice
//     is a no-op (ON CONFLICT DO NOTHING)
//   - A call row is keyed by its token; later writes update its status
//
// Deterministic reads:
//   - All queries MUST include: ORDER BY seq ASC, id ASC COLLATE BINARY
//     (token for calls)
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Opening ":memory:" (the default) keeps the journal for the life of the
// process only.
package store
