// Package store provides the SQLite-backed update journal.
//
// Every Update Engine invocation appends one row: the run id, the dataset,
// the action and entity reference, whether it succeeded, the error text on
// failure, when it started and how long it took. The journal is append-only
// and only ever read by operators (the history command).
//
// # Ordering
//
// Rows are ordered by seq, an INTEGER PRIMARY KEY assigned on insert.
// Wall-clock started_at is informational and never used for ordering.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - one open connection: dataset queues write concurrently, SQLite
//     serializes them
package store
