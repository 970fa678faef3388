// Package store provides the SQLite-backed delivery journal.
//
// The journal has two tables:
//   - transitions: append-only log of every unit state change, ordered by
//     the orchestrator's logical sequence number.
//   - units: the last known state and local path of each unit, updated with
//     every transition. A session primes its orchestrator from it.
//
// Ordering uses seq, never wall time. Every read orders by seq ASC.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - one open connection: SQLite has a single writer
package store
