// Package storage persists job records, groupings, notifier dedup state and
// the command audit log.
//
// Drivers:
//   - "sqlite": a single SQLite database file (modernc.org/sqlite, no cgo)
//   - "file": a JSON snapshot written atomically on every change
//   - "memory": nothing survives a restart; used by tests and dry runs
package storage
