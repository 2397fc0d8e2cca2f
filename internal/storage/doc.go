// Package storage persists the destination registry.
//
// Drivers:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "file":   JSON snapshot + append-only journal
//
// Both drivers re-read on ListDestinations so edits made by the CLI in
// another process reach a running scheduler on its next refresh.
package storage
