// Package storage persists the last accepted hop parameters and an append-only
// journal of run events.
//
// Drivers:
//   - file: JSON Lines journal plus a JSON snapshot of the last params
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
