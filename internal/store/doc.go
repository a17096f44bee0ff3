// Package store provides a SQLite-backed heap for dirtyread.
//
// Each relation is a catalog entry (name, row shape) plus an append-only set
// of tuples addressed by (block, line). A tuple is stored exactly as the
// host engine would lay it out on a page: a fixed header carrying xmin and
// xmax followed by the payload. Deletes never remove bytes; they stamp an
// xmax into the stored header in place, so every historical row version
// stays available to a raw scan.
//
// # Access
//
//   - OpenScan: share lock, then a keyset-paged walk in (block, line) order.
//     Store implements scan.Source.
//   - Insert / InsertRaw / Delete: fixture writers. They take the share
//     lock too, so they run alongside scans but not alongside a drop.
//   - DropRelation: exclusive lock; waits for open scans and gives up after
//     the lock timeout.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Commit status is not kept here; see package clog.
package store
