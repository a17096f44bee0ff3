// Package xid defines the transaction identifiers and raw row records that
// flow through a dirty read.
//
// # Transaction ids
//
// TransactionID is the 32-bit identifier stamped into a tuple header by the
// host engine. Ids below FirstNormal are special:
//
//	0  Invalid    - unset; an xmax of 0 means "never deleted"
//	1  Bootstrap  - rows written while the cluster was initialised
//	2  Frozen     - rows whose inserter has been frozen by vacuum
//
// Special ids are never resolved against a commit log. By convention they
// are treated as committed.
//
// # Raw rows
//
// RawRow is the typed form of a stored tuple: its inserting and deleting
// transaction ids, its physical location and its opaque payload. RawRows are
// produced by a scanner one at a time and own nothing beyond their bytes.
package xid
