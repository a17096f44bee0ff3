package scan

import (
	"context"

	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/xid"
)

// Source opens raw sequential scans over relations.
type Source interface {
	// OpenScan resolves relation and takes a share lock on it. It fails
	// with a configuration error when the relation does not exist and with
	// a lock error when the lock cannot be obtained.
	OpenScan(ctx context.Context, relation string) (RawScan, error)
}

// RawScan is an open sequential scan. It yields every stored row version in
// physical order, with no visibility filtering.
type RawScan interface {
	// Shape describes the relation's row type.
	Shape() shape.Descriptor

	// Next returns the next stored row, or io.EOF once the relation is
	// exhausted. An error for which IsCorruptRow is true concerns a single
	// row; the scan can continue past it.
	Next(ctx context.Context) (xid.RawRow, error)

	// Close releases the scan's lock. It may be called at any point and
	// more than once.
	Close() error
}
