// Package scan streams the rows of a relation that were present as of a
// reference transaction.
//
// A Cursor pulls raw rows from a RawScan one at a time, runs each through a
// visibility.Resolver and hands back only the rows it accepts. Nothing is
// buffered beyond the row being evaluated, so accepted rows keep their
// physical order. The scan's share lock is held from Open until the cursor
// is exhausted, fails, or is closed, and is released exactly once.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/visibility"
	"github.com/roach88/dirtyread/internal/xid"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("cursor closed")

// Stats counts what a cursor has seen so far.
type Stats struct {
	Scanned  int `json:"scanned"`
	Returned int `json:"returned"`
	Hidden   int `json:"hidden"`
	Corrupt  int `json:"corrupt"`
}

// Observer is called with every decodable row the cursor evaluates, visible
// or not.
type Observer func(row xid.RawRow, d visibility.Decision)

// Option configures a Cursor.
type Option func(*Cursor)

// WithDeclaredShape requires the relation's row type to match declared.
func WithDeclaredShape(declared shape.Descriptor) Option {
	return func(c *Cursor) {
		c.declared = &declared
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cursor) {
		c.logger = logger
	}
}

// WithObserver registers fn to see every decision.
func WithObserver(fn Observer) Option {
	return func(c *Cursor) {
		c.observer = fn
	}
}

// oracleErr is implemented by oracles whose lookups can fail. A non-nil Err
// aborts the scan.
type oracleErr interface {
	Err() error
}

// Cursor is an open, forward-only, non-restartable stream of accepted rows.
// A Cursor is not safe for concurrent use.
type Cursor struct {
	id       string
	relation string
	ref      xid.TransactionID
	scan     RawScan
	oracle   visibility.Oracle
	resolver *visibility.Resolver
	declared *shape.Descriptor
	observer Observer
	logger   *slog.Logger

	stats  Stats
	done   bool
	closed bool
	err    error
}

// Open starts a raw scan of relation through src and filters it against
// reference transaction ref. A ref of 0 returns every stored row.
func Open(ctx context.Context, src Source, oracle visibility.Oracle, relation string, ref xid.TransactionID, opts ...Option) (*Cursor, error) {
	c := &Cursor{
		id:       uuid.Must(uuid.NewV7()).String(),
		relation: relation,
		ref:      ref,
		oracle:   oracle,
		resolver: visibility.NewResolver(oracle),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	rs, err := src.OpenScan(ctx, relation)
	if err != nil {
		return nil, err
	}
	c.scan = rs

	if c.declared != nil {
		if err := shape.Check(*c.declared, rs.Shape()); err != nil {
			rs.Close()
			return nil, NewConfigurationError(relation, "declared output type does not match relation", err)
		}
	}

	c.logger.Debug("scan opened",
		"scan_id", c.id,
		"relation", relation,
		"txn_id", uint32(ref),
		"bypass", ref == xid.Invalid)
	return c, nil
}

// ID returns the cursor's scan id, used to correlate log lines.
func (c *Cursor) ID() string {
	return c.id
}

// Shape describes the rows the cursor yields.
func (c *Cursor) Shape() shape.Descriptor {
	if c.declared != nil {
		return *c.declared
	}
	return c.scan.Shape()
}

// Stats returns the counters accumulated so far.
func (c *Cursor) Stats() Stats {
	return c.stats
}

// Next returns the next accepted row, or io.EOF when the relation is
// exhausted. Any other error ends the scan; the lock is released before
// Next returns in both cases.
func (c *Cursor) Next(ctx context.Context) (xid.RawRow, error) {
	if c.closed && !c.done {
		return xid.RawRow{}, ErrClosed
	}
	if c.done {
		if c.err != nil {
			return xid.RawRow{}, c.err
		}
		return xid.RawRow{}, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return xid.RawRow{}, c.fail(err)
		}

		row, err := c.scan.Next(ctx)
		if err == io.EOF {
			c.finish()
			return xid.RawRow{}, io.EOF
		}
		if IsCorruptRow(err) {
			c.stats.Corrupt++
			c.logger.Warn("skipping corrupt row", "scan_id", c.id, "relation", c.relation, "error", err)
			continue
		}
		if err != nil {
			return xid.RawRow{}, c.fail(fmt.Errorf("scan %s: %w", c.relation, err))
		}

		if row.XMin == xid.Invalid && c.ref != xid.Invalid {
			c.stats.Corrupt++
			c.logger.Warn("skipping corrupt row", "scan_id", c.id, "relation", c.relation,
				"tid", row.TID.String(), "error", "xmin is unset")
			continue
		}

		c.stats.Scanned++
		d := c.resolver.Explain(row, c.ref)
		if oe, ok := c.oracle.(oracleErr); ok {
			if err := oe.Err(); err != nil {
				return xid.RawRow{}, c.fail(fmt.Errorf("transaction status lookup: %w", err))
			}
		}
		if c.observer != nil {
			c.observer(row, d)
		}
		if d.Verdict == visibility.Visible {
			c.stats.Returned++
			return row, nil
		}
		c.stats.Hidden++
	}
}

// All returns the remaining accepted rows as a sequence. Leaving the loop
// early closes the cursor. A scan failure is yielded once as the final
// element.
func (c *Cursor) All(ctx context.Context) iter.Seq2[xid.RawRow, error] {
	return func(yield func(xid.RawRow, error) bool) {
		defer c.Close()
		for {
			row, err := c.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(xid.RawRow{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Close ends the scan and releases its lock. Close is idempotent; only the
// first call can return an error.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.scan.Close()
	c.logger.Debug("scan closed",
		"scan_id", c.id,
		"relation", c.relation,
		"scanned", c.stats.Scanned,
		"returned", c.stats.Returned,
		"hidden", c.stats.Hidden,
		"corrupt", c.stats.Corrupt)
	return err
}

func (c *Cursor) finish() {
	c.done = true
	if err := c.Close(); err != nil {
		c.logger.Error("error closing scan", "scan_id", c.id, "error", err)
	}
}

func (c *Cursor) fail(err error) error {
	c.err = err
	c.finish()
	return err
}
