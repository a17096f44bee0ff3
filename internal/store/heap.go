package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/tuple"
	"github.com/roach88/dirtyread/internal/xid"
)

var _ scan.Source = (*Store)(nil)

// errScanClosed is returned by Next after Close.
var errScanClosed = errors.New("heap scan closed")

// OpenScan implements scan.Source. It takes the relation's share lock, which
// is held until the returned scan is closed.
func (s *Store) OpenScan(ctx context.Context, relation string) (scan.RawScan, error) {
	n, err := normalizeName(relation)
	if err != nil {
		return nil, scan.NewConfigurationError(relation, "invalid relation name", err)
	}

	h, err := s.locks.Acquire(ctx, n, locks.Share)
	if err != nil {
		return nil, scan.NewLockError(n, err)
	}

	rel, err := lookupRelation(ctx, s.db, n)
	if errors.Is(err, ErrRelationNotFound) {
		h.Release()
		return nil, scan.NewConfigurationError(n, "relation does not exist", err)
	}
	if err != nil {
		h.Release()
		return nil, err
	}

	return &heapScan{
		store: s,
		rel:   rel,
		lock:  h,
	}, nil
}

type pendingTuple struct {
	tid  xid.TID
	data []byte
}

// heapScan pages through heap_tuples in (block, line) order. Each batch is a
// separate query, so the database connection is free between calls.
type heapScan struct {
	store *Store
	rel   Relation
	lock  *locks.Handle

	buf       []pendingTuple
	after     xid.TID
	exhausted bool

	mu     sync.Mutex
	closed bool
}

func (h *heapScan) Shape() shape.Descriptor {
	return h.rel.Shape
}

func (h *heapScan) Next(ctx context.Context) (xid.RawRow, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return xid.RawRow{}, errScanClosed
	}

	if len(h.buf) == 0 {
		if h.exhausted {
			return xid.RawRow{}, io.EOF
		}
		if err := h.fetch(ctx); err != nil {
			return xid.RawRow{}, err
		}
		if len(h.buf) == 0 {
			return xid.RawRow{}, io.EOF
		}
	}

	p := h.buf[0]
	h.buf = h.buf[1:]
	row, err := tuple.Decode(p.tid, p.data)
	if err != nil {
		return xid.RawRow{}, scan.NewCorruptRowError(h.rel.Name, err)
	}
	return row, nil
}

// fetch loads the next batch of tuples after h.after.
func (h *heapScan) fetch(ctx context.Context) error {
	limit := h.store.batchSize
	rows, err := h.store.db.QueryContext(ctx, `
		SELECT block, line, tuple FROM heap_tuples
		WHERE relation_id = ?
		  AND (block > ? OR (block = ? AND line > ?))
		ORDER BY block ASC, line ASC
		LIMIT ?
	`, h.rel.ID, h.after.Block, h.after.Block, h.after.Line, limit)
	if err != nil {
		return fmt.Errorf("read heap %q: %w", h.rel.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p pendingTuple
		if err := rows.Scan(&p.tid.Block, &p.tid.Line, &p.data); err != nil {
			return fmt.Errorf("read heap %q: scan: %w", h.rel.Name, err)
		}
		h.buf = append(h.buf, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read heap %q: iterate: %w", h.rel.Name, err)
	}

	if len(h.buf) < limit {
		h.exhausted = true
	}
	if len(h.buf) > 0 {
		h.after = h.buf[len(h.buf)-1].tid
	}
	return nil
}

func (h *heapScan) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.buf = nil
	h.lock.Release()
	return nil
}
