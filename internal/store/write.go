package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/tuple"
	"github.com/roach88/dirtyread/internal/xid"
)

var (
	// ErrTupleNotFound is returned when no tuple is stored at a tid.
	ErrTupleNotFound = errors.New("tuple not found")

	// ErrInvalidXID is returned when a writer is given transaction id 0.
	ErrInvalidXID = errors.New("transaction id must be set")
)

// Insert appends a tuple created by transaction xmin with the given payload
// and returns its tid. Tids are assigned in physical order: lines fill a
// block up to the relation's tuples_per_block before the next block starts.
func (s *Store) Insert(ctx context.Context, relation string, xmin xid.TransactionID, payload []byte) (xid.TID, error) {
	if !xmin.IsValid() {
		return xid.TID{}, fmt.Errorf("insert into %q: %w", relation, ErrInvalidXID)
	}
	var tid xid.TID
	err := s.writeTx(ctx, relation, func(tx *sql.Tx, rel Relation) error {
		var err error
		tid, err = insertTuple(ctx, tx, rel, xmin, payload)
		return err
	})
	if err != nil {
		return xid.TID{}, fmt.Errorf("insert into %q: %w", relation, err)
	}
	return tid, nil
}

// InsertRow is Insert with v encoded as the JSON payload.
func (s *Store) InsertRow(ctx context.Context, relation string, xmin xid.TransactionID, v any) (xid.TID, error) {
	payload, err := marshalPayload(v)
	if err != nil {
		return xid.TID{}, fmt.Errorf("insert into %q: %w", relation, err)
	}
	return s.Insert(ctx, relation, xmin, payload)
}

// InsertRaw stores b verbatim as the next tuple. No header validation is
// done, so it can place undecodable tuples in the heap.
func (s *Store) InsertRaw(ctx context.Context, relation string, b []byte) (xid.TID, error) {
	var tid xid.TID
	err := s.writeTx(ctx, relation, func(tx *sql.Tx, rel Relation) error {
		var err error
		tid, err = nextTID(ctx, tx, rel)
		if err != nil {
			return err
		}
		return putTuple(ctx, tx, rel.ID, tid, b)
	})
	if err != nil {
		return xid.TID{}, fmt.Errorf("insert raw into %q: %w", relation, err)
	}
	return tid, nil
}

// Delete stamps xmax into the tuple at tid. The tuple stays in the heap.
func (s *Store) Delete(ctx context.Context, relation string, tid xid.TID, xmax xid.TransactionID) error {
	if !xmax.IsValid() {
		return fmt.Errorf("delete %s from %q: %w", tid, relation, ErrInvalidXID)
	}
	err := s.writeTx(ctx, relation, func(tx *sql.Tx, rel Relation) error {
		return stampXMax(ctx, tx, rel.ID, tid, xmax)
	})
	if err != nil {
		return fmt.Errorf("delete %s from %q: %w", tid, relation, err)
	}
	return nil
}

// Update replaces the tuple at tid with a new version written by x: the old
// version gets xmax = x and the new one is appended with xmin = x.
func (s *Store) Update(ctx context.Context, relation string, tid xid.TID, x xid.TransactionID, payload []byte) (xid.TID, error) {
	if !x.IsValid() {
		return xid.TID{}, fmt.Errorf("update %s in %q: %w", tid, relation, ErrInvalidXID)
	}
	var newTID xid.TID
	err := s.writeTx(ctx, relation, func(tx *sql.Tx, rel Relation) error {
		if err := stampXMax(ctx, tx, rel.ID, tid, x); err != nil {
			return err
		}
		var err error
		newTID, err = insertTuple(ctx, tx, rel, x, payload)
		return err
	})
	if err != nil {
		return xid.TID{}, fmt.Errorf("update %s in %q: %w", tid, relation, err)
	}
	return newTID, nil
}

// writeTx runs fn in a transaction while holding the relation's share lock.
func (s *Store) writeTx(ctx context.Context, relation string, fn func(*sql.Tx, Relation) error) error {
	n, err := normalizeName(relation)
	if err != nil {
		return err
	}
	h, err := s.locks.Acquire(ctx, n, locks.Share)
	if err != nil {
		return err
	}
	defer h.Release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rel, err := lookupRelation(ctx, tx, n)
	if err != nil {
		return err
	}
	if err := fn(tx, rel); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertTuple(ctx context.Context, tx *sql.Tx, rel Relation, xmin xid.TransactionID, payload []byte) (xid.TID, error) {
	tid, err := nextTID(ctx, tx, rel)
	if err != nil {
		return xid.TID{}, err
	}
	b := tuple.Encode(tuple.Header{
		XMin:      xmin,
		CTID:      tid,
		Infomask2: uint16(len(rel.Shape.Columns)),
	}, payload)
	if err := putTuple(ctx, tx, rel.ID, tid, b); err != nil {
		return xid.TID{}, err
	}
	return tid, nil
}

// nextTID returns the tid after the last stored tuple of rel. Lines are
// numbered from 1.
func nextTID(ctx context.Context, tx *sql.Tx, rel Relation) (xid.TID, error) {
	var block, line int64
	err := tx.QueryRowContext(ctx, `
		SELECT block, line FROM heap_tuples
		WHERE relation_id = ?
		ORDER BY block DESC, line DESC
		LIMIT 1
	`, rel.ID).Scan(&block, &line)
	if errors.Is(err, sql.ErrNoRows) {
		return xid.TID{Block: 0, Line: 1}, nil
	}
	if err != nil {
		return xid.TID{}, fmt.Errorf("next tid: %w", err)
	}
	perBlock := min(rel.TuplesPerBlock, math.MaxUint16)
	if perBlock <= 0 {
		perBlock = DefaultTuplesPerBlock
	}
	if int(line) < perBlock {
		return xid.TID{Block: uint32(block), Line: uint16(line + 1)}, nil
	}
	return xid.TID{Block: uint32(block + 1), Line: 1}, nil
}

func putTuple(ctx context.Context, tx *sql.Tx, relID int64, tid xid.TID, b []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO heap_tuples (relation_id, block, line, tuple)
		VALUES (?, ?, ?, ?)
	`, relID, tid.Block, tid.Line, b)
	if err != nil {
		return fmt.Errorf("write tuple %s: %w", tid, err)
	}
	return nil
}

func stampXMax(ctx context.Context, tx *sql.Tx, relID int64, tid xid.TID, xmax xid.TransactionID) error {
	var b []byte
	err := tx.QueryRowContext(ctx, `
		SELECT tuple FROM heap_tuples
		WHERE relation_id = ? AND block = ? AND line = ?
	`, relID, tid.Block, tid.Line).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTupleNotFound
	}
	if err != nil {
		return fmt.Errorf("read tuple %s: %w", tid, err)
	}
	if err := tuple.SetXMax(b, xmax); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE heap_tuples SET tuple = ?
		WHERE relation_id = ? AND block = ? AND line = ?
	`, b, relID, tid.Block, tid.Line)
	if err != nil {
		return fmt.Errorf("write tuple %s: %w", tid, err)
	}
	return nil
}
