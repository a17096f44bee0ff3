// Package clog is a durable transaction commit log.
//
// Every commit or abort is appended to a write-ahead log as a fixed 5-byte
// record (little-endian xid, status byte). On open the log is replayed into
// in-memory committed and aborted sets, which answer status queries without
// touching disk. A transaction that appears in neither set is in progress.
//
// Log implements visibility.Oracle.
package clog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/tidwall/wal"

	"github.com/roach88/dirtyread/internal/xid"
)

const recordSize = 5

var (
	// ErrStatusFinal is returned when a committed transaction is marked
	// aborted or the other way round.
	ErrStatusFinal = errors.New("transaction status already final")

	// ErrNotNormal is returned when a special id is recorded.
	ErrNotNormal = errors.New("not a normal transaction id")

	// ErrClosed is returned by writes after Close.
	ErrClosed = errors.New("commit log closed")
)

// Log is a commit log backed by a write-ahead log directory.
type Log struct {
	mu        sync.RWMutex
	wal       *wal.Log
	committed mapset.Set
	aborted   mapset.Set
	latest    xid.TransactionID
}

// Open opens or creates the commit log in dir and replays it.
func Open(dir string) (*Log, error) {
	w, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open commit log: %w", err)
	}
	l := &Log{
		wal:       w,
		committed: mapset.NewThreadUnsafeSet(),
		aborted:   mapset.NewThreadUnsafeSet(),
	}
	if err := l.replay(); err != nil {
		w.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	first, err := l.wal.FirstIndex()
	if err != nil {
		return fmt.Errorf("commit log first index: %w", err)
	}
	last, err := l.wal.LastIndex()
	if err != nil {
		return fmt.Errorf("commit log last index: %w", err)
	}
	if last == 0 {
		return nil
	}
	for i := first; i <= last; i++ {
		data, err := l.wal.Read(i)
		if err != nil {
			return fmt.Errorf("read commit log entry %d: %w", i, err)
		}
		id, st, err := decodeRecord(data)
		if err != nil {
			return fmt.Errorf("commit log entry %d: %w", i, err)
		}
		l.apply(id, st)
	}
	slog.Debug("commit log replayed",
		"entries", last-first+1,
		"committed", l.committed.Cardinality(),
		"aborted", l.aborted.Cardinality())
	return nil
}

func (l *Log) apply(id xid.TransactionID, st xid.Status) {
	switch st {
	case xid.Committed:
		l.committed.Add(id)
	case xid.Aborted:
		l.aborted.Add(id)
	}
	if id > l.latest {
		l.latest = id
	}
}

func encodeRecord(id xid.TransactionID, st xid.Status) []byte {
	b := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(b, uint32(id))
	b[4] = byte(st)
	return b
}

func decodeRecord(b []byte) (xid.TransactionID, xid.Status, error) {
	if len(b) != recordSize {
		return 0, 0, fmt.Errorf("record is %d bytes, want %d", len(b), recordSize)
	}
	st := xid.Status(b[4])
	if !st.IsFinal() {
		return 0, 0, fmt.Errorf("record has non-final status %d", b[4])
	}
	return xid.TransactionID(binary.LittleEndian.Uint32(b)), st, nil
}

// StatusOf reports the recorded status of id. Ids with no record are in
// progress.
func (l *Log) StatusOf(id xid.TransactionID) xid.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statusLocked(id)
}

func (l *Log) statusLocked(id xid.TransactionID) xid.Status {
	if l.committed.Contains(id) {
		return xid.Committed
	}
	if l.aborted.Contains(id) {
		return xid.Aborted
	}
	return xid.InProgress
}

// Record durably sets the final status of id. Recording the same status
// twice is a no-op; flipping a final status is an error.
func (l *Log) Record(id xid.TransactionID, st xid.Status) error {
	if !id.IsNormal() {
		return fmt.Errorf("%w: %s", ErrNotNormal, id)
	}
	if !st.IsFinal() {
		return fmt.Errorf("cannot record status %q for %s", st, id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wal == nil {
		return ErrClosed
	}

	switch cur := l.statusLocked(id); {
	case cur == st:
		return nil
	case cur.IsFinal():
		return fmt.Errorf("%w: %s is %s", ErrStatusFinal, id, cur)
	}

	last, err := l.wal.LastIndex()
	if err != nil {
		return fmt.Errorf("commit log last index: %w", err)
	}
	if err := l.wal.Write(last+1, encodeRecord(id, st)); err != nil {
		return fmt.Errorf("append commit log: %w", err)
	}
	l.apply(id, st)
	return nil
}

// Commit records id as committed.
func (l *Log) Commit(id xid.TransactionID) error {
	return l.Record(id, xid.Committed)
}

// Abort records id as aborted.
func (l *Log) Abort(id xid.TransactionID) error {
	return l.Record(id, xid.Aborted)
}

// Latest returns the highest transaction id with a recorded status.
func (l *Log) Latest() xid.TransactionID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Close closes the underlying log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.wal == nil {
		return nil
	}
	err := l.wal.Close()
	l.wal = nil
	return err
}
