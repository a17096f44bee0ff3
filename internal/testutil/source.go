package testutil

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/xid"
)

// Oracle is an in-memory commit log. Ids with no entry are in progress.
//
// Thread-safety: safe for concurrent use.
type Oracle struct {
	mu       sync.RWMutex
	statuses map[xid.TransactionID]xid.Status
	lookups  int
}

// NewOracle creates an Oracle preloaded with statuses.
func NewOracle(statuses map[xid.TransactionID]xid.Status) *Oracle {
	o := &Oracle{statuses: make(map[xid.TransactionID]xid.Status, len(statuses))}
	for id, st := range statuses {
		o.statuses[id] = st
	}
	return o
}

// Set records the status of id.
func (o *Oracle) Set(id xid.TransactionID, st xid.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses[id] = st
}

// StatusOf implements visibility.Oracle.
func (o *Oracle) StatusOf(id xid.TransactionID) xid.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups++
	return o.statuses[id]
}

// Lookups returns how many times StatusOf was called.
func (o *Oracle) Lookups() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lookups
}

// Entry is one step of a fake scan: a row, or an error returned in its
// place.
type Entry struct {
	Row xid.RawRow
	Err error
}

// Relation is an in-memory relation for Source.
type Relation struct {
	Shape   shape.Descriptor
	Entries []Entry
}

// Rows builds a Relation from rows, assigning tids in order.
func Rows(desc shape.Descriptor, rows ...xid.RawRow) *Relation {
	r := &Relation{Shape: desc}
	for i, row := range rows {
		if row.TID == (xid.TID{}) {
			row.TID = xid.TID{Block: 0, Line: uint16(i + 1)}
		}
		r.Entries = append(r.Entries, Entry{Row: row})
	}
	return r
}

// Source is a fake scan.Source that records opens and closes so tests can
// check that every scan releases its lock exactly once.
//
// Thread-safety: safe for concurrent use.
type Source struct {
	mu        sync.Mutex
	relations map[string]*Relation
	opened    int
	closed    int
	doubles   int
	pulled    int

	// OpenErr, when set, is returned by every OpenScan.
	OpenErr error
}

// NewSource creates an empty Source.
func NewSource() *Source {
	return &Source{relations: make(map[string]*Relation)}
}

// Add registers a relation under name.
func (s *Source) Add(name string, rel *Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relations[name] = rel
}

// OpenScan implements scan.Source.
func (s *Source) OpenScan(ctx context.Context, relation string) (scan.RawScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	rel, ok := s.relations[relation]
	if !ok {
		return nil, scan.NewConfigurationError(relation, "relation does not exist", nil)
	}
	s.opened++
	return &rawScan{src: s, rel: rel}, nil
}

// Held returns the number of scans currently holding their lock.
func (s *Source) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened - s.closed
}

// Opened returns the number of scans opened so far.
func (s *Source) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// DoubleCloses returns how many Close calls hit an already closed scan.
func (s *Source) DoubleCloses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doubles
}

// Pulled returns how many entries have been read from all scans.
func (s *Source) Pulled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled
}

type rawScan struct {
	src    *Source
	rel    *Relation
	pos    int
	closed bool
}

func (r *rawScan) Shape() shape.Descriptor {
	return r.rel.Shape
}

func (r *rawScan) Next(ctx context.Context) (xid.RawRow, error) {
	if r.closed {
		return xid.RawRow{}, fmt.Errorf("scan closed")
	}
	if err := ctx.Err(); err != nil {
		return xid.RawRow{}, err
	}
	if r.pos >= len(r.rel.Entries) {
		return xid.RawRow{}, io.EOF
	}
	e := r.rel.Entries[r.pos]
	r.pos++
	r.src.mu.Lock()
	r.src.pulled++
	r.src.mu.Unlock()
	return e.Row, e.Err
}

func (r *rawScan) Close() error {
	r.src.mu.Lock()
	defer r.src.mu.Unlock()
	if r.closed {
		r.src.doubles++
		return nil
	}
	r.closed = true
	r.src.closed++
	return nil
}
