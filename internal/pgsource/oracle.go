package pgsource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/dirtyread/internal/xid"
)

// DefaultLookupTimeout bounds a single status query.
const DefaultLookupTimeout = 5 * time.Second

// Oracle answers commit status from the server's commit log.
//
// StatusOf cannot return an error, so the first failed lookup is kept and
// reported by Err; later lookups answer InProgress without querying. Final
// statuses are cached.
//
// Thread-safety: safe for concurrent use.
type Oracle struct {
	db      *sql.DB
	timeout time.Duration

	mu    sync.Mutex
	cache map[xid.TransactionID]xid.Status
	next  uint64 // next full transaction id, 0 until fetched
	err   error
}

// NewOracle creates an Oracle on db.
func NewOracle(db *sql.DB) *Oracle {
	return &Oracle{
		db:      db,
		timeout: DefaultLookupTimeout,
		cache:   make(map[xid.TransactionID]xid.Status),
	}
}

// Err returns the first lookup failure, if any.
func (o *Oracle) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// StatusOf implements visibility.Oracle. The lock is not held during the
// server round trip, so concurrent lookups proceed in parallel.
func (o *Oracle) StatusOf(id xid.TransactionID) xid.Status {
	if !id.IsNormal() {
		return xid.Committed
	}

	o.mu.Lock()
	if st, ok := o.cache[id]; ok {
		o.mu.Unlock()
		return st
	}
	if o.err != nil {
		o.mu.Unlock()
		return xid.InProgress
	}
	next := o.next
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	st, err := o.lookup(ctx, id, next)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if o.err == nil {
			o.err = fmt.Errorf("status of transaction %d: %w", id, err)
		}
		return xid.InProgress
	}
	if st.IsFinal() {
		o.cache[id] = st
	}
	return st
}

func (o *Oracle) lookup(ctx context.Context, id xid.TransactionID, next uint64) (xid.Status, error) {
	if next == 0 {
		var err error
		if next, err = o.fetchNext(ctx); err != nil {
			return xid.InProgress, err
		}
	}

	var status sql.NullString
	err := o.db.QueryRowContext(ctx, `SELECT pg_xact_status($1::text::xid8)`,
		strconv.FormatUint(fullXID(id, next), 10)).Scan(&status)
	if err != nil {
		return xid.InProgress, err
	}
	return parseXactStatus(status)
}

// fetchNext reads the server's next full transaction id and keeps it as the
// reference point for widening 32-bit ids.
func (o *Oracle) fetchNext(ctx context.Context) (uint64, error) {
	var s string
	err := o.db.QueryRowContext(ctx, `SELECT pg_snapshot_xmax(pg_current_snapshot())::text`).Scan(&s)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse next transaction id %q: %w", s, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.next == 0 {
		o.next = n
	}
	return n, nil
}

// fullXID widens a 32-bit id to the 64-bit form by taking the 64-bit id
// nearest to next in modulo-2^32 order. Ids assigned after next was read
// land after it, in the next epoch if the counter wrapped. An id that would
// fall before the first epoch is returned as is.
func fullXID(id xid.TransactionID, next uint64) uint64 {
	diff := int64(int32(uint32(id) - uint32(next)))
	full := int64(next) + diff
	if full < 0 {
		return uint64(id)
	}
	return uint64(full)
}

// parseXactStatus maps pg_xact_status output. NULL means the id is older
// than the retained commit log; such rows are frozen in practice and treated
// as committed.
func parseXactStatus(s sql.NullString) (xid.Status, error) {
	if !s.Valid {
		return xid.Committed, nil
	}
	return xid.ParseStatus(s.String)
}
