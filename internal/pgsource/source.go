package pgsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/tuple"
	"github.com/roach88/dirtyread/internal/xid"
)

// lockNotAvailable is SQLSTATE 55P03.
const lockNotAvailable = "55P03"

// Source is a scan.Source over a PostgreSQL database.
type Source struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *slog.Logger
}

var _ scan.Source = (*Source)(nil)

// Option configures a Source.
type Option func(*Source)

// WithLockTimeout bounds the wait for ACCESS SHARE on the scanned table.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		s.logger = logger
	}
}

// Open connects to the server at dsn.
func Open(dsn string, opts ...Option) (*Source, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, opts ...Option) *Source {
	s := &Source{
		db:          db,
		lockTimeout: locks.DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool.
func (s *Source) DB() *sql.DB {
	return s.db
}

// Oracle returns a commit status oracle on the same server.
func (s *Source) Oracle() *Oracle {
	return NewOracle(s.db)
}

// Close closes the connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}

// OpenScan implements scan.Source.
func (s *Source) OpenScan(ctx context.Context, relation string) (scan.RawScan, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin scan of %q: %w", relation, err)
	}

	ps, err := s.prepare(ctx, tx, relation)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	s.logger.Debug("postgres scan opened",
		"relation", ps.name,
		"blocks", ps.blocks,
		"columns", len(ps.shape.Columns))
	return ps, nil
}

func (s *Source) prepare(ctx context.Context, tx *sql.Tx, relation string) (*pageScan, error) {
	var (
		oid     uint32
		name    string
		relkind string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT c.oid, c.oid::regclass::text, c.relkind::text
		FROM pg_class c
		WHERE c.oid = to_regclass($1)
	`, relation).Scan(&oid, &name, &relkind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scan.NewConfigurationError(relation, "relation does not exist", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", relation, err)
	}
	if !isHeapKind(relkind) {
		return nil, scan.NewConfigurationError(name, fmt.Sprintf("relation kind %q has no heap", relkind), nil)
	}

	if _, err := tx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeoutSetting(s.lockTimeout)); err != nil {
		return nil, fmt.Errorf("set lock_timeout: %w", err)
	}
	// name is regclass output and so already quoted where needed.
	if _, err := tx.ExecContext(ctx, "LOCK TABLE "+name+" IN ACCESS SHARE MODE"); err != nil {
		if isLockNotAvailable(err) {
			return nil, scan.NewLockError(name, fmt.Errorf("%w: %w", locks.ErrTimeout, err))
		}
		return nil, scan.NewLockError(name, err)
	}

	cols, err := columns(ctx, tx, oid)
	if err != nil {
		return nil, err
	}

	var blocks int64
	err = tx.QueryRowContext(ctx, `
		SELECT pg_relation_size($1::oid::regclass, 'main') / current_setting('block_size')::bigint
	`, oid).Scan(&blocks)
	if err != nil {
		return nil, fmt.Errorf("size of %s: %w", name, err)
	}

	return &pageScan{
		tx:     tx,
		name:   name,
		shape:  shape.Descriptor{Name: name, Columns: cols},
		blocks: uint32(blocks),
		logger: s.logger,
	}, nil
}

func columns(ctx context.Context, tx *sql.Tx, oid uint32) ([]shape.Column, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT attname::text, format_type(atttypid, atttypmod)
		FROM pg_attribute
		WHERE attrelid = $1 AND attnum > 0 AND NOT attisdropped
		ORDER BY attnum
	`, oid)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	defer rows.Close()

	var cols []shape.Column
	for rows.Next() {
		var c shape.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("columns: scan: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns: iterate: %w", err)
	}
	return cols, nil
}

// isHeapKind reports whether a pg_class.relkind stores tuples in a heap:
// ordinary tables, materialized views and TOAST tables.
func isHeapKind(relkind string) bool {
	switch relkind {
	case "r", "m", "t":
		return true
	}
	return false
}

// lockTimeoutSetting renders d for the lock_timeout setting.
func lockTimeoutSetting(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("%dms", ms)
}

func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == lockNotAvailable
}

// pageScan reads one page per round trip and hands out its items.
type pageScan struct {
	tx     *sql.Tx
	name   string
	shape  shape.Descriptor
	blocks uint32
	logger *slog.Logger

	next  uint32
	items []tuple.Item

	once   sync.Once
	closed bool
	err    error
}

func (p *pageScan) Shape() shape.Descriptor {
	return p.shape
}

func (p *pageScan) Next(ctx context.Context) (xid.RawRow, error) {
	if p.closed {
		return xid.RawRow{}, errors.New("postgres scan closed")
	}
	for len(p.items) == 0 {
		if p.next >= p.blocks {
			return xid.RawRow{}, io.EOF
		}
		block := p.next
		p.next++

		var page []byte
		err := p.tx.QueryRowContext(ctx, `SELECT get_raw_page($1, 'main', $2)`, p.name, int64(block)).Scan(&page)
		if err != nil {
			return xid.RawRow{}, fmt.Errorf("read block %d of %s: %w", block, p.name, err)
		}
		items, err := tuple.DecodePage(block, page)
		if err != nil {
			return xid.RawRow{}, scan.NewCorruptRowError(p.name, err)
		}
		p.items = items
	}

	it := p.items[0]
	p.items = p.items[1:]
	if it.Data == nil {
		return xid.RawRow{}, scan.NewCorruptRowError(p.name,
			fmt.Errorf("%w: line pointer %s points outside the page", tuple.ErrCorrupt, it.TID))
	}
	row, err := tuple.Decode(it.TID, it.Data)
	if err != nil {
		return xid.RawRow{}, scan.NewCorruptRowError(p.name, err)
	}
	return row, nil
}

// Close ends the read-only transaction, which releases ACCESS SHARE.
func (p *pageScan) Close() error {
	p.once.Do(func() {
		p.closed = true
		p.items = nil
		if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.err = err
		}
	})
	return p.err
}
