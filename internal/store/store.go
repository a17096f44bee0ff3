package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/dirtyread/internal/locks"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added relations.tuples_per_block
const currentSchemaVersion = 1

// DefaultBatchSize is how many tuples a scan fetches per query.
const DefaultBatchSize = 256

// DefaultTuplesPerBlock is how many tuples the writer places in a block
// before moving to the next one.
const DefaultTuplesPerBlock = 64

// Store provides durable heap storage for relations.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db             *sql.DB
	locks          *locks.Manager
	lockTimeout    time.Duration
	batchSize      int
	tuplesPerBlock int
	logger         *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long scans, writers and drops wait for a
// relation lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.lockTimeout = d
	}
}

// WithBatchSize sets how many tuples a scan reads per query.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithTuplesPerBlock sets the block fill used for relations created by this
// Store. Values above math.MaxUint16, the largest line number, are capped.
func WithTuplesPerBlock(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.tuplesPerBlock = min(n, math.MaxUint16)
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		lockTimeout:    locks.DefaultTimeout,
		batchSize:      DefaultBatchSize,
		tuplesPerBlock: DefaultTuplesPerBlock,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// Scans page through the heap in batches and never hold the connection
	// between calls to Next.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	s.locks = locks.NewManager(s.lockTimeout)
	return s, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - bypasses relation locks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds relations.tuples_per_block. New databases get the column
// from schema.sql; databases created before v1 need it added explicitly.
func migrateToV1(db *sql.DB) error {
	rows, err := db.Query("PRAGMA table_info(relations)")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
		if name == "tuples_per_block" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	rows.Close()

	_, err = db.Exec(fmt.Sprintf(
		"ALTER TABLE relations ADD COLUMN tuples_per_block INTEGER NOT NULL DEFAULT %d",
		DefaultTuplesPerBlock))
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
