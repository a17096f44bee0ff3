// Package config loads session settings for dirtyread from a .properties
// file.
//
// Recognized keys:
//
//	txn_id       = 1234                 # reference transaction, 0 dumps everything
//	db           = /var/lib/heap.db     # SQLite heap
//	clog         = /var/lib/clog        # commit log directory
//	pg_dsn       = postgres://...       # live PostgreSQL instead of db/clog
//	lock_timeout = 5s
//
// Values may reference other keys or environment variables with ${name}.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/xid"
)

// Keys.
const (
	KeyReferenceXID = "txn_id"
	KeyDatabase     = "db"
	KeyCommitLog    = "clog"
	KeyPostgresDSN  = "pg_dsn"
	KeyLockTimeout  = "lock_timeout"
)

var knownKeys = map[string]bool{
	KeyReferenceXID: true,
	KeyDatabase:     true,
	KeyCommitLog:    true,
	KeyPostgresDSN:  true,
	KeyLockTimeout:  true,
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid settings")

// Settings is one session's configuration.
type Settings struct {
	// ReferenceXID is the transaction rows are judged against. Zero
	// disables filtering.
	ReferenceXID xid.TransactionID
	Database     string
	CommitLog    string
	PostgresDSN  string
	LockTimeout  time.Duration
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{LockTimeout: locks.DefaultTimeout}
}

// Load reads settings from a properties file on top of Default.
func Load(path string) (Settings, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s, err := FromProperties(p)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}

// Parse reads settings from properties text on top of Default.
func Parse(text string) (Settings, error) {
	p, err := properties.LoadString(text)
	if err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return FromProperties(p)
}

// FromProperties converts p to Settings and validates the result. Unknown
// keys are rejected so that typos do not silently fall back to defaults.
func FromProperties(p *properties.Properties) (Settings, error) {
	s := Default()
	for _, k := range p.Keys() {
		if !knownKeys[k] {
			return Settings{}, fmt.Errorf("%w: unknown key %q", ErrInvalid, k)
		}
	}

	if v, ok := p.Get(KeyReferenceXID); ok {
		id, err := ParseReferenceXID(v)
		if err != nil {
			return Settings{}, err
		}
		s.ReferenceXID = id
	}
	if v, ok := p.Get(KeyLockTimeout); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return Settings{}, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyLockTimeout, err)
		}
		s.LockTimeout = d
	}
	s.Database = strings.TrimSpace(p.GetString(KeyDatabase, ""))
	s.CommitLog = strings.TrimSpace(p.GetString(KeyCommitLog, ""))
	s.PostgresDSN = strings.TrimSpace(p.GetString(KeyPostgresDSN, ""))

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ParseReferenceXID parses a reference transaction id. Accepted values are
// 0 through xid.MaxReference.
func ParseReferenceXID(v string) (xid.TransactionID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return xid.Invalid, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalid, KeyReferenceXID, v)
	}
	if n < 0 || n > int64(xid.MaxReference) {
		return xid.Invalid, fmt.Errorf("%w: %s: %d is outside 0..%d", ErrInvalid, KeyReferenceXID, n, xid.MaxReference)
	}
	return xid.TransactionID(n), nil
}

// Validate checks field ranges and that at most one row source is set.
func (s Settings) Validate() error {
	if uint32(s.ReferenceXID) > uint32(xid.MaxReference) {
		return fmt.Errorf("%w: %s: %d is outside 0..%d", ErrInvalid, KeyReferenceXID, s.ReferenceXID, xid.MaxReference)
	}
	if s.LockTimeout <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, KeyLockTimeout, s.LockTimeout)
	}
	if s.PostgresDSN != "" && (s.Database != "" || s.CommitLog != "") {
		return fmt.Errorf("%w: %s cannot be combined with %s or %s", ErrInvalid, KeyPostgresDSN, KeyDatabase, KeyCommitLog)
	}
	return nil
}

// UsesPostgres reports whether rows and statuses come from a live server.
func (s Settings) UsesPostgres() bool {
	return s.PostgresDSN != ""
}
