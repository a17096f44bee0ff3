package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/dirtyread/internal/clog"
	"github.com/roach88/dirtyread/internal/config"
	"github.com/roach88/dirtyread/internal/pgsource"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/store"
	"github.com/roach88/dirtyread/internal/visibility"
)

// session is the row source and commit oracle a command works against.
type session struct {
	source scan.Source
	oracle visibility.Oracle

	// Local mode only.
	store *store.Store
	clog  *clog.Log

	pg *pgsource.Source
}

// sessionNeeds says which halves of a session a command uses.
type sessionNeeds struct {
	heap   bool
	oracle bool
	local  bool // refuse PostgreSQL
}

func openSession(s config.Settings, needs sessionNeeds) (*session, error) {
	if s.UsesPostgres() {
		if needs.local {
			return nil, NewExitError(ExitCommandError, "this command needs a local heap (--db/--clog), not --pg-dsn")
		}
		pg, err := pgsource.Open(s.PostgresDSN, pgsource.WithLockTimeout(s.LockTimeout))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect to postgres", err)
		}
		return &session{source: pg, oracle: pg.Oracle(), pg: pg}, nil
	}

	sess := &session{}
	if needs.heap {
		if s.Database == "" {
			return nil, NewExitError(ExitCommandError, "no heap configured: set --db or --pg-dsn")
		}
		st, err := store.Open(s.Database, store.WithLockTimeout(s.LockTimeout))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		sess.store = st
		sess.source = st
	}
	if needs.oracle {
		if s.CommitLog == "" {
			sess.Close()
			return nil, NewExitError(ExitCommandError, "no commit log configured: set --clog or --pg-dsn")
		}
		cl, err := clog.Open(s.CommitLog)
		if err != nil {
			sess.Close()
			return nil, WrapExitError(ExitCommandError, "failed to open commit log", err)
		}
		sess.clog = cl
		sess.oracle = cl
	}
	return sess, nil
}

// Close releases everything the session opened. Errors are logged.
func (s *session) Close() {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.clog != nil {
		errs = append(errs, s.clog.Close())
	}
	if s.pg != nil {
		errs = append(errs, s.pg.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("error closing session", "error", err)
	}
}

// commandContext returns ctx, or Background for commands run without one.
func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// scanFailure converts a scan error into an ExitError, writing the JSON
// error envelope first when JSON output is selected.
func scanFailure(f *OutputFormatter, err error) error {
	code := "E001"
	exit := ExitFailure
	var se *scan.Error
	if errors.As(err, &se) {
		code = string(se.Code)
		if scan.IsConfigurationError(err) || scan.IsLockError(err) {
			exit = ExitCommandError
		}
	}
	if f.Format == "json" {
		_ = f.Error(code, err.Error(), nil)
	}
	return WrapExitError(exit, "scan failed", err)
}
