package harness

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/roach88/dirtyread/internal/clog"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/store"
	"github.com/roach88/dirtyread/internal/visibility"
	"github.com/roach88/dirtyread/internal/xid"
)

// Harness holds one scenario's isolated heap and commit log.
type Harness struct {
	store   *store.Store
	clog    *clog.Log
	logger  *slog.Logger
	fixture *Fixture
}

// Fixture maps a scenario's labels to the tuples they were stored as.
type Fixture struct {
	Labels map[xid.TID]string
	TIDs   map[string]xid.TID
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger passed to the store and cursors. Logs are
// discarded by default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Create a fresh heap and commit log in a temporary directory
// 2. Record the scenario's transaction statuses
// 3. Create the relation and apply the steps in order
// 4. Scan once per check and compare
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir, err := os.MkdirTemp("", "dirtyread-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "heap.db"), store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	cl, err := clog.Open(filepath.Join(dir, "clog"))
	if err != nil {
		return nil, fmt.Errorf("failed to create commit log: %w", err)
	}
	defer cl.Close()

	fx, err := Apply(ctx, st, cl, scenario, cfg.logger)
	if err != nil {
		return nil, err
	}
	h := &Harness{store: st, clog: cl, logger: cfg.logger, fixture: fx}
	relation := scenario.RelationName()

	result := NewResult()
	for i, c := range scenario.Checks {
		got, err := h.runCheck(ctx, relation, c)
		if err != nil {
			return nil, fmt.Errorf("checks[%d]: %w", i, err)
		}
		result.Checks = append(result.Checks, got)
		for _, msg := range EvaluateCheck(i, c, got) {
			result.AddError(msg)
		}
	}
	return result, nil
}

// Apply records the scenario's statuses in cl, creates its relation in st
// and applies its steps. Checks are not run. A nil logger means
// slog.Default().
func Apply(ctx context.Context, st *store.Store, cl *clog.Log, scenario *Scenario, logger *slog.Logger) (*Fixture, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := recordStatuses(cl, scenario.Statuses); err != nil {
		return nil, err
	}
	relation := scenario.RelationName()
	if _, err := st.CreateRelation(ctx, relation, scenario.Columns); err != nil {
		return nil, err
	}
	fx := &Fixture{
		Labels: make(map[xid.TID]string),
		TIDs:   make(map[string]xid.TID),
	}
	if err := fx.applySteps(ctx, st, relation, scenario.Steps, logger); err != nil {
		return nil, err
	}
	return fx, nil
}

func recordStatuses(cl *clog.Log, statuses map[uint32]string) error {
	for _, id := range slices.Sorted(maps.Keys(statuses)) {
		st, err := xid.ParseStatus(statuses[id])
		if err != nil {
			return err
		}
		if err := cl.Record(xid.TransactionID(id), st); err != nil {
			return fmt.Errorf("record status of %d: %w", id, err)
		}
	}
	return nil
}

// applySteps runs all heap writes sequentially, remembering each label's tid.
func (fx *Fixture) applySteps(ctx context.Context, st *store.Store, relation string, steps []Step, logger *slog.Logger) error {
	for i, step := range steps {
		var (
			label string
			tid   xid.TID
			err   error
		)
		switch {
		case step.Insert != nil:
			label = step.Insert.Label
			var b []byte
			if b, err = payload(label, step.Insert.Row); err == nil {
				tid, err = st.Insert(ctx, relation, xid.TransactionID(step.Insert.XMin), b)
			}
		case step.Delete != nil:
			err = st.Delete(ctx, relation, fx.TIDs[step.Delete.Label], xid.TransactionID(step.Delete.XMax))
		case step.Update != nil:
			label = step.Update.NewLabel
			var b []byte
			if b, err = payload(label, step.Update.Row); err == nil {
				tid, err = st.Update(ctx, relation, fx.TIDs[step.Update.Label],
					xid.TransactionID(step.Update.XID), b)
			}
		case step.Raw != nil:
			label = step.Raw.Label
			var b []byte
			b, err = hex.DecodeString(step.Raw.Hex)
			if err == nil {
				tid, err = st.InsertRaw(ctx, relation, b)
			}
		}
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if label != "" {
			fx.Labels[tid] = label
			fx.TIDs[label] = tid
		}
		logger.Debug("step applied", "step", i, "label", label, "tid", tid.String())
	}
	return nil
}

// payload is the row as JSON, or the label when the step gives no row.
func payload(label string, row map[string]any) ([]byte, error) {
	if row == nil {
		return []byte(label), nil
	}
	b, err := marshalRow(row)
	if err != nil {
		return nil, fmt.Errorf("encode row for %q: %w", label, err)
	}
	return b, nil
}

func (h *Harness) runCheck(ctx context.Context, relation string, c Check) (CheckResult, error) {
	got := CheckResult{TxnID: c.TxnID, Visible: []string{}, Trace: []RowTrace{}}

	observe := func(row xid.RawRow, d visibility.Decision) {
		got.Trace = append(got.Trace, RowTrace{
			Label:   h.fixture.Labels[row.TID],
			TID:     row.TID.String(),
			XMin:    uint32(row.XMin),
			XMax:    uint32(row.XMax),
			Rule:    string(d.Rule),
			Verdict: d.Verdict.String(),
		})
	}

	cur, err := scan.Open(ctx, h.store, h.clog, relation, xid.TransactionID(c.TxnID),
		scan.WithLogger(h.logger),
		scan.WithObserver(observe))
	if err != nil {
		return CheckResult{}, err
	}
	for row, err := range cur.All(ctx) {
		if err != nil {
			return CheckResult{}, err
		}
		got.Visible = append(got.Visible, h.fixture.Labels[row.TID])
	}
	got.Stats = cur.Stats()
	return got, nil
}
