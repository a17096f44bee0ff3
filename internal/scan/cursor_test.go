package scan_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/testutil"
	"github.com/roach88/dirtyread/internal/visibility"
	"github.com/roach88/dirtyread/internal/xid"
)

var accounts = shape.Descriptor{Name: "accounts", Columns: []shape.Column{{Name: "id", Type: "int4"}}}

var quiet = scan.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

func raw(xmin, xmax xid.TransactionID, payload string) xid.RawRow {
	return xid.RawRow{XMin: xmin, XMax: xmax, Payload: []byte(payload)}
}

// history: a live row, a deleted row, an aborted insert, an aborted delete
func historySource() (*testutil.Source, *testutil.Oracle) {
	src := testutil.NewSource()
	src.Add("accounts", testutil.Rows(accounts,
		raw(100, 0, "live"),
		raw(100, 200, "deleted"),
		raw(150, 0, "aborted-insert"),
		raw(120, 300, "aborted-delete"),
		raw(250, 0, "late"),
	))
	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{
		100: xid.Committed,
		120: xid.Committed,
		150: xid.Aborted,
		200: xid.Committed,
		250: xid.Committed,
		300: xid.Aborted,
	})
	return src, oracle
}

func drain(t *testing.T, c *scan.Cursor) []string {
	t.Helper()
	var out []string
	for {
		row, err := c.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(row.Payload))
	}
}

func TestCursorFiltersAsOfReference(t *testing.T) {
	tests := []struct {
		ref  xid.TransactionID
		want []string
	}{
		{50, nil},
		{100, []string{"live", "deleted"}},
		{130, []string{"live", "deleted", "aborted-delete"}},
		{200, []string{"live", "aborted-delete"}},
		{260, []string{"live", "aborted-delete", "late"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("t=%d", tt.ref), func(t *testing.T) {
			src, oracle := historySource()
			c, err := scan.Open(context.Background(), src, oracle, "accounts", tt.ref, quiet)
			require.NoError(t, err)

			assert.Equal(t, tt.want, drain(t, c))
			assert.Equal(t, 0, src.Held(), "lock must be released on exhaustion")
		})
	}
}

func TestCursorBypassReturnsEverything(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", xid.Invalid, quiet)
	require.NoError(t, err)

	got := drain(t, c)
	assert.Equal(t, []string{"live", "deleted", "aborted-insert", "aborted-delete", "late"}, got)
	assert.Equal(t, 0, oracle.Lookups())
	assert.Equal(t, scan.Stats{Scanned: 5, Returned: 5}, c.Stats())
}

func TestCursorStats(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 200, quiet)
	require.NoError(t, err)
	drain(t, c)

	assert.Equal(t, scan.Stats{Scanned: 5, Returned: 2, Hidden: 3}, c.Stats())
}

func TestCursorNextAfterExhaustion(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 260, quiet)
	require.NoError(t, err)
	drain(t, c)

	_, err = c.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	require.NoError(t, c.Close())
	assert.Equal(t, 0, src.DoubleCloses())
}

func TestCursorEarlyClose(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 260, quiet)
	require.NoError(t, err)

	row, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live", string(row.Payload))
	assert.Equal(t, 1, src.Held())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 0, src.Held())
	assert.Equal(t, 0, src.DoubleCloses())

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, scan.ErrClosed)
}

func TestCursorDoesNotReadAhead(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 260, quiet)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.Pulled())
}

func TestCursorAllBreakReleasesLock(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 260, quiet)
	require.NoError(t, err)

	var got []string
	for row, err := range c.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, string(row.Payload))
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"live", "aborted-delete"}, got)
	assert.Equal(t, 0, src.Held())
}

func TestCursorAllFullIteration(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 130, quiet)
	require.NoError(t, err)

	var got []string
	for row, err := range c.All(context.Background()) {
		require.NoError(t, err)
		got = append(got, string(row.Payload))
	}
	assert.Equal(t, []string{"live", "deleted", "aborted-delete"}, got)
	assert.Equal(t, 0, src.Held())
	assert.Equal(t, 0, src.DoubleCloses())
}

func TestCursorSkipsCorruptRows(t *testing.T) {
	src := testutil.NewSource()
	rel := testutil.Rows(accounts, raw(100, 0, "a"))
	rel.Entries = append(rel.Entries,
		testutil.Entry{Err: scan.NewCorruptRowError("accounts", errors.New("short header"))},
		testutil.Entry{Row: raw(100, 0, "b")},
	)
	src.Add("accounts", rel)
	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{100: xid.Committed})

	for _, ref := range []xid.TransactionID{xid.Invalid, 150} {
		c, err := scan.Open(context.Background(), src, oracle, "accounts", ref, quiet)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, drain(t, c))
		assert.Equal(t, 1, c.Stats().Corrupt)
	}
	assert.Equal(t, 0, src.Held())
}

func TestCursorUnsetXMin(t *testing.T) {
	src := testutil.NewSource()
	src.Add("accounts", testutil.Rows(accounts,
		raw(100, 0, "a"),
		raw(xid.Invalid, 0, "no-inserter"),
		raw(100, 0, "b"),
	))
	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{100: xid.Committed})

	// A raw dump returns the row as stored.
	c, err := scan.Open(context.Background(), src, oracle, "accounts", xid.Invalid, quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "no-inserter", "b"}, drain(t, c))
	assert.Equal(t, 0, c.Stats().Corrupt)

	// Filtering has no inserter to judge it by.
	c, err = scan.Open(context.Background(), src, oracle, "accounts", 150, quiet)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, drain(t, c))
	assert.Equal(t, scan.Stats{Scanned: 2, Returned: 2, Corrupt: 1}, c.Stats())
	assert.Equal(t, 0, src.Held())
}

func TestCursorScannerErrorReleasesLock(t *testing.T) {
	boom := errors.New("disk on fire")
	src := testutil.NewSource()
	rel := testutil.Rows(accounts, raw(100, 0, "a"))
	rel.Entries = append(rel.Entries, testutil.Entry{Err: boom}, testutil.Entry{Row: raw(100, 0, "never")})
	src.Add("accounts", rel)
	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{100: xid.Committed})

	c, err := scan.Open(context.Background(), src, oracle, "accounts", 150, quiet)
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, src.Held())

	// the failure is sticky
	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCursorAllYieldsErrorOnce(t *testing.T) {
	boom := errors.New("io failure")
	src := testutil.NewSource()
	rel := testutil.Rows(accounts, raw(100, 0, "a"))
	rel.Entries = append(rel.Entries, testutil.Entry{Err: boom})
	src.Add("accounts", rel)
	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{100: xid.Committed})

	c, err := scan.Open(context.Background(), src, oracle, "accounts", 150, quiet)
	require.NoError(t, err)

	var errs []error
	rows := 0
	for _, err := range c.All(context.Background()) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows++
	}
	assert.Equal(t, 1, rows)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, 0, src.Held())
}

func TestCursorContextCancelled(t *testing.T) {
	src, oracle := historySource()
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 260, quiet)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.Held())
}

func TestOpenUnknownRelation(t *testing.T) {
	src, oracle := historySource()
	_, err := scan.Open(context.Background(), src, oracle, "missing", 100, quiet)
	require.Error(t, err)
	assert.True(t, scan.IsConfigurationError(err))
	assert.Equal(t, 0, src.Opened())
}

func TestOpenLockFailure(t *testing.T) {
	src, oracle := historySource()
	src.OpenErr = scan.NewLockError("accounts", errors.New("timeout"))
	_, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet)
	assert.True(t, scan.IsLockError(err))
}

func TestOpenDeclaredShape(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		src, oracle := historySource()
		declared := shape.Descriptor{Columns: []shape.Column{{Name: "n", Type: "integer"}}}
		c, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet, scan.WithDeclaredShape(declared))
		require.NoError(t, err)
		assert.Equal(t, declared, c.Shape())
		require.NoError(t, c.Close())
	})

	t.Run("mismatch releases lock", func(t *testing.T) {
		src, oracle := historySource()
		declared := shape.Descriptor{Columns: []shape.Column{{Name: "n", Type: "text"}}}
		_, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet, scan.WithDeclaredShape(declared))
		require.Error(t, err)
		assert.True(t, scan.IsConfigurationError(err))

		var me *shape.MismatchError
		assert.True(t, errors.As(err, &me))
		assert.Equal(t, 1, src.Opened())
		assert.Equal(t, 0, src.Held())
	})

	t.Run("not composite", func(t *testing.T) {
		src, oracle := historySource()
		_, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet, scan.WithDeclaredShape(shape.Descriptor{}))
		assert.True(t, scan.IsConfigurationError(err))
		assert.Equal(t, 0, src.Held())
	})
}

func TestCursorObserverSeesHiddenRows(t *testing.T) {
	src, oracle := historySource()
	var seen []visibility.Decision
	c, err := scan.Open(context.Background(), src, oracle, "accounts", 200, quiet,
		scan.WithObserver(func(row xid.RawRow, d visibility.Decision) {
			seen = append(seen, d)
		}))
	require.NoError(t, err)
	drain(t, c)

	require.Len(t, seen, 5)
	assert.Equal(t, visibility.Visible, seen[0].Verdict)
	assert.Equal(t, visibility.NotVisible, seen[1].Verdict)
	assert.Equal(t, visibility.RuleUncommitted, seen[2].Rule)
}

type failingOracle struct {
	*testutil.Oracle
	err error
}

func (o *failingOracle) Err() error { return o.err }

func TestCursorOracleFailureAbortsScan(t *testing.T) {
	src, base := historySource()
	oracle := &failingOracle{Oracle: base, err: errors.New("connection reset")}

	c, err := scan.Open(context.Background(), src, oracle, "accounts", 150, quiet)
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, src.Held())
}

func TestCursorIDsAreUnique(t *testing.T) {
	src, oracle := historySource()
	a, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet)
	require.NoError(t, err)
	defer a.Close()
	b, err := scan.Open(context.Background(), src, oracle, "accounts", 100, quiet)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, a.ID(), 36)
}
