package store

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/roach88/dirtyread/internal/locks"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/testutil"
	"github.com/roach88/dirtyread/internal/tuple"
	"github.com/roach88/dirtyread/internal/xid"
)

// scanAll reads every stored row of relation, skipping nothing.
func scanAll(t *testing.T, s *Store, relation string) []xid.RawRow {
	t.Helper()
	ctx := t.Context()
	rs, err := s.OpenScan(ctx, relation)
	if err != nil {
		t.Fatalf("OpenScan(%q) failed: %v", relation, err)
	}
	defer rs.Close()

	var rows []xid.RawRow
	for {
		row, err := rs.Next(ctx)
		if err == io.EOF {
			return rows
		}
		if err != nil {
			t.Fatalf("Next() failed: %v", err)
		}
		rows = append(rows, row)
	}
}

func TestOpenScan_UnknownRelation(t *testing.T) {
	s := createTestStore(t)

	_, err := s.OpenScan(t.Context(), "missing")
	if !scan.IsConfigurationError(err) {
		t.Fatalf("OpenScan() error = %v, want configuration error", err)
	}

	// The share lock must have been released: a drop-level lock is free.
	h, err := s.locks.Acquire(t.Context(), "missing", locks.Exclusive)
	if err != nil {
		t.Fatalf("exclusive lock after failed OpenScan: %v", err)
	}
	h.Release()
}

func TestOpenScan_LockTimeout(t *testing.T) {
	s := createTestStore(t, WithLockTimeout(30*time.Millisecond))
	createTestRelation(t, s, "accounts")

	h, err := s.locks.Acquire(t.Context(), "accounts", locks.Exclusive)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer h.Release()

	_, err = s.OpenScan(t.Context(), "accounts")
	if !scan.IsLockError(err) {
		t.Fatalf("OpenScan() error = %v, want lock error", err)
	}
	if !errors.Is(err, locks.ErrTimeout) {
		t.Errorf("OpenScan() error does not wrap locks.ErrTimeout: %v", err)
	}
}

func TestHeapScan_PagesInPhysicalOrder(t *testing.T) {
	// Batches smaller than a block exercise the keyset boundary.
	s := createTestStore(t, WithBatchSize(3), WithTuplesPerBlock(4))
	ctx := t.Context()
	createTestRelation(t, s, "accounts")

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := s.Insert(ctx, "accounts", xid.TransactionID(100+i), []byte{byte(i)}); err != nil {
			t.Fatalf("Insert() %d failed: %v", i, err)
		}
	}

	rows := scanAll(t, s, "accounts")
	if len(rows) != n {
		t.Fatalf("got %d rows, want %d", len(rows), n)
	}
	for i, row := range rows {
		if row.Payload[0] != byte(i) {
			t.Errorf("row %d payload = %d", i, row.Payload[0])
		}
		if i > 0 && !rows[i-1].TID.Less(row.TID) {
			t.Errorf("row %d tid %s not after %s", i, row.TID, rows[i-1].TID)
		}
	}
}

func TestHeapScan_EmptyRelation(t *testing.T) {
	s := createTestStore(t)
	createTestRelation(t, s, "accounts")

	if rows := scanAll(t, s, "accounts"); len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestHeapScan_CorruptTuple(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestRelation(t, s, "accounts")

	if _, err := s.Insert(ctx, "accounts", 100, []byte("good")); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if _, err := s.InsertRaw(ctx, "accounts", []byte{1, 2, 3}); err != nil {
		t.Fatalf("InsertRaw() failed: %v", err)
	}
	unset := tuple.Encode(tuple.Header{XMin: xid.Invalid}, []byte("no xmin"))
	if _, err := s.InsertRaw(ctx, "accounts", unset); err != nil {
		t.Fatalf("InsertRaw() failed: %v", err)
	}

	rs, err := s.OpenScan(ctx, "accounts")
	if err != nil {
		t.Fatalf("OpenScan() failed: %v", err)
	}
	defer rs.Close()

	if _, err := rs.Next(ctx); err != nil {
		t.Fatalf("first Next() failed: %v", err)
	}
	if _, err := rs.Next(ctx); !scan.IsCorruptRow(err) {
		t.Errorf("Next() error = %v, want corrupt row", err)
	}
	// An unset xmin decodes; the cursor decides what to do with it.
	row, err := rs.Next(ctx)
	if err != nil {
		t.Fatalf("Next() on unset xmin failed: %v", err)
	}
	if row.XMin != xid.Invalid || string(row.Payload) != "no xmin" {
		t.Errorf("Next() = %+v, want the unset-xmin tuple", row)
	}
	if _, err := rs.Next(ctx); err != io.EOF {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestHeapScan_CloseReleasesOnce(t *testing.T) {
	s := createTestStore(t, WithLockTimeout(30*time.Millisecond))
	ctx := t.Context()
	createTestRelation(t, s, "accounts")

	rs, err := s.OpenScan(ctx, "accounts")
	if err != nil {
		t.Fatalf("OpenScan() failed: %v", err)
	}
	other, err := s.OpenScan(ctx, "accounts")
	if err != nil {
		t.Fatalf("second OpenScan() failed: %v", err)
	}

	// Closing the first scan twice must not drop the second scan's hold.
	rs.Close()
	rs.Close()
	if _, err := s.locks.Acquire(ctx, "accounts", locks.Exclusive); !errors.Is(err, locks.ErrTimeout) {
		t.Fatalf("exclusive lock while a scan is open: %v, want timeout", err)
	}

	other.Close()
	h, err := s.locks.Acquire(ctx, "accounts", locks.Exclusive)
	if err != nil {
		t.Fatalf("exclusive lock after all scans closed: %v", err)
	}
	h.Release()

	if _, err := rs.Next(ctx); err == nil {
		t.Error("Next() after Close() should fail")
	}
}

func TestHeapScan_CursorFiltersHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	createTestRelation(t, s, "accounts")

	mustInsert(t, s, 100, "live")
	deleted := mustInsert(t, s, 100, "deleted")
	mustInsert(t, s, 150, "aborted insert")
	abortedDelete := mustInsert(t, s, 120, "aborted delete")
	mustInsert(t, s, 250, "late")
	if err := s.Delete(ctx, "accounts", deleted, 200); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := s.Delete(ctx, "accounts", abortedDelete, 300); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	oracle := testutil.NewOracle(map[xid.TransactionID]xid.Status{
		100: xid.Committed,
		120: xid.Committed,
		150: xid.Aborted,
		200: xid.Committed,
		250: xid.Committed,
		300: xid.Aborted,
	})

	tests := []struct {
		ref  xid.TransactionID
		want []string
	}{
		{0, []string{"live", "deleted", "aborted insert", "aborted delete", "late"}},
		{110, []string{"live", "deleted"}},
		{220, []string{"live", "aborted delete"}},
	}
	for _, tt := range tests {
		got := collectPayloads(ctx, t, s, oracle, tt.ref)
		if len(got) != len(tt.want) {
			t.Errorf("ref %d: got %q, want %q", tt.ref, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ref %d: got %q, want %q", tt.ref, got, tt.want)
				break
			}
		}
	}
}

func mustInsert(t *testing.T, s *Store, xmin xid.TransactionID, payload string) xid.TID {
	t.Helper()
	tid, err := s.Insert(t.Context(), "accounts", xmin, []byte(payload))
	if err != nil {
		t.Fatalf("Insert(%q) failed: %v", payload, err)
	}
	return tid
}

func collectPayloads(ctx context.Context, t *testing.T, s *Store, oracle *testutil.Oracle, ref xid.TransactionID) []string {
	t.Helper()
	c, err := scan.Open(ctx, s, oracle, "accounts", ref)
	if err != nil {
		t.Fatalf("scan.Open() failed: %v", err)
	}
	var out []string
	for row, err := range c.All(ctx) {
		if err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out = append(out, string(row.Payload))
	}
	return out
}
