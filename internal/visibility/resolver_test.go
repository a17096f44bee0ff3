package visibility

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dirtyread/internal/xid"
)

// mapOracle answers from a fixed table and counts lookups. Unknown ids are
// in progress.
type mapOracle struct {
	mu       sync.Mutex
	statuses map[xid.TransactionID]xid.Status
	lookups  []xid.TransactionID
}

func newMapOracle(statuses map[xid.TransactionID]xid.Status) *mapOracle {
	return &mapOracle{statuses: statuses}
}

func (o *mapOracle) StatusOf(id xid.TransactionID) xid.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups = append(o.lookups, id)
	return o.statuses[id]
}

const (
	C = xid.Committed
	A = xid.Aborted
	P = xid.InProgress
)

func row(xmin, xmax xid.TransactionID) xid.RawRow {
	return xid.RawRow{XMin: xmin, XMax: xmax, Payload: []byte("p")}
}

func TestDecideScenarios(t *testing.T) {
	tests := []struct {
		name   string
		xmin   xid.TransactionID
		xmax   xid.TransactionID
		status map[xid.TransactionID]xid.Status
		ref    xid.TransactionID
		want   Verdict
	}{
		{"live row before insert", 100, 0, map[xid.TransactionID]xid.Status{100: C}, 50, NotVisible},
		{"live row after insert", 100, 0, map[xid.TransactionID]xid.Status{100: C}, 150, Visible},
		{"deleted row inside lifetime", 100, 200, map[xid.TransactionID]xid.Status{100: C, 200: C}, 150, Visible},
		{"deleted row at deleter", 100, 200, map[xid.TransactionID]xid.Status{100: C, 200: C}, 200, NotVisible},
		{"aborted delete before insert", 100, 200, map[xid.TransactionID]xid.Status{100: C, 200: A}, 50, NotVisible},
		{"aborted delete after deleter", 100, 200, map[xid.TransactionID]xid.Status{100: C, 200: A}, 250, Visible},
		{"aborted insert", 100, 0, map[xid.TransactionID]xid.Status{100: A}, 150, NotVisible},
		{"aborted insert far future", 100, 0, map[xid.TransactionID]xid.Status{100: A}, 1 << 30, NotVisible},
		{"in progress insert", 100, 0, map[xid.TransactionID]xid.Status{}, 150, NotVisible},
		{"in progress delete", 100, 200, map[xid.TransactionID]xid.Status{100: C, 200: P}, 300, Visible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(newMapOracle(tt.status))
			assert.Equal(t, tt.want, r.Decide(row(tt.xmin, tt.xmax), tt.ref))
		})
	}
}

func TestDecideBypass(t *testing.T) {
	o := newMapOracle(map[xid.TransactionID]xid.Status{100: A})
	r := NewResolver(o)

	rows := []xid.RawRow{
		row(100, 0),
		row(100, 200),
		row(xid.Frozen, xid.Bootstrap),
		row(5, 4),
	}
	for _, rw := range rows {
		d := r.Explain(rw, xid.Invalid)
		assert.Equal(t, Visible, d.Verdict)
		assert.Equal(t, RuleBypass, d.Rule)
	}
	assert.Empty(t, o.lookups, "bypass must not consult the oracle")
}

func TestCommittedOpenEnded(t *testing.T) {
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: C}))
	for ref := xid.TransactionID(1); ref < 400; ref++ {
		want := ref >= 100
		assert.Equal(t, Verdict(want), r.Decide(row(100, 0), ref), "t=%d", ref)
	}
}

func TestCommittedLifetimeInterval(t *testing.T) {
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: C, 200: C}))
	for ref := xid.TransactionID(1); ref < 400; ref++ {
		want := ref >= 100 && ref < 200
		assert.Equal(t, Verdict(want), r.Decide(row(100, 200), ref), "t=%d", ref)
	}
}

func TestFailedDeleteIgnored(t *testing.T) {
	for _, st := range []xid.Status{A, P} {
		r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: C, 200: st}))
		for ref := xid.TransactionID(1); ref < 400; ref++ {
			d := r.Explain(row(100, 200), ref)
			assert.Equal(t, RuleUncommitted, d.Rule)
			assert.Equal(t, Verdict(ref >= 100), d.Verdict, "status=%s t=%d", st, ref)
		}
	}
}

func TestAbortedInsertNeverVisible(t *testing.T) {
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: A}))
	for ref := xid.TransactionID(1); ref < 400; ref++ {
		assert.Equal(t, NotVisible, r.Decide(row(100, 0), ref), "t=%d", ref)
	}
}

func TestUncommittedBranchKeepsLiteralRule(t *testing.T) {
	// Inserter aborted but a normal deleter exists: the uncommitted branch
	// only checks that both ids are normal and xmin <= t.
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: A, 200: A}))
	d := r.Explain(row(100, 200), 150)
	assert.Equal(t, RuleUncommitted, d.Rule)
	assert.False(t, d.MiCommit)
	assert.False(t, d.MaCommit)
	assert.Equal(t, Visible, d.Verdict)
}

func TestSpecialIDsNeverLookedUp(t *testing.T) {
	o := newMapOracle(map[xid.TransactionID]xid.Status{})
	r := NewResolver(o)

	d := r.Explain(row(xid.Frozen, 0), 10)
	assert.True(t, d.MiCommit)
	assert.True(t, d.MaCommit)
	assert.False(t, d.MiNormal)
	assert.Equal(t, RuleCommitted, d.Rule)
	assert.Equal(t, Visible, d.Verdict)

	// a non-zero special xmax is not a real deleter and closes the interval
	d = r.Explain(row(xid.Frozen, xid.Bootstrap), 10)
	assert.Equal(t, RuleCommitted, d.Rule)
	assert.Equal(t, NotVisible, d.Verdict)

	assert.Empty(t, o.lookups)
}

func TestOnlyNormalIDsLookedUp(t *testing.T) {
	o := newMapOracle(map[xid.TransactionID]xid.Status{100: C, 200: C})
	r := NewResolver(o)
	r.Decide(row(100, 200), 150)
	require.Len(t, o.lookups, 2)
	assert.ElementsMatch(t, []xid.TransactionID{100, 200}, o.lookups)

	o.lookups = nil
	r.Decide(row(100, 0), 150)
	assert.Equal(t, []xid.TransactionID{100}, o.lookups)
}

func TestUncommittedWithoutNormalDeleterHidden(t *testing.T) {
	// in progress inserter, no deleter: maNormal is false so the row is hidden
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: P}))
	d := r.Explain(row(100, 0), 500)
	assert.Equal(t, RuleUncommitted, d.Rule)
	assert.Equal(t, NotVisible, d.Verdict)
}

func TestResolverConcurrentUse(t *testing.T) {
	r := NewResolver(newMapOracle(map[xid.TransactionID]xid.Status{100: C, 200: C}))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(ref xid.TransactionID) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				want := ref >= 100 && ref < 200
				if got := r.Decide(row(100, 200), ref); got != Verdict(want) {
					t.Errorf("t=%d: got %s", ref, got)
				}
			}
		}(xid.TransactionID(50 * (i + 1)))
	}
	wg.Wait()
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "visible", Visible.String())
	assert.Equal(t, "not visible", NotVisible.String())
}
