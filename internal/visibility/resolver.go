// Package visibility decides whether a raw row version counts as present at
// a chosen point in transaction history.
//
// The decision is made from the row's own xmin/xmax markers and a commit
// log, without any snapshot: it answers "was this row alive as of
// transaction t", not "can transaction t see this row" under isolation
// rules.
package visibility

import (
	"github.com/roach88/dirtyread/internal/xid"
)

// Oracle reports the commit status of normal transaction ids. Callers never
// ask about special ids. Implementations must be safe for concurrent use.
type Oracle interface {
	StatusOf(id xid.TransactionID) xid.Status
}

// Verdict is the outcome of a visibility decision.
type Verdict bool

const (
	NotVisible Verdict = false
	Visible    Verdict = true
)

func (v Verdict) String() string {
	if v {
		return "visible"
	}
	return "not visible"
}

// Rule names the branch of the decision tree that produced a verdict.
type Rule string

const (
	// RuleBypass: reference id 0 disables filtering entirely.
	RuleBypass Rule = "bypass"
	// RuleUncommitted: the inserter or the deleter did not commit.
	RuleUncommitted Rule = "uncommitted"
	// RuleCommitted: both markers are committed (or special).
	RuleCommitted Rule = "committed"
)

// Decision is a verdict together with the facts it was derived from.
type Decision struct {
	Verdict  Verdict
	Rule     Rule
	MiNormal bool
	MaNormal bool
	MiCommit bool
	MaCommit bool
}

// Resolver evaluates row visibility against an Oracle. It holds no state of
// its own and may be shared between scans with different reference ids.
type Resolver struct {
	oracle Oracle
}

// NewResolver creates a Resolver backed by oracle.
func NewResolver(oracle Oracle) *Resolver {
	return &Resolver{oracle: oracle}
}

// Decide reports whether row is present as of reference transaction t.
//
// A reference of 0 is a raw dump: every row is Visible. This does not
// correspond to the view of any real transaction.
//
// Otherwise:
//
//  1. Special ids (bootstrap, frozen, or an xmax of 0) count as committed
//     and are never looked up.
//  2. If either marker did not commit, the row is Visible only when both
//     ids are normal and xmin <= t. A failed delete leaves the row alive
//     from its insertion onward.
//  3. If both committed, the row is Visible when t falls in [xmin, xmax),
//     with an xmax of 0 leaving the interval open.
func (r *Resolver) Decide(row xid.RawRow, t xid.TransactionID) Verdict {
	return r.Explain(row, t).Verdict
}

// Explain is Decide with the intermediate flags exposed.
func (r *Resolver) Explain(row xid.RawRow, t xid.TransactionID) Decision {
	if t == xid.Invalid {
		return Decision{Verdict: Visible, Rule: RuleBypass}
	}

	d := Decision{
		MiNormal: row.XMin.IsNormal(),
		MaNormal: row.XMax.IsNormal(),
		MiCommit: true,
		MaCommit: true,
	}
	if d.MiNormal {
		d.MiCommit = r.oracle.StatusOf(row.XMin) == xid.Committed
	}
	if d.MaNormal {
		d.MaCommit = r.oracle.StatusOf(row.XMax) == xid.Committed
	}

	if !(d.MiCommit && d.MaCommit) {
		d.Rule = RuleUncommitted
		d.Verdict = Verdict(d.MiNormal && d.MaNormal && row.XMin <= t)
		return d
	}

	d.Rule = RuleCommitted
	d.Verdict = Verdict(row.XMin <= t && (row.XMax == xid.Invalid || (d.MaNormal && t < row.XMax)))
	return d
}
