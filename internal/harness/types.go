package harness

import (
	"github.com/roach88/dirtyread/internal/scan"
)

// RowTrace is one tuple's decision during a check.
type RowTrace struct {
	Label   string `json:"label"`
	TID     string `json:"tid"`
	XMin    uint32 `json:"xmin"`
	XMax    uint32 `json:"xmax"`
	Rule    string `json:"rule"`
	Verdict string `json:"verdict"`
}

// CheckResult is what one check observed.
type CheckResult struct {
	TxnID   uint32     `json:"txn_id"`
	Visible []string   `json:"visible"`
	Stats   scan.Stats `json:"stats"`
	Trace   []RowTrace `json:"trace"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every check matched.
	Pass bool `json:"pass"`

	Checks []CheckResult `json:"checks"`

	// Errors contains mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Checks: []CheckResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
