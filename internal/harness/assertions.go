package harness

import (
	"fmt"
	"slices"
	"strings"
)

// EvaluateCheck compares one check's expectation with what the scan
// returned. It returns one message per mismatch.
func EvaluateCheck(index int, want Check, got CheckResult) []string {
	var errs []string

	wantVisible := want.Visible
	if wantVisible == nil {
		wantVisible = []string{}
	}
	if !slices.Equal(wantVisible, got.Visible) {
		errs = append(errs, fmt.Sprintf("checks[%d] txn_id=%d: visible = [%s], want [%s]%s",
			index, want.TxnID,
			strings.Join(got.Visible, " "),
			strings.Join(wantVisible, " "),
			describeDiff(wantVisible, got.Visible)))
	}

	if want.Corrupt != nil && *want.Corrupt != got.Stats.Corrupt {
		errs = append(errs, fmt.Sprintf("checks[%d] txn_id=%d: corrupt = %d, want %d",
			index, want.TxnID, got.Stats.Corrupt, *want.Corrupt))
	}

	return errs
}

// describeDiff names the labels that are missing from or extra in got.
func describeDiff(want, got []string) string {
	var missing, extra []string
	for _, l := range want {
		if !slices.Contains(got, l) {
			missing = append(missing, l)
		}
	}
	for _, l := range got {
		if !slices.Contains(want, l) {
			extra = append(extra, l)
		}
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+strings.Join(missing, ","))
	}
	if len(extra) > 0 {
		parts = append(parts, "unexpected "+strings.Join(extra, ","))
	}
	if len(parts) == 0 {
		return " (order differs)"
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
