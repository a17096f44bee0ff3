package harness

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
)

// marshalRow encodes a scenario row as a tuple payload. Map keys are sorted.
func marshalRow(row map[string]any) ([]byte, error) {
	return json.Marshal(row)
}

// Render formats a result as stable text: one header line per check,
// followed by one line per evaluated tuple.
func Render(name string, r *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, c := range r.Checks {
		fmt.Fprintf(&buf, "check txn_id=%d: visible [%s] scanned=%d returned=%d hidden=%d corrupt=%d\n",
			c.TxnID, strings.Join(c.Visible, " "),
			c.Stats.Scanned, c.Stats.Returned, c.Stats.Hidden, c.Stats.Corrupt)
		for _, row := range c.Trace {
			fmt.Fprintf(&buf, "  %s %s xmin=%d xmax=%d %s %s\n",
				row.TID, row.Label, row.XMin, row.XMax, row.Rule, row.Verdict)
		}
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario, fails t on any check mismatch and
// compares the rendered trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return err
	}
	for _, e := range result.Errors {
		t.Error(e)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
