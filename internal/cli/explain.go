package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/visibility"
	"github.com/roach88/dirtyread/internal/xid"
)

// ExplainOptions holds flags for the explain command.
type ExplainOptions struct {
	*RootOptions
	TxnID string
}

// ExplainRow is the decision made for one stored row.
type ExplainRow struct {
	TID      string `json:"tid"`
	XMin     uint32 `json:"xmin"`
	XMax     uint32 `json:"xmax"`
	Inserter string `json:"inserter"`
	Deleter  string `json:"deleter"`
	Rule     string `json:"rule"`
	Verdict  string `json:"verdict"`
}

// ExplainResult is the JSON output of explain.
type ExplainResult struct {
	Relation string       `json:"relation"`
	TxnID    uint32       `json:"txn_id"`
	Rows     []ExplainRow `json:"rows"`
	Stats    scan.Stats   `json:"stats"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExplainOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <relation>",
		Short: "Show the visibility decision for every stored row",
		Long: `Scan a relation and print, for every stored row version, the status of
its inserting and deleting transactions, the rule that decided it and
whether it counts as present as of the reference transaction.

Examples:
  dirtyread explain accounts --db heap.db --clog ./clog --txn-id 150`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.TxnID, "txn-id", "", "reference transaction id")

	return cmd
}

func runExplain(cmd *cobra.Command, opts *ExplainOptions, relation string) error {
	ctx := commandContext(cmd.Context())
	out := opts.formatter(cmd)

	settings, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	ref, err := referenceXID(settings, opts.TxnID)
	if err != nil {
		return err
	}

	sess, err := openSession(settings, sessionNeeds{heap: true, oracle: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	result := ExplainResult{Relation: relation, TxnID: uint32(ref), Rows: []ExplainRow{}}
	observe := func(row xid.RawRow, d visibility.Decision) {
		result.Rows = append(result.Rows, ExplainRow{
			TID:      row.TID.String(),
			XMin:     uint32(row.XMin),
			XMax:     uint32(row.XMax),
			Inserter: markerStatus(sess.oracle, row.XMin),
			Deleter:  markerStatus(sess.oracle, row.XMax),
			Rule:     string(d.Rule),
			Verdict:  d.Verdict.String(),
		})
	}

	cur, err := scan.Open(ctx, sess.source, sess.oracle, relation, ref, scan.WithObserver(observe))
	if err != nil {
		return scanFailure(out, err)
	}
	for _, err := range cur.All(ctx) {
		if err != nil {
			return scanFailure(out, err)
		}
	}
	result.Stats = cur.Stats()

	if opts.Format == "json" {
		return out.JSON(cur.ID(), result)
	}
	writeExplainText(out.Writer, result)
	return nil
}

// markerStatus describes a row marker: "-" for an empty xmax, the id's
// name for special ids, otherwise its commit status.
func markerStatus(oracle visibility.Oracle, id xid.TransactionID) string {
	switch {
	case id == xid.Invalid:
		return "-"
	case !id.IsNormal():
		return id.String()
	}
	return oracle.StatusOf(id).String()
}

func writeExplainText(w io.Writer, r ExplainResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TID\tXMIN\tXMAX\tINSERTER\tDELETER\tRULE\tVERDICT")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n",
			row.TID, row.XMin, row.XMax, row.Inserter, row.Deleter, row.Rule, row.Verdict)
	}
	tw.Flush()
	fmt.Fprintf(w, "(%s, %d visible, %d corrupt)\n", plural(r.Stats.Scanned, "row"), r.Stats.Returned, r.Stats.Corrupt)
}
