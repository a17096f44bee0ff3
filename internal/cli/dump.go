package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/config"
	"github.com/roach88/dirtyread/internal/scan"
	"github.com/roach88/dirtyread/internal/shape"
	"github.com/roach88/dirtyread/internal/xid"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	TxnID string
	Shape string
	Limit int
}

// DumpRow is one returned row in JSON output. Payload is embedded as JSON
// when it parses, otherwise as a string.
type DumpRow struct {
	TID     string `json:"tid"`
	XMin    uint32 `json:"xmin"`
	XMax    uint32 `json:"xmax"`
	Payload any    `json:"payload"`
}

// DumpResult is the JSON output of dump.
type DumpResult struct {
	Relation string     `json:"relation"`
	TxnID    uint32     `json:"txn_id"`
	Rows     []DumpRow  `json:"rows"`
	Stats    scan.Stats `json:"stats"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <relation>",
		Short: "Print the rows present as of a transaction",
		Long: `Scan a relation and print every row version that was present as of
the reference transaction. Rows of aborted inserts, committed deletes
before the reference, and later inserts are left out.

With --txn-id 0 every stored row is printed, whatever its markers say.

Examples:
  dirtyread dump accounts --db heap.db --clog ./clog --txn-id 150
  dirtyread dump accounts --pg-dsn "$PG_DSN" --txn-id 0 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.TxnID, "txn-id", "", "reference transaction id (0 dumps every row)")
	cmd.Flags().StringVar(&opts.Shape, "shape", "", "CUE file declaring the expected row type")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many rows (0 for no limit)")

	return cmd
}

func runDump(cmd *cobra.Command, opts *DumpOptions, relation string) error {
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
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	var scanOpts []scan.Option
	if opts.Shape != "" {
		declared, err := shape.Load(opts.Shape)
		if err != nil {
			return scanFailure(out, scan.NewConfigurationError(relation, "invalid declared output type", err))
		}
		scanOpts = append(scanOpts, scan.WithDeclaredShape(declared))
	}

	sess, err := openSession(settings, sessionNeeds{heap: true, oracle: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	cur, err := scan.Open(ctx, sess.source, sess.oracle, relation, ref, scanOpts...)
	if err != nil {
		return scanFailure(out, err)
	}

	result := DumpResult{Relation: relation, TxnID: uint32(ref), Rows: []DumpRow{}}
	for row, err := range cur.All(ctx) {
		if err != nil {
			return scanFailure(out, err)
		}
		result.Rows = append(result.Rows, dumpRow(row))
		if opts.Limit > 0 && len(result.Rows) >= opts.Limit {
			break
		}
	}
	result.Stats = cur.Stats()

	out.VerboseLog("scan %s: scanned=%d returned=%d hidden=%d corrupt=%d",
		cur.ID(), result.Stats.Scanned, result.Stats.Returned, result.Stats.Hidden, result.Stats.Corrupt)

	if opts.Format == "json" {
		return out.JSON(cur.ID(), result)
	}
	writeDumpText(out.Writer, result)
	return nil
}

// referenceXID picks the --txn-id flag over the configured reference.
func referenceXID(settings config.Settings, flag string) (xid.TransactionID, error) {
	if flag == "" {
		return settings.ReferenceXID, nil
	}
	ref, err := config.ParseReferenceXID(flag)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "invalid --txn-id", err)
	}
	return ref, nil
}

func dumpRow(row xid.RawRow) DumpRow {
	r := DumpRow{
		TID:  row.TID.String(),
		XMin: uint32(row.XMin),
		XMax: uint32(row.XMax),
	}
	if json.Valid(row.Payload) {
		r.Payload = json.RawMessage(row.Payload)
	} else {
		r.Payload = string(row.Payload)
	}
	return r
}

func writeDumpText(w io.Writer, r DumpResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TID\tXMIN\tXMAX\tPAYLOAD")
	for _, row := range r.Rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", row.TID, row.XMin, row.XMax, payloadText(row.Payload))
	}
	tw.Flush()
	fmt.Fprintf(w, "(%s)\n", plural(len(r.Rows), "row"))
}

func payloadText(p any) string {
	switch v := p.(type) {
	case json.RawMessage:
		return string(v)
	case string:
		return strconv.Quote(v)
	}
	return fmt.Sprint(p)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
