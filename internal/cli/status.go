package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/xid"
)

// XIDStatus is the reported commit status of one transaction id.
type XIDStatus struct {
	XID    uint32 `json:"xid"`
	Status string `json:"status"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <xid>...",
		Short: "Look up transaction commit status",
		Long: `Print the commit status the visibility rules would use for each
transaction id. Bootstrap and frozen ids always count as committed.

Examples:
  dirtyread status 100 200 --clog ./clog`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, rootOpts, args)
		},
	}
}

func runStatus(cmd *cobra.Command, opts *RootOptions, args []string) error {
	out := opts.formatter(cmd)

	ids := make([]xid.TransactionID, 0, len(args))
	for _, arg := range args {
		id, err := xid.Parse(arg)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid transaction id", err)
		}
		if id == xid.Invalid {
			return NewExitError(ExitCommandError, "transaction id 0 does not name a transaction")
		}
		ids = append(ids, id)
	}

	settings, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	sess, err := openSession(settings, sessionNeeds{oracle: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	statuses := make([]XIDStatus, 0, len(ids))
	for _, id := range ids {
		st := xid.Committed
		if id.IsNormal() {
			st = sess.oracle.StatusOf(id)
		}
		statuses = append(statuses, XIDStatus{XID: uint32(id), Status: st.String()})
	}
	if oe, ok := sess.oracle.(interface{ Err() error }); ok {
		if err := oe.Err(); err != nil {
			return WrapExitError(ExitFailure, "transaction status lookup failed", err)
		}
	}

	if opts.Format == "json" {
		return out.Success(statuses)
	}
	for i, s := range statuses {
		fmt.Fprintf(out.Writer, "%s\t%s\n", ids[i], s.Status)
	}
	return nil
}
