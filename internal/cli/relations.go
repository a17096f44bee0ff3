package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/store"
)

// RelationInfo describes one relation in the local heap.
type RelationInfo struct {
	Name           string `json:"name"`
	Columns        string `json:"columns"`
	TuplesPerBlock int    `json:"tuples_per_block"`
}

// NewRelationsCommand creates the relations command.
func NewRelationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relations",
		Short: "List relations in the local heap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			settings, err := rootOpts.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := openSession(settings, sessionNeeds{heap: true, local: true})
			if err != nil {
				return err
			}
			defer sess.Close()

			rels, err := sess.store.ListRelations(commandContext(cmd.Context()))
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list relations", err)
			}
			infos := make([]RelationInfo, 0, len(rels))
			for _, r := range rels {
				infos = append(infos, RelationInfo{Name: r.Name, Columns: r.Shape.String(), TuplesPerBlock: r.TuplesPerBlock})
			}

			if rootOpts.Format == "json" {
				return out.Success(infos)
			}
			tw := tabwriter.NewWriter(out.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOLUMNS")
			for _, r := range infos {
				fmt.Fprintf(tw, "%s\t%s\n", r.Name, r.Columns)
			}
			return tw.Flush()
		},
	}
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <relation>",
		Short: "Remove a relation and all of its row versions",
		Long: `Remove a relation from the local heap. The drop waits for open scans
of the relation to finish, up to the lock timeout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			settings, err := rootOpts.settings(cmd)
			if err != nil {
				return err
			}
			sess, err := openSession(settings, sessionNeeds{heap: true, local: true})
			if err != nil {
				return err
			}
			defer sess.Close()

			err = sess.store.DropRelation(commandContext(cmd.Context()), args[0])
			if errors.Is(err, store.ErrRelationNotFound) || errors.Is(err, store.ErrInvalidName) {
				return WrapExitError(ExitCommandError, "cannot drop relation", err)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "cannot drop relation", err)
			}

			if rootOpts.Format == "json" {
				return out.Success(map[string]string{"dropped": args[0]})
			}
			fmt.Fprintf(out.Writer, "Dropped %s\n", args[0])
			return nil
		},
	}
}
