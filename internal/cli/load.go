package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/harness"
)

// LoadResult is the JSON output of load.
type LoadResult struct {
	Fixture  string            `json:"fixture"`
	Relation string            `json:"relation"`
	Tuples   map[string]string `json:"tuples"` // label -> tid
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "load <fixture.yaml>",
		Short: "Seed a local heap and commit log from a fixture",
		Long: `Create the fixture's relation in the local heap, record its transaction
statuses in the commit log and apply its steps in order. The fixture
format is the scenario format used by verify; checks are optional and
ignored.

Examples:
  dirtyread load accounts.yaml --db heap.db --clog ./clog`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, rootOpts, args[0])
		},
	}
}

func runLoad(cmd *cobra.Command, opts *RootOptions, path string) error {
	ctx := commandContext(cmd.Context())
	out := opts.formatter(cmd)

	fixture, err := harness.LoadFixture(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	settings, err := opts.settings(cmd)
	if err != nil {
		return err
	}
	sess, err := openSession(settings, sessionNeeds{heap: true, oracle: true, local: true})
	if err != nil {
		return err
	}
	defer sess.Close()

	fx, err := harness.Apply(ctx, sess.store, sess.clog, fixture, nil)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to apply fixture", err)
	}

	result := LoadResult{
		Fixture:  fixture.Name,
		Relation: fixture.RelationName(),
		Tuples:   make(map[string]string, len(fx.TIDs)),
	}
	for label, tid := range fx.TIDs {
		result.Tuples[label] = tid.String()
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "Loaded %s into %s (%s)\n", result.Fixture, result.Relation, plural(len(result.Tuples), "tuple"))
	if opts.Verbose {
		for _, label := range slices.Sorted(maps.Keys(result.Tuples)) {
			fmt.Fprintf(out.Writer, "  %s\t%s\n", label, result.Tuples[label])
		}
	}
	return nil
}
