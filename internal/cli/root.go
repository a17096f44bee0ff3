package cli

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dirtyread/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Session settings. Flags override values read from ConfigFile.
	ConfigFile  string
	Database    string
	CommitLog   string
	PostgresDSN string
	LockTimeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the dirtyread CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "dirtyread",
		Short: "dirtyread - read rows as of any transaction",
		Long: `dirtyread scans a relation's raw heap, including deleted and
aborted row versions, and returns the rows that were present as of a
chosen reference transaction. A reference of 0 dumps every stored row.

Rows come from a local SQLite heap with a commit log (--db, --clog) or
from a live PostgreSQL server through pageinspect (--pg-dsn).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(cmd, opts.Verbose)
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigFile, "config", "c", "", "session properties file")
	pf.StringVar(&opts.Database, config.KeyDatabase, "", "path to SQLite heap")
	pf.StringVar(&opts.CommitLog, config.KeyCommitLog, "", "commit log directory")
	pf.StringVar(&opts.PostgresDSN, "pg-dsn", "", "PostgreSQL connection string")
	pf.DurationVar(&opts.LockTimeout, "lock-timeout", 0, "how long to wait for a relation lock")

	// Add subcommands
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRelationsCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))

	return cmd
}

// setupLogging installs a text handler on stderr: Info by default, Debug
// with --verbose.
func setupLogging(cmd *cobra.Command, verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// settings merges the config file with any flags set on cmd.
func (o *RootOptions) settings(cmd *cobra.Command) (config.Settings, error) {
	s := config.Default()
	if o.ConfigFile != "" {
		var err error
		s, err = config.Load(o.ConfigFile)
		if err != nil {
			return config.Settings{}, WrapExitError(ExitCommandError, "invalid configuration", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed(config.KeyDatabase) {
		s.Database = o.Database
	}
	if flags.Changed(config.KeyCommitLog) {
		s.CommitLog = o.CommitLog
	}
	if flags.Changed("pg-dsn") {
		s.PostgresDSN = o.PostgresDSN
	}
	if flags.Changed("lock-timeout") {
		s.LockTimeout = o.LockTimeout
	}

	if err := s.Validate(); err != nil {
		return config.Settings{}, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return s, nil
}
