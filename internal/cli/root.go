package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/config"
	"github.com/roach88/tasksync/internal/store"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	cfg *config.Config
}

// Config returns the configuration named by --config, or the defaults when
// no file was given. It is loaded once.
func (o *RootOptions) Config() (config.Config, error) {
	if o.cfg != nil {
		return *o.cfg, nil
	}
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "load config", err)
		}
	}
	o.cfg = &cfg
	return cfg, nil
}

// NewRootCommand creates the root command for the tasksync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tasksync",
		Short: "tasksync - optimistic list and task sync",
		Long: `Inspect and drive a local tasksync store.

The store keeps named snapshots of lists and tasks plus a journal of
every mutation the engine settled. Commands read the snapshot, derive the
dashboard view, apply mutations through the engine, and run scripted
scenarios against an in-memory server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				err := NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return err
			}
			cfg, err := opts.Config()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
				return err
			}
			level := cfg.SlogLevel()
			if opts.Verbose {
				level = slog.LevelDebug
			} else if level == slog.LevelInfo {
				// Engine lifecycle chatter is info; -v shows it.
				level = slog.LevelWarn
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")

	// Add subcommands
	cmd.AddCommand(NewViewCommand(opts))
	cmd.AddCommand(NewDoCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSnapshotsCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// storeFlags are the --db and --snapshot flags shared by store commands.
type storeFlags struct {
	Database string
	Snapshot string
}

func (s *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.Database, "db", "", "SQLite database path (default from config)")
	cmd.Flags().StringVar(&s.Snapshot, "snapshot", "", "snapshot name (default from config)")
}

// resolve fills unset flags from cfg.
func (s *storeFlags) resolve(cfg config.Config) {
	if s.Database == "" {
		s.Database = cfg.Database
	}
	if s.Snapshot == "" {
		s.Snapshot = cfg.Snapshot
	}
}

// openStore opens the database named by s.
func (s *storeFlags) openStore() (*store.Store, error) {
	st, err := store.Open(s.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return st, nil
}
