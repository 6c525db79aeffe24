package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	storeFlags
}

// ImportResult is the JSON output of the import command.
type ImportResult struct {
	store.SnapshotInfo
	Lists int `json:"lists"`
	Tasks int `json:"tasks"`
}

// NewImportCommand creates the import command for loading a snapshot file.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Store a snapshot file in the database",
		Long: `Decode a JSON snapshot ({"lists": {...}, "tasks": {...}}) and store it
under --snapshot, replacing any snapshot of that name. Use "-" to read
standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, opts, args[0])
		},
	}

	opts.storeFlags.register(cmd)
	return cmd
}

func runImport(cmd *cobra.Command, opts *ImportOptions, path string) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	opts.resolve(cfg)

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, fmt.Errorf("read snapshot: %w", err))
	}
	state, err := entity.DecodeSnapshot(data)
	if err != nil {
		return out.Fail(ExitFailure, CodeInvalid, err)
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	digest, err := st.SaveSnapshot(ctx, opts.Snapshot, state, seq)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}

	res := ImportResult{
		SnapshotInfo: store.SnapshotInfo{Name: opts.Snapshot, Digest: digest, Seq: seq},
		Lists:        state.Lists().Len(),
		Tasks:        state.Tasks().Len(),
	}
	if out.JSON() {
		return out.Success(res)
	}
	fmt.Fprintf(out.Writer, "Imported snapshot %q: %d lists, %d tasks\n", res.Name, res.Lists, res.Tasks)
	fmt.Fprintf(out.Writer, "Digest: %s\n", res.Digest)
	return nil
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	storeFlags
	Output string
}

// NewExportCommand creates the export command for writing a snapshot out.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stored snapshot as canonical JSON",
		Long: `Write the snapshot named by --snapshot as canonical JSON: sorted keys,
no insignificant whitespace. The output is byte-identical for equal
content and can be imported again. --format does not apply.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, opts)
		},
	}

	opts.storeFlags.register(cmd)
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "output file (default stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	opts.resolve(cfg)

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	state, info, err := st.LoadSnapshot(context.Background(), opts.Snapshot)
	if err != nil {
		if model.IsNotFoundError(err) {
			return out.Fail(ExitFailure, CodeNotFound, err)
		}
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	body, err := state.CanonicalJSON()
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	body = append(body, '\n')

	if opts.Output == "" {
		_, err = out.Writer.Write(body)
		return err
	}
	if err := os.WriteFile(opts.Output, body, 0o644); err != nil {
		return out.Fail(ExitCommandError, CodeCommand, fmt.Errorf("write snapshot: %w", err))
	}
	out.VerboseLog("wrote snapshot %s (%s) to %s", info.Name, info.Digest, opts.Output)
	return nil
}

// SnapshotsOptions holds flags for the snapshots command.
type SnapshotsOptions struct {
	*RootOptions
	Database string
	Delete   string
}

// NewSnapshotsCommand creates the snapshots command for listing and
// removing stored snapshots.
func NewSnapshotsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (default from config)")
	cmd.Flags().StringVar(&opts.Delete, "delete", "", "remove the named snapshot instead of listing")
	return cmd
}

func runSnapshots(cmd *cobra.Command, opts *SnapshotsOptions) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	flags := storeFlags{Database: opts.Database}
	flags.resolve(cfg)

	st, err := flags.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if opts.Delete != "" {
		if err := st.DeleteSnapshot(ctx, opts.Delete); err != nil {
			return out.Fail(ExitCommandError, CodeCommand, err)
		}
		out.VerboseLog("deleted snapshot %s", opts.Delete)
	}

	infos, err := st.ListSnapshots(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	if out.JSON() {
		return out.Success(infos)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out.Writer, "(no snapshots)")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(out.Writer, "%-20s seq %-6d %s\n", info.Name, info.Seq, info.Digest)
	}
	return nil
}
