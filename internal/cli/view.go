package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/store"
	"github.com/roach88/tasksync/internal/view"
)

// ViewOptions holds flags for the view command.
type ViewOptions struct {
	*RootOptions
	storeFlags
	Search string
	Filter string
	Sort   string
	Locale string
}

// ViewResult is the JSON output of the view command.
type ViewResult struct {
	Snapshot store.SnapshotInfo    `json:"snapshot"`
	Params   view.Params           `json:"params"`
	Lists    []model.ListWithTasks `json:"lists"`
}

// NewViewCommand creates the view command for printing the dashboard.
func NewViewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ViewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Print the dashboard view of a snapshot",
		Long: `Derive the dashboard from a stored snapshot: lists joined with their
tasks, narrowed by --search and --filter, ordered by --sort.

Flags override the view defaults of the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runView(cmd, opts)
		},
	}

	opts.storeFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Search, "search", "", "case-insensitive title search")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "all | completed | incomplete")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "created | name | tasks")
	cmd.Flags().StringVar(&opts.Locale, "locale", "", "collation locale for --sort name (BCP 47)")

	return cmd
}

func runView(cmd *cobra.Command, opts *ViewOptions) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	opts.resolve(cfg)

	updates := map[string]string{}
	for flag, key := range map[string]string{"search": view.KeySearch, "filter": view.KeyFilter, "sort": view.KeySort} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			updates[key] = f.Value.String()
		}
	}
	params, err := cfg.View.Merge(updates)
	if err != nil {
		return out.Fail(ExitFailure, CodeInvalid, err)
	}

	tag := cfg.Language()
	if opts.Locale != "" {
		if tag, err = language.Parse(opts.Locale); err != nil {
			return out.Fail(ExitFailure, CodeInvalid, model.NewValidationError("", "", "locale %q: %v", opts.Locale, err))
		}
	}

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
	out.VerboseLog("snapshot %s: seq %d, digest %s", info.Name, info.Seq, info.Digest)

	p := view.NewPipeline(view.WithLocale(tag), view.WithCacheSize(cfg.ViewCacheSize))
	v, err := p.Select(state, params)
	if err != nil {
		return out.Fail(ExitFailure, CodeInvalid, err)
	}

	if out.JSON() {
		return out.Success(ViewResult{Snapshot: info, Params: params, Lists: v.Lists})
	}
	return view.WriteText(out.Writer, v)
}
