package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Kind     string
	Status   string
	Limit    int
}

// TraceResult is the JSON output of the trace command.
type TraceResult struct {
	Mutations []model.MutationRecord `json:"mutations"`
	Stats     TraceStats             `json:"stats"`
}

// TraceStats counts the journaled mutations by outcome.
type TraceStats struct {
	Total     int `json:"total"`
	Fulfilled int `json:"fulfilled"`
	Rejected  int `json:"rejected"`
	Unsettled int `json:"unsettled"`
}

// NewTraceCommand creates the trace command for reading the mutation journal.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the mutation journal",
		Long: `Print every journaled mutation in sequence order with its final status.

A mutation without a settled status was interrupted before the server
answered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (default from config)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this kind (lists|tasks)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only this status (fulfilled|rejected|...)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the last N mutations (0 = all)")
	return cmd
}

func runTrace(cmd *cobra.Command, opts *TraceOptions) error {
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

	records, err := st.QueryJournal(context.Background(), store.JournalFilter{
		Kind:   model.Kind(opts.Kind),
		Status: model.MutationStatus(opts.Status),
		Limit:  opts.Limit,
	})
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}

	res := TraceResult{Mutations: records}
	for _, rec := range res.Mutations {
		res.Stats.Total++
		switch rec.Status {
		case model.StatusFulfilled:
			res.Stats.Fulfilled++
		case model.StatusRejected:
			res.Stats.Rejected++
		default:
			res.Stats.Unsettled++
		}
	}

	if out.JSON() {
		return out.Success(res)
	}
	if len(res.Mutations) == 0 {
		fmt.Fprintln(out.Writer, "(no mutations)")
		return nil
	}
	for _, rec := range res.Mutations {
		fmt.Fprintf(out.Writer, "%6d %-10s %-6s %-6s %s\n", rec.Seq, rec.Status, rec.Op, rec.Kind, recordTarget(rec))
		if rec.Error != "" {
			fmt.Fprintf(out.Writer, "       %s: %s\n", rec.ErrorCode, rec.Error)
		}
	}
	fmt.Fprintf(out.Writer, "\n%d mutations: %d fulfilled, %d rejected, %d unsettled\n",
		res.Stats.Total, res.Stats.Fulfilled, res.Stats.Rejected, res.Stats.Unsettled)
	return nil
}

// recordTarget names the entity a mutation touched, with the remap of a
// fulfilled create.
func recordTarget(rec model.MutationRecord) string {
	switch {
	case rec.ServerID != "":
		return rec.TempID + " -> " + rec.ServerID
	case rec.Target != "":
		return rec.Target
	default:
		return rec.TempID
	}
}
