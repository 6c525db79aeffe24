package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/transport"
)

// DoOptions holds flags for the do command.
type DoOptions struct {
	*RootOptions
	storeFlags
	Set   []string
	Actor string
}

// DoResult is the JSON output of the do command.
type DoResult struct {
	Mutation model.MutationRecord `json:"mutation"`
	Snapshot string               `json:"snapshot,omitempty"`
	Digest   string               `json:"digest,omitempty"`
}

// NewDoCommand creates the do command for applying one mutation.
func NewDoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "do <create|update|delete> <lists|tasks> [id]",
		Short: "Apply one mutation through the engine",
		Long: `Apply a create, update or delete to the stored snapshot.

The snapshot seeds an in-memory server and hydrates the engine, which
runs the mutation through its full lifecycle: optimistic apply, server
call, reconcile or rollback. The mutation and its settlement are
journaled, and the resulting state is saved back on success.

Fields are given as --set field=value. "completed" takes a boolean and
the value null clears an optional field.

Examples:
  tasksync do create lists --set title=Groceries
  tasksync do create tasks --set listId=L1 --set title=Milk
  tasksync do update tasks T1 --set completed=true
  tasksync do delete lists L1`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDo(cmd, opts, args)
		},
	}

	opts.storeFlags.register(cmd)
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "field=value (repeatable)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "acting user (default from config)")
	return cmd
}

func runDo(cmd *cobra.Command, opts *DoOptions, args []string) error {
	out := newFormatter(cmd, opts.RootOptions)
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	opts.resolve(cfg)

	intent, err := parseIntent(args, opts.Set)
	if err != nil {
		return out.Fail(ExitFailure, CodeInvalid, err)
	}
	actor := opts.Actor
	if actor == "" {
		actor = cfg.ActorID
	}

	st, err := opts.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	state, _, err := st.LoadSnapshot(ctx, opts.Snapshot)
	switch {
	case model.IsNotFoundError(err):
		out.VerboseLog("snapshot %s not found, starting empty", opts.Snapshot)
		state = entity.NewState()
	case err != nil:
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}

	server := transport.NewMemoryServer()
	server.Seed(state.Lists().All(), state.Tasks().All())
	eng := engine.New(server.As(actor), engine.StaticIdentity(actor),
		engine.WithState(state),
		engine.WithJournal(st),
		engine.WithClock(engine.NewClockAt(seq)),
		engine.WithCascadeListDelete(cfg.CascadeListDelete),
	)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	rec, doErr := eng.Do(ctx, intent)
	cancel()
	if err := g.Wait(); err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}

	if doErr != nil {
		if rec.ID == "" {
			// Refused before dispatch: no identity or an invalid intent.
			return out.Fail(ExitFailure, CodeInvalid, doErr)
		}
		if out.JSON() {
			_ = out.encode(Response{Status: "error", Data: DoResult{Mutation: rec}, Error: &ResponseError{
				Code: CodeRejected, Message: doErr.Error(), Reason: model.CodeOf(doErr),
			}})
		} else {
			writeMutation(out, rec)
		}
		return WrapExitError(ExitFailure, CodeRejected, doErr)
	}

	digest, err := st.SaveSnapshot(ctx, opts.Snapshot, eng.State(), rec.Seq)
	if err != nil {
		return out.Fail(ExitCommandError, CodeCommand, err)
	}
	if out.JSON() {
		return out.Success(DoResult{Mutation: rec, Snapshot: opts.Snapshot, Digest: digest})
	}
	writeMutation(out, rec)
	out.VerboseLog("saved snapshot %s (%s)", opts.Snapshot, digest)
	return nil
}

// parseIntent builds the intent for "<op> <kind> [id]" and the --set pairs.
func parseIntent(args, sets []string) (engine.Intent, error) {
	in := engine.Intent{Op: model.Op(args[0]), Kind: model.Kind(args[1])}
	switch in.Op {
	case model.OpCreate, model.OpUpdate, model.OpDelete:
	default:
		return in, model.NewValidationError("", "", "unknown operation %q: want create, update or delete", args[0])
	}
	if in.Kind != model.KindList && in.Kind != model.KindTask {
		return in, model.NewValidationError("", "", "unknown kind %q: want lists or tasks", args[1])
	}
	if len(args) == 3 {
		in.ID = args[2]
	}
	switch {
	case in.Op == model.OpCreate && in.ID != "":
		return in, model.NewValidationError(in.Kind, in.ID, "create takes no id")
	case in.Op != model.OpCreate && in.ID == "":
		return in, model.NewValidationError(in.Kind, "", "%s needs an id", in.Op)
	case in.Op == model.OpDelete && len(sets) > 0:
		return in, model.NewValidationError(in.Kind, in.ID, "delete takes no fields")
	}

	patch, err := parseSets(in.Kind, in.ID, sets)
	if err != nil {
		return in, err
	}
	if len(patch) > 0 {
		in.Patch = patch
	}
	return in, nil
}

// parseSets converts field=value pairs into a patch.
func parseSets(kind model.Kind, id string, sets []string) (model.Patch, error) {
	p := model.Patch{}
	for _, s := range sets {
		field, value, ok := strings.Cut(s, "=")
		if !ok || field == "" {
			return nil, model.NewValidationError(kind, id, "--set %q: want field=value", s)
		}
		switch {
		case field == model.FieldCompleted:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, model.NewValidationError(kind, id, "--set %s: %q is not a boolean", field, value)
			}
			p[field] = b
		case value == "null":
			p[field] = nil
		default:
			p[field] = value
		}
	}
	return p, nil
}

func writeMutation(out *OutputFormatter, rec model.MutationRecord) {
	fmt.Fprintf(out.Writer, "%s %s %s: %s\n", rec.Op, rec.Kind, recordTarget(rec), rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(out.Writer, "  %s: %s\n", rec.ErrorCode, rec.Error)
	}
}
