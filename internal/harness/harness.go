package harness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/tasksync/internal/engine"
	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/testutil"
	"github.com/roach88/tasksync/internal/transport"
)

// StepTimeout bounds how long a step waits for the engine or the server.
const StepTimeout = 5 * time.Second

// serverEpoch is where the server clock starts, after every seeded entity.
var serverEpoch = testutil.Epoch.Add(time.Hour)

// Harness drives one engine through a scenario.
//
// Each run gets a fresh memory server, gate and engine, so scenarios are
// isolated from each other.
type Harness struct {
	scenario  *Scenario
	server    *transport.MemoryServer
	gate      *transport.Gate
	engine    *engine.Engine
	mutations map[string]*engine.Mutation
	holds     map[string]*transport.Hold
	logger    *slog.Logger
	result    *Result
}

// Run executes a scenario and returns the result.
//
// A step that fails ends the run; its error is in the result and later
// steps and the final expectations are skipped. Run itself only errors for
// an unusable scenario.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	if scenario == nil {
		return nil, fmt.Errorf("nil scenario")
	}
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	h := newHarness(scenario)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(runCtx) }()
	defer func() {
		h.releaseAll()
		cancel()
		<-done
	}()

	for i, step := range scenario.Steps {
		h.logger.Debug("scenario step", "index", i, "do", step.Do, "name", step.Name)
		if err := h.execute(ctx, step); err != nil {
			h.result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, step.Do, err))
			return h.result, nil
		}
	}
	for _, err := range h.evaluate() {
		h.result.AddError(err.Error())
	}
	return h.result, nil
}

func newHarness(sc *Scenario) *Harness {
	actor := sc.Actor
	if actor == "" {
		actor = DefaultActor
	}
	gate := transport.NewGate()
	server := transport.NewMemoryServer(
		transport.WithIDs(testutil.NewSequentialIDs("srv").Generate),
		transport.WithNow(testutil.NewClock(serverEpoch, time.Minute).Now),
		transport.WithInterceptor(gate.Intercept),
	)
	lists, tasks := sc.Seed.entities(actor)
	server.Seed(lists, tasks)

	eng := engine.New(server.As(actor), engine.StaticIdentity(actor),
		engine.WithIDGenerator(testutil.NewSequentialIDs("tmp")),
		engine.WithNow(testutil.FrozenClock().Now),
		engine.WithCascadeListDelete(sc.CascadeListDelete),
	)
	return &Harness{
		scenario:  sc,
		server:    server,
		gate:      gate,
		engine:    eng,
		mutations: make(map[string]*engine.Mutation),
		holds:     make(map[string]*transport.Hold),
		logger:    slog.Default().With("scenario", sc.Name),
		result:    NewResult(),
	}
}

// entities converts the seed. Seeded entities are created one minute apart
// from testutil.Epoch, in seed order.
func (s Seed) entities(actor string) ([]model.List, []model.Task) {
	lists := make([]model.List, 0, len(s.Lists))
	for i, l := range s.Lists {
		owner := l.Owner
		if owner == "" {
			owner = actor
		}
		lists = append(lists, model.List{
			ID:        l.ID,
			Title:     l.Title,
			OwnerID:   owner,
			CreatedAt: testutil.Epoch.Add(time.Duration(i) * time.Minute),
		})
	}
	tasks := make([]model.Task, 0, len(s.Tasks))
	for i, t := range s.Tasks {
		created := testutil.Epoch.Add(time.Duration(i) * time.Minute)
		task := model.Task{
			ID:          t.ID,
			Title:       t.Title,
			ListID:      t.List,
			Description: t.Description,
			Completed:   t.Completed,
			CreatedAt:   created,
		}
		if t.Completed {
			task.CompletedAt = &created
		}
		tasks = append(tasks, task)
	}
	return lists, tasks
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch step.Do {
	case StepFetch:
		return h.fetch(ctx, step)
	case StepCreate, StepUpdate, StepDelete:
		return h.mutate(ctx, step)
	case StepLocal:
		return h.local(ctx, step)
	case StepHold:
		h.holds[step.Name] = h.gate.Hold(step.Kind, step.Op)
		h.result.record(TraceEvent{Step: step.Do, Name: step.Name, Kind: string(step.Kind), Op: string(step.Op)})
		return nil
	case StepFail:
		reason := failureReason(step.Reason)
		h.gate.FailNext(step.Kind, step.Op, transport.Fail(reason, "injected by scenario"))
		h.result.record(TraceEvent{Step: step.Do, Kind: string(step.Kind), Op: string(step.Op), Reason: string(reason)})
		return nil
	case StepRelease:
		return h.release(ctx, step)
	case StepWait:
		return h.wait(ctx, step)
	default:
		return fmt.Errorf("unknown action %q", step.Do)
	}
}

func (h *Harness) fetch(ctx context.Context, step Step) error {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	lists, entry, err := h.engine.FetchLists(ctx)
	if err := expectError(step, err); err != nil {
		return err
	}
	ev := TraceEvent{Step: step.Do, Code: string(model.CodeOf(err))}
	if err == nil {
		ev.Lists = len(lists)
		for _, l := range lists {
			ev.Tasks += len(l.Tasks)
		}
		ev.Fetches = entry.Fetches
	}
	h.result.record(ev)
	return nil
}

func (h *Harness) mutate(ctx context.Context, step Step) error {
	in, err := h.intent(step)
	if err != nil {
		return err
	}
	m, err := h.engine.Submit(ctx, in)
	if err := expectError(step, err); err != nil {
		return err
	}
	ev := TraceEvent{Step: step.Do, Name: step.Name, Kind: string(step.Kind), ID: in.ID}
	if err != nil {
		ev.Code = string(model.CodeOf(err))
		h.result.record(ev)
		return nil
	}
	if step.Name != "" {
		h.mutations[step.Name] = m
	}

	// The dispatch event is ahead of the barrier in the queue, so once the
	// barrier returns the optimistic state and provisional id are in place.
	if err := h.barrier(ctx); err != nil {
		return err
	}
	ev.TempID = m.Record().TempID
	if step.Async {
		h.result.record(ev)
		return nil
	}

	rec, err := h.await(ctx, m)
	if err != nil {
		return err
	}
	ev.Status = string(rec.Status)
	ev.ServerID = rec.ServerID
	ev.Code = string(rec.ErrorCode)
	h.result.record(ev)
	return checkSettlement(step, rec)
}

func (h *Harness) local(ctx context.Context, step Step) error {
	id, err := h.resolve(step.ID)
	if err != nil {
		return err
	}
	patch, err := h.patch(step.Fields)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()

	err = h.engine.UpdateLocal(ctx, step.Kind, id, patch)
	if err := expectError(step, err); err != nil {
		return err
	}
	h.result.record(TraceEvent{Step: step.Do, Kind: string(step.Kind), ID: id, Code: string(model.CodeOf(err))})
	return nil
}

func (h *Harness) release(ctx context.Context, step Step) error {
	hold := h.holds[step.Name]
	var call transport.Call
	select {
	case call = <-hold.Arrived():
	case <-time.After(StepTimeout):
		return fmt.Errorf("held call %q never reached the server", step.Name)
	case <-ctx.Done():
		return ctx.Err()
	}

	var failure error
	if step.Reason != "" {
		failure = transport.Fail(step.Reason, "released with failure by scenario")
	}
	hold.Release(failure)
	h.result.record(TraceEvent{
		Step:   step.Do,
		Name:   step.Name,
		Kind:   string(call.Kind),
		Op:     string(call.Op),
		ID:     call.ID,
		Reason: string(step.Reason),
	})
	return nil
}

func (h *Harness) wait(ctx context.Context, step Step) error {
	rec, err := h.await(ctx, h.mutations[step.Name])
	if err != nil {
		return err
	}
	h.result.record(TraceEvent{
		Step:     step.Do,
		Name:     step.Name,
		Kind:     string(rec.Kind),
		Status:   string(rec.Status),
		ServerID: rec.ServerID,
		Code:     string(rec.ErrorCode),
	})
	return checkSettlement(step, rec)
}

// barrier returns once every event queued before it has been processed.
func (h *Harness) barrier(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	return h.engine.Apply(ctx, func(s *entity.State) (*entity.State, error) { return s, nil })
}

func (h *Harness) await(ctx context.Context, m *engine.Mutation) (model.MutationRecord, error) {
	select {
	case <-m.Done():
		return m.Record(), nil
	case <-time.After(StepTimeout):
		return model.MutationRecord{}, fmt.Errorf("mutation %s did not settle within %s", m.ID(), StepTimeout)
	case <-ctx.Done():
		return model.MutationRecord{}, ctx.Err()
	}
}

// releaseAll fails every hold still parked so no server call outlives the run.
func (h *Harness) releaseAll() {
	for _, hold := range h.holds {
		hold.Release(transport.Fail(transport.ReasonNetworkError, "scenario ended"))
	}
}

func (h *Harness) intent(step Step) (engine.Intent, error) {
	in := engine.Intent{Kind: step.Kind, Op: model.Op(step.Do)}
	if step.ID != "" {
		id, err := h.resolve(step.ID)
		if err != nil {
			return engine.Intent{}, err
		}
		in.ID = id
	}
	if step.Do != StepDelete {
		patch, err := h.patch(step.Fields)
		if err != nil {
			return engine.Intent{}, err
		}
		in.Patch = patch
	}
	return in, nil
}

// patch converts scenario fields. A string value $name naming a bound
// mutation is replaced by that mutation's entity id; other strings are
// literal.
func (h *Harness) patch(fields map[string]any) (model.Patch, error) {
	p := make(model.Patch, len(fields))
	for k, v := range fields {
		if s, ok := v.(string); ok {
			if name, ref := strings.CutPrefix(s, "$"); ref && h.mutations[name] != nil {
				id, err := h.resolve(s)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", k, err)
				}
				v = id
			}
		}
		p[k] = v
	}
	return p, nil
}

// resolve turns $name into the entity id of mutation name: its server id
// once settled, its provisional id before that, or its target. Anything
// else is returned unchanged.
func (h *Harness) resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "$")
	if !ok {
		return ref, nil
	}
	m, ok := h.mutations[name]
	if !ok {
		return "", fmt.Errorf("unknown mutation %q", name)
	}
	rec := m.Record()
	switch {
	case rec.ServerID != "":
		return rec.ServerID, nil
	case rec.TempID != "":
		return rec.TempID, nil
	case rec.Target != "":
		return rec.Target, nil
	}
	return "", fmt.Errorf("mutation %q has no entity id", name)
}

func failureReason(r transport.Reason) transport.Reason {
	if r == "" {
		return transport.ReasonServerError
	}
	return r
}

// expectError compares a step's returned error with the code it declares.
func expectError(step Step, err error) error {
	got := model.CodeOf(err)
	switch {
	case step.Error == "" && err != nil:
		return fmt.Errorf("unexpected error: %w", err)
	case step.Error != "" && err == nil:
		return fmt.Errorf("expected %s error, got none", step.Error)
	case step.Error != "" && got != step.Error:
		return fmt.Errorf("expected %s error, got %v", step.Error, err)
	}
	return nil
}

// checkSettlement compares a settled record with the step's expectation.
// Without one, a mutation must be fulfilled; a code alone implies rejected.
func checkSettlement(step Step, rec model.MutationRecord) error {
	want := step.Status
	if want == "" {
		want = model.StatusFulfilled
		if step.Code != "" {
			want = model.StatusRejected
		}
	}
	if rec.Status != want {
		return fmt.Errorf("mutation settled %s, want %s (error: %s)", rec.Status, want, rec.Error)
	}
	if step.Code != "" && rec.ErrorCode != step.Code {
		return fmt.Errorf("mutation rejected with %s, want %s", rec.ErrorCode, step.Code)
	}
	return nil
}
