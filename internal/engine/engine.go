package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/query"
	"github.com/roach88/tasksync/internal/transport"
)

// Identity supplies the current actor. A missing actor is a precondition
// failure for every mutation.
type Identity interface {
	Actor(ctx context.Context) (string, bool)
}

// StaticIdentity is an Identity fixed at construction. Empty means none.
type StaticIdentity string

// Actor implements Identity.
func (s StaticIdentity) Actor(context.Context) (string, bool) {
	return string(s), s != ""
}

// Journal durably records mutation records. Failures are logged and never
// affect the mutation.
type Journal interface {
	RecordMutation(ctx context.Context, rec model.MutationRecord) error
	RecordSettlement(ctx context.Context, rec model.MutationRecord) error
}

// Engine is the single-writer optimistic mutation engine.
//
// Thread-safety model:
//   - Submit, Apply, FetchLists, State, Subscribe: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//
// INVARIANTS:
//   - state is replaced only inside Run
//   - a mutation's store effects (optimistic apply, reconcile, revert) run
//     to completion without interleaving with any other event
type Engine struct {
	transport transport.Transport
	identity  Identity
	cache     *query.Cache
	journal   Journal
	queue     *eventQueue
	clock     *Clock
	ids       IDGenerator
	now       func() time.Time

	cascadeListDelete bool

	state atomic.Pointer[entity.State]

	// pendingCreates maps provisional ids to their unsettled create.
	// Owned by the Run loop.
	pendingCreates map[string]*Mutation

	mu     sync.Mutex
	active map[string]*Mutation

	subMu   sync.Mutex
	subs    map[int]func(*entity.State)
	nextSub int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache shares a query cache. Default: a private cache.
func WithCache(c *query.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithJournal records every mutation and settlement.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithIDGenerator sets the source of mutation and provisional ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock resumes sequence numbering from an existing clock.
func WithClock(c *Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithNow sets the time source for optimistic timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithState hydrates the engine with an initial state.
func WithState(s *entity.State) Option {
	return func(e *Engine) {
		if s != nil {
			e.state.Store(s)
		}
	}
}

// WithCascadeListDelete removes a list's tasks from the local store when a
// list delete succeeds. Off by default: local deletion never cascades
// implicitly.
func WithCascadeListDelete(on bool) Option {
	return func(e *Engine) { e.cascadeListDelete = on }
}

// New creates an Engine talking to tr on behalf of id.
func New(tr transport.Transport, id Identity, opts ...Option) *Engine {
	e := &Engine{
		transport:      tr,
		identity:       id,
		queue:          newEventQueue(),
		clock:          NewClock(),
		ids:            UUIDv7Generator{},
		now:            func() time.Time { return time.Now().UTC() },
		pendingCreates: make(map[string]*Mutation),
		active:         make(map[string]*Mutation),
		subs:           make(map[int]func(*entity.State)),
	}
	e.state.Store(entity.NewState())
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = query.NewCache(query.WithNow(e.now))
	}
	return e
}

// State returns the current immutable state snapshot.
func (e *Engine) State() *entity.State {
	return e.state.Load()
}

// Cache returns the engine's query cache.
func (e *Engine) Cache() *query.Cache {
	return e.cache
}

// Clock returns the engine's sequence clock.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of unprocessed events.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Subscribe registers fn to be called with every new state. fn runs on the
// Run goroutine and must not block. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func(*entity.State)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

// Pending returns the records of every unsettled mutation, by sequence.
func (e *Engine) Pending() []model.MutationRecord {
	e.mu.Lock()
	out := make([]model.MutationRecord, 0, len(e.active))
	for _, m := range e.active {
		out = append(out, m.Record())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Submit validates an intent and queues it for dispatch. Identity and
// validation failures are returned directly and never reach the server.
// Every other outcome, including rejection, is reported through the
// returned Mutation.
func (e *Engine) Submit(ctx context.Context, in Intent) (*Mutation, error) {
	actor, ok := e.identity.Actor(ctx)
	if !ok {
		return nil, errNoIdentity(in.Kind, in.ID)
	}
	in.Patch = in.Patch.Clone()
	if in.Op == model.OpCreate {
		in.Patch = createDefaults(in.Kind, in.Patch)
	}
	if err := in.validate(); err != nil {
		slog.Debug("intent rejected", "kind", in.Kind, "op", in.Op, "id", in.ID, "error", err)
		return nil, err
	}

	m := newMutation(e.ids.Generate(), e.clock.Next(), in, actor, time.Now())
	e.mu.Lock()
	e.active[m.ID()] = m
	e.mu.Unlock()

	if !e.queue.Enqueue(Event{Type: EventTypeDispatch, Mutation: m}) {
		e.forget(m)
		return nil, ErrStopped
	}
	return m, nil
}

// Do submits an intent and waits for it to settle.
func (e *Engine) Do(ctx context.Context, in Intent) (model.MutationRecord, error) {
	m, err := e.Submit(ctx, in)
	if err != nil {
		return model.MutationRecord{}, err
	}
	return m.Wait(ctx)
}

// Apply runs fn on the Run goroutine and publishes its result. fn must be
// pure. If ctx ends first Apply returns ctx.Err(), but fn still runs.
func (e *Engine) Apply(ctx context.Context, fn func(*entity.State) (*entity.State, error)) error {
	req := &applyRequest{fn: fn, done: make(chan error, 1)}
	if !e.queue.Enqueue(Event{Type: EventTypeApply, Apply: req}) {
		return ErrStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdateLocal edits an entity in the local store only. The edit takes part
// in reconciliation like any other local divergence.
func (e *Engine) UpdateLocal(ctx context.Context, kind model.Kind, id string, p model.Patch) error {
	h, ok := handlers[kind]
	if !ok {
		return errUnknownKind(kind)
	}
	p = p.Clone()
	if err := model.ValidateUpdate(kind, p); err != nil {
		return err
	}
	return e.Apply(ctx, func(s *entity.State) (*entity.State, error) {
		if _, ok := h.get(s, id); !ok {
			return s, model.NewNotFoundError(kind, id)
		}
		return h.update(s, id, p)
	})
}

// Hydrate replaces the whole state, e.g. from a persisted snapshot.
func (e *Engine) Hydrate(ctx context.Context, s *entity.State) error {
	return e.Apply(ctx, func(*entity.State) (*entity.State, error) { return s, nil })
}

// Run starts the single-writer event loop. It blocks until ctx is
// cancelled or Stop is called.
//
// Event processing errors are logged with the event's context and the loop
// continues; no event is ever retried.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			if err := e.processEvent(ctx, event); err != nil {
				logEventError(event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			e.drain()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; a coalesced signal
			// for an already-consumed event just loops back.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the event queue. Run returns once it observes the closure.
func (e *Engine) Stop() {
	e.queue.Close()
}

// drain settles everything left in the queue after shutdown so no waiter
// blocks forever. Store effects are discarded.
func (e *Engine) drain() {
	for {
		event, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		switch {
		case event.Mutation != nil:
			e.complete(event.Mutation, model.StatusRejected, ErrStopped)
		case event.Apply != nil:
			event.Apply.done <- ErrStopped
		}
	}
}

func (e *Engine) processEvent(ctx context.Context, event Event) error {
	switch event.Type {
	case EventTypeDispatch:
		if event.Mutation == nil {
			return fmt.Errorf("dispatch event missing mutation")
		}
		return e.dispatch(ctx, event.Mutation)

	case EventTypeSettle:
		if event.Mutation == nil || event.Result == nil {
			return fmt.Errorf("settle event missing mutation or result")
		}
		return e.settle(ctx, event.Mutation, event.Result)

	case EventTypeApply:
		if event.Apply == nil {
			return fmt.Errorf("apply event missing request")
		}
		next, err := event.Apply.fn(e.state.Load())
		if err == nil {
			e.publish(next)
		}
		event.Apply.done <- err
		return nil

	default:
		return fmt.Errorf("unknown event type: %d", event.Type)
	}
}

// publish installs next and notifies subscribers. Called only from Run.
func (e *Engine) publish(next *entity.State) {
	if next == nil || next == e.state.Load() {
		return
	}
	e.state.Store(next)

	e.subMu.Lock()
	subs := make([]func(*entity.State), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(next)
	}
}

func (e *Engine) forget(m *Mutation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, m.ID())
}

// logEventError logs a failed event with enough context to investigate.
func logEventError(event Event, err error) {
	attrs := []any{"event_type", event.Type.String(), "error", err}
	if m := event.Mutation; m != nil {
		rec := m.Record()
		attrs = append(attrs, "mutation_id", rec.ID, "kind", rec.Kind, "op", rec.Op, "target", rec.Target, "seq", rec.Seq)
	}
	slog.Error("event processing failed", attrs...)
}

type applyRequest struct {
	fn   func(*entity.State) (*entity.State, error)
	done chan error
}
