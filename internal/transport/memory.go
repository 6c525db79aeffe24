package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
)

// Call describes one request received by a MemoryServer.
type Call struct {
	Kind   model.Kind
	Op     model.Op
	ID     string
	Fields model.Patch
	Actor  string
}

// Interceptor runs before the server handles a call. A non-nil error fails
// the call with that error. An interceptor may block (for example until a
// test releases the call); it must honor ctx.
type Interceptor func(ctx context.Context, call Call) error

// ServerOption configures a MemoryServer.
type ServerOption func(*MemoryServer)

// WithIDs sets the server's id source. Default: random UUIDs.
func WithIDs(next func() string) ServerOption {
	return func(s *MemoryServer) { s.newID = next }
}

// WithNow sets the server's time source. Default: time.Now in UTC.
func WithNow(now func() time.Time) ServerOption {
	return func(s *MemoryServer) { s.now = now }
}

// WithInterceptor installs an Interceptor.
func WithInterceptor(i Interceptor) ServerOption {
	return func(s *MemoryServer) { s.intercept = i }
}

// MemoryServer is an in-memory reference server. It owns canonical ids and
// timestamps, scopes lists to their owner, validates writes, stamps
// completedAt on completion, and cascades list deletion to tasks.
//
// Thread-safety: all methods are safe for concurrent use.
type MemoryServer struct {
	mu        sync.Mutex
	state     *entity.State
	newID     func() string
	now       func() time.Time
	intercept Interceptor
}

// NewMemoryServer creates an empty server.
func NewMemoryServer(opts ...ServerOption) *MemoryServer {
	s := &MemoryServer{
		state: entity.NewState(),
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInterceptor replaces the interceptor. Nil removes it.
func (s *MemoryServer) SetInterceptor(i Interceptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = i
}

// Seed loads lists and tasks verbatim, bypassing validation.
func (s *MemoryServer) Seed(lists []model.List, tasks []model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.state.
		WithLists(s.state.Lists().UpsertMany(lists...)).
		WithTasks(s.state.Tasks().UpsertMany(tasks...))
}

// State returns the server's current contents.
func (s *MemoryServer) State() *entity.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// As returns a Transport acting on behalf of actor. An empty actor is
// refused on every call.
func (s *MemoryServer) As(actor string) Transport {
	return Transport{
		Lists:  &listEndpoint{server: s, actor: actor},
		Tasks:  &taskEndpoint{server: s, actor: actor},
		Joined: &joinedEndpoint{server: s, actor: actor},
	}
}

// before authorizes and intercepts a call. It runs without the lock held so
// an interceptor may block.
func (s *MemoryServer) before(ctx context.Context, call Call) error {
	slog.Debug("memory server call",
		"kind", call.Kind,
		"op", call.Op,
		"id", call.ID,
		"actor", call.Actor,
	)
	if call.Actor == "" {
		return Fail(ReasonUnauthorized, "no actor")
	}
	s.mu.Lock()
	intercept := s.intercept
	s.mu.Unlock()
	if intercept != nil {
		if err := intercept(ctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return Fail(ReasonNetworkError, "%v", err)
	}
	return nil
}

// ownedList returns the list if it exists and belongs to actor. Caller
// holds mu.
func (s *MemoryServer) ownedList(actor, id string) (model.List, bool) {
	l, ok := s.state.Lists().Get(id)
	if !ok || l.OwnerID != actor {
		return model.List{}, false
	}
	return l, true
}

func blank(v any) bool {
	str, ok := model.Normalize(v).(string)
	return !ok || strings.TrimSpace(str) == ""
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

type listEndpoint struct {
	server *MemoryServer
	actor  string
}

func (e *listEndpoint) List(ctx context.Context) ([]model.List, error) {
	if err := e.server.before(ctx, Call{Kind: model.KindList, Op: model.OpList, Actor: e.actor}); err != nil {
		return nil, err
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.List{}
	for _, l := range s.state.Lists().All() {
		if l.OwnerID == e.actor {
			out = append(out, l)
		}
	}
	return out, nil
}

func (e *listEndpoint) Create(ctx context.Context, fields model.Patch) (model.List, error) {
	call := Call{Kind: model.KindList, Op: model.OpCreate, Fields: fields, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return model.List{}, err
	}
	if blank(fields[model.FieldTitle]) {
		return model.List{}, Fail(ReasonValidation, "title is required")
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := model.List{}.Apply(fields.Without(model.FieldID, model.FieldCreatedAt, model.FieldOwnerID))
	if err != nil {
		return model.List{}, Fail(ReasonValidation, "%v", err)
	}
	l.ID = s.newID()
	l.CreatedAt = s.now()
	l.OwnerID = e.actor
	s.state = s.state.WithLists(s.state.Lists().AddOne(l))
	return l, nil
}

func (e *listEndpoint) Update(ctx context.Context, id string, fields model.Patch) (model.List, error) {
	call := Call{Kind: model.KindList, Op: model.OpUpdate, ID: id, Fields: fields, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return model.List{}, err
	}
	if v, ok := fields[model.FieldTitle]; ok && blank(v) {
		return model.List{}, Fail(ReasonValidation, "title must not be blank")
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedList(e.actor, id); !ok {
		return model.List{}, Fail(ReasonNotFound, "list %s", id)
	}
	lists, err := s.state.Lists().UpdateOne(id, fields.Without(model.FieldID, model.FieldCreatedAt, model.FieldOwnerID))
	if err != nil {
		return model.List{}, Fail(ReasonValidation, "%v", err)
	}
	s.state = s.state.WithLists(lists)
	l, _ := lists.Get(id)
	return l, nil
}

func (e *listEndpoint) Delete(ctx context.Context, id string) error {
	call := Call{Kind: model.KindList, Op: model.OpDelete, ID: id, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return err
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownedList(e.actor, id); !ok {
		return Fail(ReasonNotFound, "list %s", id)
	}
	s.state = s.state.WithLists(s.state.Lists().RemoveOne(id)).RemoveTasksOfList(id)
	return nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type taskEndpoint struct {
	server *MemoryServer
	actor  string
}

func (e *taskEndpoint) List(ctx context.Context) ([]model.Task, error) {
	if err := e.server.before(ctx, Call{Kind: model.KindTask, Op: model.OpList, Actor: e.actor}); err != nil {
		return nil, err
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Task{}
	for _, t := range s.state.Tasks().All() {
		if _, ok := s.ownedList(e.actor, t.ListID); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *taskEndpoint) Create(ctx context.Context, fields model.Patch) (model.Task, error) {
	call := Call{Kind: model.KindTask, Op: model.OpCreate, Fields: fields, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return model.Task{}, err
	}
	if blank(fields[model.FieldTitle]) {
		return model.Task{}, Fail(ReasonValidation, "title is required")
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	listID, _ := model.Normalize(fields[model.FieldListID]).(string)
	if _, ok := s.ownedList(e.actor, listID); !ok {
		return model.Task{}, Fail(ReasonNotFound, "list %s", listID)
	}
	t, err := model.Task{}.Apply(fields.Without(model.FieldID, model.FieldCreatedAt, model.FieldCompletedAt))
	if err != nil {
		return model.Task{}, Fail(ReasonValidation, "%v", err)
	}
	t.ID = s.newID()
	t.CreatedAt = s.now()
	if t.Completed {
		at := t.CreatedAt
		t.CompletedAt = &at
	}
	s.state = s.state.WithTasks(s.state.Tasks().AddOne(t))
	return t, nil
}

func (e *taskEndpoint) Update(ctx context.Context, id string, fields model.Patch) (model.Task, error) {
	call := Call{Kind: model.KindTask, Op: model.OpUpdate, ID: id, Fields: fields, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return model.Task{}, err
	}
	if v, ok := fields[model.FieldTitle]; ok && blank(v) {
		return model.Task{}, Fail(ReasonValidation, "title must not be blank")
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state.Tasks().Get(id)
	if !ok {
		return model.Task{}, Fail(ReasonNotFound, "task %s", id)
	}
	if _, ok := s.ownedList(e.actor, cur.ListID); !ok {
		return model.Task{}, Fail(ReasonNotFound, "task %s", id)
	}
	patch := fields.Without(model.FieldID, model.FieldCreatedAt, model.FieldCompletedAt)
	if v, ok := patch[model.FieldListID]; ok {
		listID, _ := model.Normalize(v).(string)
		if _, owned := s.ownedList(e.actor, listID); !owned {
			return model.Task{}, Fail(ReasonNotFound, "list %s", listID)
		}
	}
	if v, ok := patch[model.FieldCompleted]; ok {
		switch done, _ := model.Normalize(v).(bool); {
		case done && !cur.Completed:
			patch[model.FieldCompletedAt] = s.now()
		case !done:
			patch[model.FieldCompletedAt] = nil
		}
	}
	tasks, err := s.state.Tasks().UpdateOne(id, patch)
	if err != nil {
		return model.Task{}, Fail(ReasonValidation, "%v", err)
	}
	s.state = s.state.WithTasks(tasks)
	t, _ := tasks.Get(id)
	return t, nil
}

func (e *taskEndpoint) Delete(ctx context.Context, id string) error {
	call := Call{Kind: model.KindTask, Op: model.OpDelete, ID: id, Actor: e.actor}
	if err := e.server.before(ctx, call); err != nil {
		return err
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state.Tasks().Get(id)
	if !ok {
		return Fail(ReasonNotFound, "task %s", id)
	}
	if _, ok := s.ownedList(e.actor, cur.ListID); !ok {
		return Fail(ReasonNotFound, "task %s", id)
	}
	s.state = s.state.WithTasks(s.state.Tasks().RemoveOne(id))
	return nil
}

// ---------------------------------------------------------------------------
// Joined read
// ---------------------------------------------------------------------------

type joinedEndpoint struct {
	server *MemoryServer
	actor  string
}

func (e *joinedEndpoint) ListWithTasks(ctx context.Context) ([]model.ListWithTasks, error) {
	if err := e.server.before(ctx, Call{Kind: model.KindList, Op: model.OpList, Actor: e.actor}); err != nil {
		return nil, err
	}
	s := e.server
	s.mu.Lock()
	defer s.mu.Unlock()
	byList := map[string][]model.Task{}
	for _, t := range s.state.Tasks().All() {
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	out := []model.ListWithTasks{}
	for _, l := range s.state.Lists().All() {
		if l.OwnerID != e.actor {
			continue
		}
		tasks := byList[l.ID]
		if tasks == nil {
			tasks = []model.Task{}
		}
		out = append(out, l.Join(tasks))
	}
	return out, nil
}
