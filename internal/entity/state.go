package entity

import (
	"github.com/roach88/tasksync/internal/model"
)

// State is the root snapshot of the normalized store. It is immutable; the
// With* methods return a new State sharing every untouched collection.
type State struct {
	lists *Collection[model.List]
	tasks *Collection[model.Task]
}

// NewState returns a state with both collections empty.
func NewState() *State {
	return &State{lists: Empty[model.List](), tasks: Empty[model.Task]()}
}

// NewStateFrom builds a state from two collections. Nil means empty.
func NewStateFrom(lists *Collection[model.List], tasks *Collection[model.Task]) *State {
	if lists == nil {
		lists = Empty[model.List]()
	}
	if tasks == nil {
		tasks = Empty[model.Task]()
	}
	return &State{lists: lists, tasks: tasks}
}

// Lists returns the list collection.
func (s *State) Lists() *Collection[model.List] { return s.lists }

// Tasks returns the task collection.
func (s *State) Tasks() *Collection[model.Task] { return s.tasks }

// WithLists returns s with the list collection replaced. The same pointer
// returns s.
func (s *State) WithLists(c *Collection[model.List]) *State {
	if c == s.lists {
		return s
	}
	return &State{lists: c, tasks: s.tasks}
}

// WithTasks returns s with the task collection replaced.
func (s *State) WithTasks(c *Collection[model.Task]) *State {
	if c == s.tasks {
		return s
	}
	return &State{lists: s.lists, tasks: c}
}

// RemapListID re-keys a list and rewrites every task's listId reference
// from oldID to newID, so tasks created against a provisional list id stay
// attached once the list's create settles.
func (s *State) RemapListID(oldID, newID string) (*State, error) {
	lists, err := s.lists.RemapID(oldID, newID)
	if err != nil {
		return s, err
	}
	refs := s.tasks.Filter(func(t model.Task) bool { return t.ListID == oldID })
	patches := make(map[string]model.Patch, len(refs))
	for _, id := range refs {
		patches[id] = model.Patch{model.FieldListID: newID}
	}
	tasks, err := s.tasks.UpdateMany(patches)
	if err != nil {
		return s, err
	}
	return s.WithLists(lists).WithTasks(tasks), nil
}

// TasksOfList returns the ids of tasks whose listId is listID.
func (s *State) TasksOfList(listID string) []string {
	return s.tasks.Filter(func(t model.Task) bool { return t.ListID == listID })
}

// RemoveTasksOfList removes every task belonging to listID. Removing a list
// never does this implicitly; a caller wanting cascade composes both.
func (s *State) RemoveTasksOfList(listID string) *State {
	return s.WithTasks(s.tasks.RemoveMany(s.TasksOfList(listID)...))
}

// Orphans returns the ids of tasks whose list is not in the store.
func (s *State) Orphans() []string {
	return s.tasks.Filter(func(t model.Task) bool { return !s.lists.Has(t.ListID) })
}

// Slot gives kind-generic code typed access to one collection of a State.
type Slot[T model.Entity[T]] struct {
	Kind model.Kind
	Get  func(*State) *Collection[T]
	Set  func(*State, *Collection[T]) *State
}

// ListSlot addresses the list collection.
var ListSlot = Slot[model.List]{
	Kind: model.KindList,
	Get:  (*State).Lists,
	Set:  (*State).WithLists,
}

// TaskSlot addresses the task collection.
var TaskSlot = Slot[model.Task]{
	Kind: model.KindTask,
	Get:  (*State).Tasks,
	Set:  (*State).WithTasks,
}
