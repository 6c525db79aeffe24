package entity

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tasksync/internal/model"
)

// CollectionSnapshot is the serialized shape of one collection.
type CollectionSnapshot[T model.Entity[T]] struct {
	ByID  map[string]T `json:"byId"`
	Order []string     `json:"order"`
}

// Snapshot is the hydration shape of the whole store:
// {"lists": {"byId": {...}, "order": [...]}, "tasks": {...}}.
type Snapshot struct {
	Lists CollectionSnapshot[model.List] `json:"lists"`
	Tasks CollectionSnapshot[model.Task] `json:"tasks"`
}

// Snapshot serializes a collection.
func (c *Collection[T]) Snapshot() CollectionSnapshot[T] {
	byID := make(map[string]T, len(c.byID))
	for k, v := range c.byID {
		byID[k] = v
	}
	return CollectionSnapshot[T]{ByID: byID, Order: c.IDs()}
}

// Snapshot serializes the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Lists: s.lists.Snapshot(), Tasks: s.tasks.Snapshot()}
}

// FromCollectionSnapshot rebuilds a collection, rejecting snapshots whose
// order and byId disagree or whose keys differ from the entity ids.
func FromCollectionSnapshot[T model.Entity[T]](kind model.Kind, snap CollectionSnapshot[T]) (*Collection[T], error) {
	c := &Collection[T]{byID: make(map[string]T, len(snap.Order)), order: make([]string, 0, len(snap.Order))}
	for _, id := range snap.Order {
		e, ok := snap.ByID[id]
		if !ok {
			return nil, model.NewValidationError(kind, id, "order references id missing from byId")
		}
		if _, dup := c.byID[id]; dup {
			return nil, model.NewValidationError(kind, id, "duplicate id in order")
		}
		if e.EntityID() != id {
			return nil, model.NewValidationError(kind, id, "byId key does not match entity id %q", e.EntityID())
		}
		c.byID[id] = e
		c.order = append(c.order, id)
	}
	if len(c.byID) != len(snap.ByID) {
		return nil, model.NewValidationError(kind, "", "byId has %d entries not listed in order", len(snap.ByID)-len(c.byID))
	}
	return c, nil
}

// FromSnapshot hydrates a State from a snapshot.
func FromSnapshot(snap Snapshot) (*State, error) {
	lists, err := FromCollectionSnapshot(model.KindList, snap.Lists)
	if err != nil {
		return nil, err
	}
	tasks, err := FromCollectionSnapshot(model.KindTask, snap.Tasks)
	if err != nil {
		return nil, err
	}
	return NewStateFrom(lists, tasks), nil
}

// DecodeSnapshot parses snapshot JSON and hydrates a State.
func DecodeSnapshot(data []byte) (*State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return FromSnapshot(snap)
}

// CanonicalJSON renders the state's snapshot as canonical JSON, suitable
// for digests and byte-stable persistence.
func (s *State) CanonicalJSON() ([]byte, error) {
	return model.MarshalCanonical(s.canonicalTree())
}

// Digest fingerprints the state's contents.
func (s *State) Digest() (string, error) {
	return model.Digest(model.DomainSnapshot, s.canonicalTree())
}

func (s *State) canonicalTree() map[string]any {
	return map[string]any{
		string(model.KindList): canonicalCollection(s.lists),
		string(model.KindTask): canonicalCollection(s.tasks),
	}
}

func canonicalCollection[T model.Entity[T]](c *Collection[T]) map[string]any {
	byID := make(map[string]any, c.Len())
	order := make([]any, 0, c.Len())
	for _, id := range c.order {
		byID[id] = map[string]any(c.byID[id].Fields())
		order = append(order, id)
	}
	return map[string]any{"byId": byID, "order": order}
}
