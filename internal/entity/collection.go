// Package entity implements the normalized entity store: one immutable
// collection per entity kind (id -> entity plus an insertion order) and a
// root State holding both.
//
// Every operation is pure: it returns a new value and never modifies the
// receiver. An operation that would change nothing returns the receiver
// itself, so callers can detect "no change" by pointer comparison and
// memoized selectors downstream keep their cached results.
package entity

import (
	"slices"

	"github.com/roach88/tasksync/internal/model"
)

// Collection is a normalized, ordered set of entities of one kind.
// Invariant: order and byID hold exactly the same ids, each once.
type Collection[T model.Entity[T]] struct {
	byID  map[string]T
	order []string
}

// New builds a collection from entities in the given order. Later duplicates
// of an id are ignored, matching AddMany.
func New[T model.Entity[T]](entities ...T) *Collection[T] {
	return Empty[T]().AddMany(entities...)
}

// Empty returns a collection with no entities.
func Empty[T model.Entity[T]]() *Collection[T] {
	return &Collection[T]{byID: map[string]T{}, order: []string{}}
}

// Len returns the number of entities.
func (c *Collection[T]) Len() int { return len(c.order) }

// Has reports whether id is present.
func (c *Collection[T]) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Get returns the entity with id.
func (c *Collection[T]) Get(id string) (T, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// IDs returns a copy of the id order.
func (c *Collection[T]) IDs() []string {
	return slices.Clone(c.order)
}

// All returns the entities in id order.
func (c *Collection[T]) All() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// clone returns a writable copy. Callers mutate the copy only.
func (c *Collection[T]) clone() *Collection[T] {
	byID := make(map[string]T, len(c.byID)+1)
	for k, v := range c.byID {
		byID[k] = v
	}
	return &Collection[T]{byID: byID, order: slices.Clone(c.order)}
}

// AddOne inserts e if its id is absent. An existing id is a silent no-op.
func (c *Collection[T]) AddOne(e T) *Collection[T] {
	return c.AddMany(e)
}

// AddMany inserts every entity whose id is absent, in order.
func (c *Collection[T]) AddMany(entities ...T) *Collection[T] {
	var next *Collection[T]
	for _, e := range entities {
		id := e.EntityID()
		if next == nil {
			if c.Has(id) {
				continue
			}
			next = c.clone()
		} else if next.Has(id) {
			continue
		}
		next.byID[id] = e
		next.order = append(next.order, id)
	}
	if next == nil {
		return c
	}
	return next
}

// SetAll replaces the whole collection and its order with exactly entities.
// If the result would be content-equal to c, c is returned.
func (c *Collection[T]) SetAll(entities ...T) *Collection[T] {
	next := &Collection[T]{byID: make(map[string]T, len(entities)), order: make([]string, 0, len(entities))}
	for _, e := range entities {
		id := e.EntityID()
		if _, dup := next.byID[id]; !dup {
			next.order = append(next.order, id)
		}
		next.byID[id] = e
	}
	if c.contentEqual(next) {
		return c
	}
	return next
}

func (c *Collection[T]) contentEqual(other *Collection[T]) bool {
	if !slices.Equal(c.order, other.order) {
		return false
	}
	for id, e := range c.byID {
		if !sameEntity(e, other.byID[id]) {
			return false
		}
	}
	return true
}

func sameEntity[T model.Entity[T]](a, b T) bool {
	return a.Fields().Equal(b.Fields())
}

// UpsertOne inserts e or replaces the entity with its id. Replacement keeps
// the id's position in the order.
func (c *Collection[T]) UpsertOne(e T) *Collection[T] {
	return c.UpsertMany(e)
}

// UpsertMany upserts each entity in turn.
func (c *Collection[T]) UpsertMany(entities ...T) *Collection[T] {
	var next *Collection[T]
	for _, e := range entities {
		id := e.EntityID()
		cur := c
		if next != nil {
			cur = next
		}
		if old, ok := cur.byID[id]; ok && sameEntity(old, e) {
			continue
		}
		if next == nil {
			next = c.clone()
		}
		if _, ok := next.byID[id]; !ok {
			next.order = append(next.order, id)
		}
		next.byID[id] = e
	}
	if next == nil {
		return c
	}
	return next
}

// UpdateOne merges patch into the entity with id. An absent id, or a patch
// that changes nothing, returns c. The patch may not change the id; use
// RemapID for that.
func (c *Collection[T]) UpdateOne(id string, patch model.Patch) (*Collection[T], error) {
	return c.UpdateMany(map[string]model.Patch{id: patch})
}

// UpdateMany applies a patch per id. On error c is returned unchanged.
func (c *Collection[T]) UpdateMany(patches map[string]model.Patch) (*Collection[T], error) {
	var next *Collection[T]
	for id, patch := range patches {
		old, ok := c.byID[id]
		if !ok || len(patch) == 0 {
			continue
		}
		if _, hasID := patch[model.FieldID]; hasID {
			patch = patch.Without(model.FieldID)
		}
		updated, err := old.Apply(patch)
		if err != nil {
			return c, err
		}
		if sameEntity(old, updated) {
			continue
		}
		if next == nil {
			next = c.clone()
		}
		next.byID[id] = updated
	}
	if next == nil {
		return c, nil
	}
	return next, nil
}

// RemoveOne deletes id. Removing an absent id returns c.
func (c *Collection[T]) RemoveOne(id string) *Collection[T] {
	return c.RemoveMany(id)
}

// RemoveMany deletes every listed id that is present.
func (c *Collection[T]) RemoveMany(ids ...string) *Collection[T] {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if c.Has(id) {
			drop[id] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return c
	}
	next := &Collection[T]{byID: make(map[string]T, len(c.byID)-len(drop)), order: make([]string, 0, len(c.order)-len(drop))}
	for _, id := range c.order {
		if _, gone := drop[id]; gone {
			continue
		}
		next.byID[id] = c.byID[id]
		next.order = append(next.order, id)
	}
	return next
}

// RemoveAll empties the collection.
func (c *Collection[T]) RemoveAll() *Collection[T] {
	if c.Len() == 0 {
		return c
	}
	return Empty[T]()
}

// RemapID re-keys the entity at oldID to newID and rewrites its id field,
// keeping its position in the order. If newID is already present (the
// server entity arrived first, e.g. via a refetch) the oldID entry is
// dropped and the existing newID entry is kept. An absent oldID returns c.
func (c *Collection[T]) RemapID(oldID, newID string) (*Collection[T], error) {
	return c.RemapIDs(map[string]string{oldID: newID})
}

// RemapIDs applies several remaps at once. Every old id is looked up in c,
// so the result does not depend on map iteration: a swap such as {a: b,
// b: a} exchanges the two ids and a chain {a: b, b: c} moves both. An entry
// is dropped when its new id belongs to an entity that keeps its id, or
// when an earlier entry in c's order already claimed the same new id.
func (c *Collection[T]) RemapIDs(remap map[string]string) (*Collection[T], error) {
	moving := make(map[string]struct{}, len(remap))
	for oldID, newID := range remap {
		if oldID != newID && c.Has(oldID) {
			moving[oldID] = struct{}{}
		}
	}
	if len(moving) == 0 {
		return c, nil
	}

	next := &Collection[T]{byID: make(map[string]T, len(c.byID)), order: make([]string, 0, len(c.order))}
	for _, id := range c.order {
		e := c.byID[id]
		if _, ok := moving[id]; !ok {
			next.byID[id] = e
			next.order = append(next.order, id)
			continue
		}
		newID := remap[id]
		if _, taken := next.byID[newID]; taken {
			continue
		}
		if _, stays := moving[newID]; c.Has(newID) && !stays {
			continue
		}
		renamed, err := e.Apply(model.Patch{model.FieldID: newID})
		if err != nil {
			return c, err
		}
		next.byID[newID] = renamed
		next.order = append(next.order, newID)
	}
	return next, nil
}

// Filter returns the ids of entities matching pred, in order.
func (c *Collection[T]) Filter(pred func(T) bool) []string {
	var ids []string
	for _, id := range c.order {
		if pred(c.byID[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}
