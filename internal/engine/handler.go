package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/transport"
)

// record is the non-generic view of a server entity.
type record interface {
	EntityID() string
	Fields() model.Fields
}

// handler is the kind-specific half of the mutation lifecycle. Everything
// the engine does to the state for a given kind goes through it.
type handler interface {
	get(s *entity.State, id string) (model.Fields, bool)
	insert(s *entity.State, id, actor string, now time.Time, p model.Patch) (*entity.State, model.Fields, error)
	add(s *entity.State, r record) (*entity.State, error)
	update(s *entity.State, id string, p model.Patch) (*entity.State, error)
	remove(s *entity.State, id string) *entity.State
	remap(s *entity.State, oldID, newID string) (*entity.State, error)
	call(ctx context.Context, tr transport.Transport, op model.Op, id string, p model.Patch) (record, error)
}

type kindHandler[T model.Entity[T]] struct {
	slot     entity.Slot[T]
	endpoint func(transport.Transport) transport.Endpoint[T]
	proto    func(id, actor string, now time.Time) T
	// remapFn overrides the default collection remap.
	remapFn func(s *entity.State, oldID, newID string) (*entity.State, error)
}

func (h kindHandler[T]) get(s *entity.State, id string) (model.Fields, bool) {
	e, ok := h.slot.Get(s).Get(id)
	if !ok {
		return nil, false
	}
	return e.Fields(), true
}

func (h kindHandler[T]) insert(s *entity.State, id, actor string, now time.Time, p model.Patch) (*entity.State, model.Fields, error) {
	e, err := h.proto(id, actor, now).Apply(p.Without(model.FieldID))
	if err != nil {
		return s, nil, err
	}
	return h.slot.Set(s, h.slot.Get(s).AddOne(e)), e.Fields(), nil
}

func (h kindHandler[T]) add(s *entity.State, r record) (*entity.State, error) {
	e, ok := r.(T)
	if !ok {
		return s, fmt.Errorf("%s: unexpected server entity %T", h.slot.Kind, r)
	}
	return h.slot.Set(s, h.slot.Get(s).AddOne(e)), nil
}

func (h kindHandler[T]) update(s *entity.State, id string, p model.Patch) (*entity.State, error) {
	c, err := h.slot.Get(s).UpdateOne(id, p)
	if err != nil {
		return s, err
	}
	return h.slot.Set(s, c), nil
}

func (h kindHandler[T]) remove(s *entity.State, id string) *entity.State {
	return h.slot.Set(s, h.slot.Get(s).RemoveOne(id))
}

func (h kindHandler[T]) remap(s *entity.State, oldID, newID string) (*entity.State, error) {
	if h.remapFn != nil {
		return h.remapFn(s, oldID, newID)
	}
	c, err := h.slot.Get(s).RemapID(oldID, newID)
	if err != nil {
		return s, err
	}
	return h.slot.Set(s, c), nil
}

func (h kindHandler[T]) call(ctx context.Context, tr transport.Transport, op model.Op, id string, p model.Patch) (record, error) {
	ep := h.endpoint(tr)
	switch op {
	case model.OpCreate:
		return ep.Create(ctx, p)
	case model.OpUpdate:
		return ep.Update(ctx, id, p)
	case model.OpDelete:
		return nil, ep.Delete(ctx, id)
	default:
		return nil, fmt.Errorf("%s: unsupported op %q", h.slot.Kind, op)
	}
}

var handlers = map[model.Kind]handler{
	model.KindList: kindHandler[model.List]{
		slot:     entity.ListSlot,
		endpoint: func(tr transport.Transport) transport.Endpoint[model.List] { return tr.Lists },
		proto: func(id, actor string, now time.Time) model.List {
			return model.List{ID: id, OwnerID: actor, CreatedAt: now}
		},
		remapFn: (*entity.State).RemapListID,
	},
	model.KindTask: kindHandler[model.Task]{
		slot:     entity.TaskSlot,
		endpoint: func(tr transport.Transport) transport.Endpoint[model.Task] { return tr.Tasks },
		proto: func(id, _ string, now time.Time) model.Task {
			return model.Task{ID: id, CreatedAt: now}
		},
	},
}
