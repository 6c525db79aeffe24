package engine

import (
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/query"
)

// Intent is a requested mutation: what the caller wants changed.
type Intent struct {
	Kind  model.Kind
	Op    model.Op
	ID    string
	Patch model.Patch
}

// CreateList requests a new list.
func CreateList(p model.Patch) Intent {
	return Intent{Kind: model.KindList, Op: model.OpCreate, Patch: p}
}

// UpdateList requests a change to list id.
func UpdateList(id string, p model.Patch) Intent {
	return Intent{Kind: model.KindList, Op: model.OpUpdate, ID: id, Patch: p}
}

// DeleteList requests deletion of list id.
func DeleteList(id string) Intent {
	return Intent{Kind: model.KindList, Op: model.OpDelete, ID: id}
}

// CreateTask requests a new task.
func CreateTask(p model.Patch) Intent {
	return Intent{Kind: model.KindTask, Op: model.OpCreate, Patch: p}
}

// UpdateTask requests a change to task id.
func UpdateTask(id string, p model.Patch) Intent {
	return Intent{Kind: model.KindTask, Op: model.OpUpdate, ID: id, Patch: p}
}

// DeleteTask requests deletion of task id.
func DeleteTask(id string) Intent {
	return Intent{Kind: model.KindTask, Op: model.OpDelete, ID: id}
}

// createDefaults fills fields a create intent may omit.
func createDefaults(kind model.Kind, p model.Patch) model.Patch {
	out := p.Clone()
	defaults := model.Patch{model.FieldTitle: ""}
	if kind == model.KindTask {
		defaults[model.FieldDescription] = ""
		defaults[model.FieldCompleted] = false
	}
	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// validate checks an intent structurally. Nothing here reads state.
func (in Intent) validate() error {
	switch in.Kind {
	case model.KindList, model.KindTask:
	default:
		return errUnknownKind(in.Kind)
	}
	switch in.Op {
	case model.OpCreate:
		return model.ValidateCreate(in.Kind, in.Patch)
	case model.OpUpdate:
		if in.ID == "" {
			return model.NewValidationError(in.Kind, "", "update requires an id")
		}
		return model.ValidateUpdate(in.Kind, in.Patch)
	case model.OpDelete:
		if in.ID == "" {
			return model.NewValidationError(in.Kind, "", "delete requires an id")
		}
		return nil
	default:
		return model.NewValidationError(in.Kind, in.ID, "unsupported operation %q", in.Op)
	}
}

// invalidates returns the tags a successful mutation invalidates. id is the
// settled entity id (the server id for creates).
func invalidates(kind model.Kind, op model.Op, id string) []query.Tag {
	switch {
	case kind == model.KindList && op == model.OpCreate:
		return []query.Tag{query.AllLists}
	case kind == model.KindList && op == model.OpUpdate:
		return []query.Tag{query.AllLists, query.ListTag(id)}
	case kind == model.KindList && op == model.OpDelete:
		return []query.Tag{query.ListTag(id)}
	case kind == model.KindTask && op == model.OpCreate:
		return []query.Tag{query.AllLists, query.AllTasks}
	case kind == model.KindTask && op == model.OpUpdate:
		return []query.Tag{query.AllTasks, query.TaskTag(id)}
	case kind == model.KindTask && op == model.OpDelete:
		return []query.Tag{query.TaskTag(id)}
	}
	return nil
}
