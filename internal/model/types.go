package model

import "time"

// Kind identifies an entity collection.
type Kind string

const (
	// KindList is the collection of task lists.
	KindList Kind = "lists"
	// KindTask is the collection of tasks.
	KindTask Kind = "tasks"
)

// Kinds lists every entity kind in snapshot order.
var Kinds = []Kind{KindList, KindTask}

// Op is one of the four logical operations the server exposes per kind.
type Op string

const (
	OpList   Op = "list"
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Field names shared by Fields and Patch.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldCreatedAt   = "createdAt"
	FieldOwnerID     = "ownerId"
	FieldDescription = "description"
	FieldCompleted   = "completed"
	FieldCompletedAt = "completedAt"
	FieldListID      = "listId"
)

// Fields is the flat field view of an entity: field name -> scalar value.
// Values are string, bool, time.Time or nil (absent optional field).
type Fields map[string]any

// Patch is a set of (field, new value) pairs. Applying a patch touches only
// the listed fields.
type Patch map[string]any

// Entity is the constraint satisfied by every normalized record type.
// Apply must not modify the receiver.
type Entity[T any] interface {
	EntityID() string
	Fields() Fields
	Apply(p Patch) (T, error)
}

// List is a named container of tasks owned by one actor.
type List struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerID   string    `json:"ownerId"`
}

// Task is a unit of work belonging to a List via ListID.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ListID      string     `json:"listId"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ListWithTasks is the joined, denormalized shape: a list carrying its tasks.
// The server's list read returns this shape; the derived view produces it.
type ListWithTasks struct {
	List
	Tasks []Task `json:"tasks"`
}

// EntityID implements Entity.
func (l List) EntityID() string { return l.ID }

// Fields implements Entity.
func (l List) Fields() Fields {
	return Fields{
		FieldID:        l.ID,
		FieldTitle:     l.Title,
		FieldCreatedAt: l.CreatedAt,
		FieldOwnerID:   l.OwnerID,
	}
}

// Apply implements Entity. Unknown fields and mistyped values are
// validation errors and leave the list untouched.
func (l List) Apply(p Patch) (List, error) {
	out := l
	for field, value := range p {
		var err error
		switch field {
		case FieldID:
			out.ID, err = stringValue(KindList, l.ID, field, value)
		case FieldTitle:
			out.Title, err = stringValue(KindList, l.ID, field, value)
		case FieldCreatedAt:
			out.CreatedAt, err = timeValue(KindList, l.ID, field, value)
		case FieldOwnerID:
			out.OwnerID, err = stringValue(KindList, l.ID, field, value)
		default:
			err = NewValidationError(KindList, l.ID, "unknown field %q", field)
		}
		if err != nil {
			return l, err
		}
	}
	return out, nil
}

// EntityID implements Entity.
func (t Task) EntityID() string { return t.ID }

// Fields implements Entity.
func (t Task) Fields() Fields {
	f := Fields{
		FieldID:          t.ID,
		FieldTitle:       t.Title,
		FieldDescription: nil,
		FieldCompleted:   t.Completed,
		FieldCompletedAt: nil,
		FieldListID:      t.ListID,
		FieldCreatedAt:   t.CreatedAt,
	}
	if t.Description != nil {
		f[FieldDescription] = *t.Description
	}
	if t.CompletedAt != nil {
		f[FieldCompletedAt] = *t.CompletedAt
	}
	return f
}

// Apply implements Entity.
func (t Task) Apply(p Patch) (Task, error) {
	out := t
	for field, value := range p {
		var err error
		switch field {
		case FieldID:
			out.ID, err = stringValue(KindTask, t.ID, field, value)
		case FieldTitle:
			out.Title, err = stringValue(KindTask, t.ID, field, value)
		case FieldDescription:
			out.Description, err = optionalStringValue(KindTask, t.ID, field, value)
		case FieldCompleted:
			out.Completed, err = boolValue(KindTask, t.ID, field, value)
		case FieldCompletedAt:
			out.CompletedAt, err = optionalTimeValue(KindTask, t.ID, field, value)
		case FieldListID:
			out.ListID, err = stringValue(KindTask, t.ID, field, value)
		case FieldCreatedAt:
			out.CreatedAt, err = timeValue(KindTask, t.ID, field, value)
		default:
			err = NewValidationError(KindTask, t.ID, "unknown field %q", field)
		}
		if err != nil {
			return t, err
		}
	}
	return out, nil
}

// Join attaches tasks to a list.
func (l List) Join(tasks []Task) ListWithTasks {
	return ListWithTasks{List: l, Tasks: tasks}
}

// Split breaks a denormalized server payload into normalized lists and tasks,
// preserving payload order.
func Split(payload []ListWithTasks) ([]List, []Task) {
	lists := make([]List, 0, len(payload))
	var tasks []Task
	for _, lw := range payload {
		lists = append(lists, lw.List)
		tasks = append(tasks, lw.Tasks...)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return lists, tasks
}
