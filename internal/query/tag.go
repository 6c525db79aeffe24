// Package query implements the query cache and invalidation layer.
//
// Each cached read is stored with the set of tags it "provides": one tag per
// entity id in its result plus type-level tags. Mutations invalidate tags;
// any cached read whose provides set intersects the invalidated tags turns
// stale and is refetched on its next access. Invalidation is monotonic: a
// stale entry stays stale until a refetch replaces it.
//
// The cache never owns entities. Tags are (type, id) back-references only.
package query

import (
	"slices"

	"github.com/roach88/tasksync/internal/model"
)

// TagType names the entity family a tag refers to.
type TagType string

const (
	TagLists TagType = "Lists"
	TagTasks TagType = "Tasks"
)

// Type-level tag ids.
const (
	ListID = "LIST"
	TaskID = "TASK"
)

// Tag identifies an entity (or a whole collection) a cached read depends on.
// An empty ID is a wildcard matching every tag of the type.
type Tag struct {
	Type TagType `json:"type" yaml:"type"`
	ID   string  `json:"id,omitempty" yaml:"id,omitempty"`
}

var (
	// AllLists is provided by any read that returns lists.
	AllLists = Tag{Type: TagLists, ID: ListID}
	// AllTasks is provided by any read that returns tasks.
	AllTasks = Tag{Type: TagTasks, ID: TaskID}
)

// ListTag is the tag of one list.
func ListTag(id string) Tag { return Tag{Type: TagLists, ID: id} }

// TaskTag is the tag of one task.
func TaskTag(id string) Tag { return Tag{Type: TagTasks, ID: id} }

// TypeOf maps an entity kind to its tag type.
func TypeOf(kind model.Kind) TagType {
	if kind == model.KindTask {
		return TagTasks
	}
	return TagLists
}

// EntityTag is the tag of one entity of kind.
func EntityTag(kind model.Kind, id string) Tag {
	return Tag{Type: TypeOf(kind), ID: id}
}

// String renders "Type/ID", or "Type" for a wildcard.
func (t Tag) String() string {
	if t.ID == "" {
		return string(t.Type)
	}
	return string(t.Type) + "/" + t.ID
}

// Matches reports whether t and other refer to the same thing.
func (t Tag) Matches(other Tag) bool {
	if t.Type != other.Type {
		return false
	}
	return t.ID == "" || other.ID == "" || t.ID == other.ID
}

// Intersects reports whether any tag in a matches any tag in b.
func Intersects(a, b []Tag) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Matches(y) {
				return true
			}
		}
	}
	return false
}

// ProvidesListsWithTasks computes the provides set of a lists-with-tasks
// read: one tag per list, one per task, plus AllLists and AllTasks.
func ProvidesListsWithTasks(lists []model.List, tasks []model.Task) []Tag {
	tags := make([]Tag, 0, len(lists)+len(tasks)+2)
	for _, l := range lists {
		tags = append(tags, ListTag(l.ID))
	}
	for _, t := range tasks {
		tags = append(tags, TaskTag(t.ID))
	}
	return append(tags, AllLists, AllTasks)
}

// remapTags rewrites tags of type typ from oldID to newID, returning the
// input slice when nothing matched.
func remapTags(tags []Tag, typ TagType, oldID, newID string) []Tag {
	idx := slices.Index(tags, Tag{Type: typ, ID: oldID})
	if idx < 0 {
		return tags
	}
	out := make([]Tag, 0, len(tags))
	seen := make(map[Tag]struct{}, len(tags))
	for _, t := range tags {
		if t.Type == typ && t.ID == oldID {
			t.ID = newID
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
