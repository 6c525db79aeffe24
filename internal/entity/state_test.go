package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tasksync/internal/model"
)

func TestStateWithSamePointerIsNoop(t *testing.T) {
	s := NewState()
	assert.Same(t, s, s.WithLists(s.Lists()))
	assert.Same(t, s, s.WithTasks(s.Tasks().RemoveOne("x")))
}

func TestStateSharesUntouchedCollections(t *testing.T) {
	s := NewStateFrom(New(list("l1", "A")), New(task("t1", "l1", "x")))
	next := s.WithLists(s.Lists().AddOne(list("l2", "B")))
	assert.Same(t, s.Tasks(), next.Tasks())
	assert.NotSame(t, s.Lists(), next.Lists())
}

func TestRemapListIDRewritesTaskReferences(t *testing.T) {
	s := NewStateFrom(
		New(list("tmp-l", "New")),
		New(task("t1", "tmp-l", "a"), task("t2", "other", "b")),
	)

	next, err := s.RemapListID("tmp-l", "l9")
	require.NoError(t, err)

	assert.True(t, next.Lists().Has("l9"))
	t1, _ := next.Tasks().Get("t1")
	t2, _ := next.Tasks().Get("t2")
	assert.Equal(t, "l9", t1.ListID)
	assert.Equal(t, "other", t2.ListID)
}

func TestRemoveTasksOfListIsExplicit(t *testing.T) {
	s := NewStateFrom(
		New(list("l1", "A"), list("l2", "B")),
		New(task("t1", "l1", "a"), task("t2", "l2", "b"), task("t3", "l1", "c")),
	)

	removedList := s.WithLists(s.Lists().RemoveOne("l1"))
	assert.Equal(t, 3, removedList.Tasks().Len(), "removing a list leaves its tasks")
	assert.Equal(t, []string{"t1", "t3"}, removedList.Orphans())

	cascaded := removedList.RemoveTasksOfList("l1")
	assert.Equal(t, []string{"t2"}, cascaded.Tasks().IDs())
	assert.Empty(t, cascaded.Orphans())
}

func TestSlotsAddressCollections(t *testing.T) {
	s := NewState()
	s = ListSlot.Set(s, ListSlot.Get(s).AddOne(list("l1", "A")))
	s = TaskSlot.Set(s, TaskSlot.Get(s).AddOne(task("t1", "l1", "a")))

	assert.Equal(t, model.KindList, ListSlot.Kind)
	assert.Equal(t, 1, s.Lists().Len())
	assert.Equal(t, 1, s.Tasks().Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	desc := "2%"
	s := NewStateFrom(
		New(list("l2", "B"), list("l1", "A")),
		New(model.Task{ID: "t1", Title: "Milk", Description: &desc, ListID: "l1", CreatedAt: t0}),
	)

	data, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"l2", "l1"}, back.Lists().IDs())

	d1, err := s.Digest()
	require.NoError(t, err)
	d2, err := back.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestCanonicalJSONDecodes(t *testing.T) {
	s := NewStateFrom(New(list("l1", "A")), New(task("t1", "l1", "x")))

	data, err := s.CanonicalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order":["l1"]`)

	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	got, ok := back.Tasks().Get("t1")
	require.True(t, ok)
	assert.Nil(t, got.Description)
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestDecodeSnapshotShape(t *testing.T) {
	raw := `{
	  "lists": {"byId": {"l1": {"id":"l1","title":"Groceries","createdAt":"2024-03-01T12:00:00Z","ownerId":"u1"}}, "order": ["l1"]},
	  "tasks": {"byId": {}, "order": []}
	}`
	s, err := DecodeSnapshot([]byte(raw))
	require.NoError(t, err)
	l, _ := s.Lists().Get("l1")
	assert.Equal(t, "Groceries", l.Title)
}

func TestFromSnapshotRejectsInconsistency(t *testing.T) {
	tests := []struct {
		name string
		snap CollectionSnapshot[model.List]
	}{
		{"missing entity", CollectionSnapshot[model.List]{ByID: map[string]model.List{}, Order: []string{"l1"}}},
		{"unlisted entity", CollectionSnapshot[model.List]{ByID: map[string]model.List{"l1": list("l1", "A")}, Order: []string{}}},
		{"duplicate order", CollectionSnapshot[model.List]{ByID: map[string]model.List{"l1": list("l1", "A")}, Order: []string{"l1", "l1"}}},
		{"key mismatch", CollectionSnapshot[model.List]{ByID: map[string]model.List{"l1": list("l2", "A")}, Order: []string{"l1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSnapshot(Snapshot{Lists: tt.snap})
			assert.True(t, model.IsValidationError(err), "got %v", err)
		})
	}
}
