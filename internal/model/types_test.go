package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func TestTaskFieldsIncludeNilOptionals(t *testing.T) {
	task := Task{ID: "t1", Title: "Milk", ListID: "l1", CreatedAt: t0}

	f := task.Fields()
	assert.Nil(t, f[FieldDescription])
	assert.Nil(t, f[FieldCompletedAt])
	assert.Equal(t, false, f[FieldCompleted])
	assert.Len(t, f, 7)
}

func TestTaskApplyTouchesOnlyListedFields(t *testing.T) {
	task := Task{ID: "t1", Title: "A", Description: strPtr("d"), ListID: "l1", CreatedAt: t0}

	got, err := task.Apply(Patch{FieldCompleted: true, FieldCompletedAt: t0})
	require.NoError(t, err)

	assert.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(t0))
	assert.Equal(t, "A", got.Title)
	assert.Equal(t, "d", *got.Description)
	assert.False(t, task.Completed, "receiver must not change")
}

func TestTaskApplyClearsOptional(t *testing.T) {
	task := Task{ID: "t1", Description: strPtr("d"), CompletedAt: &t0}

	got, err := task.Apply(Patch{FieldDescription: nil, FieldCompletedAt: nil})
	require.NoError(t, err)
	assert.Nil(t, got.Description)
	assert.Nil(t, got.CompletedAt)
}

func TestApplyAcceptsPointerAndStringForms(t *testing.T) {
	task := Task{ID: "t1"}

	got, err := task.Apply(Patch{
		FieldDescription: strPtr("x"),
		FieldCreatedAt:   "2024-03-01T12:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "x", *got.Description)
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestApplyRejectsUnknownAndMistyped(t *testing.T) {
	list := List{ID: "l1", Title: "A"}

	_, err := list.Apply(Patch{"color": "red"})
	assert.True(t, IsValidationError(err))

	got, err := list.Apply(Patch{FieldTitle: 42})
	assert.True(t, IsValidationError(err))
	assert.Equal(t, list, got, "failed apply returns the original")
}

func TestSplitPreservesOrder(t *testing.T) {
	payload := []ListWithTasks{
		{List: List{ID: "l1"}, Tasks: []Task{{ID: "t1", ListID: "l1"}, {ID: "t2", ListID: "l1"}}},
		{List: List{ID: "l2"}, Tasks: nil},
		{List: List{ID: "l3"}, Tasks: []Task{{ID: "t3", ListID: "l3"}}},
	}

	lists, tasks := Split(payload)
	require.Len(t, lists, 3)
	require.Len(t, tasks, 3)
	assert.Equal(t, "l2", lists[1].ID)
	assert.Equal(t, []string{"t1", "t2", "t3"}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
}

func TestSplitEmptyPayload(t *testing.T) {
	lists, tasks := Split(nil)
	assert.NotNil(t, lists)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestValueEqual(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"nil nil", nil, nil, true},
		{"nil string", nil, "", false},
		{"strings", "a", "a", true},
		{"bools", true, false, false},
		{"same instant different zone", t0, t0.In(est), true},
		{"time vs string", t0, "2024-03-01T12:00:00Z", false},
		{"string vs bool", "true", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValueEqual(tt.a, tt.b))
		})
	}
}

func TestFieldsEqual(t *testing.T) {
	a := Fields{"title": "A", "completedAt": nil}
	assert.True(t, a.Equal(Fields{"title": "A", "completedAt": nil}))
	assert.False(t, a.Equal(Fields{"title": "A"}))
	assert.False(t, a.Equal(Fields{"title": "B", "completedAt": nil}))
}

func TestPatchCloneNormalizesPointers(t *testing.T) {
	var nilStr *string
	p := Patch{FieldTitle: strPtr("A"), FieldDescription: nilStr}

	c := p.Clone()
	assert.Equal(t, "A", c[FieldTitle])
	assert.Nil(t, c[FieldDescription])
	assert.Equal(t, []string{FieldDescription, FieldTitle}, c.Keys())
}

func TestPatchWithout(t *testing.T) {
	p := Patch{FieldTitle: "A", FieldID: "x"}
	assert.Equal(t, Patch{FieldTitle: "A"}, p.Without(FieldID))
	assert.Len(t, p, 2)
}
