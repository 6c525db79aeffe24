package view

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func str(s string) *string { return &s }

func stateOf(lists []model.List, tasks []model.Task) *entity.State {
	return entity.NewStateFrom(entity.New(lists...), entity.New(tasks...))
}

// dashboard is L1 Groceries (one open, one done), L2 Work (one done),
// L3 Empty, plus a task whose list is gone.
func dashboard() *entity.State {
	return stateOf(
		[]model.List{
			{ID: "L1", Title: "Groceries", CreatedAt: t0},
			{ID: "L2", Title: "Work", CreatedAt: t0.Add(time.Hour)},
			{ID: "L3", Title: "Empty", CreatedAt: t0.Add(2 * time.Hour)},
		},
		[]model.Task{
			{ID: "t1", Title: "Milk", ListID: "L1"},
			{ID: "t2", Title: "Eggs", ListID: "L1", Completed: true, Description: str("free range")},
			{ID: "t3", Title: "Report", ListID: "L2", Completed: true},
			{ID: "t9", Title: "Orphan", ListID: "gone"},
		},
	)
}

func titles(v *View) []string {
	out := make([]string, len(v.Lists))
	for i, lw := range v.Lists {
		out[i] = lw.Title
	}
	return out
}

func selectView(t *testing.T, p *Pipeline, s *entity.State, params Params) *View {
	t.Helper()
	v, err := p.Select(s, params)
	require.NoError(t, err)
	return v
}

func TestSelect_IncompleteByName(t *testing.T) {
	s := stateOf(
		[]model.List{{ID: "1", Title: "Groceries"}, {ID: "2", Title: "Work"}},
		[]model.Task{
			{ID: "a", Title: "Milk", ListID: "1"},
			{ID: "b", Title: "Report", ListID: "2", Completed: true},
		},
	)
	v := selectView(t, NewPipeline(), s, Params{Filter: FilterIncomplete, Sort: SortName})
	assert.Equal(t, []string{"Groceries"}, titles(v))
}

func TestSelect_JoinKeepsEmptyListsAndDropsOrphans(t *testing.T) {
	v := selectView(t, NewPipeline(), dashboard(), DefaultParams())

	assert.Equal(t, []string{"Empty", "Work", "Groceries"}, titles(v), "newest first by default")
	empty := v.Lists[0]
	require.NotNil(t, empty.Tasks)
	assert.Empty(t, empty.Tasks)

	total := 0
	for _, lw := range v.Lists {
		for _, task := range lw.Tasks {
			assert.Equal(t, lw.ID, task.ListID)
			total++
		}
	}
	assert.Equal(t, 3, total, "orphan task is not joined")
}

func TestSelect_Search(t *testing.T) {
	p := NewPipeline()
	s := dashboard()

	tests := []struct {
		term string
		want []string
	}{
		{"MILK", []string{"Groceries"}},
		{"free", []string{"Groceries"}},
		{"wOrK", []string{"Work"}},
		{"r", []string{"Work", "Groceries"}},
		{"nothing", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			v := selectView(t, p, s, Params{Search: tt.term})
			assert.Equal(t, tt.want, titles(v))
		})
	}
}

func TestSelect_SearchFoldsUnicodeCase(t *testing.T) {
	s := stateOf([]model.List{{ID: "L1", Title: "Straße"}, {ID: "L2", Title: "Road"}}, nil)
	v := selectView(t, NewPipeline(), s, Params{Search: "STRASSE"})
	assert.Equal(t, []string{"Straße"}, titles(v))
}

func TestSelect_CompletionFilter(t *testing.T) {
	p := NewPipeline()
	s := dashboard()

	assert.Equal(t, []string{"Empty", "Groceries", "Work"}, titles(selectView(t, p, s, Params{Filter: FilterAll, Sort: SortName})))
	assert.Equal(t, []string{"Groceries", "Work"}, titles(selectView(t, p, s, Params{Filter: FilterCompleted, Sort: SortName})))
	assert.Equal(t, []string{"Empty", "Groceries"}, titles(selectView(t, p, s, Params{Filter: FilterIncomplete, Sort: SortName})))
}

func TestSelect_SortByTaskCountIsStable(t *testing.T) {
	var tasks []model.Task
	add := func(listID string, n int) {
		for i := range n {
			tasks = append(tasks, model.Task{ID: fmt.Sprintf("%s-%d", listID, i), Title: "x", ListID: listID})
		}
	}
	add("A", 3)
	add("B", 1)
	add("C", 2)
	add("D", 2)
	s := stateOf([]model.List{{ID: "A", Title: "A"}, {ID: "B", Title: "B"}, {ID: "C", Title: "C"}, {ID: "D", Title: "D"}}, tasks)

	v := selectView(t, NewPipeline(), s, Params{Sort: SortTasks})
	assert.Equal(t, []string{"A", "C", "D", "B"}, titles(v))
}

func TestSelect_SortByNameIsLocaleAware(t *testing.T) {
	s := stateOf([]model.List{
		{ID: "1", Title: "banana"},
		{ID: "2", Title: "Cherry"},
		{ID: "3", Title: "apple"},
		{ID: "4", Title: "Äpfel"},
	}, nil)
	v := selectView(t, NewPipeline(), s, Params{Sort: SortName})
	assert.Equal(t, []string{"Äpfel", "apple", "banana", "Cherry"}, titles(v))
}

func TestSelect_RejectsUnknownParams(t *testing.T) {
	_, err := NewPipeline().Select(dashboard(), Params{Filter: "half"})
	require.Error(t, err)
	assert.True(t, model.IsValidationError(err))

	_, err = NewPipeline().Select(dashboard(), Params{Sort: "size"})
	assert.True(t, model.IsValidationError(err))
}

func TestSelect_MemoizesOnInputIdentity(t *testing.T) {
	p := NewPipeline()
	s := dashboard()
	params := Params{Search: "o", Filter: FilterIncomplete, Sort: SortName}

	first := selectView(t, p, s, params)
	counts := p.Recomputations()
	assert.Equal(t, map[Stage]int{StageJoin: 1, StageSearch: 1, StageFilter: 1, StageSort: 1}, counts)

	assert.Same(t, first, selectView(t, p, s, params))
	assert.Equal(t, counts, p.Recomputations(), "unchanged inputs recompute nothing")

	// A content-equal reload keeps the collection pointers.
	reloaded := s.WithLists(s.Lists().SetAll(s.Lists().All()...))
	assert.Same(t, first, selectView(t, p, reloaded, params))

	// Another tuple reuses the join.
	selectView(t, p, s, Params{Sort: SortTasks})
	assert.Equal(t, 1, p.Recomputations()[StageJoin])

	// The first tuple is still memoized.
	assert.Same(t, first, selectView(t, p, s, params))

	// A task edit invalidates from the join down.
	tasks, err := s.Tasks().UpdateOne("t1", model.Patch{model.FieldTitle: "Oat milk"})
	require.NoError(t, err)
	next := selectView(t, p, s.WithTasks(tasks), params)
	assert.NotSame(t, first, next)
	assert.Equal(t, 2, p.Recomputations()[StageJoin])
}

func TestSelect_TuplesOverDifferentStatesKeepTheirMemos(t *testing.T) {
	p := NewPipeline()
	s1 := dashboard()
	tasks, err := s1.Tasks().UpdateOne("t1", model.Patch{model.FieldCompleted: true})
	require.NoError(t, err)
	s2 := s1.WithTasks(tasks)
	p1 := Params{Filter: FilterIncomplete}
	p2 := Params{Sort: SortName}

	first := selectView(t, p, s1, p1)
	other := selectView(t, p, s2, p2)
	counts := p.Recomputations()
	assert.Equal(t, map[Stage]int{StageJoin: 2, StageSearch: 2, StageFilter: 2, StageSort: 2}, counts)

	for range 3 {
		assert.Same(t, first, selectView(t, p, s1, p1))
		assert.Same(t, other, selectView(t, p, s2, p2))
	}
	assert.Equal(t, counts, p.Recomputations(), "alternating states recompute nothing")
}

func TestSelect_EvictedTupleRecomputes(t *testing.T) {
	p := NewPipeline(WithCacheSize(1))
	s := dashboard()

	a := selectView(t, p, s, Params{Sort: SortName})
	selectView(t, p, s, Params{Sort: SortTasks})
	b := selectView(t, p, s, Params{Sort: SortName})

	assert.NotSame(t, a, b)
	assert.Equal(t, titles(a), titles(b))
	assert.Equal(t, 1, p.Recomputations()[StageJoin])
}

func TestWriteText_Golden(t *testing.T) {
	v := selectView(t, NewPipeline(), dashboard(), Params{Sort: SortName})
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, v))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "dashboard_by_name", buf.Bytes())
}

func TestWriteText_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, &View{}))
	assert.Equal(t, "(no lists)\n", buf.String())
}

func genState(t *rapid.T) *entity.State {
	nLists := rapid.IntRange(0, 6).Draw(t, "lists")
	lists := make([]model.List, nLists)
	for i := range lists {
		lists[i] = model.List{
			ID:        fmt.Sprintf("L%d", i),
			Title:     rapid.StringMatching(`[a-cA-C]{0,3}`).Draw(t, "title"),
			CreatedAt: t0.Add(time.Duration(rapid.IntRange(0, 5).Draw(t, "age")) * time.Minute),
		}
	}
	nTasks := rapid.IntRange(0, 15).Draw(t, "tasks")
	tasks := make([]model.Task, nTasks)
	for i := range tasks {
		tasks[i] = model.Task{
			ID:        fmt.Sprintf("t%d", i),
			Title:     rapid.StringMatching(`[a-c]{0,3}`).Draw(t, "taskTitle"),
			Completed: rapid.Bool().Draw(t, "completed"),
			ListID:    fmt.Sprintf("L%d", rapid.IntRange(0, nLists).Draw(t, "listIndex")),
		}
	}
	return stateOf(lists, tasks)
}

func testSelect_Properties(t *rapid.T) {
	s := genState(t)
	params := Params{
		Search: rapid.StringMatching(`[a-c]{0,2}`).Draw(t, "search"),
		Filter: rapid.SampledFrom([]Filter{FilterAll, FilterCompleted, FilterIncomplete}).Draw(t, "filter"),
		Sort:   rapid.SampledFrom([]SortKey{SortCreated, SortName, SortTasks}).Draw(t, "sort"),
	}
	p := NewPipeline()
	v, err := p.Select(s, params)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	seen := map[string]bool{}
	for i, lw := range v.Lists {
		if seen[lw.ID] {
			t.Fatalf("list %s appears twice", lw.ID)
		}
		seen[lw.ID] = true
		if !s.Lists().Has(lw.ID) {
			t.Fatalf("list %s not in state", lw.ID)
		}
		if i == 0 {
			continue
		}
		prev := v.Lists[i-1]
		switch params.Sort {
		case SortTasks:
			if len(prev.Tasks) < len(lw.Tasks) {
				t.Fatalf("task counts not descending at %d", i)
			}
		case SortCreated:
			if prev.CreatedAt.Before(lw.CreatedAt) {
				t.Fatalf("creation times not descending at %d", i)
			}
		}
	}

	again, _ := p.Select(s, params)
	if again != v {
		t.Fatalf("second select with identical inputs returned a new view")
	}
}

func TestSelect_Properties(t *testing.T) {
	rapid.Check(t, testSelect_Properties)
}

func FuzzSelect(f *testing.F) {
	f.Fuzz(rapid.MakeFuzz(testSelect_Properties))
}
