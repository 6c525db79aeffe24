package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher returns data with fixed provides and counts calls.
func countingFetcher(data any, provides []Tag, calls *atomic.Int32) Fetcher {
	return func(ctx context.Context) (any, []Tag, error) {
		calls.Add(1)
		return data, provides, nil
	}
}

func TestTagMatching(t *testing.T) {
	assert.True(t, ListTag("l1").Matches(ListTag("l1")))
	assert.False(t, ListTag("l1").Matches(ListTag("l2")))
	assert.False(t, ListTag("x").Matches(TaskTag("x")))
	assert.True(t, Tag{Type: TagLists}.Matches(ListTag("l9")), "empty id is a wildcard")
	assert.False(t, AllLists.Matches(ListTag("l1")), "LIST is a concrete type tag")
	assert.Equal(t, "Tasks/TASK", AllTasks.String())
}

func TestProvidesListsWithTasks(t *testing.T) {
	tags := ProvidesListsWithTasks(nil, nil)
	assert.Equal(t, []Tag{AllLists, AllTasks}, tags)
}

func TestFreshQueryIsNotRefetched(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	fetch := countingFetcher("v", []Tag{AllLists}, &calls)
	ctx := context.Background()

	e, err := c.Query(ctx, "lists", fetch)
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, e.Status)

	e, err = c.Query(ctx, "lists", fetch)
	require.NoError(t, err)
	assert.Equal(t, "v", e.Data)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), c.Stats().Hits)
}

func TestInvalidationMarksIntersectingQueriesStale(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	ctx := context.Background()
	_, err := c.Query(ctx, "lists", countingFetcher("a", []Tag{ListTag("L1"), AllLists}, &calls))
	require.NoError(t, err)
	_, err = c.Query(ctx, "other", countingFetcher("b", []Tag{ListTag("L2")}, &calls))
	require.NoError(t, err)

	keys := c.Invalidate(ListTag("L1"))
	assert.Equal(t, []string{"lists"}, keys)

	e, _ := c.Entry("lists")
	assert.Equal(t, StatusStale, e.Status)
	other, _ := c.Entry("other")
	assert.Equal(t, StatusFresh, other.Status)

	// Monotonic: a second invalidation leaves it stale.
	assert.Empty(t, c.Invalidate(ListTag("L1")))
	e, _ = c.Entry("lists")
	assert.Equal(t, StatusStale, e.Status)
}

func TestStaleQueryIsRefetchedOnAccess(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	ctx := context.Background()
	fetch := countingFetcher("a", []Tag{AllLists}, &calls)

	_, err := c.Query(ctx, "lists", fetch)
	require.NoError(t, err)
	c.Invalidate(AllLists)

	e, err := c.Query(ctx, "lists", fetch)
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, e.Status)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), c.Stats().StaleReads)
}

func TestUntouchedTagStaysValid(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	_, err := c.Query(context.Background(), "lists", countingFetcher("a", []Tag{ListTag("L1")}, &calls))
	require.NoError(t, err)

	// A failed delete invalidates nothing.
	e, ok := c.Entry("lists")
	require.True(t, ok)
	assert.Equal(t, StatusFresh, e.Status)
	assert.Contains(t, e.Provides, ListTag("L1"))
}

func TestInvalidationDuringFetchLandsStale(t *testing.T) {
	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, []Tag, error) {
		close(started)
		<-release
		return "a", []Tag{AllTasks, TaskTag("t1")}, nil
	}

	done := make(chan Entry)
	go func() {
		e, _ := c.Query(context.Background(), "tasks", fetch)
		done <- e
	}()
	<-started
	c.Invalidate(TaskTag("t1"))
	close(release)

	e := <-done
	assert.Equal(t, StatusStale, e.Status)
	assert.Equal(t, "a", e.Data)
}

func TestInvalidationDuringFetchOfUnrelatedTag(t *testing.T) {
	c := NewCache()
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, []Tag, error) {
		close(started)
		<-release
		return "a", []Tag{AllTasks}, nil
	}

	done := make(chan Entry)
	go func() {
		e, _ := c.Query(context.Background(), "tasks", fetch)
		done <- e
	}()
	<-started
	c.Invalidate(ListTag("L1"))
	close(release)
	assert.Equal(t, StatusFresh, (<-done).Status)
}

func TestConcurrentQueriesShareOneFetch(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, []Tag, error) {
		calls.Add(1)
		<-release
		return "a", nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Query(context.Background(), "k", fetch)
		}()
	}
	// Let the goroutines pile onto the in-flight fetch.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, testTimeout, testTick)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchErrorKeepsPreviousData(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	ctx := context.Background()
	_, err := c.Query(ctx, "k", countingFetcher("old", []Tag{AllLists}, &calls))
	require.NoError(t, err)
	c.Invalidate(AllLists)

	boom := errors.New("boom")
	e, err := c.Query(ctx, "k", func(ctx context.Context) (any, []Tag, error) { return nil, nil, boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StatusError, e.Status)
	assert.Equal(t, "old", e.Data)

	e, err = c.Query(ctx, "k", countingFetcher("new", []Tag{AllLists}, &calls))
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, e.Status)
	assert.Nil(t, e.Err)
}

func TestPendingCounts(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	_, err := c.Query(context.Background(), "k", countingFetcher("a", []Tag{ListTag("L1"), AllLists}, &calls))
	require.NoError(t, err)

	c.MarkPending("m1", ListTag("L1"))
	c.MarkPending("m2", ListTag("L2"))
	e, _ := c.Entry("k")
	assert.Equal(t, 1, e.Pending)

	c.ClearPending("m1")
	e, _ = c.Entry("k")
	assert.Equal(t, 0, e.Pending)
}

func TestRemapIDRewritesProvides(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32
	_, err := c.Query(context.Background(), "k", countingFetcher("a", []Tag{ListTag("tmp"), AllLists}, &calls))
	require.NoError(t, err)
	c.MarkPending("m1", ListTag("tmp"))

	c.RemapID(TagLists, "tmp", "L9")

	e, _ := c.Entry("k")
	assert.Equal(t, []Tag{ListTag("L9"), AllLists}, e.Provides)
	assert.Equal(t, 1, e.Pending)
	assert.Equal(t, []string{"k"}, c.Invalidate(ListTag("L9")))
}

func TestEntryAndEvict(t *testing.T) {
	c := NewCache()
	e, ok := c.Entry("missing")
	assert.False(t, ok)
	assert.Equal(t, StatusUninitialized, e.Status)

	var calls atomic.Int32
	_, err := c.Query(context.Background(), "k", countingFetcher("a", nil, &calls))
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, c.Keys())

	c.Evict("k")
	assert.Empty(t, c.Keys())
}

func TestTypedGet(t *testing.T) {
	c := NewCache()
	got, e, err := Get(context.Background(), c, "n", func(ctx context.Context) ([]string, []Tag, error) {
		return []string{"a"}, []Tag{AllLists}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, StatusFresh, e.Status)

	_, _, err = Get(context.Background(), c, "n", func(ctx context.Context) (int, []Tag, error) {
		return 1, nil, nil
	})
	assert.Error(t, err, "fresh entry holds a different type")
}
