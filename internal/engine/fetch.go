package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/query"
	"github.com/roach88/tasksync/internal/transport"
)

// ListsWithTasksKey is the cache key of the full lists-with-tasks read.
const ListsWithTasksKey = "listsWithTasks"

// FetchLists reads every list with its tasks through the query cache. A
// fresh cached result is returned without touching the server. A fetch
// normalizes the payload into the store, replacing both collections.
//
// Requires Run to be active.
func (e *Engine) FetchLists(ctx context.Context) ([]model.ListWithTasks, query.Entry, error) {
	return query.Get(ctx, e.cache, ListsWithTasksKey, func(ctx context.Context) ([]model.ListWithTasks, []query.Tag, error) {
		lists, tasks, err := fetchAll(ctx, e.transport)
		if err != nil {
			return nil, nil, transport.Classify(model.KindList, "", err)
		}
		err = e.Apply(ctx, func(s *entity.State) (*entity.State, error) {
			return s.
				WithLists(s.Lists().SetAll(lists...)).
				WithTasks(s.Tasks().SetAll(tasks...)), nil
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Debug("lists fetched", "lists", len(lists), "tasks", len(tasks))
		return joinPayload(lists, tasks), query.ProvidesListsWithTasks(lists, tasks), nil
	})
}

// fetchAll uses the joined read when the server offers one, otherwise
// fetches both kinds concurrently.
func fetchAll(ctx context.Context, tr transport.Transport) ([]model.List, []model.Task, error) {
	if tr.Joined != nil {
		payload, err := tr.Joined.ListWithTasks(ctx)
		if err != nil {
			return nil, nil, err
		}
		lists, tasks := model.Split(payload)
		return lists, tasks, nil
	}

	var (
		lists []model.List
		tasks []model.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lists, err = tr.Lists.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		tasks, err = tr.Tasks.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return lists, tasks, nil
}

// joinPayload rebuilds the denormalized shape in list order. Tasks whose
// list is absent are dropped.
func joinPayload(lists []model.List, tasks []model.Task) []model.ListWithTasks {
	byList := make(map[string][]model.Task, len(lists))
	for _, t := range tasks {
		byList[t.ListID] = append(byList[t.ListID], t)
	}
	out := make([]model.ListWithTasks, 0, len(lists))
	for _, l := range lists {
		ts := byList[l.ID]
		if ts == nil {
			ts = []model.Task{}
		}
		out = append(out, l.Join(ts))
	}
	return out
}
