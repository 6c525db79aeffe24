package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/tasksync/internal/diff"
	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/query"
	"github.com/roach88/tasksync/internal/transport"
)

type callResult struct {
	value record
	err   error
}

// dispatch moves a mutation from initiated to in_flight: checks provisional
// id references, applies the optimistic patch, marks affected queries
// pending and starts the server call. Called only from Run.
//
// INVARIANTS:
//   - m.base and m.optimistic are fixed here and never change afterwards;
//     settle and rollback diff against them
//   - the journal row is written before the call starts, so a crash during
//     the request leaves an unsettled row rather than no row
//   - a rejection here never touched the store, so there is nothing to undo
func (e *Engine) dispatch(ctx context.Context, m *Mutation) error {
	rec := m.Record()
	h := handlers[rec.Kind]

	if ref, ok := e.provisionalRef(rec); ok {
		err := errProvisional(rec.Kind, rec.Target, ref)
		slog.Warn("mutation rejected before dispatch",
			"mutation_id", rec.ID,
			"kind", rec.Kind,
			"op", rec.Op,
			"error", err,
		)
		e.complete(m, model.StatusRejected, err)
		return nil
	}

	s := e.state.Load()
	switch rec.Op {
	case model.OpCreate:
		tempID := e.ids.Generate()
		patch := optimisticPatch(rec.Kind, nil, rec.Patch, e.now())
		next, fields, err := h.insert(s, tempID, m.actor, e.now(), patch)
		if err != nil {
			e.complete(m, model.StatusRejected, err)
			return nil
		}
		m.base = fields
		m.optimistic = model.Patch(fields)
		m.applied = true
		m.update(func(r *model.MutationRecord) { r.TempID = tempID })
		e.pendingCreates[tempID] = m
		e.publish(next)
		m.setStatus(model.StatusOptimistic)

	case model.OpUpdate:
		// An absent target is not an error locally: the request still goes
		// out and the server answers NOT_FOUND.
		cur, ok := h.get(s, rec.Target)
		if ok {
			patch := optimisticPatch(rec.Kind, cur, rec.Patch, e.now())
			next, err := h.update(s, rec.Target, patch)
			if err != nil {
				e.complete(m, model.StatusRejected, err)
				return nil
			}
			m.base = cur
			m.optimistic = patch
			m.applied = true
			e.publish(next)
			m.setStatus(model.StatusOptimistic)
		}

	case model.OpDelete:
		// Pessimistic: the entity stays until the server confirms.
	}

	rec = m.Record()
	e.cache.MarkPending(rec.ID, pendingTags(rec)...)
	m.setStatus(model.StatusInFlight)
	e.journalMutation(ctx, m)

	slog.Debug("mutation in flight",
		"mutation_id", rec.ID,
		"seq", rec.Seq,
		"kind", rec.Kind,
		"op", rec.Op,
		"target", rec.Target,
		"temp_id", rec.TempID,
	)

	go e.call(ctx, h, m, rec)
	return nil
}

// call performs the server request on its own goroutine and hands the
// result back to the loop. The request is never cancelled.
func (e *Engine) call(ctx context.Context, h handler, m *Mutation, rec model.MutationRecord) {
	value, err := h.call(context.WithoutCancel(ctx), e.transport, rec.Op, rec.Target, rec.Patch)
	res := &callResult{value: value, err: err}
	if !e.queue.Enqueue(Event{Type: EventTypeSettle, Mutation: m, Result: res}) {
		e.complete(m, model.StatusRejected, ErrStopped)
	}
}

// settle reconciles a successful result or reverts a failed one. Called
// only from Run.
//
// Settlements arrive in server-response order, not dispatch order. The
// per-field rules in diff.Reconcile and diff.Revert keep whatever a later
// mutation or local edit wrote, so the order of arrival does not matter.
// Tags are invalidated only on success: a rejected mutation changed
// nothing on the server.
func (e *Engine) settle(ctx context.Context, m *Mutation, res *callResult) error {
	rec := m.Record()
	h := handlers[rec.Kind]
	e.cache.ClearPending(rec.ID)
	if rec.TempID != "" {
		delete(e.pendingCreates, rec.TempID)
	}

	if res.err != nil {
		e.rollback(m, h, rec)
		err := transport.Classify(rec.Kind, rec.Target, res.err)
		slog.Info("mutation rejected",
			"mutation_id", rec.ID,
			"kind", rec.Kind,
			"op", rec.Op,
			"target", rec.Target,
			"reason", transport.ReasonOf(res.err),
		)
		e.complete(m, model.StatusRejected, err)
		return nil
	}

	settledID := rec.Target
	s := e.state.Load()
	var err error
	switch rec.Op {
	case model.OpCreate:
		settledID = res.value.EntityID()
		s, err = e.reconcileCreate(h, m, rec.Kind, rec.TempID, res.value)
		m.update(func(r *model.MutationRecord) { r.ServerID = settledID })
	case model.OpUpdate:
		s, err = e.reconcileUpdate(h, m, rec.Target, res.value)
	case model.OpDelete:
		s = h.remove(s, rec.Target)
		if rec.Kind == model.KindList && e.cascadeListDelete {
			s = s.RemoveTasksOfList(rec.Target)
		}
	}
	if err != nil {
		// The server accepted the change; keep the optimistic state and
		// force a refetch of everything it touched.
		e.cache.Invalidate(invalidates(rec.Kind, rec.Op, settledID)...)
		e.complete(m, model.StatusFulfilled, nil)
		return err
	}
	e.publish(s)

	stale := e.cache.Invalidate(invalidates(rec.Kind, rec.Op, settledID)...)
	slog.Info("mutation fulfilled",
		"mutation_id", rec.ID,
		"kind", rec.Kind,
		"op", rec.Op,
		"id", settledID,
		"stale_queries", len(stale),
	)
	e.complete(m, model.StatusFulfilled, nil)
	return nil
}

// reconcileCreate resolves the provisional id to the server id, then merges
// the server entity three ways against the optimistic entity.
func (e *Engine) reconcileCreate(h handler, m *Mutation, kind model.Kind, tempID string, server record) (*entity.State, error) {
	s := e.state.Load()
	serverID := server.EntityID()
	if _, ok := h.get(s, tempID); !ok {
		// The provisional entity is gone, e.g. a full load replaced the
		// collection before the create settled.
		return h.add(s, server)
	}
	next, err := h.remap(s, tempID, serverID)
	if err != nil {
		return s, err
	}
	e.cache.RemapID(query.TypeOf(kind), tempID, serverID)

	cur, ok := h.get(next, serverID)
	if !ok {
		return next, nil
	}
	patch := diff.Reconcile(m.base, cur, m.optimistic, server.Fields())
	return h.update(next, serverID, patch.Without(model.FieldID))
}

// reconcileUpdate merges the server entity into the current local copy,
// applying only fields the server changed and the caller has not since
// edited. A locally deleted entity is left alone.
func (e *Engine) reconcileUpdate(h handler, m *Mutation, id string, server record) (*entity.State, error) {
	s := e.state.Load()
	cur, ok := h.get(s, id)
	if !ok {
		return s, nil
	}
	base := m.base
	if base == nil {
		base = cur
	}
	return h.update(s, id, diff.Reconcile(base, cur, m.optimistic, server.Fields()))
}

// rollback reverts the optimistic effect of a failed mutation. Fields a
// later mutation or local edit changed since are kept.
func (e *Engine) rollback(m *Mutation, h handler, rec model.MutationRecord) {
	if !m.applied {
		return
	}
	s := e.state.Load()
	switch rec.Op {
	case model.OpCreate:
		e.publish(h.remove(s, rec.TempID))
	case model.OpUpdate:
		cur, ok := h.get(s, rec.Target)
		if !ok {
			return
		}
		next, err := h.update(s, rec.Target, diff.Revert(m.base, cur, m.optimistic))
		if err != nil {
			slog.Error("rollback failed", "mutation_id", rec.ID, "error", err)
			return
		}
		e.publish(next)
	}
}

// complete records a terminal state and journals it before releasing
// waiters, so a caller returning from Wait sees the settlement persisted.
func (e *Engine) complete(m *Mutation, status model.MutationStatus, err error) {
	if !m.finish(status, err) {
		return
	}
	defer m.release()
	e.forget(m)
	e.journalSettlement(context.Background(), m)
	rec := m.Record()
	outcome := "fulfilled"
	if status == model.StatusRejected {
		outcome = "rejected"
	}
	mutationsTotal.WithLabelValues(string(rec.Kind), string(rec.Op), outcome).Inc()
	mutationDuration.Observe(time.Since(m.began).Seconds())
}

// provisionalRef reports a provisional id the mutation depends on whose
// create has not settled: the target of an update or delete, or the listId
// of a task.
func (e *Engine) provisionalRef(rec model.MutationRecord) (string, bool) {
	if rec.Op != model.OpCreate {
		if _, ok := e.pendingCreates[rec.Target]; ok {
			return rec.Target, true
		}
	}
	if rec.Kind == model.KindTask {
		if listID, ok := model.Normalize(rec.Patch[model.FieldListID]).(string); ok {
			if _, pending := e.pendingCreates[listID]; pending {
				return listID, true
			}
		}
	}
	return "", false
}

// optimisticPatch mirrors server-side derivations locally: completing a
// task stamps completedAt, un-completing it clears it.
func optimisticPatch(kind model.Kind, cur model.Fields, p model.Patch, now time.Time) model.Patch {
	if kind != model.KindTask {
		return p
	}
	v, ok := p[model.FieldCompleted]
	if !ok {
		return p
	}
	if _, explicit := p[model.FieldCompletedAt]; explicit {
		return p
	}
	out := p.Clone()
	done, _ := model.Normalize(v).(bool)
	switch {
	case done && (cur == nil || cur[model.FieldCompleted] != true):
		out[model.FieldCompletedAt] = now
	case !done:
		out[model.FieldCompletedAt] = nil
	}
	return out
}

// pendingTags are the tags a mutation may touch while in flight.
func pendingTags(rec model.MutationRecord) []query.Tag {
	id := rec.Target
	if rec.Op == model.OpCreate {
		id = rec.TempID
	}
	return append(invalidates(rec.Kind, rec.Op, id), query.EntityTag(rec.Kind, id))
}

func (e *Engine) journalMutation(ctx context.Context, m *Mutation) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordMutation(ctx, m.Record()); err != nil {
		slog.Warn("journal mutation failed", "mutation_id", m.ID(), "error", err)
	}
}

func (e *Engine) journalSettlement(ctx context.Context, m *Mutation) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordSettlement(ctx, m.Record()); err != nil {
		slog.Warn("journal settlement failed", "mutation_id", m.ID(), "error", err)
	}
}
