package engine

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/tasksync/internal/model"
)

// Mutation is the handle for one submitted intent. Its lifecycle state is
// carried as data in a model.MutationRecord; rollback and reconciliation are
// computed from the record, never from control flow.
//
// Thread-safety: accessors are safe for concurrent use. The unexported
// reconciliation fields are owned by the Run loop.
type Mutation struct {
	mu   sync.Mutex
	rec  model.MutationRecord
	err  error
	done chan struct{}

	actor string
	began time.Time

	// Owned by the Run loop.
	base       model.Fields // local copy before the optimistic patch
	optimistic model.Patch  // what this mutation applied locally
	applied    bool
}

func newMutation(id string, seq int64, in Intent, actor string, now time.Time) *Mutation {
	return &Mutation{
		rec: model.MutationRecord{
			ID:     id,
			Seq:    seq,
			Kind:   in.Kind,
			Op:     in.Op,
			Target: in.ID,
			Patch:  in.Patch,
			Status: model.StatusInitiated,
		},
		done:  make(chan struct{}),
		actor: actor,
		began: now,
	}
}

// ID returns the mutation id.
func (m *Mutation) ID() string { return m.rec.ID }

// Record returns a copy of the mutation's current record.
func (m *Mutation) Record() model.MutationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.rec
	rec.Patch = m.rec.Patch.Clone()
	return rec
}

// Status returns the current lifecycle state.
func (m *Mutation) Status() model.MutationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Status
}

// InFlight reports whether the server call is outstanding.
func (m *Mutation) InFlight() bool {
	return m.Status() == model.StatusInFlight
}

// Done is closed once the mutation settles.
func (m *Mutation) Done() <-chan struct{} { return m.done }

// Err returns the rejection error, or nil.
func (m *Mutation) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the mutation settles or ctx ends. Cancelling ctx stops
// waiting only; the request itself runs to settlement.
func (m *Mutation) Wait(ctx context.Context) (model.MutationRecord, error) {
	select {
	case <-m.done:
		return m.Record(), m.Err()
	case <-ctx.Done():
		return m.Record(), ctx.Err()
	}
}

func (m *Mutation) setStatus(s model.MutationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Status = s
}

func (m *Mutation) update(fn func(rec *model.MutationRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.rec)
}

// finish records the terminal state. A mutation settles once; later calls
// report false. Waiters are released separately by release.
func (m *Mutation) finish(status model.MutationStatus, err error) bool {
	m.mu.Lock()
	if m.rec.Status.Settled() {
		m.mu.Unlock()
		return false
	}
	m.rec.Status = status
	m.err = err
	if err != nil {
		m.rec.ErrorCode = model.CodeOf(err)
		m.rec.Error = err.Error()
	}
	m.mu.Unlock()
	return true
}

func (m *Mutation) release() {
	close(m.done)
}
