package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/tasksync/internal/model"
)

// Gate is an Interceptor that records every call and can hold or fail the
// next call matching a (kind, op) pair. Tests and the scenario harness use
// it to control when and how server requests settle.
type Gate struct {
	mu    sync.Mutex
	rules []*gateRule
	calls []Call
}

type gateRule struct {
	kind model.Kind
	op   model.Op
	hold *Hold
	err  error
}

// Hold is a call parked by a Gate until Release.
type Hold struct {
	arrived chan Call
	release chan error
	once    sync.Once
}

// NewGate creates an empty gate.
func NewGate() *Gate {
	return &Gate{}
}

// Hold parks the next call matching kind and op.
func (g *Gate) Hold(kind model.Kind, op model.Op) *Hold {
	h := &Hold{arrived: make(chan Call, 1), release: make(chan error, 1)}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, &gateRule{kind: kind, op: op, hold: h})
	return h
}

// FailNext makes the next call matching kind and op return err.
func (g *Gate) FailNext(kind model.Kind, op model.Op, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = append(g.rules, &gateRule{kind: kind, op: op, err: err})
}

// Calls returns every call seen so far, in arrival order.
func (g *Gate) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.calls)
}

// Intercept implements Interceptor.
func (g *Gate) Intercept(ctx context.Context, call Call) error {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	var matched *gateRule
	for i, r := range g.rules {
		if r.kind == call.Kind && r.op == call.Op {
			matched = r
			g.rules = slices.Delete(g.rules, i, i+1)
			break
		}
	}
	g.mu.Unlock()

	if matched == nil {
		return nil
	}
	if matched.hold == nil {
		return matched.err
	}
	matched.hold.arrived <- call
	select {
	case err := <-matched.hold.release:
		return err
	case <-ctx.Done():
		return Fail(ReasonNetworkError, "%v", ctx.Err())
	}
}

// Arrived delivers the held call once it reaches the server.
func (h *Hold) Arrived() <-chan Call {
	return h.arrived
}

// Release lets the held call proceed. A non-nil err fails it instead.
// Only the first Release has an effect.
func (h *Hold) Release(err error) {
	h.once.Do(func() { h.release <- err })
}
