package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
	"github.com/roach88/tasksync/internal/query"
	"github.com/roach88/tasksync/internal/view"
)

// AssertionError is returned when an expectation fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // expectation that failed, e.g. "view" or "tasks/t1"
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Step)
		for _, part := range []string{event.Name, event.Kind, event.Op, event.ID, event.Status, event.Code} {
			if part != "" {
				fmt.Fprintf(&buf, " %s", part)
			}
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// evaluate checks the scenario's expectations against the final engine
// state. Every failed expectation is reported, in a stable order.
func (h *Harness) evaluate() []error {
	exp := h.scenario.Expect
	s := h.engine.State()

	var errs []error
	fail := func(typ, expected, actual string) {
		errs = append(errs, &AssertionError{Type: typ, Expected: expected, Actual: actual, Trace: h.result.Trace})
	}

	if exp.View != nil {
		h.checkView(s, *exp.View, fail)
	}
	for _, ref := range slices.Sorted(maps.Keys(exp.Lists)) {
		h.checkEntity(model.KindList, ref, exp.Lists[ref], fail, func(id string) (model.Fields, bool) {
			l, ok := s.Lists().Get(id)
			return l.Fields(), ok
		})
	}
	for _, ref := range slices.Sorted(maps.Keys(exp.Tasks)) {
		h.checkEntity(model.KindTask, ref, exp.Tasks[ref], fail, func(id string) (model.Fields, bool) {
			t, ok := s.Tasks().Get(id)
			return t.Fields(), ok
		})
	}
	for _, ref := range exp.Absent {
		id, err := h.resolve(ref)
		if err != nil {
			fail("absent", ref, err.Error())
			continue
		}
		if s.Lists().Has(id) || s.Tasks().Has(id) {
			fail("absent", fmt.Sprintf("%s not in the store", id), "present")
		}
	}
	for _, key := range exp.Stale {
		h.checkCache(key, query.StatusStale, fail)
	}
	for _, key := range exp.Fresh {
		h.checkCache(key, query.StatusFresh, fail)
	}
	if len(exp.Calls) > 0 {
		counts := make(map[string]int)
		for _, c := range h.gate.Calls() {
			counts[string(c.Kind)+"."+string(c.Op)]++
		}
		for _, key := range slices.Sorted(maps.Keys(exp.Calls)) {
			if got, want := counts[key], exp.Calls[key]; got != want {
				fail("calls/"+key, fmt.Sprintf("%d calls", want), fmt.Sprintf("%d calls", got))
			}
		}
	}
	return errs
}

func (h *Harness) checkView(s *entity.State, want ViewExpect, fail func(typ, expected, actual string)) {
	v, err := view.NewPipeline().Select(s, want.Params.Normalize())
	if err != nil {
		fail("view", "a derived view", err.Error())
		return
	}
	titles := make([]string, 0, len(v.Lists))
	for _, l := range v.Lists {
		titles = append(titles, l.Title)
	}
	if !slices.Equal(titles, want.Titles) {
		fail("view", fmt.Sprintf("%q", want.Titles), fmt.Sprintf("%q", titles))
	}
}

func (h *Harness) checkEntity(kind model.Kind, ref string, want map[string]any, fail func(typ, expected, actual string), get func(id string) (model.Fields, bool)) {
	typ := string(kind) + "/" + ref
	id, err := h.resolve(ref)
	if err != nil {
		fail(typ, "a resolvable id", err.Error())
		return
	}
	got, ok := get(id)
	if !ok {
		fail(typ, fmt.Sprintf("%s %s in the store", kind, id), "absent")
		return
	}
	for _, field := range slices.Sorted(maps.Keys(want)) {
		w := want[field]
		if s, ok := w.(string); ok {
			if name, isRef := strings.CutPrefix(s, "$"); isRef && h.mutations[name] != nil {
				w, _ = h.resolve(s)
			}
		}
		g, present := got[field]
		if !present {
			fail(typ, fmt.Sprintf("field %s", field), "unknown field")
			continue
		}
		if !model.ValueEqual(w, g) {
			fail(typ+"."+field, fmt.Sprintf("%v", w), fmt.Sprintf("%v", g))
		}
	}
}

func (h *Harness) checkCache(key string, want query.Status, fail func(typ, expected, actual string)) {
	e, ok := h.engine.Cache().Entry(key)
	if !ok {
		fail("cache/"+key, string(want), "no entry")
		return
	}
	if e.Status != want {
		fail("cache/"+key, string(want), string(e.Status))
	}
}
