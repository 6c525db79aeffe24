package view

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/tasksync/internal/entity"
	"github.com/roach88/tasksync/internal/model"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageJoin   Stage = "join"
	StageSearch Stage = "search"
	StageFilter Stage = "filter"
	StageSort   Stage = "sort"
)

// DefaultCacheSize is the number of parameter tuples memoized by default.
const DefaultCacheSize = 64

// View is one derived result. It is shared between callers and must not be
// modified.
type View struct {
	Params Params
	Lists  []model.ListWithTasks
}

// rows is a stage output. Its pointer identity is what downstream stages
// memoize on.
type rows struct {
	lists []model.ListWithTasks
}

// memo is the last (input, output) pair of one stage.
type memo struct {
	in  *rows
	out *rows
}

// joinMemo is the last join input and output.
type joinMemo struct {
	lists *entity.Collection[model.List]
	tasks *entity.Collection[model.Task]
	out   *rows
}

func (m joinMemo) hit(lists *entity.Collection[model.List], tasks *entity.Collection[model.Task]) bool {
	return m.out != nil && m.lists == lists && m.tasks == tasks
}

// chain holds the per-stage memos of one parameter tuple. The chain keeps
// its own join memo so that selecting another tuple over a different State
// does not disturb this one.
type chain struct {
	join   joinMemo
	search memo
	filter memo
	sort   memo
	viewOf *rows
	view   *View
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLocale sets the collation language for name sorting.
func WithLocale(tag language.Tag) Option {
	return func(p *Pipeline) { p.locale = tag }
}

// WithCacheSize sets how many parameter tuples keep their memos.
func WithCacheSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.size = n
		}
	}
}

// Pipeline computes Views. It is safe for concurrent use; stages run under
// one lock.
type Pipeline struct {
	mu       sync.Mutex
	locale   language.Tag
	size     int
	collator *collate.Collator
	fold     cases.Caser
	chains   *lru.Cache[Params, *chain]

	// The most recent join, reused by tuples selecting over the same State.
	joined joinMemo

	counts map[Stage]int
}

// NewPipeline creates a pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		locale: language.English,
		size:   DefaultCacheSize,
		counts: make(map[Stage]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.collator = collate.New(p.locale)
	p.fold = cases.Fold()
	// lru.New fails only for a non-positive size, which the option rules out.
	p.chains, _ = lru.New[Params, *chain](p.size)
	return p
}

// Select returns the view of s under params. If neither s's collections nor
// params changed since the last call with the same params, the previous
// *View is returned.
func (p *Pipeline) Select(s *entity.State, params Params) (*View, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.Normalize()

	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.chains.Get(params)
	if !ok {
		c = &chain{}
		p.chains.Add(params, c)
	}
	joined := p.join(&c.join, s.Lists(), s.Tasks())

	searched := p.run(&c.search, joined, StageSearch, func(in *rows) *rows {
		return p.search(in, params.Search)
	})
	filtered := p.run(&c.filter, searched, StageFilter, func(in *rows) *rows {
		return filterCompletion(in, params.Filter)
	})
	sorted := p.run(&c.sort, filtered, StageSort, func(in *rows) *rows {
		return p.sort(in, params.Sort)
	})

	if c.viewOf != sorted {
		c.viewOf, c.view = sorted, &View{Params: params, Lists: sorted.lists}
	}
	return c.view, nil
}

// Recomputations returns how many times each stage has executed.
func (p *Pipeline) Recomputations() map[Stage]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[Stage]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// run executes fn unless in is the input it last ran on.
func (p *Pipeline) run(m *memo, in *rows, stage Stage, fn func(*rows) *rows) *rows {
	if m.out != nil && m.in == in {
		return m.out
	}
	p.count(stage)
	m.in, m.out = in, fn(in)
	return m.out
}

func (p *Pipeline) count(stage Stage) {
	p.counts[stage]++
	recomputations.WithLabelValues(string(stage)).Inc()
}

// join attaches tasks to their list in list order. Tasks without a list are
// dropped; lists without tasks get an empty slice. The tuple's own memo is
// checked first, then the pipeline's most recent join.
func (p *Pipeline) join(m *joinMemo, lists *entity.Collection[model.List], tasks *entity.Collection[model.Task]) *rows {
	if m.hit(lists, tasks) {
		return m.out
	}
	if p.joined.hit(lists, tasks) {
		*m = p.joined
		return m.out
	}
	p.count(StageJoin)

	byList := make(map[string][]model.Task, lists.Len())
	for _, t := range tasks.All() {
		if lists.Has(t.ListID) {
			byList[t.ListID] = append(byList[t.ListID], t)
		}
	}
	out := make([]model.ListWithTasks, 0, lists.Len())
	for _, l := range lists.All() {
		ts := byList[l.ID]
		if ts == nil {
			ts = []model.Task{}
		}
		out = append(out, l.Join(ts))
	}
	p.joined = joinMemo{lists: lists, tasks: tasks, out: &rows{lists: out}}
	*m = p.joined
	return m.out
}

// search keeps lists whose title, or any task's title or description,
// contains term under Unicode case folding. An empty term passes the input
// through.
func (p *Pipeline) search(in *rows, term string) *rows {
	if term == "" {
		return in
	}
	needle := p.fold.String(term)
	contains := func(s string) bool {
		return strings.Contains(p.fold.String(s), needle)
	}
	out := make([]model.ListWithTasks, 0, len(in.lists))
	for _, lw := range in.lists {
		if contains(lw.Title) || slices.ContainsFunc(lw.Tasks, func(t model.Task) bool {
			return contains(t.Title) || (t.Description != nil && contains(*t.Description))
		}) {
			out = append(out, lw)
		}
	}
	return &rows{lists: out}
}

// filterCompletion applies the completion mode. FilterAll passes the input
// through.
func filterCompletion(in *rows, f Filter) *rows {
	var keep func(model.ListWithTasks) bool
	switch f {
	case FilterCompleted:
		keep = func(lw model.ListWithTasks) bool {
			return slices.ContainsFunc(lw.Tasks, func(t model.Task) bool { return t.Completed })
		}
	case FilterIncomplete:
		keep = func(lw model.ListWithTasks) bool {
			return len(lw.Tasks) == 0 || slices.ContainsFunc(lw.Tasks, func(t model.Task) bool { return !t.Completed })
		}
	default:
		return in
	}
	out := make([]model.ListWithTasks, 0, len(in.lists))
	for _, lw := range in.lists {
		if keep(lw) {
			out = append(out, lw)
		}
	}
	return &rows{lists: out}
}

// sort orders a copy of the input stably.
func (p *Pipeline) sort(in *rows, key SortKey) *rows {
	out := slices.Clone(in.lists)
	var compare func(a, b model.ListWithTasks) int
	switch key {
	case SortName:
		compare = func(a, b model.ListWithTasks) int {
			return p.collator.CompareString(a.Title, b.Title)
		}
	case SortTasks:
		compare = func(a, b model.ListWithTasks) int {
			return cmp.Compare(len(b.Tasks), len(a.Tasks))
		}
	default:
		compare = func(a, b model.ListWithTasks) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		}
	}
	slices.SortStableFunc(out, compare)
	return &rows{lists: out}
}
