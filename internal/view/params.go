package view

import (
	"fmt"

	"github.com/roach88/tasksync/internal/model"
)

// Filter selects lists by the completion state of their tasks.
type Filter string

const (
	// FilterAll passes every list.
	FilterAll Filter = "all"
	// FilterCompleted passes lists with at least one completed task.
	FilterCompleted Filter = "completed"
	// FilterIncomplete passes lists with at least one open task, or none.
	FilterIncomplete Filter = "incomplete"
)

// SortKey orders the view.
type SortKey string

const (
	// SortCreated orders newest first.
	SortCreated SortKey = "created"
	// SortName orders by title, locale-aware.
	SortName SortKey = "name"
	// SortTasks orders by task count, largest first.
	SortTasks SortKey = "tasks"
)

// Params are the dashboard controls. The zero value means the defaults.
type Params struct {
	Search string  `json:"search" yaml:"search"`
	Filter Filter  `json:"filter" yaml:"filter"`
	Sort   SortKey `json:"sort" yaml:"sort"`
}

// Known Params keys accepted by Merge.
const (
	KeySearch = "search"
	KeyFilter = "filter"
	KeySort   = "sort"
)

// DefaultParams returns the initial dashboard state: no search, every list,
// newest first.
func DefaultParams() Params {
	return Params{Filter: FilterAll, Sort: SortCreated}
}

// Normalize fills defaults for empty fields.
func (p Params) Normalize() Params {
	if p.Filter == "" {
		p.Filter = FilterAll
	}
	if p.Sort == "" {
		p.Sort = SortCreated
	}
	return p
}

// Validate reports an unknown filter or sort key.
func (p Params) Validate() error {
	switch p.Filter {
	case "", FilterAll, FilterCompleted, FilterIncomplete:
	default:
		return model.NewValidationError("", "", "unknown filter %q", p.Filter)
	}
	switch p.Sort {
	case "", SortCreated, SortName, SortTasks:
	default:
		return model.NewValidationError("", "", "unknown sort key %q", p.Sort)
	}
	return nil
}

// Merge returns p updated with the known keys of updates. Other keys are
// ignored. The result is validated.
func (p Params) Merge(updates map[string]string) (Params, error) {
	for k, v := range updates {
		switch k {
		case KeySearch:
			p.Search = v
		case KeyFilter:
			p.Filter = Filter(v)
		case KeySort:
			p.Sort = SortKey(v)
		}
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("merge view params: %w", err)
	}
	return p.Normalize(), nil
}
