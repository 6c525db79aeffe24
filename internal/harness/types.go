package harness

// TraceEvent records what one step observed. Only the fields relevant to
// the step are set.
type TraceEvent struct {
	Seq      int64  `json:"seq"`
	Step     string `json:"step"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Op       string `json:"op,omitempty"`
	ID       string `json:"id,omitempty"`
	TempID   string `json:"temp_id,omitempty"`
	ServerID string `json:"server_id,omitempty"`
	Status   string `json:"status,omitempty"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// Lists, Tasks and Fetches are set by fetch steps only.
	Lists   int `json:"lists,omitempty"`
	Tasks   int `json:"tasks,omitempty"`
	Fetches int `json:"fetches,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step and every expectation held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// record appends event with the next sequence number.
func (r *Result) record(event TraceEvent) {
	event.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, event)
}
