package harness

// TraceEvent records what one step did. Messages are named by their
// scenario labels, never by hash, so traces stay readable and stable.
type TraceEvent struct {
	Step    int      `json:"step"`
	Op      string   `json:"op"`
	Message string   `json:"message,omitempty"`
	Type    string   `json:"type,omitempty"`
	Fid     uint64   `json:"fid,omitempty"`
	Outcome string   `json:"outcome"`
	Events  []string `json:"events,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every step produced its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step record.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
