package harness

import "github.com/roach88/folio/internal/ir"

// TraceEvent is one event the repository logged during a scenario, in feed
// order.
type TraceEvent struct {
	Seq      int          `json:"seq"`
	Type     ir.EventType `json:"type"`
	Entities []string     `json:"entities,omitempty"`
	// Line is the event rendered by eventlog.String.
	Line string `json:"line"`
}

// StepResult is the observed outcome of one step.
type StepResult struct {
	Index  int          `json:"index"`
	Op     string       `json:"op"`
	Effect ir.Effect    `json:"effect,omitempty"`
	Error  ir.ErrorKind `json:"error,omitempty"`
	// Output is the step's result in JSON form, nil for failed steps.
	Output any `json:"output,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Steps holds the outcome of every step, in order.
	Steps []StepResult `json:"steps"`

	// Trace contains every logged event in feed order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Lines returns the rendered trace, one line per event.
func (r *Result) Lines() []string {
	lines := make([]string, len(r.Trace))
	for i, ev := range r.Trace {
		lines[i] = ev.Line
	}
	return lines
}
