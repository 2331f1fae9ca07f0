package harness

// Outcome of a successful step.
const OutcomeOK = "ok"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Op      string         `json:"op"`
	As      string         `json:"as,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"` // "ok" or an error code
	Result  map[string]any `json:"result,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
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

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
