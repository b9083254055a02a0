package harness

import (
	"github.com/roach88/loopbridge/internal/notify"
	"github.com/roach88/loopbridge/internal/scheduler"
)

// Delivery is one callback invocation, as seen by the listener.
type Delivery struct {
	// Seq orders deliveries across all listeners, starting at 1.
	Seq      int64  `json:"seq"`
	Listener string `json:"listener"`
	Kind     string `json:"kind"`

	// Change is the decoded change set.
	Change notify.ChangeSet `json:"change"`

	// Properties names the modified properties of an object change.
	Properties []string `json:"properties,omitempty"`

	// OnLoop reports whether the callback ran on the loop goroutine.
	OnLoop bool `json:"on_loop"`
}

// Stats collects counters from the run's scheduler and dispatcher.
type Stats struct {
	Scheduler  scheduler.Stats `json:"scheduler"`
	Dispatcher notify.Stats    `json:"dispatcher"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// IndexBase is the convention the run delivered with.
	IndexBase string `json:"index_base"`

	// Deliveries in the order callbacks ran.
	Deliveries []Delivery `json:"deliveries"`

	// Errors contains assertion failures.
	Errors []string `json:"errors,omitempty"`

	Stats Stats `json:"stats"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Deliveries: []Delivery{},
		Errors:     []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ForListener returns the deliveries of one listener in order.
func (r *Result) ForListener(name string) []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Listener == name {
			out = append(out, d)
		}
	}
	return out
}
