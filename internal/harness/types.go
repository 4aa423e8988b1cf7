package harness

import "github.com/roach88/modacct/internal/manager"

// TraceEvent is one dispatched message with its addresses named.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Tx     string `json:"tx"`
	Depth  int    `json:"depth"`
	Type   string `json:"type"`
	Sender string `json:"sender"`
	Target string `json:"target"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every flow expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the messages of every committed flow step, in order.
	// Setup steps are not traced.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Modules is the account's final address book with deployed metadata.
	Modules []manager.InstalledModule `json:"modules"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) module(id string) (manager.InstalledModule, bool) {
	for _, m := range r.Modules {
		if string(m.ID) == id {
			return m, true
		}
	}
	return manager.InstalledModule{}, false
}
