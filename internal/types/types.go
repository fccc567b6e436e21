package types

import "time"

// Policy says whether a step's failure aborts the run
type Policy string

const (
	Required Policy = "required"
	Optional Policy = "optional"
)

// Status is the outcome of a single step
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped" // optional step failed and was ignored
	StatusFailed  Status = "failed"  // required step failed; the run stopped here
)

// StepResult records how one step of a run went
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Policy   Policy        `json:"policy"`
	Status   Status        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunReport summarizes one execution of the interaction sequence.
// It never carries credentials.
type RunReport struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Search     string       `json:"search"`
	PostCount  int          `json:"post_count"`
	Steps      []StepResult `json:"steps"`
	Err        string       `json:"error,omitempty"`
}

// Succeeded reports whether the run reached the end without a fatal step.
func (r *RunReport) Succeeded() bool {
	return r.Err == ""
}

// Count returns how many steps ended with the given status.
func (r *RunReport) Count(s Status) int {
	n := 0
	for _, st := range r.Steps {
		if st.Status == s {
			n++
		}
	}
	return n
}
