package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
)

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFatal          Outcome = "fatal"
)

// State is the run's position in its state machine.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Run is the record of one pipeline execution. Only the orchestrator writes it.
type Run struct {
	ID     string
	Target gateway.Reference
	// Order is the topological stage order of the graph.
	Order []StageID
	// Artifacts holds every stage that completed, including the failed
	// stage's siblings that were already in flight.
	Artifacts map[StageID]Artifact

	State   State
	Outcome Outcome
	// FailedStage and Err are set for Fatal runs.
	FailedStage StageID
	Err         *StageError

	// Report is the formatted report, set whenever formatting ran, even if
	// publishing failed.
	Report    string
	Published bool

	StartedAt  time.Time
	FinishedAt time.Time
}

func newRun(id string, target gateway.Reference, order []StageID) *Run {
	return &Run{
		ID:        id,
		Target:    target,
		Order:     order,
		Artifacts: make(map[StageID]Artifact, len(order)),
		State:     StateNotStarted,
	}
}

// finish moves the run to its terminal state. Only the first call has effect.
func (r *Run) finish(outcome Outcome, err *StageError) {
	if r.Outcome != "" {
		return
	}
	r.Outcome = outcome
	r.FinishedAt = time.Now()
	if outcome == OutcomeFatal {
		r.State = StateAborted
		r.Err = err
		if err != nil {
			r.FailedStage = err.Stage
		}
		return
	}
	r.State = StateCompleted
}

// Degraded lists the stages whose artifacts are incomplete, in graph order.
func (r *Run) Degraded() []StageID {
	var out []StageID
	for _, id := range r.Order {
		if a, ok := r.Artifacts[id]; ok && a.Degraded {
			out = append(out, id)
		}
	}
	return out
}

// Duration is the wall time of a finished run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode maps the outcome to a process exit code.
func (r *Run) ExitCode() int {
	if r.Outcome == OutcomeFatal {
		return 1
	}
	return 0
}
