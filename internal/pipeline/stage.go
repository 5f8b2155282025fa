package pipeline

import (
	"context"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
)

// StageID identifies a stage in the graph.
type StageID string

// The five analysis stages, plus the report step that publishes their output.
const (
	StageFetch          StageID = "fetch"
	StageReview         StageID = "review"
	StageSecurityAudit  StageID = "security_audit"
	StageTestGeneration StageID = "test_generation"
	StageTestExecution  StageID = "test_execution"
	StageReport         StageID = "report"
)

// Stage is one node of the pipeline graph.
type Stage interface {
	ID() StageID
	// Requires lists the stages whose artifacts Run receives.
	Requires() []StageID
	// Run produces the stage artifact. Tool failures belong in a degraded
	// artifact; a returned error aborts the run.
	Run(ctx context.Context, in Inputs) (Artifact, error)
}

// Artifact is the immutable output of one stage.
type Artifact struct {
	Stage StageID
	Text  string
	// Degraded marks output produced despite a tool failure.
	Degraded bool
	// Notes explain each degradation, e.g. "lint tool unavailable: ...".
	Notes []string
}

// Degrade marks the artifact incomplete with a reason.
func (a *Artifact) Degrade(note string) {
	a.Degraded = true
	a.Notes = append(a.Notes, note)
}

// Inputs is what a stage receives: the pull request under review and the
// artifacts of its declared dependencies, nothing more.
type Inputs struct {
	target    gateway.Reference
	artifacts map[StageID]Artifact
}

// NewInputs builds stage inputs from the given artifacts.
func NewInputs(target gateway.Reference, artifacts ...Artifact) Inputs {
	in := Inputs{target: target, artifacts: make(map[StageID]Artifact, len(artifacts))}
	for _, a := range artifacts {
		in.artifacts[a.Stage] = a
	}
	return in
}

// scopedInputs copies only the declared dependencies out of the run's map.
func scopedInputs(target gateway.Reference, declared []StageID, all map[StageID]Artifact) Inputs {
	in := Inputs{target: target, artifacts: make(map[StageID]Artifact, len(declared))}
	for _, id := range declared {
		if a, ok := all[id]; ok {
			in.artifacts[id] = a
		}
	}
	return in
}

// Target returns the pull request being reviewed.
func (in Inputs) Target() gateway.Reference { return in.target }

// Artifact returns a declared upstream artifact.
func (in Inputs) Artifact(id StageID) (Artifact, bool) {
	a, ok := in.artifacts[id]
	return a, ok
}

// Text returns the text of an upstream artifact, or "" when absent.
func (in Inputs) Text(id StageID) string {
	return in.artifacts[id].Text
}

// Publisher formats the analysis artifacts into one report and delivers it.
type Publisher interface {
	Format(artifacts map[StageID]Artifact) string
	Publish(ctx context.Context, target gateway.Reference, body string) error
}
