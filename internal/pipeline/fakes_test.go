package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
)

type fakeStage struct {
	id       StageID
	requires []StageID
	run      func(ctx context.Context, in Inputs) (Artifact, error)
}

func (s *fakeStage) ID() StageID         { return s.id }
func (s *fakeStage) Requires() []StageID { return s.requires }
func (s *fakeStage) Run(ctx context.Context, in Inputs) (Artifact, error) {
	if s.run == nil {
		return Artifact{Text: string(s.id) + " done"}, nil
	}
	return s.run(ctx, in)
}

func stage(id StageID, requires ...StageID) *fakeStage {
	return &fakeStage{id: id, requires: requires}
}

// reviewGraph is the production graph shape with trivial stages.
func reviewGraph() []*fakeStage {
	return []*fakeStage{
		stage(StageFetch),
		stage(StageReview, StageFetch),
		stage(StageSecurityAudit, StageFetch),
		stage(StageTestGeneration, StageReview, StageSecurityAudit),
		stage(StageTestExecution, StageTestGeneration),
	}
}

func asStages(fs []*fakeStage) []Stage {
	out := make([]Stage, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	return out
}

func find(fs []*fakeStage, id StageID) *fakeStage {
	for _, f := range fs {
		if f.id == id {
			return f
		}
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	err       error
}

func (p *fakePublisher) Format(artifacts map[StageID]Artifact) string {
	return artifacts[StageReview].Text + "|" + artifacts[StageSecurityAudit].Text + "|" + artifacts[StageTestExecution].Text
}

func (p *fakePublisher) Publish(ctx context.Context, target gateway.Reference, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, body)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

var errBoom = errors.New("boom")

var testRef = gateway.Reference{Owner: "octo", Repo: "calc", Number: 7}
