package stages

import (
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

// Dependencies are the collaborators shared by the stages.
type Dependencies struct {
	Files   FileFetcher
	Tools   ToolRunner
	Invoker reasoning.Invoker
	Secrets Secrets // optional; nil disables secret scanning and prompt redaction
	Config  ToolConfig
}

// All returns the five review stages.
func All(deps Dependencies) []pipeline.Stage {
	return []pipeline.Stage{
		NewFetch(deps.Files),
		NewReview(deps.Tools, deps.Invoker, deps.Secrets, deps.Config),
		NewSecurityAudit(deps.Tools, deps.Invoker, deps.Secrets, deps.Config),
		NewTestGeneration(deps.Invoker, deps.Secrets),
		NewTestExecution(deps.Tools, deps.Config),
	}
}
