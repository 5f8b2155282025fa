package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
)

// NoTestsText is reported when no test was collected.
const NoTestsText = "0 tests collected"

// TestExecution runs the generated script with pytest and coverage.
type TestExecution struct {
	tools ToolRunner
	cfg   ToolConfig
}

// NewTestExecution creates the stage.
func NewTestExecution(tools ToolRunner, cfg ToolConfig) *TestExecution {
	return &TestExecution{tools: tools, cfg: cfg.withDefaults()}
}

func (s *TestExecution) ID() pipeline.StageID { return pipeline.StageTestExecution }
func (s *TestExecution) Requires() []pipeline.StageID {
	return []pipeline.StageID{pipeline.StageTestGeneration}
}

// Run produces
//
//	### Test Results
//	Status: passed
//	Tests: 1 passed
//	Coverage: 87%
//
// followed by the raw pytest output. Test failures are a valid result, not a
// degradation.
func (s *TestExecution) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	script := in.Text(pipeline.StageTestGeneration)
	if strings.TrimSpace(script) == "" || IsNoOpScript(script) {
		return pipeline.Artifact{Text: formatTestResult("no tests", NoTestsText, "", "")}, nil
	}

	spec := s.cfg.pytest()
	res, err := s.tools.Run(ctx, script, spec)
	note, err := toolProblem(ctx, "test", res, err, spec.Timeout)
	if err != nil {
		return pipeline.Artifact{}, err
	}

	var artifact pipeline.Artifact
	if note != "" {
		artifact.Degrade(note)
		artifact.Text = formatTestResult("not run", "unavailable", "", res.Stdout)
		return artifact, nil
	}

	output := res.Stdout
	if strings.TrimSpace(res.Stderr) != "" {
		output += "\n" + res.Stderr
	}
	rep := parsePytest(output)

	var status, tally string
	switch res.ExitCode {
	case pytestOK:
		status, tally = "passed", rep.Tally.String()
	case pytestTestsFailed:
		status, tally = "failed", rep.Tally.String()
	case pytestNoTestsCollect:
		status, tally = "no tests", NoTestsText
	default:
		artifact.Degrade(fmt.Sprintf("test tool failed with exit code %d: %s", res.ExitCode, lastLine(output)))
		status, tally = "error", "unavailable"
	}

	logging.FromContext(ctx).Info(ctx, "tests executed",
		zap.Int("exit_code", res.ExitCode),
		zap.String("tally", tally),
		zap.String("coverage", rep.Coverage),
		zap.Duration("duration", res.Duration),
	)
	artifact.Text = formatTestResult(status, tally, rep.Coverage, output)
	return artifact, nil
}

func formatTestResult(status, tally, coverage, output string) string {
	if coverage == "" {
		coverage = "unavailable"
	}
	var b strings.Builder
	b.WriteString("### Test Results\n")
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Tests: %s\n", tally)
	fmt.Fprintf(&b, "Coverage: %s\n", coverage)
	if out := strings.TrimSpace(output); out != "" {
		b.WriteString("\n<details><summary>pytest output</summary>\n\n```text\n")
		b.WriteString(out)
		b.WriteString("\n```\n</details>\n")
	}
	return b.String()
}
