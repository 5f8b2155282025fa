package stages

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

// NoFilesText is the artifact of Review and SecurityAudit for an empty FileSet.
const NoFilesText = "No files to review."

// Review lints each file and asks the reasoning service for a review.
type Review struct {
	tools    ToolRunner
	invoker  reasoning.Invoker
	redactor Redactor
	cfg      ToolConfig
}

// NewReview creates the Review stage. File contents pass through redactor
// before they reach the prompt; a nil redactor sends them as fetched.
func NewReview(tools ToolRunner, invoker reasoning.Invoker, redactor Redactor, cfg ToolConfig) *Review {
	return &Review{tools: tools, invoker: invoker, redactor: redactor, cfg: cfg.withDefaults()}
}

func (s *Review) ID() pipeline.StageID         { return pipeline.StageReview }
func (s *Review) Requires() []pipeline.StageID { return []pipeline.StageID{pipeline.StageFetch} }

// Run produces
//
//	### Ruff Linter Findings
//	- calc.py:3 F401 ...
//
//	### High-Level Review
//	<model review, corrected code blocks included>
func (s *Review) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	files, err := DecodeFileSet(in.Text(pipeline.StageFetch))
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if len(files) == 0 {
		return pipeline.Artifact{Text: NoFilesText}, nil
	}

	var artifact pipeline.Artifact
	var findings []LintFinding
	var unlinted []string
	spec := s.cfg.ruff()

	for _, f := range files {
		res, err := s.tools.Run(ctx, f.Content, spec)
		note, err := toolProblem(ctx, "lint", res, err, spec.Timeout)
		if err != nil {
			return pipeline.Artifact{}, err
		}
		if note == "" && res.ExitCode != 0 {
			// --exit-zero: any other exit means ruff itself did not run.
			note = fmt.Sprintf("lint tool unavailable: %s", lastLine(res.Stderr))
		}
		if note != "" {
			artifact.Degrade(note + " (" + f.Path + ")")
			unlinted = append(unlinted, f.Path)
			continue
		}

		parsed, err := parseRuff(res.Stdout, f.Path)
		if err != nil {
			artifact.Degrade("lint tool returned unparseable output (" + f.Path + ")")
			unlinted = append(unlinted, f.Path)
			continue
		}
		findings = append(findings, parsed...)
	}

	lint := formatLint(findings, unlinted, len(files))
	prompt, redacted, err := redactPrompt(s.redactor, reviewPrompt(files, lint))
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("review: %w", err)
	}
	if redacted > 0 {
		logging.FromContext(ctx).Warn(ctx, "secrets redacted from review prompt", zap.Int("secrets", redacted))
	}

	review, err := s.invoker.Invoke(ctx, prompt)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("review: %w", err)
	}

	var b strings.Builder
	b.WriteString("### Ruff Linter Findings\n")
	b.WriteString(lint)
	b.WriteString("\n### High-Level Review\n")
	b.WriteString(strings.TrimSpace(review))
	b.WriteString("\n")

	parsed := ParseCorrectedBlocks(review)
	for _, block := range parsed.Blocks {
		if _, ok := block.MatchesFile(files); !ok {
			logging.FromContext(ctx).Warn(ctx, "corrected code for a file outside the pull request",
				zap.String("path", block.Path))
			fmt.Fprintf(&b, "\n_Note: corrected code for `%s` does not match a changed file._\n", block.Path)
		}
	}

	logging.FromContext(ctx).Info(ctx, "review completed",
		zap.Int("lint_findings", len(findings)),
		zap.Int("corrected_blocks", len(parsed.Blocks)),
	)
	artifact.Text = b.String()
	return artifact, nil
}
