package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
	"github.com/fyrsmithlabs/autodevops/internal/secrets"
)

const (
	// NoSecurityIssuesText is reported when every file was scanned and no
	// MEDIUM or HIGH issue was found.
	NoSecurityIssuesText = "No major security vulnerabilities found."

	// IncompleteSecurityText replaces NoSecurityIssuesText when some files
	// could not be scanned.
	IncompleteSecurityText = "Security scan incomplete; no MEDIUM/HIGH findings from the files that were scanned."
)

// ErrRedaction is returned when a prompt cannot be scrubbed of secrets. The
// prompt is not sent.
var ErrRedaction = errors.New("prompt redaction failed")

// SecretScanner finds hard-coded credentials. *secrets.Scanner implements it.
type SecretScanner interface {
	Detect(path, content string) ([]secrets.Finding, error)
}

// Redactor replaces secrets in text. *secrets.Scanner implements it.
type Redactor interface {
	Redact(content string) (string, []secrets.Finding, error)
}

// Secrets detects and redacts credentials.
type Secrets interface {
	SecretScanner
	Redactor
}

// SecurityAudit scans each file with bandit and the secret scanner.
type SecurityAudit struct {
	tools   ToolRunner
	invoker reasoning.Invoker
	scanner SecretScanner
	cfg     ToolConfig
}

// NewSecurityAudit creates the stage. A nil scanner disables secret scanning.
func NewSecurityAudit(tools ToolRunner, invoker reasoning.Invoker, scanner SecretScanner, cfg ToolConfig) *SecurityAudit {
	return &SecurityAudit{tools: tools, invoker: invoker, scanner: scanner, cfg: cfg.withDefaults()}
}

func (s *SecurityAudit) ID() pipeline.StageID { return pipeline.StageSecurityAudit }
func (s *SecurityAudit) Requires() []pipeline.StageID {
	return []pipeline.StageID{pipeline.StageFetch}
}

// Run produces
//
//	### Security Audit Results
//	- **HIGH** `app.py:12` B602: ...
//
//	### Risk Summary
//	<model summary>
//
// The reasoning service is only called when there is something to summarize.
func (s *SecurityAudit) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	files, err := DecodeFileSet(in.Text(pipeline.StageFetch))
	if err != nil {
		return pipeline.Artifact{}, err
	}
	if len(files) == 0 {
		return pipeline.Artifact{Text: NoFilesText}, nil
	}

	var artifact pipeline.Artifact
	var findings []SecurityFinding
	var unscanned []string
	spec := s.cfg.bandit()

	for _, f := range files {
		res, err := s.tools.Run(ctx, f.Content, spec)
		note, err := toolProblem(ctx, "security", res, err, spec.Timeout)
		if err != nil {
			return pipeline.Artifact{}, err
		}
		if note == "" {
			// bandit exits 1 when it reports issues, so only the report decides.
			parsed, perr := parseBandit(res.Stdout, f.Path)
			switch {
			case perr == nil:
				findings = append(findings, parsed...)
			case res.ExitCode > 1 || strings.TrimSpace(res.Stdout) == "":
				note = fmt.Sprintf("security tool unavailable: %s", lastLine(res.Stderr))
			default:
				note = "security tool returned unparseable output"
			}
		}
		if note != "" {
			artifact.Degrade(note + " (" + f.Path + ")")
		}

		leaks, err := s.scanSecrets(f.Path, f.Content)
		if err != nil {
			artifact.Degrade(fmt.Sprintf("secret scanner unavailable: %v (%s)", err, f.Path))
		} else {
			findings = append(findings, leaks...)
		}
		if note != "" || err != nil {
			unscanned = append(unscanned, f.Path)
		}
	}

	sortFindings(findings)

	var b strings.Builder
	b.WriteString("### Security Audit Results\n")
	if len(findings) == 0 {
		if len(unscanned) > 0 {
			b.WriteString(IncompleteSecurityText)
			b.WriteString("\n")
			writeUnscanned(&b, unscanned)
		} else {
			b.WriteString(NoSecurityIssuesText)
			b.WriteString("\n")
		}
		artifact.Text = b.String()
		logging.FromContext(ctx).Info(ctx, "security audit completed", zap.Int("findings", 0))
		return artifact, nil
	}

	for _, f := range findings {
		b.WriteString("- ")
		b.WriteString(f.String())
		b.WriteString("\n")
	}
	writeUnscanned(&b, unscanned)

	summary, err := s.invoker.Invoke(ctx, securityPrompt(files, findings))
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("security summary: %w", err)
	}
	b.WriteString("\n### Risk Summary\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n")

	logging.FromContext(ctx).Info(ctx, "security audit completed", zap.Int("findings", len(findings)))
	artifact.Text = b.String()
	return artifact, nil
}

// scanSecrets reports hard-coded credentials as HIGH findings without the secret itself.
func (s *SecurityAudit) scanSecrets(path, content string) ([]SecurityFinding, error) {
	if s.scanner == nil {
		return nil, nil
	}
	leaks, err := s.scanner.Detect(path, content)
	if err != nil {
		return nil, err
	}
	out := make([]SecurityFinding, 0, len(leaks))
	for _, l := range leaks {
		text := "Hard-coded secret"
		if l.Description != "" {
			text += ": " + l.Description
		}
		out = append(out, SecurityFinding{
			Path:     path,
			Line:     l.Line,
			Severity: SeverityHigh,
			TestID:   "gitleaks:" + l.RuleID,
			Text:     text,
		})
	}
	return out, nil
}

func writeUnscanned(b *strings.Builder, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "Not fully scanned: %s\n", strings.Join(paths, ", "))
}

// sortFindings orders HIGH before MEDIUM, then by path and line.
func sortFindings(findings []SecurityFinding) {
	rank := func(s string) int {
		if s == SeverityHigh {
			return 0
		}
		return 1
	}
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if rank(a.Severity) != rank(b.Severity) {
			return rank(a.Severity) < rank(b.Severity)
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.Line < b.Line
	})
}
