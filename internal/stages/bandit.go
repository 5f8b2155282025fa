package stages

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity levels reported by the security scanners.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// SecurityFinding is one surfaced security issue.
type SecurityFinding struct {
	Path     string
	Line     int
	Severity string
	TestID   string // bandit test ID or "gitleaks:<rule>"
	Text     string
}

// String renders "**HIGH** `app.py:12` B602: subprocess call with shell=True".
func (f SecurityFinding) String() string {
	return fmt.Sprintf("**%s** `%s:%d` %s: %s", f.Severity, f.Path, f.Line, f.TestID, f.Text)
}

// surfaced reports whether a severity is shown in the audit.
func surfaced(severity string) bool {
	switch strings.ToUpper(severity) {
	case SeverityHigh, SeverityMedium:
		return true
	}
	return false
}

type banditReport struct {
	Results []struct {
		Filename      string `json:"filename"`
		LineNumber    int    `json:"line_number"`
		IssueSeverity string `json:"issue_severity"`
		IssueText     string `json:"issue_text"`
		TestID        string `json:"test_id"`
	} `json:"results"`
}

// parseBandit decodes bandit's JSON report and keeps MEDIUM and HIGH findings,
// re-tagged with the repository path.
func parseBandit(stdout, path string) ([]SecurityFinding, error) {
	out := strings.TrimSpace(stdout)
	if out == "" {
		return nil, fmt.Errorf("parse bandit output: empty report")
	}
	// -q still prints a banner on some versions; the report is the JSON object.
	if i := strings.Index(out, "{"); i > 0 {
		out = out[i:]
	}

	var report banditReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		return nil, fmt.Errorf("parse bandit output: %w", err)
	}

	var findings []SecurityFinding
	for _, r := range report.Results {
		if !surfaced(r.IssueSeverity) {
			continue
		}
		findings = append(findings, SecurityFinding{
			Path:     path,
			Line:     r.LineNumber,
			Severity: strings.ToUpper(r.IssueSeverity),
			TestID:   r.TestID,
			Text:     r.IssueText,
		})
	}
	return findings, nil
}
