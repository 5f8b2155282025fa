// Package report renders the consolidated pull request comment and publishes
// it through the repository gateway.
package report

import (
	"strings"

	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/secrets"
)

// Marker is embedded in every report so a later run can find and update it.
const Marker = "<!-- autodevops:report -->"

// Title heads the comment.
const Title = "# 🤖 AutoDevOps Pull Request Review"

// Section headings, in the order they are rendered.
const (
	HeadingReview   = "## 🔍 Code Review & Linting"
	HeadingSecurity = "## 🛡️ Security Audit"
	HeadingTests    = "## 🧪 Test Execution & Coverage"
)

const emptySection = "_This stage produced no output._"

// Render lays out the three sections in fixed order. It does not redact.
func Render(review, security, tests pipeline.Artifact) string {
	var b strings.Builder
	b.WriteString(Marker)
	b.WriteString("\n")
	b.WriteString(Title)
	b.WriteString("\n")

	writeSection(&b, HeadingReview, review)
	writeSection(&b, HeadingSecurity, security)
	writeSection(&b, HeadingTests, tests)

	b.WriteString("\n---\n_Generated by autodevops._\n")
	return b.String()
}

func writeSection(b *strings.Builder, heading string, a pipeline.Artifact) {
	b.WriteString("\n")
	b.WriteString(heading)
	b.WriteString("\n\n")
	if a.Degraded {
		b.WriteString("> ⚠️ Incomplete: ")
		b.WriteString(strings.Join(a.Notes, "; "))
		b.WriteString("\n\n")
	}
	text := strings.TrimSpace(a.Text)
	if text == "" {
		text = emptySection
	}
	b.WriteString(text)
	b.WriteString("\n")
}

// Redactor replaces credentials in text. *secrets.Scanner implements it.
type Redactor interface {
	Redact(content string) (string, []secrets.Finding, error)
}

// Format renders the report and replaces any detected credential with a
// [REDACTED:<rule>] placeholder. A nil scanner uses the default gitleaks rules.
func Format(scanner Redactor, review, security, tests pipeline.Artifact) (string, error) {
	body := Render(review, security, tests)
	if scanner == nil {
		return secrets.Redact(body)
	}
	redacted, _, err := scanner.Redact(body)
	return redacted, err
}
