package stages

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

// Personas used for each reasoning call. Scripted invokers key replies on these.
const (
	RoleReviewer      = "Senior Python Developer"
	RoleSecurity      = "Python Security Auditor"
	RoleTestGenerator = "Software Quality Assurance Engineer"
)

const reviewInstructions = `Review the Python files of a pull request.

The linter findings for every file are listed below; do not repeat them one by one.
Give a concise high-level review of logic errors, edge cases, readability and
maintainability.

Provide a corrected version ONLY for files that need changes. Put each corrected
file in its own block, using exactly these markers:

--- START CORRECTED CODE: <path> ---
` + "```python" + `
<the complete corrected file>
` + "```" + `
--- END CORRECTED CODE: <path> ---

Use the file's path exactly as given. If no file needs changes, say so and emit no blocks.`

const securityInstructions = `Summarize the security findings of a pull request for its author.

The findings below were produced by bandit and a secret scanner; only MEDIUM and HIGH
severity issues are included. For each issue explain the risk in one or two sentences,
referencing the file and line number, and suggest a fix. Finish with an overall risk
assessment. Do not invent issues that are not listed.`

const testGenerationInstructions = `Write a single, runnable pytest script that tests the corrected code below.

The script MUST be self-contained:
- Copy the corrected functions and classes from the CORRECTED CODE sections into the top of the script.
- Do NOT import the reviewed modules (%s); test the local copies.
- Import only the standard library, pytest and unittest.mock.
- Use @patch or unittest.mock to replace network, filesystem and environment dependencies.

Write focused tests for the fixed behavior, including the edge cases the review mentions.
Output exactly one code block starting with ` + "```python" + ` and ending with ` + "```" + `.`

func reviewPrompt(files FileSet, lint string) reasoning.Prompt {
	sections := make([]reasoning.Section, 0, len(files)+1)
	for _, f := range files {
		sections = append(sections, reasoning.Section{Title: "FILE " + f.Path, Body: f.Content})
	}
	sections = append(sections, reasoning.Section{Title: "LINTER FINDINGS", Body: lint})
	return reasoning.Prompt{
		Role:         RoleReviewer,
		Instructions: reviewInstructions,
		Context:      sections,
	}
}

func securityPrompt(files FileSet, findings []SecurityFinding) reasoning.Prompt {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s:%d [%s] %s: %s\n", f.Path, f.Line, f.Severity, f.TestID, f.Text)
	}
	return reasoning.Prompt{
		Role:         RoleSecurity,
		Instructions: securityInstructions,
		Context: []reasoning.Section{
			{Title: "FINDINGS", Body: b.String()},
			{Title: "FILES", Body: strings.Join(files.Paths(), "\n")},
		},
	}
}

func testGenerationPrompt(blocks []CorrectedBlock, modules []string, securityReport string) reasoning.Prompt {
	sections := make([]reasoning.Section, 0, len(blocks)+1)
	for _, b := range blocks {
		sections = append(sections, reasoning.Section{Title: "CORRECTED CODE " + b.Path, Body: b.Code})
	}
	sections = append(sections, reasoning.Section{Title: "SECURITY REPORT", Body: securityReport})
	return reasoning.Prompt{
		Role:         RoleTestGenerator,
		Instructions: fmt.Sprintf(testGenerationInstructions, strings.Join(modules, ", ")),
		Context:      sections,
	}
}

// formatLint lists the findings for total files. unlinted names files the
// linter never checked; their absence of findings must not read as clean code.
func formatLint(findings []LintFinding, unlinted []string, total int) string {
	var b strings.Builder
	for _, f := range findings {
		b.WriteString("- ")
		b.WriteString(f.String())
		b.WriteString("\n")
	}
	switch {
	case len(unlinted) > 0:
		fmt.Fprintf(&b, "Lint incomplete: linter unavailable for %s.\n", strings.Join(unlinted, ", "))
		if len(findings) == 0 && len(unlinted) < total {
			b.WriteString("No linter issues found in the files that were linted.\n")
		}
	case len(findings) == 0:
		b.WriteString("No linter issues found.\n")
	}
	return b.String()
}

// redactPrompt scrubs secrets from every context section before the prompt
// leaves the process. A nil redactor leaves the prompt unchanged.
func redactPrompt(r Redactor, p reasoning.Prompt) (reasoning.Prompt, int, error) {
	if r == nil {
		return p, 0, nil
	}
	out := p
	out.Context = make([]reasoning.Section, len(p.Context))
	redacted := 0
	for i, sec := range p.Context {
		body, found, err := r.Redact(sec.Body)
		if err != nil {
			return reasoning.Prompt{}, 0, fmt.Errorf("%w: %v", ErrRedaction, err)
		}
		redacted += len(found)
		out.Context[i] = reasoning.Section{Title: sec.Title, Body: body}
	}
	return out, redacted, nil
}
