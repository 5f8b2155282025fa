package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/autodevops/internal/sandbox"
)

// ToolRunner runs an external tool against one file. *sandbox.Runner implements it.
type ToolRunner interface {
	Run(ctx context.Context, content string, spec sandbox.ToolSpec) (sandbox.Result, error)
}

// ToolConfig selects the interpreter and timeouts for the analysis tools.
type ToolConfig struct {
	Python          string
	LintTimeout     time.Duration
	SecurityTimeout time.Duration
	TestTimeout     time.Duration
}

// DefaultToolConfig uses python3 and the sandbox default timeouts.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Python:          "python3",
		LintTimeout:     sandbox.DefaultAnalysisTimeout,
		SecurityTimeout: sandbox.DefaultAnalysisTimeout,
		TestTimeout:     sandbox.DefaultTestTimeout,
	}
}

func (c ToolConfig) withDefaults() ToolConfig {
	d := DefaultToolConfig()
	if c.Python == "" {
		c.Python = d.Python
	}
	if c.LintTimeout <= 0 {
		c.LintTimeout = d.LintTimeout
	}
	if c.SecurityTimeout <= 0 {
		c.SecurityTimeout = d.SecurityTimeout
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = d.TestTimeout
	}
	return c
}

func (c ToolConfig) ruff() sandbox.ToolSpec {
	return sandbox.ToolSpec{
		Name:     "ruff",
		Command:  c.Python,
		Args:     []string{"-m", "ruff", "check", "{file}", "--output-format=json", "--exit-zero", "--no-cache"},
		FileName: "source.py",
		Timeout:  c.LintTimeout,
	}
}

func (c ToolConfig) bandit() sandbox.ToolSpec {
	return sandbox.ToolSpec{
		Name:     "bandit",
		Command:  c.Python,
		Args:     []string{"-m", "bandit", "-f", "json", "-q", "{file}"},
		FileName: "source.py",
		Timeout:  c.SecurityTimeout,
	}
}

func (c ToolConfig) pytest() sandbox.ToolSpec {
	return sandbox.ToolSpec{
		Name:     "pytest",
		Command:  c.Python,
		Args:     []string{"-m", "pytest", "--cov=.", "--cov-report=term", "-p", "no:cacheprovider", "{file}"},
		FileName: "test_generated.py",
		Timeout:  c.TestTimeout,
	}
}

// toolProblem describes a tool invocation that produced no usable result, or
// returns "" when the result should be parsed. label names the tool in notes
// ("lint", "security", "test"). Cancellation of the run is returned as an
// error instead of a note.
func toolProblem(ctx context.Context, label string, res sandbox.Result, err error, timeout time.Duration) (string, error) {
	switch {
	case err != nil && ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(err, sandbox.ErrToolUnavailable):
		reason := strings.TrimPrefix(err.Error(), sandbox.ErrToolUnavailable.Error()+": ")
		return fmt.Sprintf("%s tool unavailable: %s", label, reason), nil
	case err != nil:
		return fmt.Sprintf("%s tool unavailable: %v", label, err), nil
	case res.TimedOut:
		return fmt.Sprintf("%s tool timed out after %s", label, timeout), nil
	}
	return "", nil
}

// lastLine returns the last non-empty line of s, for short failure notes.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
