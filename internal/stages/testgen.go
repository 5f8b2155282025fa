package stages

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

// NoOpMarker identifies a generated script that contains no tests.
const NoOpMarker = "# autodevops: no-op"

// NoOpScript is emitted when there is nothing to test.
func NoOpScript(reason string) string {
	return NoOpMarker + "\n# " + reason + "\n"
}

// IsNoOpScript reports whether a script was produced by NoOpScript.
func IsNoOpScript(script string) bool {
	return strings.HasPrefix(strings.TrimSpace(script), NoOpMarker)
}

var (
	pythonFence = regexp.MustCompile("(?s)```(?:python|py)[ \\t]*\\r?\\n(.*?)```")
	anyFence    = regexp.MustCompile("(?s)```[a-zA-Z0-9]*[ \\t]*\\r?\\n(.*?)```")
)

// TestGeneration writes one self-contained pytest script for the corrected code.
type TestGeneration struct {
	invoker  reasoning.Invoker
	redactor Redactor
}

// NewTestGeneration creates the stage. A nil redactor disables prompt redaction.
func NewTestGeneration(invoker reasoning.Invoker, redactor Redactor) *TestGeneration {
	return &TestGeneration{invoker: invoker, redactor: redactor}
}

func (s *TestGeneration) ID() pipeline.StageID { return pipeline.StageTestGeneration }
func (s *TestGeneration) Requires() []pipeline.StageID {
	return []pipeline.StageID{pipeline.StageReview, pipeline.StageSecurityAudit}
}

// Run returns the script as the artifact text. Without corrected code it
// returns a no-op script and makes no reasoning call.
func (s *TestGeneration) Run(ctx context.Context, in pipeline.Inputs) (pipeline.Artifact, error) {
	logger := logging.FromContext(ctx)

	blocks := ParseCorrectedBlocks(in.Text(pipeline.StageReview)).Blocks
	if len(blocks) == 0 {
		logger.Info(ctx, "no corrected code, emitting no-op test script")
		return pipeline.Artifact{Text: NoOpScript("The review produced no corrected code, so there is nothing to test.")}, nil
	}

	modules := reviewedModules(blocks)
	prompt, redacted, err := redactPrompt(s.redactor, testGenerationPrompt(blocks, modules, in.Text(pipeline.StageSecurityAudit)))
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("test generation: %w", err)
	}
	if redacted > 0 {
		logger.Warn(ctx, "secrets redacted from test generation prompt", zap.Int("secrets", redacted))
	}

	out, err := s.invoker.Invoke(ctx, prompt)
	if err != nil {
		return pipeline.Artifact{}, fmt.Errorf("test generation: %w", err)
	}

	var artifact pipeline.Artifact
	script, ok := ExtractScript(out)
	if !ok {
		artifact.Degrade("test generation returned no usable pytest script")
		artifact.Text = NoOpScript("The generated output did not contain a pytest script.")
		return artifact, nil
	}

	script, removed := stripModuleImports(script, modules)
	if len(removed) > 0 {
		artifact.Degrade("removed imports of reviewed modules: " + strings.Join(removed, ", "))
	}

	logger.Info(ctx, "test script generated",
		zap.Int("corrected_blocks", len(blocks)),
		zap.Int("bytes", len(script)),
	)
	artifact.Text = script
	return artifact, nil
}

// ExtractScript finds the pytest script in model output: the first ```python
// block, else the first fenced block defining a test, else the whole output
// when it defines a test outside any fence.
func ExtractScript(output string) (string, bool) {
	if m := pythonFence.FindStringSubmatch(output); m != nil && strings.TrimSpace(m[1]) != "" {
		return ensureNewline(m[1]), true
	}
	for _, m := range anyFence.FindAllStringSubmatch(output, -1) {
		if strings.Contains(m[1], "def test_") {
			return ensureNewline(m[1]), true
		}
	}
	if !strings.Contains(output, "```") && strings.Contains(output, "def test_") {
		return ensureNewline(strings.TrimSpace(output)), true
	}
	return "", false
}

func ensureNewline(s string) string {
	if !strings.HasSuffix(s, "\n") {
		return s + "\n"
	}
	return s
}

// reviewedModules derives importable module names from block paths:
// "pkg/calc.py" yields "calc" and "pkg.calc".
func reviewedModules(blocks []CorrectedBlock) []string {
	set := make(map[string]struct{})
	for _, b := range blocks {
		p := strings.TrimSuffix(b.Path, path.Ext(b.Path))
		if p == "" {
			continue
		}
		set[path.Base(p)] = struct{}{}
		if strings.Contains(p, "/") {
			set[strings.ReplaceAll(p, "/", ".")] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// stripModuleImports comments out imports of the reviewed modules, which the
// script must not depend on.
func stripModuleImports(script string, modules []string) (string, []string) {
	if len(modules) == 0 {
		return script, nil
	}
	quoted := make([]string, len(modules))
	for i, m := range modules {
		quoted[i] = regexp.QuoteMeta(m)
	}
	alt := strings.Join(quoted, "|")
	importRe := regexp.MustCompile(`^\s*(?:import\s+(?:` + alt + `)(?:\s|,|$|\.)|from\s+(?:` + alt + `)\s+import\b)`)

	var removed []string
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		if importRe.MatchString(line) {
			removed = append(removed, strings.TrimSpace(line))
			lines[i] = "# removed by autodevops: " + strings.TrimSpace(line)
		}
	}
	return strings.Join(lines, "\n"), removed
}
