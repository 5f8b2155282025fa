package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
)

func TestParseRuff(t *testing.T) {
	out := `[
  {"code":"F401","filename":"/tmp/autodevops-ruff-1/source.py","message":"` + "`os`" + ` imported but unused","location":{"row":1,"column":8}},
  {"code":"E711","filename":"/tmp/autodevops-ruff-1/source.py","message":"Comparison to None","location":{"row":9,"column":4}}
]`
	findings, err := parseRuff(out, "pkg/calc.py")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, LintFinding{Path: "pkg/calc.py", Line: 1, Code: "F401", Message: "`os` imported but unused"}, findings[0])
	assert.Equal(t, "pkg/calc.py:9 E711 Comparison to None", findings[1].String())

	findings, err = parseRuff("[]", "calc.py")
	require.NoError(t, err)
	assert.Empty(t, findings)

	findings, err = parseRuff("  \n", "calc.py")
	require.NoError(t, err)
	assert.Empty(t, findings)

	_, err = parseRuff("error: unexpected argument", "calc.py")
	assert.Error(t, err)
}

func TestParseBandit(t *testing.T) {
	out := `{"errors": [], "results": [
  {"filename":"/tmp/x/source.py","line_number":4,"issue_severity":"LOW","issue_text":"Consider possible security implications","test_id":"B404"},
  {"filename":"/tmp/x/source.py","line_number":12,"issue_severity":"HIGH","issue_text":"subprocess call with shell=True identified","test_id":"B602"},
  {"filename":"/tmp/x/source.py","line_number":20,"issue_severity":"MEDIUM","issue_text":"Use of eval","test_id":"B307"}
]}`
	findings, err := parseBandit(out, "app.py")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, SecurityFinding{Path: "app.py", Line: 12, Severity: "HIGH", TestID: "B602", Text: "subprocess call with shell=True identified"}, findings[0])
	assert.Equal(t, "**MEDIUM** `app.py:20` B307: Use of eval", findings[1].String())

	findings, err = parseBandit("[main]\tINFO\tprofile include tests: None\n"+`{"results": []}`, "app.py")
	require.NoError(t, err, "leading banner is skipped")
	assert.Empty(t, findings)

	_, err = parseBandit("", "app.py")
	assert.Error(t, err)
	_, err = parseBandit("not json", "app.py")
	assert.Error(t, err)
}

func TestParsePytest(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		tally    TestTally
		summary  string
		coverage string
	}{
		{
			name: "passed with coverage",
			output: `============================= test session starts ==============================
collected 1 item

test_generated.py .                                                      [100%]

---------- coverage: platform linux, python 3.11.4-final-0 -----------
Name                Stmts   Miss  Cover
---------------------------------------
test_generated.py      10      2    80%
---------------------------------------
TOTAL                  10      2    80%

============================== 1 passed in 0.05s ===============================`,
			tally:    TestTally{Passed: 1},
			summary:  "1 passed",
			coverage: "80%",
		},
		{
			name:     "mixed results",
			output:   "TOTAL    40    3    92.5%\n===== 2 failed, 3 passed, 1 skipped, 1 warning in 1.20s =====",
			tally:    TestTally{Passed: 3, Failed: 2, Skipped: 1},
			summary:  "2 failed, 3 passed, 1 skipped, 1 warning",
			coverage: "92.5%",
		},
		{
			name:    "quiet mode with errors",
			output:  "1 passed, 2 errors in 0.30s",
			tally:   TestTally{Passed: 1, Errors: 2},
			summary: "1 passed, 2 errors",
		},
		{
			name:    "nothing collected",
			output:  "============================ no tests ran in 0.01s =============================",
			summary: "no tests ran",
		},
		{
			name:   "garbage",
			output: "Traceback (most recent call last):\nModuleNotFoundError: No module named 'pytest'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := parsePytest(tt.output)
			assert.Equal(t, tt.tally, rep.Tally)
			assert.Equal(t, tt.summary, rep.Summary)
			assert.Equal(t, tt.coverage, rep.Coverage)
		})
	}
}

func TestTestTally_String(t *testing.T) {
	assert.Equal(t, "1 passed", TestTally{Passed: 1}.String())
	assert.Equal(t, "2 passed, 1 failed", TestTally{Passed: 2, Failed: 1}.String())
	assert.Equal(t, NoTestsText, TestTally{}.String())
	assert.Equal(t, 4, TestTally{Passed: 1, Failed: 1, Errors: 1, Skipped: 1}.Total())
}

func TestParseCorrectedBlocks(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		blocks        []CorrectedBlock
		narrativeHas  []string
		narrativeLack []string
	}{
		{
			name: "fenced block with bracketed path",
			input: "The divide function fails on zero.\n" +
				"--- START CORRECTED CODE: [calc.py] ---\n" +
				"```python\n" +
				"def divide(a, b):\n" +
				"    if b == 0:\n" +
				"        raise ValueError(\"b must not be zero\")\n" +
				"    return a / b\n" +
				"```\n" +
				"--- END CORRECTED CODE: [calc.py] ---\n" +
				"Otherwise fine.",
			blocks: []CorrectedBlock{{
				Path: "calc.py",
				Code: "def divide(a, b):\n    if b == 0:\n        raise ValueError(\"b must not be zero\")\n    return a / b\n",
			}},
			narrativeHas:  []string{"The divide function fails on zero.", "Otherwise fine."},
			narrativeLack: []string{"def divide"},
		},
		{
			name: "case and whitespace tolerant, no fence",
			input: "  ----  start corrected code:   pkg/util.py  ----  \n" +
				"X = 1\n" +
				"-- End Corrected Code: pkg/util.py --",
			blocks: []CorrectedBlock{{Path: "pkg/util.py", Code: "X = 1\n"}},
		},
		{
			name: "two blocks",
			input: "--- START CORRECTED CODE: a.py ---\nA = 1\n--- END CORRECTED CODE: a.py ---\n" +
				"between\n" +
				"--- START CORRECTED CODE: `b.py` ---\nB = 2\n--- END CORRECTED CODE: `b.py` ---",
			blocks:       []CorrectedBlock{{Path: "a.py", Code: "A = 1\n"}, {Path: "b.py", Code: "B = 2\n"}},
			narrativeHas: []string{"between"},
		},
		{
			name:         "unterminated block is narrative",
			input:        "intro\n--- START CORRECTED CODE: calc.py ---\ndef f(): pass",
			narrativeHas: []string{"intro", "START CORRECTED CODE", "def f(): pass"},
		},
		{
			name:         "mismatched end path is narrative",
			input:        "--- START CORRECTED CODE: calc.py ---\nX = 1\n--- END CORRECTED CODE: other.py ---",
			narrativeHas: []string{"X = 1", "other.py"},
		},
		{
			name: "nested start keeps the inner block",
			input: "--- START CORRECTED CODE: a.py ---\nlost\n" +
				"--- START CORRECTED CODE: b.py ---\nB = 2\n--- END CORRECTED CODE: b.py ---",
			blocks:       []CorrectedBlock{{Path: "b.py", Code: "B = 2\n"}},
			narrativeHas: []string{"lost", "a.py"},
		},
		{
			name:         "stray end marker",
			input:        "--- END CORRECTED CODE: a.py ---\nno changes needed",
			narrativeHas: []string{"no changes needed"},
		},
		{
			name:  "empty",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := ParseCorrectedBlocks(tt.input)
			assert.Equal(t, tt.blocks, parsed.Blocks)
			for _, s := range tt.narrativeHas {
				assert.Contains(t, parsed.Narrative, s)
			}
			for _, s := range tt.narrativeLack {
				assert.NotContains(t, parsed.Narrative, s)
			}
		})
	}
}

func TestCorrectedBlock_MatchesFile(t *testing.T) {
	files := FileSet{{Path: "src/calc.py"}, {Path: "app.py"}}

	p, ok := CorrectedBlock{Path: "src/calc.py"}.MatchesFile(files)
	assert.True(t, ok)
	assert.Equal(t, "src/calc.py", p)

	p, ok = CorrectedBlock{Path: "calc.py"}.MatchesFile(files)
	assert.True(t, ok, "base name matches")
	assert.Equal(t, "src/calc.py", p)

	_, ok = CorrectedBlock{Path: "other/calc.py"}.MatchesFile(files)
	assert.False(t, ok)
}

func TestExtractScript(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
		ok     bool
	}{
		{
			name:   "python fence",
			output: "Here you go:\n```python\nimport pytest\n\ndef test_a():\n    assert True\n```\nDone.",
			want:   "import pytest\n\ndef test_a():\n    assert True\n",
			ok:     true,
		},
		{
			name:   "first python fence wins",
			output: "```python\ndef test_one(): pass\n```\n```python\ndef test_two(): pass\n```",
			want:   "def test_one(): pass\n",
			ok:     true,
		},
		{
			name:   "untagged fence with tests",
			output: "```\ndef test_a():\n    assert 1\n```",
			want:   "def test_a():\n    assert 1\n",
			ok:     true,
		},
		{
			name:   "bare script",
			output: "import pytest\n\ndef test_a():\n    assert 1",
			want:   "import pytest\n\ndef test_a():\n    assert 1\n",
			ok:     true,
		},
		{
			name:   "prose only",
			output: "I could not write tests for this code.",
		},
		{
			name:   "fence without tests",
			output: "```bash\npip install pytest\n```",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractScript(tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStripModuleImports(t *testing.T) {
	modules := reviewedModules([]CorrectedBlock{{Path: "calc.py"}, {Path: "pkg/util.py"}})
	assert.Equal(t, []string{"calc", "pkg.util", "util"}, modules)

	script := "import pytest\nimport calc\nfrom calc import divide\nimport calculator\nfrom pkg.util import helper\nimport os, calc\n"
	out, removed := stripModuleImports(script, modules)

	assert.Equal(t, []string{"import calc", "from calc import divide", "from pkg.util import helper"}, removed)
	assert.Contains(t, out, "import pytest\n")
	assert.Contains(t, out, "import calculator\n", "prefix of another module is kept")
	assert.Contains(t, out, "# removed by autodevops: import calc\n")
}

func TestNoOpScript(t *testing.T) {
	script := NoOpScript("nothing to test")
	assert.True(t, IsNoOpScript(script))
	assert.NotContains(t, script, "def test_")
	assert.False(t, IsNoOpScript("import pytest\n"))
}

func TestFileSet_RoundTrip(t *testing.T) {
	fs := NewFileSet([]gateway.File{{Path: "b.py", Content: "B"}, {Path: "a.py", Content: "A"}, {Path: "b.py", Content: "dup"}})
	require.Len(t, fs, 2)

	text, err := fs.Encode()
	require.NoError(t, err)
	back, err := DecodeFileSet(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py", "a.py"}, back.Paths())

	empty, err := FileSet(nil).Encode()
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	_, err = DecodeFileSet("not json")
	assert.Error(t, err)
}

func TestFormatLint(t *testing.T) {
	finding := LintFinding{Path: "calc.py", Line: 1, Code: "F401", Message: "`os` imported but unused"}
	tests := []struct {
		name     string
		findings []LintFinding
		unlinted []string
		total    int
		want     string
	}{
		{"clean", nil, nil, 1, "No linter issues found.\n"},
		{"findings", []LintFinding{finding}, nil, 1, "- " + finding.String() + "\n"},
		{"nothing linted", nil, []string{"calc.py"}, 1, "Lint incomplete: linter unavailable for calc.py.\n"},
		{"some linted", nil, []string{"util.py"}, 2, "Lint incomplete: linter unavailable for util.py.\nNo linter issues found in the files that were linted.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLint(tt.findings, tt.unlinted, tt.total))
		})
	}
}
