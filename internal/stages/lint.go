package stages

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// LintFinding is one ruff diagnostic, tagged with the repository path.
type LintFinding struct {
	Path    string
	Line    int
	Code    string
	Message string
}

// String renders "calc.py:3 F401 `os` imported but unused".
func (f LintFinding) String() string {
	code := f.Code
	if code == "" {
		code = "E"
	}
	return fmt.Sprintf("%s:%d %s %s", f.Path, f.Line, code, f.Message)
}

type ruffDiagnostic struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Location struct {
		Row    int `json:"row"`
		Column int `json:"column"`
	} `json:"location"`
}

// parseRuff decodes ruff's JSON output. The sandbox file name is replaced by
// path, the file's location in the repository.
func parseRuff(stdout, path string) ([]LintFinding, error) {
	out := strings.TrimSpace(stdout)
	if out == "" {
		return nil, nil
	}

	var diags []ruffDiagnostic
	if err := json.Unmarshal([]byte(out), &diags); err != nil {
		return nil, fmt.Errorf("parse ruff output: %w", err)
	}

	findings := make([]LintFinding, 0, len(diags))
	for _, d := range diags {
		findings = append(findings, LintFinding{
			Path:    path,
			Line:    d.Location.Row,
			Code:    d.Code,
			Message: d.Message,
		})
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return findings, nil
}
