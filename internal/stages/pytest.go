package stages

import (
	"regexp"
	"strconv"
	"strings"
)

// pytest exit codes.
const (
	pytestOK             = 0
	pytestTestsFailed    = 1
	pytestNoTestsCollect = 5
)

var (
	tallyLine     = regexp.MustCompile(`(?m)^=*\s*(.*?\b(?:passed|failed|errors?|skipped|xfailed|xpassed|no tests ran)\b.*?) in [0-9.]+s.*$`)
	tallyCount    = regexp.MustCompile(`(\d+) (passed|failed|errors?|skipped|xfailed|xpassed|deselected|warnings?)`)
	coverageTotal = regexp.MustCompile(`(?m)^TOTAL\s+.*?(\d+(?:\.\d+)?)%\s*$`)
)

// TestTally counts pytest outcomes.
type TestTally struct {
	Passed  int
	Failed  int
	Errors  int
	Skipped int
}

// Total is the number of collected tests that ran.
func (t TestTally) Total() int { return t.Passed + t.Failed + t.Errors + t.Skipped }

// String renders the non-zero counts, "1 passed, 2 failed".
func (t TestTally) String() string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, strconv.Itoa(n)+" "+label)
		}
	}
	add(t.Passed, "passed")
	add(t.Failed, "failed")
	add(t.Errors, "errors")
	add(t.Skipped, "skipped")
	if len(parts) == 0 {
		return "0 tests collected"
	}
	return strings.Join(parts, ", ")
}

// TestReport is what TestExecution extracts from a pytest run.
type TestReport struct {
	Tally    TestTally
	Summary  string // the raw tally line, if found
	Coverage string // "87%", or "" when absent
}

// parsePytest extracts the final tally line and the coverage TOTAL line.
func parsePytest(output string) TestReport {
	var rep TestReport

	if m := tallyLine.FindAllStringSubmatch(output, -1); len(m) > 0 {
		rep.Summary = strings.TrimSpace(m[len(m)-1][1])
		for _, c := range tallyCount.FindAllStringSubmatch(rep.Summary, -1) {
			n, _ := strconv.Atoi(c[1])
			switch c[2] {
			case "passed", "xpassed":
				rep.Tally.Passed += n
			case "failed":
				rep.Tally.Failed += n
			case "error", "errors":
				rep.Tally.Errors += n
			case "skipped", "xfailed":
				rep.Tally.Skipped += n
			}
		}
	}

	if m := coverageTotal.FindAllStringSubmatch(output, -1); len(m) > 0 {
		rep.Coverage = m[len(m)-1][1] + "%"
	}
	return rep
}
