package stages

import (
	"path"
	"regexp"
	"strings"
)

// Corrected code blocks in review output follow this grammar:
//
//	--- START CORRECTED CODE: <path> ---
//	```python            (optional)
//	<code>
//	```                  (optional)
//	--- END CORRECTED CODE: <path> ---
//
// Markers are case-insensitive, tolerate extra whitespace and dashes, and the
// path may be wrapped in [brackets], quotes or backticks. Anything that does
// not complete the grammar is narrative.
var (
	startMarker = regexp.MustCompile(`(?i)^\s*-{2,}\s*START\s+CORRECTED\s+CODE\s*:?\s*(.*?)\s*-{2,}\s*$`)
	endMarker   = regexp.MustCompile(`(?i)^\s*-{2,}\s*END\s+CORRECTED\s+CODE\s*:?\s*(.*?)\s*-{2,}\s*$`)
	fenceLine   = regexp.MustCompile("^\\s*```")
)

// CorrectedBlock is the corrected content of one file.
type CorrectedBlock struct {
	Path string
	Code string
}

// ParsedReview splits review output into corrected blocks and narrative.
type ParsedReview struct {
	Blocks []CorrectedBlock
	// Narrative is every line outside a well-formed block.
	Narrative string
}

// ParseCorrectedBlocks parses review output. It never fails: unterminated
// blocks, mismatched end markers and nested starts become narrative.
func ParseCorrectedBlocks(text string) ParsedReview {
	var (
		parsed    ParsedReview
		narrative []string
		open      bool
		openPath  string
		pending   []string // raw lines of the open block, start marker included
	)

	flushPending := func() {
		narrative = append(narrative, pending...)
		pending = nil
		open = false
	}

	for _, line := range strings.Split(text, "\n") {
		if m := startMarker.FindStringSubmatch(line); m != nil {
			if open {
				// Nested start: the previous block never closed.
				flushPending()
			}
			open = true
			openPath = normalizePath(m[1])
			pending = []string{line}
			continue
		}

		if m := endMarker.FindStringSubmatch(line); m != nil {
			if !open {
				narrative = append(narrative, line)
				continue
			}
			endPath := normalizePath(m[1])
			if endPath != "" && !strings.EqualFold(endPath, openPath) {
				pending = append(pending, line)
				flushPending()
				continue
			}
			parsed.Blocks = append(parsed.Blocks, CorrectedBlock{
				Path: openPath,
				Code: stripFences(pending[1:]),
			})
			pending = nil
			open = false
			continue
		}

		if open {
			pending = append(pending, line)
		} else {
			narrative = append(narrative, line)
		}
	}
	if open {
		flushPending()
	}

	parsed.Narrative = strings.TrimSpace(strings.Join(narrative, "\n"))
	return parsed
}

// normalizePath strips decoration around a marker path.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = strings.Trim(p, "[]`'\" ")
	p = strings.TrimPrefix(p, "./")
	return p
}

// stripFences drops an optional opening ``` line and closing ``` line.
func stripFences(lines []string) string {
	first, last := 0, len(lines)-1
	for first <= last && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	for last >= first && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if first <= last && fenceLine.MatchString(lines[first]) {
		first++
	}
	if last >= first && strings.TrimSpace(lines[last]) == "```" {
		last--
	}
	if first > last {
		return ""
	}
	return strings.Join(lines[first:last+1], "\n") + "\n"
}

// MatchesFile reports whether a block's path names a reviewed file. Models
// sometimes drop directories, so a bare file name matches by base name.
func (b CorrectedBlock) MatchesFile(files FileSet) (string, bool) {
	if _, ok := files.Lookup(b.Path); ok {
		return b.Path, true
	}
	if strings.Contains(b.Path, "/") {
		return "", false
	}
	for _, f := range files {
		if strings.EqualFold(path.Base(f.Path), b.Path) {
			return f.Path, true
		}
	}
	return "", false
}
