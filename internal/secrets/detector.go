package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string // gitleaks rule ID, e.g. "github-pat"
	Description string
	Line        int // 1-based line of the first occurrence
	Match       string
}

// Scanner detects secrets with the default gitleaks rules plus an allowlist.
// It is safe for concurrent use: the detector is built once and DetectString
// keeps its findings per call.
type Scanner struct {
	allow    *Allowlist
	paths    []*regexp.Regexp
	detector *detect.Detector
}

// NewScanner creates a scanner. A nil allowlist allows nothing.
func NewScanner(allow *Allowlist) (*Scanner, error) {
	if allow == nil {
		allow = &Allowlist{}
	}
	if err := allow.validate(); err != nil {
		return nil, err
	}
	s := &Scanner{allow: allow}
	for _, p := range allow.Paths {
		s.paths = append(s.paths, regexp.MustCompile(p))
	}

	// NewDetectorDefaultConfig parses through the global viper instance.
	detectorMu.Lock()
	detector, err := detect.NewDetectorDefaultConfig()
	detectorMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create gitleaks detector: %w", err)
	}
	s.apply(&detector.Config)
	s.detector = detector
	return s, nil
}

var detectorMu sync.Mutex

// Detect scans content. path is only used for path allowlisting and may be empty.
func (s *Scanner) Detect(path, content string) ([]Finding, error) {
	if content == "" || s.pathAllowed(path) {
		return nil, nil
	}

	raw := s.detector.DetectString(content)
	findings := make([]Finding, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		key := f.RuleID + "\x00" + f.Secret
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        lineOf(content, f.Secret),
			Match:       f.Secret,
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Line != findings[j].Line {
			return findings[i].Line < findings[j].Line
		}
		return findings[i].RuleID < findings[j].RuleID
	})
	return findings, nil
}

// Redact replaces every detected secret with [REDACTED:<rule>].
func (s *Scanner) Redact(content string) (string, []Finding, error) {
	findings, err := s.Detect("", content)
	if err != nil {
		return "", nil, err
	}
	if len(findings) == 0 {
		return content, nil, nil
	}

	// Longest first so a secret containing another is replaced whole.
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Match) > len(ordered[j].Match)
	})
	for _, f := range ordered {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings, nil
}

func (s *Scanner) pathAllowed(path string) bool {
	if path == "" {
		return false
	}
	for _, re := range s.paths {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (s *Scanner) apply(cfg *gitleaksconfig.Config) {
	if len(s.allow.Regexes) == 0 {
		return
	}
	global := &gitleaksconfig.Allowlist{Description: "autodevops allowlist"}
	for _, pattern := range s.allow.Regexes {
		re := regexp.MustCompile(pattern) // validated by NewScanner
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}

func lineOf(content, match string) int {
	idx := strings.Index(content, match)
	if idx < 0 {
		return 0
	}
	return strings.Count(content[:idx], "\n") + 1
}

var defaultScanner = sync.OnceValues(func() (*Scanner, error) { return NewScanner(nil) })

// Detect scans content with the default rules and no allowlist.
func Detect(content string) ([]Finding, error) {
	s, err := defaultScanner()
	if err != nil {
		return nil, err
	}
	return s.Detect("", content)
}

// Redact redacts content with the default rules and no allowlist.
func Redact(content string) (string, error) {
	s, err := defaultScanner()
	if err != nil {
		return "", err
	}
	out, _, err := s.Redact(content)
	return out, err
}
