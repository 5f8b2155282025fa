// Package secrets detects and redacts credentials in source files and report
// text using the gitleaks rule set.
//
// SecurityAudit surfaces detections as HIGH severity findings. Review and
// TestGeneration redact their prompts before they reach the reasoning
// service, and the report publisher redacts its comment body so a secret
// echoed by a tool or by the model is never posted to the pull request.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
