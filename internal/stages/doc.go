// Package stages implements the five review pipeline stages.
//
//   - Fetch reads the changed source files of the pull request.
//   - Review lints each file with ruff and asks the reasoning service for a
//     review with corrected code blocks.
//   - SecurityAudit scans each file with bandit and gitleaks and surfaces
//     MEDIUM and HIGH findings.
//   - TestGeneration turns the corrected code into one self-contained pytest
//     script.
//   - TestExecution runs that script with coverage.
//
// External tool failures never fail a stage; they produce a degraded
// artifact. Reasoning failures are returned as errors and abort the run.
// Model output is parsed with tolerant parsers that never fail on
// unexpected shape.
package stages
