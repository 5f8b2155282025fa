// Package pipeline runs the pull request review stages as a dependency graph.
//
// # Overview
//
// A run is a fixed DAG of stages. Each stage declares the stages it requires
// and produces exactly one Artifact. The Orchestrator schedules every stage
// whose requirements are met, runs stages of the same wave concurrently, and
// joins their artifacts into the run after the wave completes. Stages only
// ever see the artifacts they declared.
//
//	fetch ──┬── review ─────────┬── test_generation ── test_execution
//	        └── security_audit ─┘
//
// After the analysis stages the Publisher formats one report and publishes it
// exactly once.
//
// # Failure Semantics
//
// Tool failures inside a stage do not fail the stage. The stage returns a
// degraded artifact and the run ends as PartialFailure. A stage error aborts
// the run as Fatal: no further wave is scheduled and nothing is published,
// while stages already in flight are allowed to finish. A publish failure is
// also Fatal, but Run.Report still carries the formatted report.
//
// # State Machine
//
//	NotStarted → Running → Completed(Success | PartialFailure)
//	                     → Aborted(Fatal)
//
// The outcome is set exactly once, when the run leaves Running.
package pipeline
