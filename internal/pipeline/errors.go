package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

var (
	// ErrInvalidGraph is returned when stages do not form a valid DAG.
	ErrInvalidGraph = errors.New("invalid stage graph")

	// ErrDegraded aborts a run under the fatal tool-failure policy.
	ErrDegraded = errors.New("stage produced a degraded artifact")
)

// Kind classifies a run failure.
type Kind string

const (
	KindConfiguration    Kind = "ConfigurationError"
	KindInvalidReference Kind = "InvalidReference"
	KindAuthentication   Kind = "AuthenticationError"
	KindNotFound         Kind = "NotFound"
	KindToolUnavailable  Kind = "ToolUnavailable"
	KindToolTimeout      Kind = "ToolTimeout"
	KindReasoning        Kind = "ReasoningServiceError"
	KindPublish          Kind = "PublishError"
	KindCanceled         Kind = "Canceled"
	KindStage            Kind = "StageError"
)

// Severity of a stage error.
type Severity string

const (
	// SeverityCritical aborts the run.
	SeverityCritical Severity = "critical"
	// SeverityHigh is recorded in the artifact and the run continues.
	SeverityHigh Severity = "high"
	// SeverityLow is only logged.
	SeverityLow Severity = "low"
)

// StageError is the failure that ended a run.
type StageError struct {
	Stage    StageID
	Kind     Kind
	Severity Severity
	Err      error
}

// Error implements error as "stage <id> failed: <reason>".
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

// Unwrap allows errors.Is and errors.As to reach the cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError creates a critical stage error, classifying err.
func NewStageError(stage StageID, err error) *StageError {
	return &StageError{Stage: stage, Kind: Classify(err), Severity: SeverityCritical, Err: err}
}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	var se *StageError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, reasoning.ErrService):
		return KindReasoning
	case errors.Is(err, gateway.ErrInvalidReference):
		return KindInvalidReference
	case errors.Is(err, gateway.ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, gateway.ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindStage
	}
}
