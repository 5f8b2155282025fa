package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run.id", id))
	}
	if pr := PullRequestFromContext(ctx); pr != "" {
		fields = append(fields, zap.String("pr.ref", pr))
	}
	if stage := StageFromContext(ctx); stage != "" {
		fields = append(fields, zap.String("stage", stage))
	}

	return fields
}

type runIDCtxKey struct{}
type pullRequestCtxKey struct{}
type stageCtxKey struct{}
type loggerCtxKey struct{}

// WithRunID tags the context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDCtxKey{}, id)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDCtxKey{}).(string)
	return id
}

// WithPullRequest tags the context with a short pull-request reference (owner/repo#n).
func WithPullRequest(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, pullRequestCtxKey{}, ref)
}

// PullRequestFromContext returns the pull-request reference, or "".
func PullRequestFromContext(ctx context.Context) string {
	ref, _ := ctx.Value(pullRequestCtxKey{}).(string)
	return ref
}

// WithStage tags the context with the executing stage.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageCtxKey{}, stage)
}

// StageFromContext returns the executing stage, or "".
func StageFromContext(ctx context.Context) string {
	stage, _ := ctx.Value(stageCtxKey{}).(string)
	return stage
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok && l != nil {
		return l
	}
	return NewNop()
}
