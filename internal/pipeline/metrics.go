package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/autodevops/internal/pipeline"

type metrics struct {
	stageDuration metric.Float64Histogram
	runs          metric.Int64Counter
	runDuration   metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.stageDuration, err = meter.Float64Histogram(
		"autodevops.stage.duration",
		metric.WithDescription("Duration of pipeline stage executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage duration histogram: %w", err)
	}

	m.runs, err = meter.Int64Counter(
		"autodevops.runs",
		metric.WithDescription("Pipeline runs by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	m.runDuration, err = meter.Float64Histogram(
		"autodevops.run.duration",
		metric.WithDescription("Duration of pipeline runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}
	return m, nil
}

func (m *metrics) recordStage(ctx context.Context, id StageID, status string, d time.Duration) {
	m.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", string(id)),
		attribute.String("status", status),
	))
}

func (m *metrics) recordRun(ctx context.Context, outcome Outcome, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}
