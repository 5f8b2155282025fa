package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/telemetry"
)

// FailurePolicy decides what a degraded artifact does to the run.
type FailurePolicy string

const (
	// FailuresDegrade records the degradation and continues (PartialFailure).
	FailuresDegrade FailurePolicy = "degrade"
	// FailuresFatal aborts the run on the first degraded artifact.
	FailuresFatal FailurePolicy = "fatal"
)

const defaultMaxParallel = 2

// Orchestrator executes the stage graph for one pull request at a time.
// Execute may be called concurrently; runs share no mutable state.
type Orchestrator struct {
	graph       *Graph
	publisher   Publisher
	maxParallel int
	policy      FailurePolicy
	logger      *logging.Logger
	telemetry   *telemetry.Telemetry
	tracer      trace.Tracer
	metrics     *metrics
	newID       func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTelemetry records spans and metrics through t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.telemetry = t }
}

// WithMaxParallel bounds how many stages of one wave run at once.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithFailurePolicy sets the tool-failure policy.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.policy = p
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// New builds an orchestrator over the given stages.
func New(stages []Stage, publisher Publisher, opts ...Option) (*Orchestrator, error) {
	if publisher == nil {
		return nil, fmt.Errorf("%w: publisher is required", ErrInvalidGraph)
	}
	graph, err := NewGraph(stages...)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		graph:       graph,
		publisher:   publisher,
		maxParallel: defaultMaxParallel,
		policy:      FailuresDegrade,
		logger:      logging.NewNop(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	switch o.policy {
	case FailuresDegrade, FailuresFatal:
	default:
		return nil, fmt.Errorf("unknown failure policy %q", o.policy)
	}

	o.logger = o.logger.Named("pipeline")
	o.tracer = o.telemetry.Tracer(instrumentationName)
	o.metrics, err = newMetrics(o.telemetry.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Graph returns the validated stage graph.
func (o *Orchestrator) Graph() *Graph { return o.graph }

// ExecuteURL parses a pull request URL and executes the run. A malformed URL
// yields a Fatal run with kind InvalidReference before any stage runs.
func (o *Orchestrator) ExecuteURL(ctx context.Context, rawURL string) *Run {
	ref, err := gateway.ParseReference(rawURL)
	if err != nil {
		run := newRun(o.newID(), gateway.Reference{}, o.graph.Order())
		run.StartedAt = time.Now()
		run.finish(OutcomeFatal, &StageError{
			Stage:    StageFetch,
			Kind:     KindInvalidReference,
			Severity: SeverityCritical,
			Err:      err,
		})
		o.logger.Error(ctx, "invalid pull request reference", zap.String("url", rawURL), zap.Error(err))
		o.metrics.recordRun(ctx, run.Outcome, 0)
		return run
	}
	return o.Execute(ctx, ref)
}

// stageResult is what one stage goroutine hands back to the orchestrator.
type stageResult struct {
	id       StageID
	artifact Artifact
	err      *StageError
}

// Execute runs the graph against target, publishes the report, and returns
// the finished run. It never returns a run in a non-terminal state.
func (o *Orchestrator) Execute(ctx context.Context, target gateway.Reference) *Run {
	run := newRun(o.newID(), target, o.graph.Order())
	run.StartedAt = time.Now()
	run.State = StateRunning

	ctx = logging.WithRunID(ctx, run.ID)
	ctx = logging.WithPullRequest(ctx, target.String())
	ctx = logging.WithLogger(ctx, o.logger)

	ctx, span := o.tracer.Start(ctx, "autodevops.pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("pr.ref", target.String()),
	))
	defer span.End()

	o.logger.Info(ctx, "pipeline run started", zap.Strings("order", stageNames(run.Order)))

	if fatal := o.runStages(ctx, run); fatal != nil {
		o.abort(ctx, span, run, fatal)
		return run
	}

	outcome := OutcomeSuccess
	if degraded := run.Degraded(); len(degraded) > 0 {
		outcome = OutcomePartialFailure
		o.logger.Warn(ctx, "run completed with degraded stages", zap.Strings("stages", stageNames(degraded)))
	}

	run.Report = o.publisher.Format(run.Artifacts)
	if err := o.publish(ctx, run); err != nil {
		o.abort(ctx, span, run, &StageError{
			Stage:    StageReport,
			Kind:     KindPublish,
			Severity: SeverityCritical,
			Err:      err,
		})
		return run
	}

	run.Published = true
	run.finish(outcome, nil)
	span.SetAttributes(attribute.String("outcome", string(run.Outcome)))
	o.metrics.recordRun(ctx, run.Outcome, run.Duration())
	o.logger.Info(ctx, "pipeline run completed",
		zap.String("outcome", string(run.Outcome)),
		zap.Duration("duration", run.Duration()),
	)
	return run
}

// runStages schedules waves of ready stages until the graph is exhausted or a
// stage fails. Only this goroutine writes run.Artifacts.
func (o *Orchestrator) runStages(ctx context.Context, run *Run) *StageError {
	done := make(map[StageID]bool, len(run.Order))

	for {
		if err := ctx.Err(); err != nil {
			return NewStageError(o.nextStage(done), err)
		}

		ready := o.graph.Ready(done)
		if len(ready) == 0 {
			return nil
		}

		results := make([]stageResult, len(ready))
		var g errgroup.Group
		g.SetLimit(o.maxParallel)
		for i, id := range ready {
			in := scopedInputs(run.Target, o.graph.Requires(id), run.Artifacts)
			g.Go(func() error {
				results[i] = o.runStage(ctx, id, in)
				return nil
			})
		}
		_ = g.Wait()

		var fatal *StageError
		for _, res := range results {
			if res.err != nil {
				if fatal == nil {
					fatal = res.err
				}
				continue
			}
			run.Artifacts[res.id] = res.artifact
			done[res.id] = true

			if res.artifact.Degraded && o.policy == FailuresFatal && fatal == nil {
				fatal = &StageError{
					Stage:    res.id,
					Kind:     degradedKind(res.artifact),
					Severity: SeverityCritical,
					Err:      fmt.Errorf("%w: %s", ErrDegraded, strings.Join(res.artifact.Notes, "; ")),
				}
			}
		}
		if fatal != nil {
			return fatal
		}
	}
}

// runStage executes one stage with its own span, logs and metrics.
func (o *Orchestrator) runStage(ctx context.Context, id StageID, in Inputs) (res stageResult) {
	res.id = id
	stage, _ := o.graph.Stage(id)

	ctx = logging.WithStage(ctx, string(id))
	ctx, span := o.tracer.Start(ctx, "autodevops.stage."+string(id),
		trace.WithAttributes(attribute.String("stage", string(id))))
	defer span.End()

	start := time.Now()
	o.logger.Info(ctx, "stage started")

	defer func() {
		if p := recover(); p != nil {
			res.err = &StageError{Stage: id, Kind: KindStage, Severity: SeverityCritical, Err: fmt.Errorf("panic: %v", p)}
		}

		status := "ok"
		switch {
		case res.err != nil:
			status = "failed"
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
			o.logger.Error(ctx, "stage failed",
				zap.String("kind", string(res.err.Kind)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(res.err.Err),
			)
		case res.artifact.Degraded:
			status = "degraded"
			span.SetAttributes(attribute.Bool("degraded", true))
			o.logger.Warn(ctx, "stage degraded",
				zap.Strings("notes", res.artifact.Notes),
				zap.Duration("duration", time.Since(start)),
			)
		default:
			o.logger.Info(ctx, "stage completed", zap.Duration("duration", time.Since(start)))
		}
		o.metrics.recordStage(ctx, id, status, time.Since(start))
	}()

	artifact, err := stage.Run(ctx, in)
	if err != nil {
		res.err = NewStageError(id, err)
		return res
	}
	artifact.Stage = id
	res.artifact = artifact
	return res
}

func (o *Orchestrator) publish(ctx context.Context, run *Run) error {
	ctx = logging.WithStage(ctx, string(StageReport))
	ctx, span := o.tracer.Start(ctx, "autodevops.stage."+string(StageReport))
	defer span.End()

	start := time.Now()
	if err := o.publisher.Publish(ctx, run.Target, run.Report); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.recordStage(ctx, StageReport, "failed", time.Since(start))
		return err
	}
	o.metrics.recordStage(ctx, StageReport, "ok", time.Since(start))
	o.logger.Info(ctx, "report published", zap.Int("bytes", len(run.Report)))
	return nil
}

func (o *Orchestrator) abort(ctx context.Context, span trace.Span, run *Run, err *StageError) {
	run.finish(OutcomeFatal, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String("outcome", string(run.Outcome)),
		attribute.String("failed_stage", string(err.Stage)),
	)
	o.metrics.recordRun(ctx, run.Outcome, run.Duration())

	fields := []zap.Field{
		zap.String("failed_stage", string(err.Stage)),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err),
	}
	if run.Report != "" {
		// The analysis finished; keep the undelivered report in the log.
		fields = append(fields, zap.String("report", run.Report))
	}
	o.logger.Error(ctx, "pipeline run aborted", fields...)
}

// nextStage names the first stage that has not run, for cancellation errors.
func (o *Orchestrator) nextStage(done map[StageID]bool) StageID {
	if ready := o.graph.Ready(done); len(ready) > 0 {
		return ready[0]
	}
	return StageReport
}

func degradedKind(a Artifact) Kind {
	for _, n := range a.Notes {
		if strings.Contains(n, "timed out") {
			return KindToolTimeout
		}
	}
	return KindToolUnavailable
}

func stageNames(ids []StageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
