package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/gateway"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/pipeline"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
	"github.com/fyrsmithlabs/autodevops/internal/report"
	"github.com/fyrsmithlabs/autodevops/internal/sandbox"
	"github.com/fyrsmithlabs/autodevops/internal/secrets"
	"github.com/fyrsmithlabs/autodevops/internal/stages"
	"github.com/fyrsmithlabs/autodevops/internal/telemetry"
)

// app holds the process-wide infrastructure shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logCfg, err := loggingConfig(cfg.Logging)
	if err != nil {
		return nil, configError(err)
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, configError(fmt.Errorf("initializing logger: %w", err))
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, configError(err)
	}
	if derr := tel.Degraded(); derr != nil {
		logger.Warn(ctx, "telemetry export unavailable", zap.Error(derr))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func loggingConfig(c config.LoggingConfig) (*logging.Config, error) {
	cfg := logging.NewDefaultConfig()
	if c.Level != "" {
		level, err := logging.LevelFromString(c.Level)
		if err != nil {
			return nil, fmt.Errorf("%w: logging.level: %v", config.ErrInvalidConfig, err)
		}
		cfg.Level = level
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}

func telemetryConfig(c config.TelemetryConfig) *telemetry.Config {
	cfg := telemetry.NewDefaultConfig()
	cfg.Enabled = c.Enabled
	if c.Endpoint != "" {
		cfg.Endpoint = c.Endpoint
	}
	if c.Protocol != "" {
		cfg.Protocol = c.Protocol
	}
	cfg.Insecure = c.Insecure
	if c.ServiceName != "" {
		cfg.ServiceName = c.ServiceName
	}
	cfg.ServiceVersion = version
	cfg.SampleRate = c.SampleRate
	return cfg
}

func (a *app) invoker(ctx context.Context) (*reasoning.GeminiInvoker, error) {
	r := a.cfg.Reasoning
	return reasoning.NewGeminiInvoker(ctx, reasoning.GeminiConfig{
		APIKey:         a.cfg.Credentials.GoogleAPIKey,
		Model:          r.Model,
		BaseURL:        r.BaseURL,
		Timeout:        r.Timeout,
		RequestsPerSec: r.RequestsPerSec,
		Burst:          r.Burst,
	}, a.logger)
}

func (a *app) retryPolicy() pipeline.RetryPolicy {
	r := a.cfg.Reasoning
	return pipeline.RetryPolicy{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: r.InitialBackoff,
		MaxBackoff:     r.MaxBackoff,
	}
}

func (a *app) toolConfig() stages.ToolConfig {
	t := a.cfg.Tools
	return stages.ToolConfig{
		Python:          t.Python,
		LintTimeout:     t.LintTimeout,
		SecurityTimeout: t.SecurityTimeout,
		TestTimeout:     t.TestTimeout,
	}
}

// scanner loads the project and user gitleaks allowlists.
func (a *app) scanner() (*secrets.Scanner, error) {
	var userPath string
	if dir, err := os.UserConfigDir(); err == nil {
		userPath = filepath.Join(dir, "autodevops", "gitleaks.toml")
	}
	allow, err := secrets.LoadAllowlists(".", userPath)
	if err != nil {
		return nil, configError(err)
	}
	s, err := secrets.NewScanner(allow)
	if err != nil {
		return nil, configError(err)
	}
	return s, nil
}

// reviewer assembles the collaborators once and returns a function that
// executes one run per call, each with its own publisher.
type reviewer struct {
	app      *app
	repo     *gateway.GitHubGateway
	deps     stages.Dependencies
	scanner  *secrets.Scanner
	dryRunTo io.Writer
}

func (a *app) newReviewer(ctx context.Context, dryRunTo io.Writer) (*reviewer, error) {
	if err := a.cfg.RequireCredentials(true, true); err != nil {
		return nil, configError(err)
	}

	opts := []gateway.Option{gateway.WithLogger(a.logger)}
	if len(a.cfg.Review.Extensions) > 0 {
		opts = append(opts, gateway.WithExtensions(a.cfg.Review.Extensions...))
	}
	repo, err := gateway.NewGitHubGateway(ctx, a.cfg.Credentials.GitHubToken, opts...)
	if err != nil {
		return nil, configError(err)
	}

	inv, err := a.invoker(ctx)
	if err != nil {
		return nil, configError(err)
	}

	scanner, err := a.scanner()
	if err != nil {
		return nil, err
	}

	r := &reviewer{
		app:     a,
		repo:    repo,
		scanner: scanner,
		deps: stages.Dependencies{
			Files:   repo,
			Tools:   sandbox.NewRunner(a.cfg.Tools.WorkDir, a.logger),
			Invoker: a.retryPolicy().Wrap(inv, a.logger),
			Secrets: scanner,
			Config:  a.toolConfig(),
		},
		dryRunTo: dryRunTo,
	}

	// Surface graph or policy mistakes before the first run.
	if _, err := r.orchestrator(); err != nil {
		return nil, configError(err)
	}
	return r, nil
}

func (r *reviewer) orchestrator() (*pipeline.Orchestrator, error) {
	cfg := r.app.cfg
	publisher := report.NewPublisher(r.repo, report.Options{
		UpdateExisting: cfg.Report.UpdateExisting,
		DryRun:         cfg.Report.DryRun,
		Out:            r.dryRunTo,
		Scanner:        r.scanner,
	}, r.app.logger)

	return pipeline.New(stages.All(r.deps), publisher,
		pipeline.WithLogger(r.app.logger),
		pipeline.WithTelemetry(r.app.telemetry),
		pipeline.WithMaxParallel(cfg.Pipeline.MaxParallel),
		pipeline.WithFailurePolicy(pipeline.FailurePolicy(cfg.Pipeline.ToolFailures)),
	)
}

// Review executes one run for a pull request URL.
func (r *reviewer) Review(ctx context.Context, prURL string) *pipeline.Run {
	o, err := r.orchestrator()
	if err != nil {
		r.app.logger.Error(ctx, "cannot build pipeline", zap.Error(err))
		now := time.Now()
		return &pipeline.Run{
			State:       pipeline.StateAborted,
			Outcome:     pipeline.OutcomeFatal,
			FailedStage: pipeline.StageFetch,
			Err: &pipeline.StageError{
				Stage:    pipeline.StageFetch,
				Kind:     pipeline.KindConfiguration,
				Severity: pipeline.SeverityCritical,
				Err:      err,
			},
			StartedAt:  now,
			FinishedAt: now,
		}
	}
	return o.ExecuteURL(ctx, prURL)
}
