// Package config provides configuration loading for autodevops.
//
// Configuration is assembled once at startup from defaults, an optional YAML
// file, and the environment, and is then passed explicitly to every component
// that needs it. Nothing below cmd/ reads the environment directly.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPRURL is reviewed when neither PR_URL nor --pr is provided.
const DefaultPRURL = "https://github.com/D3vn4/AutoDevOps/pull/1"

// Tool failure policies.
const (
	ToolFailuresDegrade = "degrade"
	ToolFailuresFatal   = "fatal"
)

var (
	// ErrMissingCredential is returned when a required credential is absent.
	ErrMissingCredential = errors.New("missing required credential")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the complete autodevops configuration.
type Config struct {
	PRURL       string            `koanf:"pr_url"`
	Credentials CredentialsConfig `koanf:"credentials"`
	Reasoning   ReasoningConfig   `koanf:"reasoning"`
	Tools       ToolsConfig       `koanf:"tools"`
	Review      ReviewConfig      `koanf:"review"`
	Pipeline    PipelineConfig    `koanf:"pipeline"`
	Report      ReportConfig      `koanf:"report"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Webhook     WebhookConfig     `koanf:"webhook"`
}

// CredentialsConfig holds the two service credentials.
type CredentialsConfig struct {
	GoogleAPIKey Secret `koanf:"google_api_key"` // reasoning service (GOOGLE_API_KEY)
	GitHubToken  Secret `koanf:"github_token"`   // repository (PAT_COMMENT, then GITHUB_PAT)
}

// ReasoningConfig configures the Gemini invoker and the orchestrator's retry policy for it.
type ReasoningConfig struct {
	Model          string        `koanf:"model"`
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	RequestsPerSec float64       `koanf:"requests_per_sec"`
	Burst          int           `koanf:"burst"`
	MaxAttempts    int           `koanf:"max_attempts"` // 1 disables retries
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// ToolsConfig configures the sandboxed analysis tools.
type ToolsConfig struct {
	Python          string        `koanf:"python"`   // interpreter used for ruff, bandit and pytest
	WorkDir         string        `koanf:"work_dir"` // base for per-invocation directories, empty means os.TempDir
	LintTimeout     time.Duration `koanf:"lint_timeout"`
	SecurityTimeout time.Duration `koanf:"security_timeout"`
	TestTimeout     time.Duration `koanf:"test_timeout"`
}

// ReviewConfig controls which changed files are reviewed.
type ReviewConfig struct {
	Extensions []string `koanf:"extensions"`
}

// PipelineConfig controls the orchestrator.
type PipelineConfig struct {
	MaxParallel  int    `koanf:"max_parallel"`
	ToolFailures string `koanf:"tool_failures"` // degrade or fatal
}

// ReportConfig controls publishing.
type ReportConfig struct {
	UpdateExisting bool `koanf:"update_existing"` // edit the previous report comment instead of posting a new one
	DryRun         bool `koanf:"dry_run"`
}

// LoggingConfig selects the log level and encoder.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// WebhookConfig configures `autodevops serve`.
type WebhookConfig struct {
	Addr      string `koanf:"addr"`
	Secret    Secret `koanf:"secret"` // GITHUB_WEBHOOK_SECRET
	QueueSize int    `koanf:"queue_size"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.PRURL == "" {
		cfg.PRURL = DefaultPRURL
	}

	if cfg.Reasoning.Model == "" {
		cfg.Reasoning.Model = "gemini-2.5-pro"
	}
	if cfg.Reasoning.Timeout == 0 {
		cfg.Reasoning.Timeout = 2 * time.Minute
	}
	if cfg.Reasoning.RequestsPerSec == 0 {
		cfg.Reasoning.RequestsPerSec = 1
	}
	if cfg.Reasoning.Burst == 0 {
		cfg.Reasoning.Burst = 2
	}
	if cfg.Reasoning.MaxAttempts == 0 {
		cfg.Reasoning.MaxAttempts = 1
	}
	if cfg.Reasoning.InitialBackoff == 0 {
		cfg.Reasoning.InitialBackoff = 2 * time.Second
	}
	if cfg.Reasoning.MaxBackoff == 0 {
		cfg.Reasoning.MaxBackoff = 30 * time.Second
	}

	if cfg.Tools.Python == "" {
		cfg.Tools.Python = "python3"
	}
	if cfg.Tools.LintTimeout == 0 {
		cfg.Tools.LintTimeout = 30 * time.Second
	}
	if cfg.Tools.SecurityTimeout == 0 {
		cfg.Tools.SecurityTimeout = 30 * time.Second
	}
	if cfg.Tools.TestTimeout == 0 {
		cfg.Tools.TestTimeout = 60 * time.Second
	}

	if len(cfg.Review.Extensions) == 0 {
		cfg.Review.Extensions = []string{".py"}
	}

	if cfg.Pipeline.MaxParallel == 0 {
		cfg.Pipeline.MaxParallel = 2
	}
	if cfg.Pipeline.ToolFailures == "" {
		cfg.Pipeline.ToolFailures = ToolFailuresDegrade
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "autodevops"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Webhook.Addr == "" {
		cfg.Webhook.Addr = ":3000"
	}
	if cfg.Webhook.QueueSize == 0 {
		cfg.Webhook.QueueSize = 16
	}
}

// Validate validates the configuration.
//
// Credentials are not checked here; commands that need them call
// RequireCredentials so that `autodevops models` works without a GitHub token.
func (c *Config) Validate() error {
	if c.Reasoning.MaxAttempts < 1 {
		return fmt.Errorf("%w: reasoning.max_attempts must be >= 1, got %d", ErrInvalidConfig, c.Reasoning.MaxAttempts)
	}
	if c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("%w: reasoning.timeout must be positive", ErrInvalidConfig)
	}
	if c.Reasoning.RequestsPerSec < 0 {
		return fmt.Errorf("%w: reasoning.requests_per_sec cannot be negative", ErrInvalidConfig)
	}
	if c.Tools.LintTimeout <= 0 || c.Tools.SecurityTimeout <= 0 || c.Tools.TestTimeout <= 0 {
		return fmt.Errorf("%w: tool timeouts must be positive", ErrInvalidConfig)
	}
	for _, ext := range c.Review.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: review extension %q must start with '.'", ErrInvalidConfig, ext)
		}
	}
	if c.Pipeline.MaxParallel < 1 {
		return fmt.Errorf("%w: pipeline.max_parallel must be >= 1", ErrInvalidConfig)
	}
	switch c.Pipeline.ToolFailures {
	case ToolFailuresDegrade, ToolFailuresFatal:
	default:
		return fmt.Errorf("%w: pipeline.tool_failures must be %q or %q, got %q",
			ErrInvalidConfig, ToolFailuresDegrade, ToolFailuresFatal, c.Pipeline.ToolFailures)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("%w: telemetry.protocol must be grpc or http, got %q", ErrInvalidConfig, c.Telemetry.Protocol)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("%w: telemetry.sample_rate must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// RequireCredentials fails with ErrMissingCredential naming the first absent credential.
func (c *Config) RequireCredentials(reasoning, repository bool) error {
	if reasoning && !c.Credentials.GoogleAPIKey.IsSet() {
		return fmt.Errorf("%w: GOOGLE_API_KEY", ErrMissingCredential)
	}
	if repository && !c.Credentials.GitHubToken.IsSet() {
		return fmt.Errorf("%w: PAT_COMMENT or GITHUB_PAT", ErrMissingCredential)
	}
	return nil
}
