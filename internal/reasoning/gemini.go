package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/autodevops/internal/config"
	"github.com/fyrsmithlabs/autodevops/internal/logging"
)

const (
	// DefaultModel is the reasoning-tier Gemini model.
	DefaultModel = "gemini-2.5-pro"

	defaultTimeout   = 2 * time.Minute
	defaultRateLimit = 1.0
	defaultBurst     = 2
)

// GeminiConfig configures a GeminiInvoker.
type GeminiConfig struct {
	APIKey         config.Secret
	Model          string
	BaseURL        string // empty uses the public endpoint
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// GeminiInvoker implements Invoker on the Gemini API.
type GeminiInvoker struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewGeminiInvoker creates an invoker. The API key is required.
func NewGeminiInvoker(ctx context.Context, cfg GeminiConfig, logger *logging.Logger) (*GeminiInvoker, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY", config.ErrMissingCredential)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create client: %v", ErrService, err)
	}

	return &GeminiInvoker{
		client:  client,
		model:   model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.Named("reasoning"),
	}, nil
}

// Model returns the configured model name.
func (g *GeminiInvoker) Model() string { return g.model }

// Invoke renders the prompt and returns the model's text.
func (g *GeminiInvoker) Invoke(ctx context.Context, p Prompt) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		// A canceled context is not a service failure.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: rate limiter: %v", ErrService, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text := p.Render()
	g.logger.Trace(ctx, "reasoning prompt", zap.String("role", p.Role), zap.String("prompt", text))

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(callCtx,
		g.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		nil,
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: request timed out after %s", ErrService, g.timeout)
		}
		return "", fmt.Errorf("%w: %s", ErrService, describe(err))
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", ErrService, resp.PromptFeedback.BlockReason)
	}
	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("%w: empty response", ErrService)
	}

	g.logger.Debug(ctx, "reasoning call completed",
		zap.String("role", p.Role),
		zap.String("model", g.model),
		zap.Int("prompt_bytes", len(text)),
		zap.Int("response_bytes", len(out)),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

// ModelInfo describes one model available to the configured credential.
type ModelInfo struct {
	Name        string
	DisplayName string
	Actions     []string
}

// ListModels lists the models the API key can use.
func (g *GeminiInvoker) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var models []ModelInfo
	for m, err := range g.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("%w: list models: %s", ErrService, describe(err))
		}
		models = append(models, ModelInfo{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Actions:     m.SupportedActions,
		})
	}
	return models, nil
}

// describe renders API errors without the raw response body, which can be large.
func describe(err error) string {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" && len(apiErr.Message) < 512 {
			return fmt.Sprintf("status %d: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Sprintf("status %d", apiErr.Code)
	}
	return err.Error()
}
