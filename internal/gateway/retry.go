package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
)

// RetryConfig configures retries for read-only GitHub API calls.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryOperation retries a read-only GitHub API operation with exponential
// backoff, honoring the rate limit reset time when GitHub provides one.
// Writes must not go through here: a retried POST can post twice.
func retryOperation(ctx context.Context, cfg RetryConfig, logger *logging.Logger, op string, operation func() (*github.Response, error)) (*github.Response, error) {
	cfg.ApplyDefaults()

	var (
		lastErr  error
		lastResp *github.Response
	)
	backoff := cfg.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				logger.Info(ctx, "GitHub API operation recovered after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return resp, nil
		}
		lastErr, lastResp = err, resp

		if !isRetryable(resp) || ctx.Err() != nil {
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimited(resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
		}
		logger.Info(ctx, "retrying GitHub API operation",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return resp, fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	logger.Warn(ctx, "GitHub API operation failed after retries",
		zap.String("operation", op),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Int("status_code", statusCode(lastResp)),
		zap.Error(lastErr),
	)
	return lastResp, fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, lastErr)
}

// isRetryable reports whether a failed call may succeed if repeated.
// Transport errors without a response are retried.
func isRetryable(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return true
	}
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// secondary rate limits arrive as 403 with rate headers
		return isRateLimited(resp)
	case code >= 500:
		return true
	default:
		return false
	}
}

func isRateLimited(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
}

func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp.Rate.Reset.IsZero() {
		return maxBackoff
	}
	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
