package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/autodevops/internal/logging"
	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

// RetryPolicy retries reasoning calls that failed with reasoning.ErrService.
// MaxAttempts of 1 disables retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy makes a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
}

// Wrap returns an Invoker applying the policy to inv.
func (p RetryPolicy) Wrap(inv reasoning.Invoker, logger *logging.Logger) reasoning.Invoker {
	if p.MaxAttempts <= 1 {
		return inv
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &retryingInvoker{next: inv, policy: p, logger: logger}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

type retryingInvoker struct {
	next   reasoning.Invoker
	policy RetryPolicy
	logger *logging.Logger
}

func (r *retryingInvoker) Invoke(ctx context.Context, p reasoning.Prompt) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		out, err := r.next.Invoke(ctx, p)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, reasoning.ErrService) {
			return "", err
		}
		lastErr = err
		if attempt == r.policy.MaxAttempts {
			break
		}

		wait := r.policy.backoff(attempt)
		r.logger.Warn(ctx, "reasoning call failed, retrying",
			zap.String("role", p.Role),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}
