package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/autodevops/internal/reasoning"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestRetryPolicy_RetriesServiceErrors(t *testing.T) {
	s := reasoning.NewScripted().On("r",
		reasoning.Reply{Err: fmt.Errorf("%w: 503", reasoning.ErrService)},
		reasoning.Reply{Err: fmt.Errorf("%w: 503", reasoning.ErrService)},
		reasoning.Reply{Text: "ok"},
	)

	out, err := fastPolicy(3).Wrap(s, nil).Invoke(context.Background(), reasoning.Prompt{Role: "r"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, s.Calls(), 3)
}

func TestRetryPolicy_GivesUp(t *testing.T) {
	s := reasoning.NewScripted().On("r", reasoning.Reply{Err: fmt.Errorf("%w: down", reasoning.ErrService)})

	_, err := fastPolicy(2).Wrap(s, nil).Invoke(context.Background(), reasoning.Prompt{Role: "r"})
	assert.ErrorIs(t, err, reasoning.ErrService)
	assert.Len(t, s.Calls(), 2)
}

func TestRetryPolicy_DoesNotRetryOtherErrors(t *testing.T) {
	s := reasoning.NewScripted().On("r", reasoning.Reply{Err: errBoom})

	_, err := fastPolicy(5).Wrap(s, nil).Invoke(context.Background(), reasoning.Prompt{Role: "r"})
	assert.ErrorIs(t, err, errBoom)
	assert.Len(t, s.Calls(), 1)
}

func TestRetryPolicy_SingleAttemptIsPassthrough(t *testing.T) {
	s := reasoning.NewScripted()
	assert.Same(t, s, DefaultRetryPolicy().Wrap(s, nil))
}

func TestRetryPolicy_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := reasoning.InvokerFunc(func(context.Context, reasoning.Prompt) (string, error) {
		cancel()
		return "", fmt.Errorf("%w: down", reasoning.ErrService)
	})

	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Hour}
	_, err := policy.Wrap(inv, nil).Invoke(ctx, reasoning.Prompt{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}
	assert.Equal(t, time.Second, p.backoff(1))
	assert.Equal(t, 2*time.Second, p.backoff(2))
	assert.Equal(t, 4*time.Second, p.backoff(3))
	assert.Equal(t, 5*time.Second, p.backoff(4))
}
