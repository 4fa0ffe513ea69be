package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type throttleError struct {
	retryable bool
}

func (e *throttleError) Error() string   { return "throttled" }
func (e *throttleError) Retryable() bool { return e.retryable }

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(&throttleError{retryable: true}))
	require.False(t, IsRetryable(&throttleError{retryable: false}))
	require.False(t, IsRetryable(errors.New("plain")))
	require.False(t, IsRetryable(nil))

	// Classification follows the error chain through wrapping.
	wrapped := errors.Join(errors.New("outer"), &throttleError{retryable: true})
	require.True(t, IsRetryable(wrapped))
}

func TestWithPolicyRetriesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := WithPolicy(ctx, Policy{MaxRetries: 3, BaseWait: time.Millisecond}, func() error {
		count++
		return &throttleError{retryable: true}
	})
	require.Error(t, err)
	require.Equal(t, 3, count)
}

func TestWithPolicyStopsOnNonRetryable(t *testing.T) {
	ctx := context.Background()
	count := 0
	fatal := errors.New("access denied")
	err := WithPolicy(ctx, Policy{MaxRetries: 5, BaseWait: time.Millisecond}, func() error {
		count++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, count)
}

func TestWithPolicySucceedsAfterRetry(t *testing.T) {
	ctx := context.Background()
	count := 0
	err := WithPolicy(ctx, Policy{MaxRetries: 4, BaseWait: time.Millisecond}, func() error {
		count++
		if count < 3 {
			return &throttleError{retryable: true}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestWithPolicyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithPolicy(ctx, Policy{MaxRetries: 3, BaseWait: time.Hour}, func() error {
		return &throttleError{retryable: true}
	})
	require.ErrorIs(t, err, context.Canceled)
}
