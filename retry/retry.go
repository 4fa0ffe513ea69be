package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

const (
	MaxRetries    = 4
	RetryBaseWait = 500 * time.Millisecond
)

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryableError is implemented by errors that know whether the failed call
// may be retried. Throttling signals from the recovery service are
// retryable; authorization failures are not.
type RetryableError interface {
	error
	Retryable() bool
}

// Policy configures retry behavior for one call site.
type Policy struct {
	MaxRetries int
	BaseWait   time.Duration
}

// DefaultPolicy is used by WithRetry.
var DefaultPolicy = Policy{
	MaxRetries: MaxRetries,
	BaseWait:   RetryBaseWait,
}

// WithRetry executes the given function with the default retry policy.
func WithRetry(ctx context.Context, f RetryableFunc) error {
	return WithPolicy(ctx, DefaultPolicy, f)
}

// WithPolicy executes the given function, retrying retryable failures with
// exponential backoff and jitter. Non-retryable failures return immediately.
func WithPolicy(ctx context.Context, policy Policy, f RetryableFunc) error {
	var lastError error

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(policy.BaseWait) * math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		if err := f(); err != nil {
			lastError = err
			if !IsRetryable(err) {
				return err
			}
			continue
		}
		return nil
	}
	return lastError
}

// IsRetryable reports whether any error in the chain declares itself
// retryable.
func IsRetryable(err error) bool {
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
