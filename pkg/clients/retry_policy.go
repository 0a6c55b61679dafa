package clients

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ajitpratap0/healsink/pkg/config"
)

// RetryPolicy retries an operation a bounded number of times, sleeping a
// uniformly random delay within [MinDelay, MaxDelay] between attempts.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy creates a retry policy.
func NewRetryPolicy(maxAttempts int, minDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &RetryPolicy{
		MaxAttempts: maxAttempts,
		MinDelay:    minDelay,
		MaxDelay:    maxDelay,
	}
}

// RetryPolicyFrom builds the connection retry policy from configuration.
func RetryPolicyFrom(cfg config.ReliabilityConfig) *RetryPolicy {
	return NewRetryPolicy(cfg.ConnectAttempts, cfg.RetryMinDelay, cfg.RetryMaxDelay)
}

// Execute runs fn until it succeeds or the attempts are exhausted.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	return rp.ExecuteWithCondition(ctx, fn, func(error) bool { return true })
}

// ExecuteWithCondition runs fn with retry only while shouldRetry approves
// the last error.
func (rp *RetryPolicy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return err
		}
		if attempt == rp.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(rp.Delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

// Delay returns one randomized backoff delay.
func (rp *RetryPolicy) Delay() time.Duration {
	spread := rp.MaxDelay - rp.MinDelay
	if spread <= 0 {
		return rp.MinDelay
	}
	return rp.MinDelay + time.Duration(rand.Int63n(int64(spread)+1))
}
