package engine

import (
	"context"
	"math"
	"time"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const maxBackoffSeconds = 3600

// CalculateBackoff returns the wait before retrying after the given attempt.
// Uses exponential backoff: base * multiplier^(attempt-1), capped at one hour.
func CalculateBackoff(policy types.RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return time.Duration(min(policy.BackoffSeconds, maxBackoffSeconds)) * time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(policy.BackoffSeconds) * math.Pow(multiplier, float64(attempt-1))
	if backoff > maxBackoffSeconds {
		backoff = maxBackoffSeconds
	}
	return time.Duration(backoff) * time.Second
}

// shouldRetry reports whether another attempt is allowed after attempt failed with err.
func shouldRetry(policy types.RetryPolicy, attempt int, err error) bool {
	return attempt < policy.MaxAttempts && types.IsRetryable(err)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
