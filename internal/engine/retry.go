package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/mtaflow/pkg/schema"
)

// IsRetryableError reports whether err is transient, so that re-invoking the
// step (a logical retry) may succeed.
// Retryable by default: network errors, timeouts, context.DeadlineExceeded.
// Non-retryable: content errors and StepErrors with non-retryable codes.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A deadline on a single cloud call is transient.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancelled means the host is abandoning the process.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if stepErr, ok := schema.AsStepError(err); ok {
		return stepErr.IsRetryable()
	}

	// Network errors are retryable.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common retryable patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Unclassified failures propagate so they are recorded and surfaced.
	return false
}

// ComputeBackoff calculates the delay before logical retry number attempt
// (zero based). Supports none, constant, linear, and exponential backoff with
// an optional max_delay cap.
func ComputeBackoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	if policy == nil || policy.Delay == "" {
		return 0
	}

	base, err := time.ParseDuration(policy.Delay)
	if err != nil || base <= 0 {
		return 0
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		delay = base
		for i := 0; i < attempt && delay < maxBackoff; i++ {
			delay *= 2
		}
	case "linear":
		delay = base * time.Duration(attempt+1)
	case "constant":
		delay = base
	default: // "none" or empty
		return 0
	}

	if policy.MaxDelay != "" {
		maxDelay, parseErr := time.ParseDuration(policy.MaxDelay)
		if parseErr == nil && delay > maxDelay {
			delay = maxDelay
		}
	}
	return min(delay, maxBackoff)
}

// maxBackoff bounds exponential growth when no max_delay is configured.
const maxBackoff = time.Hour

// WaitForBackoff sleeps for delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
