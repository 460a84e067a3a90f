package harvest

import "time"

// Retry defaults; all of them are overridable through configuration.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 8 * time.Second
)

// RetryPolicy is an exponential backoff schedule with a fixed attempt budget.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy, substituting defaults for
// non-positive values.
func NewExponentialRetryPolicy(maxAttempts int, base, maxDelay time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	if maxDelay < base {
		maxDelay = base
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: maxDelay}
}

// NextDelay returns the wait after the given (1-based) failed attempt:
// base, 2*base, 4*base, ... capped at MaxDelay.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// ShouldRetry decides whether another attempt is allowed after attempt
// (1-based) failed with err.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	// Cancellation is never typed as transient, so it is never retried.
	return IsTransient(err)
}
