// Package reliability wraps tool execution with retry, backoff, per-tool
// health tracking, a circuit breaker, and a TTL cache for idempotent calls.
package reliability

import (
	"errors"
	"strings"
	"syscall"
	"time"
)

// RetryPolicy governs retry count and backoff pacing for a wrapped tool.
// TimeoutNS is carried for callers but not enforced here: the envelope
// never cancels an in-flight tool call. Callers needing cancellation
// compose with an external task framework.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	MultiplierFP int64 // fixed-point thousandths; 2000 = 2.0x per attempt
	TimeoutNS    int64 // informational only
}

// DefaultRetryPolicy is 2 retries with 2x backoff from 250ms capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   2,
		BaseDelay:    250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		MultiplierFP: 2000,
	}
}

// DelayForAttempt returns the backoff pause before retry n (0-indexed):
// min(max, base * (multiplier/1000)^n), computed in fixed point with
// per-step clamping so repeated multiplication cannot overflow.
func (p RetryPolicy) DelayForAttempt(n int) time.Duration {
	mult := p.MultiplierFP
	if mult <= 0 {
		mult = 2000
	}
	delay := int64(p.BaseDelay)
	maxDelay := int64(p.MaxDelay)
	for i := 0; i < n; i++ {
		delay = delay * mult / 1000
		if maxDelay > 0 && delay >= maxDelay {
			return p.MaxDelay
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return time.Duration(delay)
}

// retryableKeywords mark a tool-level failure message as transient.
var retryableKeywords = []string{"timeout", "transient", "temporary", "retry", "connection"}

// ResultRetryable reports whether a tool-level failure message indicates a
// transient condition worth retrying.
func ResultRetryable(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, kw := range retryableKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// transientErrnos are the network error classes retried at the
// infrastructure level.
var transientErrnos = []syscall.Errno{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
}

// transientErrText covers wrapped errors that lost their errno.
var transientErrText = []string{
	"connection refused",
	"connection reset",
	"timed out",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"host is unreachable",
}

// ErrRetryable reports whether an infrastructure error belongs to the
// transient network class. Anything else propagates immediately.
func ErrRetryable(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	for _, txt := range transientErrText {
		if strings.Contains(lower, txt) {
			return true
		}
	}
	return false
}
