package reliability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/basket/nullclaw/internal/tools"
)

// ErrCircuitOpen short-circuits execution when the breaker rejects a call.
var ErrCircuitOpen = errors.New("reliability: circuit open")

// Outcome is the result of a reliable execution.
type Outcome struct {
	Result   tools.Result
	Attempts int
	Retried  bool
}

// Envelope wraps a tool with retry, health tracking, circuit breaking, and
// an optional idempotent-result cache. One envelope serves one tool; the
// envelope call site is the serialization point for health and breaker
// updates.
type Envelope struct {
	policy  RetryPolicy
	health  *Health
	breaker *CircuitBreaker
	cache   *Cache // nil = no caching
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewEnvelope builds an envelope. breaker and cache may be nil to disable
// those layers; health is always tracked.
func NewEnvelope(policy RetryPolicy, breaker *CircuitBreaker, cache *Cache, logger *slog.Logger) *Envelope {
	if logger == nil {
		logger = slog.Default()
	}
	return &Envelope{
		policy:  policy,
		health:  &Health{},
		breaker: breaker,
		cache:   cache,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Health exposes the per-tool health counters.
func (e *Envelope) Health() *Health { return e.health }

// Breaker exposes the circuit breaker, or nil when disabled.
func (e *Envelope) Breaker() *CircuitBreaker { return e.breaker }

// Execute runs the tool through the reliability pipeline. The tool is
// invoked at most 1+MaxRetries times. Non-retryable infrastructure errors
// (and retryable ones that exhaust the budget) propagate as-is. A cache hit
// returns without consulting the tool at all.
func (e *Envelope) Execute(ctx context.Context, tool tools.Tool, args map[string]any) (Outcome, error) {
	var key CacheKey
	if e.cache != nil {
		key = NewCacheKey(tool.Name(), args)
		if cached, ok := e.cache.Get(key); ok {
			return Outcome{Result: cached, Attempts: 0}, nil
		}
	}

	var (
		attempts int
		lastRes  tools.Result
		lastErr  error
	)
	for {
		if e.breaker != nil && !e.breaker.IsCallPermitted() {
			return Outcome{Attempts: attempts, Retried: attempts > 0}, ErrCircuitOpen
		}

		attempts++
		res, err := tool.Execute(ctx, args)
		now := time.Now()
		success := err == nil && res.Success

		if success {
			e.health.RecordSuccess(now)
			if e.breaker != nil {
				e.breaker.RecordSuccess()
			}
			if e.cache != nil {
				e.cache.Put(key, res)
			}
			return Outcome{Result: res, Attempts: attempts, Retried: attempts > 1}, nil
		}

		e.health.RecordFailure(now)
		if e.breaker != nil {
			e.breaker.RecordFailure()
		}
		lastRes, lastErr = res, err

		retryable := false
		if err != nil {
			retryable = ErrRetryable(err)
		} else {
			retryable = ResultRetryable(res.Error)
		}
		if !retryable || attempts > e.policy.MaxRetries {
			break
		}

		delay := e.policy.DelayForAttempt(attempts - 1)
		e.logger.Debug("tool retry scheduled",
			"tool", tool.Name(), "attempt", attempts, "delay", delay)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return Outcome{Result: lastRes, Attempts: attempts, Retried: attempts > 1}, sleepErr
		}
	}

	out := Outcome{Result: lastRes, Attempts: attempts, Retried: attempts > 1}
	if lastErr != nil {
		return out, lastErr
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
