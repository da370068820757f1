package reliability

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/basket/nullclaw/internal/tools"
)

// scriptedTool returns a fixed sequence of outcomes.
type scriptedTool struct {
	name    string
	results []tools.Result
	errs    []error
	calls   int
}

func (s *scriptedTool) Name() string        { return s.name }
func (s *scriptedTool) Description() string { return "scripted" }
func (s *scriptedTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	i := s.calls
	s.calls++
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.results[i], err
}

func noSleepEnvelope(policy RetryPolicy, breaker *CircuitBreaker, cache *Cache) *Envelope {
	e := NewEnvelope(policy, breaker, cache, nil)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e
}

func TestEnvelope_TransientFailuresThenSuccess(t *testing.T) {
	tool := &scriptedTool{
		name: "flaky",
		results: []tools.Result{
			tools.Fail("connection timeout"),
			tools.Fail("connection timeout"),
			tools.Ok("third time lucky"),
		},
	}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, nil)

	out, err := e.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Result.Success || out.Attempts != 3 || !out.Retried {
		t.Fatalf("outcome = %+v", out)
	}
	h := e.Health()
	if h.TotalSuccesses != 1 || h.ConsecutiveFailures != 0 {
		t.Fatalf("health = %+v", h)
	}
	if h.TotalFailures != 2 {
		t.Fatalf("total failures = %d, want 2", h.TotalFailures)
	}
}

func TestEnvelope_RetryBound(t *testing.T) {
	tool := &scriptedTool{name: "dead", results: []tools.Result{tools.Fail("timeout forever")}}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil, nil)

	out, err := e.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("tool-level failure should not be an error: %v", err)
	}
	if tool.calls != 4 {
		t.Fatalf("tool invoked %d times, want 1+3", tool.calls)
	}
	if out.Attempts != 4 || !out.Retried || out.Result.Success {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestEnvelope_NonRetryableFailsFast(t *testing.T) {
	tool := &scriptedTool{name: "strict", results: []tools.Result{tools.Fail("invalid argument")}}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}, nil, nil)

	out, err := e.Execute(context.Background(), tool, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if tool.calls != 1 || out.Attempts != 1 || out.Retried {
		t.Fatalf("calls=%d outcome=%+v", tool.calls, out)
	}
}

func TestEnvelope_InfraErrorClasses(t *testing.T) {
	// Transient network error: retried.
	transient := &scriptedTool{
		name:    "net",
		results: []tools.Result{{}, tools.Ok("up")},
		errs:    []error{syscall.ECONNREFUSED, nil},
	}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, nil, nil)
	out, err := e.Execute(context.Background(), transient, nil)
	if err != nil || out.Attempts != 2 {
		t.Fatalf("transient: out=%+v err=%v", out, err)
	}

	// Permanent infrastructure error: propagates as-is, immediately.
	permErr := errors.New("schema corrupted")
	permanent := &scriptedTool{name: "perm", results: []tools.Result{{}}, errs: []error{permErr}}
	e = noSleepEnvelope(RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}, nil, nil)
	out, err = e.Execute(context.Background(), permanent, nil)
	if !errors.Is(err, permErr) {
		t.Fatalf("err = %v, want the original error", err)
	}
	if permanent.calls != 1 || out.Attempts != 1 {
		t.Fatalf("permanent error retried: calls=%d", permanent.calls)
	}
}

func TestEnvelope_ExhaustedInfraErrorPropagates(t *testing.T) {
	tool := &scriptedTool{
		name:    "downnet",
		results: []tools.Result{{}},
		errs:    []error{syscall.ETIMEDOUT},
	}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}, nil, nil)

	out, err := e.Execute(context.Background(), tool, nil)
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Fatalf("err = %v, want ETIMEDOUT", err)
	}
	if out.Attempts != 3 || !out.Retried {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestEnvelope_CircuitShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	tool := &scriptedTool{name: "tripwire", results: []tools.Result{tools.Fail("permanent failure")}}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 0}, cb, nil)

	// First call fails and trips the breaker.
	if _, err := e.Execute(context.Background(), tool, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Second call is short-circuited without touching the tool.
	_, err := e.Execute(context.Background(), tool, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if tool.calls != 1 {
		t.Fatalf("tool called %d times, want 1", tool.calls)
	}
}

func TestEnvelope_CacheHitSkipsTool(t *testing.T) {
	cache := NewCache(8, time.Minute)
	tool := &scriptedTool{name: "pure", results: []tools.Result{tools.Ok("computed")}}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 1}, nil, cache)

	args := map[string]any{"query": "alpha"}
	out, err := e.Execute(context.Background(), tool, args)
	if err != nil || out.Result.Output != "computed" {
		t.Fatalf("first call: %+v %v", out, err)
	}
	if tool.calls != 1 {
		t.Fatalf("calls = %d", tool.calls)
	}

	out, err = e.Execute(context.Background(), tool, args)
	if err != nil || out.Result.Output != "computed" {
		t.Fatalf("cached call: %+v %v", out, err)
	}
	if tool.calls != 1 {
		t.Fatalf("cache hit consulted the tool: calls = %d", tool.calls)
	}
	if out.Attempts != 0 || out.Retried {
		t.Fatalf("cache outcome = %+v", out)
	}

	// Different args miss.
	_, _ = e.Execute(context.Background(), tool, map[string]any{"query": "beta"})
	if tool.calls != 2 {
		t.Fatalf("different args should miss: calls = %d", tool.calls)
	}
}

func TestEnvelope_FailuresNotCached(t *testing.T) {
	cache := NewCache(8, time.Minute)
	tool := &scriptedTool{
		name:    "heal",
		results: []tools.Result{tools.Fail("invalid argument"), tools.Ok("fixed")},
	}
	e := noSleepEnvelope(RetryPolicy{MaxRetries: 0}, nil, cache)

	args := map[string]any{"q": "x"}
	out, _ := e.Execute(context.Background(), tool, args)
	if out.Result.Success {
		t.Fatal("first call should fail")
	}
	out, _ = e.Execute(context.Background(), tool, args)
	if !out.Result.Success {
		t.Fatal("failure was cached")
	}
}
