package reliability

import "time"

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxProbes int
}

// DefaultBreakerConfig trips after 5 consecutive failures, recovers after
// 30s, and allows one half-open probe.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker gates calls to a single tool. Like Health it is
// single-threaded per tool; the envelope call site serializes access.
type CircuitBreaker struct {
	cfg BreakerConfig

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	probes              int

	now func() time.Time // injectable for tests
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take the
// defaults.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, state: BreakerClosed, now: time.Now}
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() BreakerState { return cb.state }

// IsCallPermitted reports whether the next call may proceed. In the open
// state it transitions to half-open once the recovery timeout elapses, then
// admits up to HalfOpenMaxProbes probes.
func (cb *CircuitBreaker) IsCallPermitted() bool {
	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
			cb.state = BreakerHalfOpen
			cb.probes = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxProbes {
			cb.probes++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure streak; a half-open probe success closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFailures = 0
	if cb.state == BreakerHalfOpen {
		cb.probes = 0
	}
	cb.state = BreakerClosed
}

// RecordFailure extends the failure streak. Closed trips open at the
// threshold; a half-open probe failure re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	switch cb.state {
	case BreakerHalfOpen:
		cb.trip()
	case BreakerClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.probes = 0
	cb.consecutiveFailures = 0
}
