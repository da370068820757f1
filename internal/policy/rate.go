package policy

import (
	"sync"
	"time"
)

// RateTracker bounds actions to a per-hour budget with a sliding window.
// It is the only mutable state the policy engine carries and is safe for
// concurrent use.
type RateTracker struct {
	mu      sync.Mutex
	limit   int // 0 = unlimited
	window  time.Duration
	actions []time.Time
}

// NewRateTracker creates a tracker allowing limit actions per hour.
func NewRateTracker(limit int) *RateTracker {
	return &RateTracker{limit: limit, window: time.Hour}
}

// Allow records an action at now and reports whether it fits the budget.
// A rejected action is not recorded.
func (rt *RateTracker) Allow(now time.Time) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.limit <= 0 {
		return true
	}
	rt.evict(now)
	if len(rt.actions) >= rt.limit {
		return false
	}
	rt.actions = append(rt.actions, now)
	return true
}

// Remaining reports how many actions are left in the current window.
func (rt *RateTracker) Remaining(now time.Time) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.limit <= 0 {
		return -1
	}
	rt.evict(now)
	return rt.limit - len(rt.actions)
}

// evict drops actions older than the window. Caller holds rt.mu.
func (rt *RateTracker) evict(now time.Time) {
	cutoff := now.Add(-rt.window)
	keep := rt.actions[:0]
	for _, ts := range rt.actions {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	rt.actions = keep
}
