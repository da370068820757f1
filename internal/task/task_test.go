package task

import (
	"errors"
	"testing"
	"time"
)

func TestRecord_TerminalNeverTransitions(t *testing.T) {
	now := time.Now()
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		r := NewRecord("t1", "test", "channel")
		if err := r.Transition(StatusRunning, now); err != nil {
			t.Fatalf("to running: %v", err)
		}
		if err := r.Transition(terminal, now); err != nil {
			t.Fatalf("to %s: %v", terminal, err)
		}
		for _, next := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled, StatusBlocked} {
			err := r.Transition(next, now)
			if err == nil {
				t.Fatalf("%s -> %s should be refused", terminal, next)
			}
			if !errors.Is(err, ErrTerminal) {
				t.Fatalf("expected ErrTerminal, got %v", err)
			}
			if r.Status != terminal {
				t.Fatalf("status mutated to %s on refused transition", r.Status)
			}
		}
	}
}

func TestRecord_Timestamps(t *testing.T) {
	now := time.Now()
	r := NewRecord("t1", "test", "cron")
	if !r.StartedAt.IsZero() {
		t.Fatal("pending task should have zero StartedAt")
	}
	_ = r.Transition(StatusRunning, now)
	if r.StartedAt.IsZero() {
		t.Fatal("running task should have StartedAt")
	}
	_ = r.Transition(StatusCompleted, now)
	if r.FinishedAt.IsZero() {
		t.Fatal("completed task should have FinishedAt")
	}
}

func TestRecord_RetryBound(t *testing.T) {
	now := time.Now()
	r := NewRecord("t1", "test", "channel")
	r.MaxRetries = 2

	if !r.RecordRetry(now) || !r.RecordRetry(now) {
		t.Fatal("first two retries should be granted")
	}
	if r.RecordRetry(now) {
		t.Fatal("third retry should be refused")
	}
	if r.Retries != 2 {
		t.Fatalf("retries = %d, want 2", r.Retries)
	}
}

func TestRecord_AdvanceStepClamped(t *testing.T) {
	now := time.Now()
	r := NewRecord("t1", "test", "pipeline")
	r.TotalSteps = 2
	r.AdvanceStep(now)
	r.AdvanceStep(now)
	r.AdvanceStep(now)
	if r.CurrentStep != 2 {
		t.Fatalf("current step = %d, want 2 (clamped)", r.CurrentStep)
	}
}

func TestRecord_Fail(t *testing.T) {
	now := time.Now()
	r := NewRecord("t1", "test", "channel")
	if err := r.Fail("boom", now); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if r.Status != StatusFailed || r.LastError != "boom" {
		t.Fatalf("status=%s lastError=%q", r.Status, r.LastError)
	}
}

func TestRecord_UnknownStatusRefused(t *testing.T) {
	r := NewRecord("t1", "test", "channel")
	if err := r.Transition("sideways", time.Now()); err == nil {
		t.Fatal("unknown status should be refused")
	}
	if r.Status != StatusPending {
		t.Fatalf("status mutated to %s", r.Status)
	}
}
