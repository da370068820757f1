// Package pipeline implements the planner/executor/verifier orchestration
// state machine. It is disabled by default; when off, tasks take the
// direct dispatch path and observable behavior is unchanged.
package pipeline

import (
	"errors"
	"fmt"
)

// Phase is the pipeline lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseVerifying Phase = "verifying"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Terminal reports whether the phase admits no further transition.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// ErrInvalidTransition is returned for transitions outside the machine.
var ErrInvalidTransition = errors.New("pipeline: invalid transition")

// State tracks one pipeline run.
type State struct {
	Phase          Phase
	StepsTotal     int
	StepsCompleted int
	CurrentStep    int
	TotalRetries   int
	LastError      string
}

// NewState returns an idle pipeline state.
func NewState() *State {
	return &State{Phase: PhaseIdle}
}

func (s *State) refuse(action string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, action, s.Phase)
}

// BeginPlanning moves idle -> planning.
func (s *State) BeginPlanning() error {
	if s.Phase != PhaseIdle {
		return s.refuse("begin_planning")
	}
	s.Phase = PhasePlanning
	return nil
}

// PlanReady records the plan size: planning -> executing for n > 0,
// planning -> completed for an empty plan.
func (s *State) PlanReady(n int) error {
	if s.Phase != PhasePlanning {
		return s.refuse("plan_ready")
	}
	if n < 0 {
		return fmt.Errorf("pipeline: negative plan size %d", n)
	}
	s.StepsTotal = n
	if n == 0 {
		s.Phase = PhaseCompleted
		return nil
	}
	s.Phase = PhaseExecuting
	return nil
}

// BeginVerifying moves executing -> verifying.
func (s *State) BeginVerifying() error {
	if s.Phase != PhaseExecuting {
		return s.refuse("begin_verifying")
	}
	s.Phase = PhaseVerifying
	return nil
}

// StepPassed records a verified step: verifying -> executing while steps
// remain, verifying -> completed when all are done.
func (s *State) StepPassed() error {
	if s.Phase != PhaseVerifying {
		return s.refuse("step_passed")
	}
	s.StepsCompleted++
	s.CurrentStep++
	if s.StepsCompleted >= s.StepsTotal {
		s.Phase = PhaseCompleted
		return nil
	}
	s.Phase = PhaseExecuting
	return nil
}

// StepRetried records a failed verification that will be retried:
// verifying -> executing with no completion credit.
func (s *State) StepRetried() error {
	if s.Phase != PhaseVerifying {
		return s.refuse("step_retried")
	}
	s.TotalRetries++
	s.Phase = PhaseExecuting
	return nil
}

// Fail moves any active phase to failed with the given error message.
func (s *State) Fail(msg string) error {
	if s.Phase.Terminal() || s.Phase == PhaseIdle {
		return s.refuse("fail")
	}
	s.Phase = PhaseFailed
	s.LastError = msg
	return nil
}
