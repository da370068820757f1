package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/nullclaw/internal/task"
)

// PlannedStep is one unit of the decomposed goal.
type PlannedStep struct {
	Label string
	Input string
}

// Planner decomposes a goal into steps. An empty plan completes immediately.
type Planner func(ctx context.Context, goal string) ([]PlannedStep, error)

// Executor runs one step and returns its output.
type Executor func(ctx context.Context, step PlannedStep) (string, error)

// Config controls the pipeline. Disabled by default: the daemon bypasses
// orchestration entirely unless Enabled is set and both hooks are present.
type Config struct {
	Enabled  bool
	Retry    task.StepRetryPolicy
	Verifier task.Verifier // nil = verification skipped
}

// Runner drives one goal through plan/execute/verify.
type Runner struct {
	cfg      Config
	planner  Planner
	executor Executor
	logger   *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner builds a runner. logger may be nil.
func NewRunner(cfg Config, planner Planner, executor Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:      cfg,
		planner:  planner,
		executor: executor,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Enabled reports whether the pipeline should be used at all. Missing hooks
// disable it regardless of config.
func (r *Runner) Enabled() bool {
	return r.cfg.Enabled && r.planner != nil && r.executor != nil
}

// Result is the outcome of a pipeline run.
type Result struct {
	State   *State
	Outputs []string // one per completed step, in order
}

// Run drives the goal to completion or failure. The returned State is
// terminal unless ctx was cancelled.
func (r *Runner) Run(ctx context.Context, goal string) (*Result, error) {
	st := NewState()
	res := &Result{State: st}

	if err := st.BeginPlanning(); err != nil {
		return res, err
	}
	steps, err := r.planner(ctx, goal)
	if err != nil {
		_ = st.Fail(fmt.Sprintf("planner: %v", err))
		return res, fmt.Errorf("plan goal: %w", err)
	}
	if err := st.PlanReady(len(steps)); err != nil {
		return res, err
	}
	if st.Phase == PhaseCompleted {
		return res, nil
	}
	r.logger.Info("pipeline plan ready", "steps", len(steps))

	for i, planned := range steps {
		step := &task.Step{Index: i, Label: planned.Label, Status: task.StepRunning, StartedAt: time.Now()}
		output, err := r.runStep(ctx, st, step, planned)
		if err != nil {
			return res, err
		}
		if st.Phase == PhaseFailed {
			return res, nil
		}
		step.Status = task.StepCompleted
		step.FinishedAt = time.Now()
		res.Outputs = append(res.Outputs, output)
	}
	return res, nil
}

// runStep executes and verifies one step, retrying failed verifications
// under the step retry policy. Returns an error only for context
// cancellation; step failure is recorded on the state instead.
func (r *Runner) runStep(ctx context.Context, st *State, step *task.Step, planned PlannedStep) (string, error) {
	for {
		output, execErr := r.executor(ctx, planned)
		if err := st.BeginVerifying(); err != nil {
			return "", err
		}

		verdict := r.judge(step, output, execErr)
		if verdict.Acceptable() {
			return output, st.StepPassed()
		}

		step.Error = verdict.Message
		if step.Retries >= r.cfg.Retry.MaxRetries {
			step.Status = task.StepFailed
			_ = st.Fail(fmt.Sprintf("step %d (%s): %s", step.Index, step.Label, verdict.Message))
			r.logger.Warn("pipeline step exhausted retries",
				"step", step.Index, "label", step.Label, "error", verdict.Message)
			return "", nil
		}

		delay := r.cfg.Retry.DelayForAttempt(step.Retries)
		step.Retries++
		if err := st.StepRetried(); err != nil {
			return "", err
		}
		r.logger.Info("pipeline step retrying",
			"step", step.Index, "attempt", step.Retries, "delay", delay)
		if err := r.sleep(ctx, delay); err != nil {
			_ = st.Fail("cancelled")
			return "", err
		}
	}
}

// judge folds executor errors and verifier outcomes into one verdict.
func (r *Runner) judge(step *task.Step, output string, execErr error) task.Verdict {
	if execErr != nil {
		return task.Failed(fmt.Sprintf("execute: %v", execErr))
	}
	v := task.Verify(r.cfg.Verifier, step, output)
	if v.Kind == task.VerdictError {
		// A broken verifier is a failed verification with a tagged error.
		return task.Failed("verifier error: " + v.Message)
	}
	return v
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
