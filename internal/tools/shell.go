package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/basket/nullclaw/internal/policy"
	"github.com/basket/nullclaw/internal/shared"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second
	maxShellOutput      = 8 * 1024 // 8KB
)

// Executor runs shell commands. Swapped out in tests and by sandbox-aware
// callers.
type Executor interface {
	Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error)
}

// HostExecutor runs commands on the host.
type HostExecutor struct{}

// Exec runs the command under `sh -c`.
func (h *HostExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd)
	if workDir != "" {
		execCmd.Dir = workDir
	}

	var outBuf, errBuf bytes.Buffer
	execCmd.Stdout = &outBuf
	execCmd.Stderr = &errBuf

	runErr := execCmd.Run()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			err = runErr
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}

// ShellTool executes shell commands gated by the security policy engine.
type ShellTool struct {
	engine   *policy.Engine
	executor Executor
	workDir  string
}

// NewShellTool builds a shell tool. A nil executor defaults to the host.
func NewShellTool(engine *policy.Engine, executor Executor, workDir string) *ShellTool {
	if executor == nil {
		executor = &HostExecutor{}
	}
	return &ShellTool{engine: engine, executor: executor, workDir: workDir}
}

// Name implements Tool.
func (s *ShellTool) Name() string { return "exec" }

// Description implements Tool.
func (s *ShellTool) Description() string {
	return "Execute a shell command. Commands are checked against the security policy; output is truncated to 8KB and secrets are redacted."
}

// Execute implements Tool. Policy denials are tool-level failures, never
// infrastructure errors.
func (s *ShellTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return Fail("empty command"), nil
	}
	approved, _ := args["approved"].(bool)

	decision := s.engine.CheckCommandExecution(command, approved)
	if !decision.Allowed {
		d := decision.Denial
		if d.MatchedRule != "" {
			return Fail("policy denied (%s): %s", d.Reason, d.MatchedRule), nil
		}
		return Fail("policy denied (%s)", d.Reason), nil
	}

	timeout := defaultShellTimeout
	if sec, ok := args["timeout_sec"].(int); ok && sec > 0 {
		timeout = time.Duration(sec) * time.Second
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}
	workDir := s.workDir
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		workDir = wd
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, exitCode, err := s.executor.Exec(execCtx, command, workDir)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return Fail("command timed out after %s", timeout), nil
		}
		return Result{}, fmt.Errorf("exec: %w", err)
	}

	stdout = shared.Redact(truncateOutput(stdout, maxShellOutput))
	stderr = shared.Redact(truncateOutput(stderr, maxShellOutput))

	if exitCode != 0 {
		return Result{Success: false, Output: stdout, Error: fmt.Sprintf("exit %d: %s", exitCode, stderr)}, nil
	}
	return Result{Success: true, Output: stdout}, nil
}

func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}
