package tactile

import (
	"context"
	"fmt"
	"os/exec"

	"dataanalyst/internal/logging"
)

// DirectExecutor executes commands on the host using os/exec.
//
// Each child runs in its own process group so the whole tree is killed at
// the deadline. On Linux, ResourceLimits are applied as rlimits right after
// the process starts.
type DirectExecutor struct {
	auditor
	config ExecutorConfig
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.TactileDebug("Creating DirectExecutor with config: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	e := &DirectExecutor{config: config}
	e.SetAuditCallback(config.AuditCallback)
	return e
}

// Name implements Executor.
func (e *DirectExecutor) Name() string { return "direct" }

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Sandbox != nil && cmd.Sandbox.Mode != SandboxNone && cmd.Sandbox.Mode != "" {
		return fmt.Errorf("DirectExecutor only supports SandboxNone, got %s", cmd.Sandbox.Mode)
	}
	return nil
}

// Execute runs a command directly on the host.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Direct command execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		logging.TactileWarn("Command validation failed: %s %v - %v", cmd.Binary, cmd.Arguments, err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	timeout := cmd.Limits.TimeoutOr(e.config.DefaultTimeout)
	maxOutput := e.config.MaxOutputBytes
	if cmd.Limits != nil && cmd.Limits.MaxOutputBytes > 0 {
		maxOutput = cmd.Limits.MaxOutputBytes
	}

	logging.TactileDebug("Executing: %s (dir=%s, timeout=%s)", cmd.CommandString(), cmd.WorkingDirectory, timeout)

	result := &ExecutionResult{ExitCode: -1, SandboxUsed: SandboxNone}
	e.emit(e.Name(), AuditEventStart, cmd, nil)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = buildEnvironment(e.config.AllowedEnvironment, cmd.Environment)
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }
	execCmd.WaitDelay = e.config.KillGrace

	limits := cmd.Limits
	err := runCaptured(execCtx, execCmd, runParams{
		timeout:   timeout,
		maxOutput: maxOutput,
		afterStart: func(c *exec.Cmd) error {
			return applyResourceLimits(c.Process.Pid, limits)
		},
	}, result)

	if err != nil {
		logging.TactileError("Command failed: %s - %v", cmd.Binary, err)
		e.emit(e.Name(), AuditEventError, cmd, result)
		return result, nil
	}

	if e.config.EnableResourceUsage {
		result.ResourceUsage = getProcessResourceUsage(execCmd)
	}

	if result.Killed {
		logging.TactileWarn("Command killed (%s): %s", result.KillReason, cmd.Binary)
		e.emit(e.Name(), AuditEventKilled, cmd, result)
		return result, nil
	}

	e.emit(e.Name(), AuditEventComplete, cmd, result)
	logging.Tactile("Command completed: %s -> exit=%d, duration=%s, stdout=%d bytes",
		cmd.Binary, result.ExitCode, result.Duration, len(result.Stdout))
	return result, nil
}
