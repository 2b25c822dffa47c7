package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"dataanalyst/internal/logging"
)

// auditor holds the audit callback shared by executor implementations.
type auditor struct {
	mu       sync.RWMutex
	callback func(AuditEvent)
}

// SetAuditCallback sets the callback for audit events.
func (a *auditor) SetAuditCallback(callback func(AuditEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
}

func (a *auditor) emit(executor string, typ AuditEventType, cmd Command, result *ExecutionResult) {
	a.mu.RLock()
	callback := a.callback
	a.mu.RUnlock()

	if callback != nil {
		callback(AuditEvent{
			Type:         typ,
			Timestamp:    time.Now(),
			Command:      cmd,
			Result:       result,
			ExecutorName: executor,
		})
	}
}

// runParams describes how to run one already-built exec.Cmd.
type runParams struct {
	timeout   time.Duration
	maxOutput int64

	// afterStart runs once the process exists, before waiting on it.
	// A non-nil error kills the process and fails the execution.
	afterStart func(*exec.Cmd) error
}

// runCaptured starts execCmd, captures its output and waits for it,
// filling result. execCtx must be the context execCmd was created with.
// The returned error is an infrastructure failure; killed and non-zero
// exits are reported through result.
func runCaptured(execCtx context.Context, execCmd *exec.Cmd, rs runParams, result *ExecutionResult) error {
	var stdoutBuf, stderrBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: rs.maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: rs.maxOutput}
	execCmd.Stdout = stdoutLimited
	execCmd.Stderr = stderrLimited

	result.StartedAt = time.Now()
	err := execCmd.Start()
	if err == nil && rs.afterStart != nil {
		if hookErr := rs.afterStart(execCmd); hookErr != nil {
			_ = execCmd.Process.Kill()
			_ = execCmd.Wait()
			err = hookErr
		}
	}
	if err == nil {
		err = execCmd.Wait()
	}
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.TactileWarn("Command output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	if err == nil {
		result.Success = true
		result.ExitCode = 0
		return nil
	}

	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Success = true
		result.Killed = true
		result.TimedOut = true
		result.KillReason = fmt.Sprintf("timeout after %s", rs.timeout)
		return nil
	case errors.Is(execCtx.Err(), context.Canceled):
		result.Success = true
		result.Killed = true
		result.KillReason = "context canceled"
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.Success = true
		result.ExitCode = exitErr.ExitCode()
		if result.ExitCode == -1 {
			result.Killed = true
			result.KillReason = exitErr.String()
		}
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The child exited but a grandchild kept the pipes open.
		result.Success = true
		result.ExitCode = execCmd.ProcessState.ExitCode()
		return nil
	}

	result.Success = false
	result.Error = err.Error()
	return err
}

// buildEnvironment returns the allowed host variables followed by extra.
// Later entries win for duplicate keys.
func buildEnvironment(allowed []string, extra []string) []string {
	env := make([]string, 0, len(allowed)+len(extra))
	for _, key := range allowed {
		if val, ok := os.LookupEnv(key); ok && val != "" {
			env = append(env, key+"="+val)
		}
	}
	return append(env, extra...)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.max <= 0 {
		written, err := lw.w.Write(p)
		lw.written += int64(written)
		return written, err
	}

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil // Pretend we wrote it
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // Return original length to avoid "short write" errors
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}
