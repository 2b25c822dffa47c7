//go:build !windows

package tactile

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// getProcessResourceUsage extracts resource usage on Unix systems.
func getProcessResourceUsage(cmd *exec.Cmd) *ResourceUsage {
	if cmd.ProcessState == nil {
		return nil
	}

	rusage, ok := cmd.ProcessState.SysUsage().(*syscall.Rusage)
	if !ok || rusage == nil {
		return nil
	}

	return &ResourceUsage{
		UserTimeMs:   rusage.Utime.Sec*1000 + int64(rusage.Utime.Usec/1000),
		SystemTimeMs: rusage.Stime.Sec*1000 + int64(rusage.Stime.Usec/1000),
		MaxRSSBytes:  maxRSSBytes(rusage),
	}
}

// setupProcessGroup configures the command to run in its own process group.
// This allows killing all child processes when the parent is terminated.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to the process group led by cmd, then to
// the process itself in case it left the group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}

	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
