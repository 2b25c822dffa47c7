//go:build windows

package tactile

import "os/exec"

func getProcessResourceUsage(cmd *exec.Cmd) *ResourceUsage { return nil }

func setupProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
