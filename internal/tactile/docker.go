package tactile

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"

	"dataanalyst/internal/logging"
)

// DockerExecutor executes commands inside throwaway Docker containers.
type DockerExecutor struct {
	auditor
	config ExecutorConfig

	// dockerPath is the path to the docker binary
	dockerPath string

	// available is true if Docker is available on this system
	available bool
}

// NewDockerExecutor creates a new Docker executor.
func NewDockerExecutor() *DockerExecutor {
	return NewDockerExecutorWithConfig(DefaultExecutorConfig())
}

// NewDockerExecutorWithConfig creates a new Docker executor with custom config.
func NewDockerExecutorWithConfig(config ExecutorConfig) *DockerExecutor {
	e := &DockerExecutor{config: config}
	e.SetAuditCallback(config.AuditCallback)
	e.detectDocker()
	return e
}

// detectDocker checks if Docker is available.
func (e *DockerExecutor) detectDocker() {
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		logging.TactileDebug("docker binary not found: %v", err)
		return
	}
	e.dockerPath = dockerPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, dockerPath, "version", "--format", "{{.Server.Version}}")
	if err := cmd.Run(); err != nil {
		logging.TactileWarn("docker daemon not reachable: %v", err)
		return
	}
	e.available = true
}

// IsAvailable returns whether Docker is available on this system.
func (e *DockerExecutor) IsAvailable() bool {
	return e.available
}

// Name implements Executor.
func (e *DockerExecutor) Name() string { return "docker" }

// Validate checks if a command can be executed.
func (e *DockerExecutor) Validate(cmd Command) error {
	if !e.available {
		return fmt.Errorf("Docker is not available on this system")
	}
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Sandbox != nil && cmd.Sandbox.Mode != SandboxDocker {
		return fmt.Errorf("DockerExecutor only supports SandboxDocker mode, got %s", cmd.Sandbox.Mode)
	}
	return nil
}

// Execute runs a command inside a Docker container. The container is named
// after the request so it can be killed by name at the deadline; killing
// the docker CLI alone would leave it running.
func (e *DockerExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Docker command execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	if cmd.Sandbox == nil {
		cmd.Sandbox = &SandboxConfig{Mode: SandboxDocker}
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	timeout := cmd.Limits.TimeoutOr(e.config.DefaultTimeout)
	maxOutput := e.config.MaxOutputBytes
	if cmd.Limits != nil && cmd.Limits.MaxOutputBytes > 0 {
		maxOutput = cmd.Limits.MaxOutputBytes
	}

	name := containerName(cmd.RequestID)
	result := &ExecutionResult{ExitCode: -1, SandboxUsed: SandboxDocker}
	e.emit(e.Name(), AuditEventStart, cmd, nil)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, e.dockerPath, e.buildDockerArgs(name, cmd)...)
	execCmd.Cancel = func() error {
		e.killContainer(name)
		return execCmd.Process.Kill()
	}
	execCmd.WaitDelay = e.config.KillGrace

	logging.TactileDebug("docker run %s: %s (timeout=%s)", name, cmd.CommandString(), timeout)

	if err := runCaptured(execCtx, execCmd, runParams{timeout: timeout, maxOutput: maxOutput}, result); err != nil {
		logging.TactileError("docker run failed: %v", err)
		e.emit(e.Name(), AuditEventError, cmd, result)
		return result, nil
	}

	if result.Killed {
		logging.TactileWarn("Container %s killed (%s)", name, result.KillReason)
		e.emit(e.Name(), AuditEventKilled, cmd, result)
		return result, nil
	}

	e.emit(e.Name(), AuditEventComplete, cmd, result)
	return result, nil
}

// killContainer force-removes a container. It runs on its own short
// context because the execution context is already done when it is called.
func (e *DockerExecutor) killContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(ctx, e.dockerPath, "rm", "-f", name).CombinedOutput(); err != nil {
		logging.TactileWarn("docker rm -f %s: %v: %s", name, err, out)
	}
}

func containerName(requestID string) string {
	return "analyst-exec-" + requestID
}

// buildDockerArgs constructs the docker run command arguments.
func (e *DockerExecutor) buildDockerArgs(name string, cmd Command) []string {
	args := []string{"run", "--rm", "--name", name}

	sandbox := cmd.Sandbox

	image := sandbox.Image
	if image == "" {
		image = e.config.DockerDefaultImage
	}

	networkMode := sandbox.NetworkMode
	if networkMode == "" {
		networkMode = "none"
		if cmd.Limits != nil && cmd.Limits.NetworkAllowed != nil && *cmd.Limits.NetworkAllowed {
			networkMode = "bridge"
		}
	}
	args = append(args, "--network", networkMode)

	if sandbox.ReadOnlyRoot {
		args = append(args, "--read-only")
	}
	if sandbox.ReadOnlyRoot || sandbox.TmpfsSize != "" {
		tmpfsSize := sandbox.TmpfsSize
		if tmpfsSize == "" {
			tmpfsSize = "100m"
		}
		args = append(args, "--tmpfs", "/tmp:size="+tmpfsSize)
	}

	if sandbox.NoNewPrivileges {
		args = append(args, "--security-opt", "no-new-privileges")
	}
	for _, c := range sandbox.DropCapabilities {
		args = append(args, "--cap-drop", c)
	}
	if sandbox.User != "" {
		args = append(args, "--user", sandbox.User)
	}

	for _, path := range sandbox.AllowedPaths {
		args = append(args, "-v", path+":"+path+":rw")
	}
	if cmd.WorkingDirectory != "" {
		args = append(args, "-w", cmd.WorkingDirectory)
	}

	// Host variables are not forwarded into the container.
	for _, env := range cmd.Environment {
		args = append(args, "-e", env)
	}

	if l := cmd.Limits; l != nil {
		if l.MaxMemoryBytes > 0 {
			args = append(args, "--memory", strconv.FormatInt(l.MaxMemoryBytes, 10))
		}
		if l.MaxCPUTimeMs > 0 {
			args = append(args, "--ulimit", "cpu="+strconv.FormatInt(max(l.MaxCPUTimeMs/1000, 1), 10))
		}
		if l.MaxFileSize > 0 {
			args = append(args, "--ulimit", "fsize="+strconv.FormatInt(l.MaxFileSize, 10))
		}
		if l.MaxProcesses > 0 {
			args = append(args, "--pids-limit", strconv.Itoa(l.MaxProcesses))
		}
	}

	args = append(args, image, cmd.Binary)
	return append(args, cmd.Arguments...)
}
