package tactile

import (
	"fmt"
)

// ExecutorFactory creates executors based on configuration and environment.
type ExecutorFactory struct {
	config ExecutorConfig
}

// NewExecutorFactory creates a new executor factory.
func NewExecutorFactory(config ExecutorConfig) *ExecutorFactory {
	return &ExecutorFactory{config: config}
}

// CreateDirect creates a direct executor.
func (f *ExecutorFactory) CreateDirect() *DirectExecutor {
	return NewDirectExecutorWithConfig(f.config)
}

// CreateDocker creates a Docker executor if available.
func (f *ExecutorFactory) CreateDocker() (*DockerExecutor, error) {
	docker := NewDockerExecutorWithConfig(f.config)
	if !docker.IsAvailable() {
		return nil, fmt.Errorf("Docker is not available on this system")
	}
	return docker, nil
}

// CreateFromConfig creates an executor for an explicit sandbox mode.
// Requesting docker when it is unavailable is an error rather than a silent
// downgrade to host execution.
func (f *ExecutorFactory) CreateFromConfig(sandboxMode SandboxMode) (AuditedExecutor, error) {
	switch sandboxMode {
	case SandboxNone, "":
		return f.CreateDirect(), nil
	case SandboxDocker:
		return f.CreateDocker()
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", sandboxMode)
	}
}
