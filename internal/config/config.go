package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the CLI looks for configuration when --config is not given.
const DefaultConfigPath = ".analyst/config.yaml"

// Config holds all analyst configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM     LLMConfig     `yaml:"llm"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Agent   AgentConfig   `yaml:"agent"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the remote model boundary.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // together, openai, gemini
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`        // empty means the provider default
	VisionModel string  `yaml:"vision_model"` // empty means Model
	BaseURL     string  `yaml:"base_url"`     // empty means the provider default
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"` // retries on 429/5xx; 0 surfaces the first failure
}

// SandboxConfig configures generated-code execution.
type SandboxConfig struct {
	// Mode is "none" (host process with rlimits) or "docker".
	Mode            string   `yaml:"mode"`
	Interpreter     string   `yaml:"interpreter"`
	InterpreterArgs []string `yaml:"interpreter_args"`
	// DockerImage must ship the interpreter with pandas and matplotlib.
	DockerImage     string   `yaml:"docker_image"`
	Timeout         string   `yaml:"timeout"`

	StagingDir string `yaml:"staging_dir"`
	OutputDir  string `yaml:"output_dir"`
	ScriptName string `yaml:"script_name"`
	DataFile   string `yaml:"data_file"`
	ImageFile  string `yaml:"image_file"`

	MaxConcurrent  int   `yaml:"max_concurrent"`
	MaxMemoryMB    int64 `yaml:"max_memory_mb"`
	MaxCPUSeconds  int64 `yaml:"max_cpu_seconds"`
	MaxFileSizeMB  int64 `yaml:"max_file_size_mb"`
	MaxProcesses   int   `yaml:"max_processes"`
	MaxOutputBytes int64 `yaml:"max_output_bytes"`

	AllowedEnvVars []string `yaml:"allowed_env_vars"`

	// ValidatePython parses generated code before running it.
	ValidatePython bool     `yaml:"validate_python"`
	BlockedImports []string `yaml:"blocked_imports"`
}

// AgentConfig configures the orchestrator.
type AgentConfig struct {
	MaxDocumentChars int    `yaml:"max_document_chars"`
	SystemPrompt     string `yaml:"system_prompt"` // empty means the built-in prompt
}

// SessionConfig configures conversation persistence for the CLI.
type SessionConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "analyst",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:    "together",
			Timeout:     "120s",
			Temperature: 0.1,
			MaxTokens:   2048,
		},

		Sandbox: SandboxConfig{
			Mode:           "none",
			Interpreter:    "python3",
			DockerImage:    "quay.io/jupyter/scipy-notebook:python-3.12",
			Timeout:        "30s",
			StagingDir:     ".analyst/staging",
			OutputDir:      ".analyst/output",
			ScriptName:     "script.py",
			DataFile:       "data.csv",
			ImageFile:      "output.png",
			MaxConcurrent:  1,
			MaxMemoryMB:    4096,
			MaxCPUSeconds:  60,
			MaxFileSizeMB:  64,
			MaxOutputBytes: 1 << 20,
			AllowedEnvVars: []string{"PATH", "LANG", "LC_ALL", "PYTHONPATH", "VIRTUAL_ENV"},
			ValidatePython: true,
			BlockedImports: []string{
				"subprocess", "socket", "shutil", "ctypes", "multiprocessing",
				"requests", "urllib", "http", "ftplib", "smtplib", "telnetlib",
			},
		},

		Agent: AgentConfig{
			MaxDocumentChars: 1000,
		},

		Session: SessionConfig{
			DatabasePath: ".analyst/sessions.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// providerKeyEnv maps each provider to the environment variable holding its key.
var providerKeyEnv = map[string]string{
	"together": "TOGETHER_API_KEY",
	"openai":   "OPENAI_API_KEY",
	"gemini":   "GEMINI_API_KEY",
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("ANALYST_PROVIDER"); p != "" {
		c.LLM.Provider = strings.ToLower(p)
	}
	if c.LLM.Provider == "" {
		for _, p := range ValidProviders {
			if os.Getenv(providerKeyEnv[p]) != "" {
				c.LLM.Provider = p
				break
			}
		}
	}
	if env, ok := providerKeyEnv[c.LLM.Provider]; ok {
		if key := os.Getenv(env); key != "" {
			c.LLM.APIKey = key
		}
	}
	if m := os.Getenv("ANALYST_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if u := os.Getenv("ANALYST_BASE_URL"); u != "" {
		c.LLM.BaseURL = u
	}

	if dir := os.Getenv("ANALYST_STAGING_DIR"); dir != "" {
		c.Sandbox.StagingDir = dir
	}
	if interp := os.Getenv("ANALYST_INTERPRETER"); interp != "" {
		c.Sandbox.Interpreter = interp
	}
	if path := os.Getenv("ANALYST_DB"); path != "" {
		c.Session.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// GetExecutionTimeout returns the sandbox wall-clock deadline.
func (c *Config) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers in env-detection order.
var ValidProviders = []string{"together", "openai", "gemini"}

// ValidSandboxModes lists the supported sandbox modes.
var ValidSandboxModes = []string{"none", "docker"}

// Validate validates the configuration. A missing API key is the one
// condition the CLI treats as fatal at startup.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %q (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("LLM API key not configured for provider %s (set %s or llm.api_key)",
			c.LLM.Provider, providerKeyEnv[c.LLM.Provider])
	}
	if !contains(ValidSandboxModes, c.Sandbox.Mode) {
		return fmt.Errorf("invalid sandbox mode: %q (valid: %v)", c.Sandbox.Mode, ValidSandboxModes)
	}
	if c.Sandbox.Interpreter == "" {
		return fmt.Errorf("sandbox.interpreter is required")
	}
	if _, err := time.ParseDuration(c.Sandbox.Timeout); err != nil {
		return fmt.Errorf("invalid sandbox.timeout %q: %w", c.Sandbox.Timeout, err)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be at least 1, got %d", c.Sandbox.MaxConcurrent)
	}
	for _, name := range []string{c.Sandbox.ScriptName, c.Sandbox.DataFile, c.Sandbox.ImageFile} {
		if name == "" || filepath.Base(name) != name {
			return fmt.Errorf("sandbox staging names must be plain file names, got %q", name)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
