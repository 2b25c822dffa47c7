package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TOGETHER_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
		"ANALYST_PROVIDER", "ANALYST_MODEL", "ANALYST_BASE_URL",
		"ANALYST_STAGING_DIR", "ANALYST_INTERPRETER", "ANALYST_DB",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "together", cfg.LLM.Provider)
	assert.Equal(t, "30s", cfg.Sandbox.Timeout)
	assert.Equal(t, 1000, cfg.Agent.MaxDocumentChars)
	assert.Equal(t, 1, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, "output.png", cfg.Sandbox.ImageFile)
	// Generated scripts import pandas and matplotlib.
	assert.Contains(t, cfg.Sandbox.DockerImage, "scipy-notebook")
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "sk-test"
	cfg.Sandbox.MaxConcurrent = 3
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", loaded.LLM.Provider)
	assert.Equal(t, "sk-test", loaded.LLM.APIKey)
	assert.Equal(t, 3, loaded.Sandbox.MaxConcurrent)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Model, cfg.LLM.Model)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("provider key from env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TOGETHER_API_KEY", "tg-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "tg-key", cfg.LLM.APIKey)
	})

	t.Run("key of another provider is ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Empty(t, cfg.LLM.APIKey)
	})

	t.Run("empty provider detected from env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gm-key")
		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "gemini", cfg.LLM.Provider)
		assert.Equal(t, "gm-key", cfg.LLM.APIKey)
	})

	t.Run("ANALYST_PROVIDER switches provider", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANALYST_PROVIDER", "OpenAI")
		t.Setenv("OPENAI_API_KEY", "oa-key")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "openai", cfg.LLM.Provider)
		assert.Equal(t, "oa-key", cfg.LLM.APIKey)
	})

	t.Run("paths", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANALYST_STAGING_DIR", "/tmp/stage")
		t.Setenv("ANALYST_DB", "/tmp/s.db")
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/stage", cfg.Sandbox.StagingDir)
		assert.Equal(t, "/tmp/s.db", cfg.Session.DatabasePath)
	})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOGETHER_API_KEY")

	cfg.LLM.APIKey = "k"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.LLM.Provider = "zai"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Sandbox.Mode = "firejail"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Sandbox.ScriptName = "../evil.py"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Sandbox.MaxConcurrent = 0
	assert.Error(t, bad.Validate())
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())

	cfg.Sandbox.Timeout = "garbage"
	cfg.LLM.Timeout = "-1s"
	assert.Equal(t, 30*time.Second, cfg.GetExecutionTimeout())
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
}
