package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Directory roots resolve to something usable
	assert.NotEmpty(t, cfg.Dirs.Config)
	assert.NotEmpty(t, cfg.Dirs.Data)
	assert.NotEmpty(t, cfg.Dirs.Log)

	// Scheduler defaults
	assert.Equal(t, 5, cfg.Scheduler.Workers)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.MisfireGrace)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 16, cfg.Scheduler.QueueDepth)

	// Guardrail defaults
	assert.Equal(t, 0.5, cfg.Guardrails.MinApprovalConfidence)
	assert.Equal(t, 0.8, cfg.Guardrails.MinAutoConfidence)
	assert.Equal(t, 50.0, cfg.Guardrails.Budget.MaxCPUPercent)
	assert.Equal(t, 512.0, cfg.Guardrails.Budget.MaxMemoryMB)
	assert.Equal(t, time.Hour, cfg.Guardrails.Anomaly.Window)
	assert.Equal(t, 3, cfg.Guardrails.Anomaly.FailureThreshold)

	// Approval defaults
	assert.Equal(t, "cli", cfg.Approval.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Approval.Timeout)

	// LLM defaults
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Endpoint)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)

	// Retrieval defaults
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 5*time.Minute, cfg.Retrieval.CacheTTL)

	// Server defaults
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Server.AllowedOrigins)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
}

func TestResolveDirsEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigDir, "/tmp/cfg")
	t.Setenv(EnvDataDir, "/tmp/data")
	t.Setenv(EnvLogDir, "")

	configDir, dataDir, logDir := ResolveDirs()
	assert.Equal(t, "/tmp/cfg", configDir)
	assert.Equal(t, "/tmp/data", dataDir)
	// Log dir defaults under the data dir when unset.
	assert.Equal(t, filepath.Join("/tmp/data", "logs"), logDir)

	t.Setenv(EnvLogDir, "/var/log/cerebric")
	_, _, logDir = ResolveDirs()
	assert.Equal(t, "/var/log/cerebric", logDir)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantError bool
		errorMsg  string
	}{
		{
			name:      "valid default config",
			modifyFn:  func(cfg *Config) {},
			wantError: false,
		},
		{
			name: "zero workers",
			modifyFn: func(cfg *Config) {
				cfg.Scheduler.Workers = 0
			},
			wantError: true,
			errorMsg:  "workers must be at least 1",
		},
		{
			name: "negative misfire grace",
			modifyFn: func(cfg *Config) {
				cfg.Scheduler.MisfireGrace = -time.Second
			},
			wantError: true,
			errorMsg:  "misfire_grace cannot be negative",
		},
		{
			name: "confidence threshold above one",
			modifyFn: func(cfg *Config) {
				cfg.Guardrails.MinAutoConfidence = 1.5
			},
			wantError: true,
			errorMsg:  "must be in (0, 1]",
		},
		{
			name: "approval floor above auto threshold",
			modifyFn: func(cfg *Config) {
				cfg.Guardrails.MinApprovalConfidence = 0.9
				cfg.Guardrails.MinAutoConfidence = 0.8
			},
			wantError: true,
			errorMsg:  "exceeds auto threshold",
		},
		{
			name: "cpu budget above 100",
			modifyFn: func(cfg *Config) {
				cfg.Guardrails.Budget.MaxCPUPercent = 150
			},
			wantError: true,
			errorMsg:  "must be in (0, 100]",
		},
		{
			name: "zero anomaly window",
			modifyFn: func(cfg *Config) {
				cfg.Guardrails.Anomaly.Window = 0
			},
			wantError: true,
			errorMsg:  "must be positive",
		},
		{
			name: "invalid approval mode",
			modifyFn: func(cfg *Config) {
				cfg.Approval.Mode = "email"
			},
			wantError: true,
			errorMsg:  "invalid mode 'email'",
		},
		{
			name: "invalid LLM provider",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Provider = "invalid"
			},
			wantError: true,
			errorMsg:  "invalid provider",
		},
		{
			name: "malformed LLM endpoint",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Endpoint = "not a url"
			},
			wantError: true,
			errorMsg:  "invalid endpoint URL",
		},
		{
			name: "missing LLM model",
			modifyFn: func(cfg *Config) {
				cfg.LLM.Model = ""
			},
			wantError: true,
			errorMsg:  "model is required",
		},
		{
			name: "zero top_k",
			modifyFn: func(cfg *Config) {
				cfg.Retrieval.TopK = 0
			},
			wantError: true,
			errorMsg:  "top_k must be at least 1",
		},
		{
			name: "invalid port - too low",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 0
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid port - too high",
			modifyFn: func(cfg *Config) {
				cfg.Server.Port = 70000
			},
			wantError: true,
			errorMsg:  "port must be between 1 and 65535",
		},
		{
			name: "invalid log level",
			modifyFn: func(cfg *Config) {
				cfg.Logging.Level = "verbose"
			},
			wantError: true,
			errorMsg:  "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()

			if tt.wantError {
				assert.NotEmpty(t, errs, "expected validation errors but got none")
				found := false
				for _, err := range errs {
					if strings.Contains(err.Error(), tt.errorMsg) {
						found = true
						break
					}
				}
				assert.True(t, found, "expected error message containing '%s', got: %v", tt.errorMsg, errs)
			} else {
				assert.Empty(t, errs, "expected no validation errors but got: %v", errs)
			}
		})
	}
}

func TestManagerLoad(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)
	t.Setenv(EnvDataDir, filepath.Join(tmpDir, "data"))
	t.Setenv(EnvLogDir, "")

	configContent := `
scheduler:
  workers: 3
  misfire_grace: 30s

guardrails:
  min_auto_confidence: 0.9
  budget:
    max_memory_mb: 1024
  anomaly:
    window: 30m

approval:
  mode: dashboard
  timeout: 2m

llm:
  endpoint: "http://ollama.local:11434"
  model: "mistral"

server:
  port: 9090

logging:
  level: debug
`
	err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configContent), 0o644)
	require.NoError(t, err)

	mgr := NewManager()
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)

	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.MisfireGrace)
	assert.Equal(t, 0.9, cfg.Guardrails.MinAutoConfidence)
	assert.Equal(t, 1024.0, cfg.Guardrails.Budget.MaxMemoryMB)
	assert.Equal(t, 30*time.Minute, cfg.Guardrails.Anomaly.Window)
	assert.Equal(t, "dashboard", cfg.Approval.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Approval.Timeout)
	assert.Equal(t, "http://ollama.local:11434", cfg.LLM.Endpoint)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset keys keep their defaults.
	assert.Equal(t, 16, cfg.Scheduler.QueueDepth)
	assert.Equal(t, 0.5, cfg.Guardrails.MinApprovalConfidence)

	// Dirs come from the environment, not the file.
	assert.Equal(t, tmpDir, cfg.Dirs.Config)
	assert.Equal(t, filepath.Join(tmpDir, "data"), cfg.Dirs.Data)
	assert.Equal(t, filepath.Join(tmpDir, "data", "logs"), cfg.Dirs.Log)

	// Policy path defaults under the config dir.
	assert.Equal(t, filepath.Join(tmpDir, PolicyFileName), cfg.Policy.Path)

	require.NoError(t, mgr.Validate(ctx))
}

func TestManagerEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)
	t.Setenv(EnvDataDir, filepath.Join(tmpDir, "data"))
	t.Setenv(EnvLogDir, "")
	t.Setenv("CEREBRIC_SERVER_PORT", "7070")
	t.Setenv("CEREBRIC_LLM_MODEL", "phi3")
	t.Setenv("CEREBRIC_APPROVAL_MODE", "auto")

	configContent := `
server:
  port: 8420
llm:
  model: "llama3.1"
`
	err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configContent), 0o644)
	require.NoError(t, err)

	mgr := NewManager()
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	assert.Equal(t, 7070, cfg.Server.Port, "environment should override the file")
	assert.Equal(t, "phi3", cfg.LLM.Model)
	assert.Equal(t, "auto", cfg.Approval.Mode)
}

func TestManagerMissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, filepath.Join(tmpDir, "does-not-exist"))
	t.Setenv(EnvDataDir, filepath.Join(tmpDir, "data"))
	t.Setenv(EnvLogDir, "")

	mgr := NewManager()
	ctx := context.Background()
	// No file is fine; defaults carry the load.
	require.NoError(t, mgr.Load(ctx))

	cfg := mgr.Get(ctx)
	require.NotNil(t, cfg)
	assert.Equal(t, 8420, cfg.Server.Port)
	require.NoError(t, mgr.Validate(ctx))
}

func TestManagerValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)
	t.Setenv(EnvDataDir, filepath.Join(tmpDir, "data"))
	t.Setenv(EnvLogDir, "")

	configContent := `
server:
  port: 99999
llm:
  provider: "claude"
`
	err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configContent), 0o644)
	require.NoError(t, err)

	mgr := NewManager()
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))

	err = mgr.Validate(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "port must be between 1 and 65535")
	assert.Contains(t, err.Error(), "invalid provider")
}

func TestManagerReload(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvConfigDir, tmpDir)
	t.Setenv(EnvDataDir, filepath.Join(tmpDir, "data"))
	t.Setenv(EnvLogDir, "")

	path := filepath.Join(tmpDir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("guardrails:\n  min_auto_confidence: 0.8\n"), 0o644))

	mgr := NewManager()
	ctx := context.Background()
	require.NoError(t, mgr.Load(ctx))
	assert.Equal(t, 0.8, mgr.Get(ctx).Guardrails.MinAutoConfidence)

	require.NoError(t, os.WriteFile(path, []byte("guardrails:\n  min_auto_confidence: 0.95\n"), 0o644))
	require.NoError(t, mgr.Reload(ctx))
	assert.Equal(t, 0.95, mgr.Get(ctx).Guardrails.MinAutoConfidence)

	// Directory roots survive the reload untouched.
	assert.Equal(t, tmpDir, mgr.Get(ctx).Dirs.Config)
}
