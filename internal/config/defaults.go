package config

import (
	"os"
	"path/filepath"
	"time"
)

// Environment variables overriding the directory roots.
const (
	EnvConfigDir = "CEREBRIC_CONFIG_DIR"
	EnvDataDir   = "CEREBRIC_DATA_DIR"
	EnvLogDir    = "CEREBRIC_LOG_DIR"
)

// ConfigFileName is the YAML file cerebricd reads under the config dir.
const ConfigFileName = "cerebric.yaml"

// PolicyFileName is the default policy document under the config dir.
const PolicyFileName = "policy.yaml"

// ResolveDirs returns the directory roots, applying CEREBRIC_CONFIG_DIR,
// CEREBRIC_DATA_DIR, and CEREBRIC_LOG_DIR over the XDG-style defaults.
// The log dir defaults under the data dir so a single CEREBRIC_DATA_DIR
// override relocates everything the daemon writes.
func ResolveDirs() (configDir, dataDir, logDir string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	configDir = os.Getenv(EnvConfigDir)
	if configDir == "" {
		configDir = filepath.Join(home, ".config", "cerebric")
	}

	dataDir = os.Getenv(EnvDataDir)
	if dataDir == "" {
		dataDir = filepath.Join(home, ".local", "share", "cerebric")
	}

	logDir = os.Getenv(EnvLogDir)
	if logDir == "" {
		logDir = filepath.Join(dataDir, "logs")
	}
	return configDir, dataDir, logDir
}

// DefaultConfig returns a configuration with all default values. The
// directory roots are resolved from the environment.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Dirs.Config, cfg.Dirs.Data, cfg.Dirs.Log = ResolveDirs()

	// Scheduler defaults
	cfg.Scheduler.Workers = 5
	cfg.Scheduler.MisfireGrace = 60 * time.Second
	cfg.Scheduler.TickInterval = time.Second
	cfg.Scheduler.QueueDepth = 16

	// Guardrail defaults
	cfg.Guardrails.MinApprovalConfidence = 0.5
	cfg.Guardrails.MinAutoConfidence = 0.8
	cfg.Guardrails.Budget.MaxCPUPercent = 50
	cfg.Guardrails.Budget.MaxMemoryMB = 512
	cfg.Guardrails.Budget.MaxDurationMinutes = 10
	cfg.Guardrails.Budget.MaxPerHour = 12
	cfg.Guardrails.Anomaly.FailureThreshold = 3
	cfg.Guardrails.Anomaly.ErrorRateThreshold = 0.5
	cfg.Guardrails.Anomaly.Window = time.Hour
	cfg.Guardrails.Anomaly.MinWindowSamples = 5
	cfg.Guardrails.Anomaly.CPUSpikeThreshold = 90
	cfg.Guardrails.Anomaly.CPUSpikeSamples = 3
	cfg.Guardrails.Anomaly.MemoryLeakSamples = 5
	cfg.Guardrails.Anomaly.MemoryLeakGrowthMB = 100

	// Approval defaults. Dashboard mode auto-rejects at the timeout when
	// nobody decides, so keep the window short enough to not stall the
	// worker pool.
	cfg.Approval.Mode = "cli"
	cfg.Approval.Timeout = 5 * time.Minute

	// LLM defaults
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Endpoint = "http://localhost:11434"
	cfg.LLM.Model = "llama3.1"
	cfg.LLM.Timeout = 120 * time.Second
	cfg.LLM.Temperature = 0.3
	cfg.LLM.MaxTokens = 1024

	// Retrieval defaults
	cfg.Retrieval.TopK = 3
	cfg.Retrieval.CacheTTL = 5 * time.Minute

	// Policy document defaults under the config dir.
	cfg.Policy.Path = filepath.Join(cfg.Dirs.Config, PolicyFileName)

	// Memory defaults
	cfg.Memory.DefaultProfile = "default"

	// Server defaults
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8420
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 60
	cfg.Server.RateLimitBurst = 10

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
