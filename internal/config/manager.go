package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	viper     *viper.Viper
	watchChan chan Config

	mu     sync.RWMutex
	config *Config
}

// Load reads defaults, the optional YAML file, and CEREBRIC_* environment
// overrides into a Config snapshot.
func (m *viperManager) Load(ctx context.Context) error {
	configDir, dataDir, logDir := ResolveDirs()

	m.viper = viper.New()
	m.viper.SetConfigFile(filepath.Join(configDir, ConfigFileName))
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("CEREBRIC")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults(configDir)

	// The config file is optional; defaults plus environment variables
	// are a complete configuration.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// fall through to defaults
		} else if os.IsNotExist(err) {
			// fall through to defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := m.unmarshalConfig()
	cfg.Dirs.Config = configDir
	cfg.Dirs.Data = dataDir
	cfg.Dirs.Log = logDir
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = filepath.Join(configDir, PolicyFileName)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns the current configuration snapshot.
func (m *viperManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate folds all validation errors into one.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Watch registers a file watcher and delivers a fresh snapshot on every
// change that parses and validates. Consumers apply only the tunable
// subset (thresholds, budgets, approval timeout, retrieval fan-out);
// fixed settings such as directories and the listen address require a
// restart regardless of what the file says.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		old := m.Get(ctx)
		cfg := m.unmarshalConfig()
		cfg.Dirs = old.Dirs
		if cfg.Policy.Path == "" {
			cfg.Policy.Path = old.Policy.Path
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			// Keep the last good config; the daemon logs the reload
			// failure when the channel consumer sees nothing arrive.
			return
		}

		m.mu.Lock()
		m.config = cfg
		m.mu.Unlock()

		select {
		case m.watchChan <- *cfg:
		default:
			// Consumer still busy with the previous snapshot.
		}
	})
	return m.watchChan
}

// Reload re-reads the config file on demand.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	old := m.Get(ctx)
	cfg := m.unmarshalConfig()
	cfg.Dirs = old.Dirs
	if cfg.Policy.Path == "" {
		cfg.Policy.Path = old.Policy.Path
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// setDefaults registers every key's default value with viper.
func (m *viperManager) setDefaults(configDir string) {
	defaults := DefaultConfig()

	// Scheduler defaults
	m.viper.SetDefault("scheduler.workers", defaults.Scheduler.Workers)
	m.viper.SetDefault("scheduler.misfire_grace", defaults.Scheduler.MisfireGrace)
	m.viper.SetDefault("scheduler.tick_interval", defaults.Scheduler.TickInterval)
	m.viper.SetDefault("scheduler.queue_depth", defaults.Scheduler.QueueDepth)

	// Guardrail defaults
	m.viper.SetDefault("guardrails.min_approval_confidence", defaults.Guardrails.MinApprovalConfidence)
	m.viper.SetDefault("guardrails.min_auto_confidence", defaults.Guardrails.MinAutoConfidence)
	m.viper.SetDefault("guardrails.budget.max_cpu_percent", defaults.Guardrails.Budget.MaxCPUPercent)
	m.viper.SetDefault("guardrails.budget.max_memory_mb", defaults.Guardrails.Budget.MaxMemoryMB)
	m.viper.SetDefault("guardrails.budget.max_duration_minutes", defaults.Guardrails.Budget.MaxDurationMinutes)
	m.viper.SetDefault("guardrails.budget.max_per_hour", defaults.Guardrails.Budget.MaxPerHour)
	m.viper.SetDefault("guardrails.anomaly.failure_threshold", defaults.Guardrails.Anomaly.FailureThreshold)
	m.viper.SetDefault("guardrails.anomaly.error_rate_threshold", defaults.Guardrails.Anomaly.ErrorRateThreshold)
	m.viper.SetDefault("guardrails.anomaly.window", defaults.Guardrails.Anomaly.Window)
	m.viper.SetDefault("guardrails.anomaly.min_window_samples", defaults.Guardrails.Anomaly.MinWindowSamples)
	m.viper.SetDefault("guardrails.anomaly.cpu_spike_threshold", defaults.Guardrails.Anomaly.CPUSpikeThreshold)
	m.viper.SetDefault("guardrails.anomaly.cpu_spike_samples", defaults.Guardrails.Anomaly.CPUSpikeSamples)
	m.viper.SetDefault("guardrails.anomaly.memory_leak_samples", defaults.Guardrails.Anomaly.MemoryLeakSamples)
	m.viper.SetDefault("guardrails.anomaly.memory_leak_growth_mb", defaults.Guardrails.Anomaly.MemoryLeakGrowthMB)

	// Approval defaults
	m.viper.SetDefault("approval.mode", defaults.Approval.Mode)
	m.viper.SetDefault("approval.timeout", defaults.Approval.Timeout)

	// LLM defaults
	m.viper.SetDefault("llm.provider", defaults.LLM.Provider)
	m.viper.SetDefault("llm.endpoint", defaults.LLM.Endpoint)
	m.viper.SetDefault("llm.model", defaults.LLM.Model)
	m.viper.SetDefault("llm.timeout", defaults.LLM.Timeout)
	m.viper.SetDefault("llm.temperature", defaults.LLM.Temperature)
	m.viper.SetDefault("llm.max_tokens", defaults.LLM.MaxTokens)

	// Retrieval defaults
	m.viper.SetDefault("retrieval.top_k", defaults.Retrieval.TopK)
	m.viper.SetDefault("retrieval.cache_ttl", defaults.Retrieval.CacheTTL)

	// Policy defaults
	m.viper.SetDefault("policy.path", filepath.Join(configDir, PolicyFileName))

	// Memory defaults
	m.viper.SetDefault("memory.default_profile", defaults.Memory.DefaultProfile)

	// Server defaults
	m.viper.SetDefault("server.host", defaults.Server.Host)
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	m.viper.SetDefault("server.rate_limit_burst", defaults.Server.RateLimitBurst)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig reads every key out of viper into a Config struct.
func (m *viperManager) unmarshalConfig() *Config {
	cfg := &Config{}

	// Scheduler
	cfg.Scheduler.Workers = m.viper.GetInt("scheduler.workers")
	cfg.Scheduler.MisfireGrace = m.viper.GetDuration("scheduler.misfire_grace")
	cfg.Scheduler.TickInterval = m.viper.GetDuration("scheduler.tick_interval")
	cfg.Scheduler.QueueDepth = m.viper.GetInt("scheduler.queue_depth")

	// Guardrails
	cfg.Guardrails.MinApprovalConfidence = m.viper.GetFloat64("guardrails.min_approval_confidence")
	cfg.Guardrails.MinAutoConfidence = m.viper.GetFloat64("guardrails.min_auto_confidence")
	cfg.Guardrails.Budget.MaxCPUPercent = m.viper.GetFloat64("guardrails.budget.max_cpu_percent")
	cfg.Guardrails.Budget.MaxMemoryMB = m.viper.GetFloat64("guardrails.budget.max_memory_mb")
	cfg.Guardrails.Budget.MaxDurationMinutes = m.viper.GetFloat64("guardrails.budget.max_duration_minutes")
	cfg.Guardrails.Budget.MaxPerHour = m.viper.GetInt("guardrails.budget.max_per_hour")
	cfg.Guardrails.Anomaly.FailureThreshold = m.viper.GetInt("guardrails.anomaly.failure_threshold")
	cfg.Guardrails.Anomaly.ErrorRateThreshold = m.viper.GetFloat64("guardrails.anomaly.error_rate_threshold")
	cfg.Guardrails.Anomaly.Window = m.viper.GetDuration("guardrails.anomaly.window")
	cfg.Guardrails.Anomaly.MinWindowSamples = m.viper.GetInt("guardrails.anomaly.min_window_samples")
	cfg.Guardrails.Anomaly.CPUSpikeThreshold = m.viper.GetFloat64("guardrails.anomaly.cpu_spike_threshold")
	cfg.Guardrails.Anomaly.CPUSpikeSamples = m.viper.GetInt("guardrails.anomaly.cpu_spike_samples")
	cfg.Guardrails.Anomaly.MemoryLeakSamples = m.viper.GetInt("guardrails.anomaly.memory_leak_samples")
	cfg.Guardrails.Anomaly.MemoryLeakGrowthMB = m.viper.GetFloat64("guardrails.anomaly.memory_leak_growth_mb")

	// Approval
	cfg.Approval.Mode = m.viper.GetString("approval.mode")
	cfg.Approval.Timeout = m.viper.GetDuration("approval.timeout")

	// LLM
	cfg.LLM.Provider = m.viper.GetString("llm.provider")
	cfg.LLM.Endpoint = m.viper.GetString("llm.endpoint")
	cfg.LLM.Model = m.viper.GetString("llm.model")
	cfg.LLM.Timeout = m.viper.GetDuration("llm.timeout")
	cfg.LLM.Temperature = m.viper.GetFloat64("llm.temperature")
	cfg.LLM.MaxTokens = m.viper.GetInt("llm.max_tokens")

	// Retrieval
	cfg.Retrieval.TopK = m.viper.GetInt("retrieval.top_k")
	cfg.Retrieval.CacheTTL = m.viper.GetDuration("retrieval.cache_ttl")

	// Policy
	cfg.Policy.Path = m.viper.GetString("policy.path")

	// Memory
	cfg.Memory.DefaultProfile = m.viper.GetString("memory.default_profile")

	// Server
	cfg.Server.Host = m.viper.GetString("server.host")
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")
	cfg.Server.RateLimitBurst = m.viper.GetInt("server.rate_limit_burst")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	return cfg
}
