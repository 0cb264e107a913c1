// Package config loads, validates, and hot-reloads cerebricd's
// configuration.
//
// Sources, highest priority first:
//
//  1. Environment variables (CEREBRIC_* prefix, dots become underscores,
//     e.g. CEREBRIC_SERVER_PORT overrides server.port)
//  2. YAML config file at <config-dir>/cerebric.yaml
//  3. Built-in defaults
//
// Directory roots resolve from the environment before the file is read:
// CEREBRIC_CONFIG_DIR (default ~/.config/cerebric), CEREBRIC_DATA_DIR
// (default ~/.local/share/cerebric), CEREBRIC_LOG_DIR (default
// <data-dir>/logs).
//
// A subset of the configuration is tunable at runtime: guardrail
// confidence thresholds, resource budgets, the approval timeout, and the
// retrieval fan-out. Watch delivers a fresh Config snapshot whenever the
// file changes on disk; everything else (directories, listen address,
// worker counts) is fixed until restart.
package config

import (
	"context"
	"time"
)

// Config is the full cerebricd configuration tree.
type Config struct {
	// Dirs are the resolved directory roots. They come from the
	// environment or defaults, never from the YAML file, because the
	// file itself lives under Dirs.Config.
	Dirs struct {
		Config string
		Data   string
		Log    string
	}

	Scheduler struct {
		Workers      int
		MisfireGrace time.Duration
		TickInterval time.Duration
		QueueDepth   int
	}

	Guardrails struct {
		MinApprovalConfidence float64
		MinAutoConfidence     float64

		Budget struct {
			MaxCPUPercent      float64
			MaxMemoryMB        float64
			MaxDurationMinutes float64
			MaxPerHour         int
		}

		Anomaly struct {
			FailureThreshold   int
			ErrorRateThreshold float64
			Window             time.Duration
			MinWindowSamples   int
			CPUSpikeThreshold  float64
			CPUSpikeSamples    int
			MemoryLeakSamples  int
			MemoryLeakGrowthMB float64
		}
	}

	Approval struct {
		// Mode is cli, dashboard, or auto.
		Mode    string
		Timeout time.Duration
	}

	LLM struct {
		// Provider names the model backend. Only "ollama" ships today.
		Provider    string
		Endpoint    string
		Model       string
		Timeout     time.Duration
		Temperature float64
		MaxTokens   int
	}

	Retrieval struct {
		TopK     int
		CacheTTL time.Duration
	}

	Policy struct {
		// Path to the YAML policy document. Empty means
		// <config-dir>/policy.yaml.
		Path string
	}

	Memory struct {
		DefaultProfile string
	}

	Server struct {
		Host string
		Port int
		// AllowedOrigins is the list of origins permitted to open
		// WebSocket connections. Use ["*"] to allow any origin
		// (development only).
		AllowedOrigins []string
		// RateLimit applies to mutating endpoints, requests per minute
		// per client with the given burst.
		RateLimitPerMinute int
		RateLimitBurst     int
	}

	Logging struct {
		Level      string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// Manager is the configuration access surface used by cerebricd.
type Manager interface {
	// Load reads all sources and builds the initial Config.
	Load(ctx context.Context) error

	// Get returns the current configuration snapshot.
	Get(ctx context.Context) *Config

	// Validate reports configuration problems as a single error.
	Validate(ctx context.Context) error

	// Watch begins watching the config file and delivers a snapshot
	// on every change that parses and validates.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads sources on demand.
	Reload(ctx context.Context) error
}

// NewManager builds a Manager bound to the resolved config directory.
// The YAML file is optional; defaults plus environment variables make a
// runnable configuration on their own.
func NewManager() Manager {
	return &viperManager{
		config:    DefaultConfig(),
		watchChan: make(chan Config, 1),
	}
}
