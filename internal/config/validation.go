package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	// Scheduler
	if c.Scheduler.Workers < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.workers",
			Message: fmt.Sprintf("workers must be at least 1, got %d", c.Scheduler.Workers),
		})
	}
	if c.Scheduler.MisfireGrace < 0 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.misfire_grace",
			Message: fmt.Sprintf("misfire_grace cannot be negative, got %s", c.Scheduler.MisfireGrace),
		})
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.tick_interval",
			Message: fmt.Sprintf("tick_interval must be positive, got %s", c.Scheduler.TickInterval),
		})
	}
	if c.Scheduler.QueueDepth < 1 {
		errs = append(errs, &ValidationError{
			Field:   "scheduler.queue_depth",
			Message: fmt.Sprintf("queue_depth must be at least 1, got %d", c.Scheduler.QueueDepth),
		})
	}

	// Guardrails: both thresholds live in (0,1] and the approval floor
	// can never sit above the auto threshold.
	if c.Guardrails.MinApprovalConfidence <= 0 || c.Guardrails.MinApprovalConfidence > 1 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.min_approval_confidence",
			Message: fmt.Sprintf("must be in (0, 1], got %g", c.Guardrails.MinApprovalConfidence),
		})
	}
	if c.Guardrails.MinAutoConfidence <= 0 || c.Guardrails.MinAutoConfidence > 1 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.min_auto_confidence",
			Message: fmt.Sprintf("must be in (0, 1], got %g", c.Guardrails.MinAutoConfidence),
		})
	}
	if c.Guardrails.MinApprovalConfidence > c.Guardrails.MinAutoConfidence {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.min_approval_confidence",
			Message: fmt.Sprintf("approval threshold %g exceeds auto threshold %g",
				c.Guardrails.MinApprovalConfidence, c.Guardrails.MinAutoConfidence),
		})
	}
	if c.Guardrails.Budget.MaxCPUPercent <= 0 || c.Guardrails.Budget.MaxCPUPercent > 100 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.budget.max_cpu_percent",
			Message: fmt.Sprintf("must be in (0, 100], got %g", c.Guardrails.Budget.MaxCPUPercent),
		})
	}
	if c.Guardrails.Budget.MaxMemoryMB <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.budget.max_memory_mb",
			Message: fmt.Sprintf("must be positive, got %g", c.Guardrails.Budget.MaxMemoryMB),
		})
	}
	if c.Guardrails.Budget.MaxDurationMinutes <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.budget.max_duration_minutes",
			Message: fmt.Sprintf("must be positive, got %g", c.Guardrails.Budget.MaxDurationMinutes),
		})
	}
	if c.Guardrails.Budget.MaxPerHour < 1 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.budget.max_per_hour",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Guardrails.Budget.MaxPerHour),
		})
	}
	if c.Guardrails.Anomaly.FailureThreshold < 1 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.anomaly.failure_threshold",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Guardrails.Anomaly.FailureThreshold),
		})
	}
	if c.Guardrails.Anomaly.ErrorRateThreshold <= 0 || c.Guardrails.Anomaly.ErrorRateThreshold > 1 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.anomaly.error_rate_threshold",
			Message: fmt.Sprintf("must be in (0, 1], got %g", c.Guardrails.Anomaly.ErrorRateThreshold),
		})
	}
	if c.Guardrails.Anomaly.Window <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "guardrails.anomaly.window",
			Message: fmt.Sprintf("must be positive, got %s", c.Guardrails.Anomaly.Window),
		})
	}

	// Approval
	validModes := map[string]bool{
		"cli":       true,
		"dashboard": true,
		"auto":      true,
	}
	if !validModes[c.Approval.Mode] {
		errs = append(errs, &ValidationError{
			Field:   "approval.mode",
			Message: fmt.Sprintf("invalid mode '%s', must be one of: cli, dashboard, auto", c.Approval.Mode),
		})
	}
	if c.Approval.Timeout <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "approval.timeout",
			Message: fmt.Sprintf("timeout must be positive, got %s", c.Approval.Timeout),
		})
	}

	// LLM
	if c.LLM.Provider != "ollama" {
		errs = append(errs, &ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("invalid provider '%s', must be: ollama", c.LLM.Provider),
		})
	}
	if c.LLM.Endpoint == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.endpoint",
			Message: "endpoint is required",
		})
	} else if u, err := url.Parse(c.LLM.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.endpoint",
			Message: fmt.Sprintf("invalid endpoint URL: %s", c.LLM.Endpoint),
		})
	}
	if c.LLM.Model == "" {
		errs = append(errs, &ValidationError{
			Field:   "llm.model",
			Message: "model is required",
		})
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, &ValidationError{
			Field:   "llm.temperature",
			Message: fmt.Sprintf("must be in [0, 2], got %g", c.LLM.Temperature),
		})
	}

	// Retrieval
	if c.Retrieval.TopK < 1 {
		errs = append(errs, &ValidationError{
			Field:   "retrieval.top_k",
			Message: fmt.Sprintf("top_k must be at least 1, got %d", c.Retrieval.TopK),
		})
	}
	if c.Retrieval.CacheTTL < 0 {
		errs = append(errs, &ValidationError{
			Field:   "retrieval.cache_ttl",
			Message: fmt.Sprintf("cache_ttl cannot be negative, got %s", c.Retrieval.CacheTTL),
		})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}
	if c.Server.RateLimitPerMinute < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Server.RateLimitPerMinute),
		})
	}
	if c.Server.RateLimitBurst < 1 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_burst",
			Message: fmt.Sprintf("must be at least 1, got %d", c.Server.RateLimitBurst),
		})
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	return errs
}
