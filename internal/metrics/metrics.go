package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Supervisor metrics for production monitoring
var (
	// Job metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_job_runs_total",
			Help: "Total number of job executions by terminal state",
		},
		[]string{"task", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cerebric_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		},
		[]string{"task"},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cerebric_jobs_queued",
			Help: "Current number of jobs waiting for an execution slot",
		},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cerebric_jobs_running",
			Help: "Current number of jobs executing",
		},
	)

	MisfiresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cerebric_misfires_total",
			Help: "Total number of trigger firings skipped past the misfire grace",
		},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_retry_attempts_total",
			Help: "Total number of retry attempts after a failed try",
		},
		[]string{"policy"},
	)

	// Decision metrics
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_decisions_total",
			Help: "Total number of decision-loop outcomes",
		},
		[]string{"task", "outcome"}, // outcome: executed/approval/denied/skipped/fallback
	)

	DecisionConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cerebric_decision_confidence",
			Help:    "Model-reported confidence per proposed action",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0.0 to 1.0
		},
		[]string{"task"},
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_llm_requests_total",
			Help: "Total number of model generation requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cerebric_llm_request_duration_seconds",
			Help:    "Model generation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	// Guardrail metrics
	GuardrailVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_guardrail_verdicts_total",
			Help: "Total number of guardrail evaluations",
		},
		[]string{"check", "outcome"}, // outcome: allow/needs_approval/denied
	)

	AnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_anomalies_total",
			Help: "Total number of detected anomalies",
		},
		[]string{"type", "severity"},
	)

	SafeModeActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cerebric_safe_mode_active",
			Help: "Whether safe mode is active (1=active, 0=inactive)",
		},
	)

	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_recovery_actions_total",
			Help: "Total number of recovery actions attempted",
		},
		[]string{"action", "status"},
	)

	// Policy metrics
	PolicyDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_policy_decisions_total",
			Help: "Total number of policy evaluations",
		},
		[]string{"tool", "result"}, // result: allow/deny
	)

	// Approval metrics
	ApprovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_approvals_total",
			Help: "Total number of resolved approval requests",
		},
		[]string{"status"}, // status: approved/rejected/expired
	)

	ApprovalsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cerebric_approvals_pending",
			Help: "Current number of approval requests awaiting a decision",
		},
	)

	// Tool metrics
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_tool_calls_total",
			Help: "Total number of tool executions",
		},
		[]string{"tool", "mode", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cerebric_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"tool"},
	)

	// Dashboard metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cerebric_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cerebric_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
