// Package api defines the REST and WebSocket wire types shared between
// cerebricd, the cerebric CLI, and dashboard frontends.
//
// All timestamps serialize as RFC 3339 in UTC.
package api

import "time"

// Request types

// CreateJobRequest schedules a new job. Exactly one of CronExpr or RunAt
// must be set. ID is the caller-supplied stable identifier; re-posting an
// existing ID replaces the job definition.
type CreateJobRequest struct {
	ID          string         `json:"id"`
	Task        string         `json:"task"`
	Description string         `json:"description,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	RunAt       *time.Time     `json:"run_at,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	MaxRetries  int            `json:"max_retries,omitempty"`
	TimeoutSecs int            `json:"timeout_secs,omitempty"`
}

// DecideApprovalRequest resolves a pending approval request.
type DecideApprovalRequest struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason,omitempty"`
}

// ExitSafeModeRequest resumes autonomy after a safe-mode stop.
type ExitSafeModeRequest struct {
	User string `json:"user"`
}

// Response types

// Job is the wire view of a scheduled job.
type Job struct {
	ID          string         `json:"id"`
	Task        string         `json:"task"`
	Description string         `json:"description,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	RunAt       *time.Time     `json:"run_at,omitempty"`
	Priority    int            `json:"priority"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	State       string         `json:"state"`
	MaxRetries  int            `json:"max_retries"`
	TimeoutSecs int            `json:"timeout_secs"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
}

// StatusResponse summarizes the supervisor for dashboards and the CLI.
type StatusResponse struct {
	Running             bool           `json:"running"`
	SafeMode            bool           `json:"safe_mode"`
	SafeModeReason      string         `json:"safe_mode_reason,omitempty"`
	Jobs                map[string]int `json:"jobs"`
	PendingApprovals    int            `json:"pending_approvals"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	UptimeSeconds       int64          `json:"uptime_seconds"`
	Version             string         `json:"version"`
}

// Approval is the wire view of an approval request. The simulation
// payload, when present, carries the dry-run result that was shown to
// the approver.
type Approval struct {
	ID                string         `json:"id"`
	Task              string         `json:"task"`
	Action            string         `json:"action"`
	Confidence        float64        `json:"confidence"`
	RiskLevel         string         `json:"risk_level"`
	SystemState       map[string]any `json:"system_state,omitempty"`
	AffectedResources []string       `json:"affected_resources,omitempty"`
	Simulation        any            `json:"simulation,omitempty"`
	RequestedAt       time.Time      `json:"requested_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	Status            string         `json:"status"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty"`
	DecidedBy         string         `json:"decided_by,omitempty"`
	Reason            string         `json:"reason,omitempty"`
}

// Alert is the wire view of an anomaly event.
type Alert struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Severity    string             `json:"severity"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// AuditRecord is the wire view of one audit trail line.
type AuditRecord struct {
	TS         time.Time      `json:"ts"`
	Tool       string         `json:"tool"`
	Mode       string         `json:"mode"`
	RequestID  string         `json:"request_id,omitempty"`
	OK         bool           `json:"ok"`
	Summary    string         `json:"summary,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
	State      string         `json:"state,omitempty"`
	User       string         `json:"user,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WebSocket event stream

// Event types delivered on /ws/events.
const (
	EventJobTransition   = "job_transition"
	EventAnomaly         = "anomaly"
	EventApprovalRequest = "approval_request"
	EventApprovalDecided = "approval_decided"
	EventSafeMode        = "safe_mode"
	EventHeartbeat       = "heartbeat"
)

// Event is one message on the /ws/events stream.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JobID     string         `json:"job_id,omitempty"`
	State     string         `json:"state,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
