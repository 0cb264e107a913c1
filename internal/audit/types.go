package audit

import "time"

// Mode classifies an audit record. Tool invocations use dry_run or apply;
// everything else is a state-change subcategory.
type Mode string

const (
	ModeDryRun   Mode = "dry_run"
	ModeApply    Mode = "apply"
	ModeState    Mode = "state"
	ModeRecovery Mode = "recovery"
	ModeApproval Mode = "approval"
	ModeSafeMode Mode = "safe_mode"
	ModeAnomaly  Mode = "anomaly"
	ModeMisfire  Mode = "misfire"
	ModeConfig   Mode = "config"
	ModeSystem   Mode = "system"
)

// Record is a single audit trail entry, serialised as one JSON object per
// line. Tool, Mode, and TS are required; TS is inserted by the writer when
// absent. Everything else is optional.
type Record struct {
	TS         time.Time      `json:"ts"`
	Tool       string         `json:"tool"`
	Mode       Mode           `json:"mode"`
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

// NewRecord creates an audit record for the given originator and mode.
// The originator is a tool name for invocation records, or a component
// name (scheduler, guardrail, approval) for state-change records.
func NewRecord(tool string, mode Mode) *Record {
	return &Record{
		TS:   time.Now().UTC(),
		Tool: tool,
		Mode: mode,
	}
}

// WithRequestID sets the request id correlating the record to a tool call.
func (r *Record) WithRequestID(id string) *Record {
	r.RequestID = id
	return r
}

// WithOK sets the outcome flag.
func (r *Record) WithOK(ok bool) *Record {
	r.OK = ok
	return r
}

// WithSummary sets a human-readable summary.
func (r *Record) WithSummary(summary string) *Record {
	r.Summary = summary
	return r
}

// WithJob sets the job id and its state at record time.
func (r *Record) WithJob(jobID, state string) *Record {
	r.JobID = jobID
	r.State = state
	return r
}

// WithUser sets the user who caused the record.
func (r *Record) WithUser(user string) *Record {
	r.User = user
	return r
}

// WithError sets error information and clears the outcome flag.
func (r *Record) WithError(err error, code string) *Record {
	if err != nil {
		r.Error = err.Error()
		r.ErrorCode = code
		r.OK = false
	}
	return r
}

// WithDuration sets the elapsed time in milliseconds.
func (r *Record) WithDuration(d time.Duration) *Record {
	r.DurationMs = d.Milliseconds()
	return r
}

// WithField adds a free-form key-value field.
func (r *Record) WithField(key string, value any) *Record {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
	return r
}
