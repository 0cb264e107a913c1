package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/cerebric/cerebric/internal/simulate"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Mode selects how a decision is obtained.
type Mode string

const (
	// ModeCLI prompts interactively on the terminal: yes/no/details,
	// where details dumps the full request as JSON and re-prompts.
	ModeCLI Mode = "cli"

	// ModeDashboard parks the request for the HTTP dashboard. Until an
	// interactive UI exists, a request nobody resolves within the wait
	// window is rejected when the window lapses; the dashboard's
	// decision endpoint resolves it sooner. This auto-rejection is the
	// documented behaviour, not a bug.
	ModeDashboard Mode = "dashboard"

	// ModeAuto approves unconditionally. Test-only; every auto decision
	// is audited as such.
	ModeAuto Mode = "auto"
)

// Request is one action awaiting human judgement.
type Request struct {
	ID                string           `json:"id"`
	Task              string           `json:"task"`
	Action            string           `json:"action"`
	Confidence        float64          `json:"confidence"`
	RiskLevel         string           `json:"risk_level"`
	SystemState       map[string]any   `json:"system_state,omitempty"`
	AffectedResources []string         `json:"affected_resources,omitempty"`
	Simulation        *simulate.Result `json:"simulation,omitempty"`
	RequestedAt       time.Time        `json:"requested_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
	Status            Status           `json:"status"`
	DecidedAt         time.Time        `json:"decided_at,omitempty"`
	DecidedBy         string           `json:"decided_by,omitempty"`
	Reason            string           `json:"reason,omitempty"`
}

// Resolved reports whether the request has left the pending state.
func (r *Request) Resolved() bool { return r.Status != StatusPending }

// RejectedError marks a request that was not approved.
type RejectedError struct {
	RequestID string
	Status    Status
	Reason    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("approval %s %s: %s", e.RequestID, e.Status, e.Reason)
}

// IsRejected reports whether err is an approval rejection or expiry.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
