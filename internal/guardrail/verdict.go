package guardrail

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome tags a guardrail verdict.
type Outcome int

const (
	// OutcomeAllow lets the action execute autonomously.
	OutcomeAllow Outcome = iota

	// OutcomeNeedsApproval requires a human decision before execution.
	OutcomeNeedsApproval

	// OutcomeDenied blocks the action.
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeNeedsApproval:
		return "needs_approval"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Verdict is the result of a guardrail check. Checks return values, not
// errors; the decision loop branches on the outcome tag.
type Verdict struct {
	Outcome    Outcome
	Reason     string
	Violations []string
}

// Allowed reports whether the action may proceed without approval.
func (v Verdict) Allowed() bool { return v.Outcome == OutcomeAllow }

// Denied reports whether the action is blocked.
func (v Verdict) Denied() bool { return v.Outcome == OutcomeDenied }

// Err converts a denial into a typed error for audit records and job
// bookkeeping. Allow and NeedsApproval verdicts have no error form.
func (v Verdict) Err() error {
	if v.Outcome != OutcomeDenied {
		return nil
	}
	return &ViolationError{Reason: v.Reason, Violations: v.Violations}
}

// ViolationError marks an action blocked by a guardrail.
type ViolationError struct {
	Reason     string
	Violations []string
}

func (e *ViolationError) Error() string {
	if len(e.Violations) > 0 {
		return fmt.Sprintf("guardrail violation: %s [%s]", e.Reason, strings.Join(e.Violations, "; "))
	}
	return "guardrail violation: " + e.Reason
}

// IsViolation reports whether err is a guardrail violation.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

// BudgetExceededError marks a running action that blew through its
// resource caps.
type BudgetExceededError struct {
	Violations []string
}

func (e *BudgetExceededError) Error() string {
	return "budget exceeded: " + strings.Join(e.Violations, "; ")
}

// IsBudgetExceeded reports whether err is a runtime budget breach.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
