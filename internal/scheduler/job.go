// Package scheduler owns the set of jobs: their records on disk, their
// triggers, and the worker pool that hands each firing to the decision
// loop. Every state change persists before anything else observes it.
package scheduler

import (
	"fmt"
	"time"
)

// State is the lifecycle position of a job's current firing.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateSkipped   State = "skipped"
	StateRejected  State = "rejected"
)

// Terminal reports whether the state absorbs: a record in a terminal
// state accepts no further transitions. A recurring trigger starts the
// next firing by re-arming the record, which begins a fresh history;
// cancelled is the one state no trigger can re-arm.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// valid reports whether s names a known state.
func (s State) valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed,
		StateCancelled, StateSkipped, StateRejected:
		return true
	}
	return false
}

// transitions is the state machine for one firing.
var transitions = map[State]map[State]bool{
	StatePending: {
		StateRunning:   true,
		StateCancelled: true,
		StateSkipped:   true,
	},
	StateRunning: {
		StateCompleted: true,
		StateFailed:    true,
		StateRejected:  true,
		StateCancelled: true,
	},
	StateSkipped: {
		StateCancelled: true,
	},
	StateRejected: {
		StateCancelled: true,
	},
}

// InvalidTransitionError reports a state change the machine forbids.
type InvalidTransitionError struct {
	JobID string
	From  State
	To    State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}

// Job is an addressable unit of work. Records are kept for audit even
// after they stop firing.
type Job struct {
	ID          string         `json:"id"`
	Task        string         `json:"task"`
	Description string         `json:"description,omitempty"`
	CronExpr    string         `json:"cron_expr,omitempty"`
	RunAt       *time.Time     `json:"run_at,omitempty"`
	Priority    int            `json:"priority"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	State       State          `json:"state"`
	MaxRetries  int            `json:"max_retries"`
	TimeoutSecs int            `json:"timeout_seconds"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
}

// Recurring reports whether the job fires more than once.
func (j *Job) Recurring() bool { return j.CronExpr != "" }

// Transition moves the job to a new state, stamping started/completed
// timestamps. Terminal states absorb; anything else off the machine is
// an InvalidTransitionError.
func (j *Job) Transition(to State) error {
	if !to.valid() {
		return fmt.Errorf("job %s: unknown state %q", j.ID, to)
	}
	if !transitions[j.State][to] {
		return &InvalidTransitionError{JobID: j.ID, From: j.State, To: to}
	}

	now := time.Now().UTC()
	switch to {
	case StateRunning:
		j.StartedAt = &now
		j.LastError = ""
	case StateCompleted, StateFailed, StateCancelled, StateSkipped, StateRejected:
		j.CompletedAt = &now
	}
	j.State = to
	return nil
}

// Rearm resets the record for the next firing of a recurring trigger.
// The previous firing's history stays in the audit trail.
func (j *Job) Rearm() error {
	if !j.Recurring() {
		return fmt.Errorf("job %s: one-shot jobs cannot re-arm", j.ID)
	}
	if j.State == StateCancelled {
		return fmt.Errorf("job %s: cancelled jobs cannot re-arm", j.ID)
	}
	j.State = StatePending
	j.StartedAt = nil
	j.CompletedAt = nil
	j.RetryCount = 0
	j.LastError = ""
	return nil
}
