package guardrail

import (
	"context"
	"fmt"
	"time"
)

// Recovery action names, attempted in this order when safe mode engages.
const (
	RecoveryAlertUser          = "alert_user"
	RecoveryRollbackLastAction = "rollback_last_action"
	RecoveryPauseAutonomy      = "pause_autonomy"
)

// RecoveryResult is the outcome of one attempted recovery action.
type RecoveryResult struct {
	Action    string    `json:"action"`
	OK        bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// RollbackFunc undoes the most recent state-changing action. A nil
// func means nothing is available to roll back.
type RollbackFunc func(ctx context.Context) error

// RecoveryHooks are the pluggable halves of each recovery action.
type RecoveryHooks struct {
	// Alert notifies the operator. Required.
	Alert func(reason string) error

	// Rollback undoes the last apply-mode action, when one exists.
	Rollback RollbackFunc

	// Pause halts autonomous scheduling. Required.
	Pause func() error
}

// RunRecovery attempts alert, rollback, pause in order. A failing
// action is recorded and the sequence continues so later actions still
// run.
func RunRecovery(ctx context.Context, reason string, hooks RecoveryHooks) []RecoveryResult {
	results := make([]RecoveryResult, 0, 3)

	results = append(results, attempt(RecoveryAlertUser, func() (string, error) {
		if hooks.Alert == nil {
			return "", fmt.Errorf("no alert hook configured")
		}
		return "operator alerted: " + reason, hooks.Alert(reason)
	}))

	results = append(results, attempt(RecoveryRollbackLastAction, func() (string, error) {
		if hooks.Rollback == nil {
			return "nothing to roll back", nil
		}
		if err := hooks.Rollback(ctx); err != nil {
			return "", err
		}
		return "last action rolled back", nil
	}))

	results = append(results, attempt(RecoveryPauseAutonomy, func() (string, error) {
		if hooks.Pause == nil {
			return "", fmt.Errorf("no pause hook configured")
		}
		return "autonomy paused", hooks.Pause()
	}))

	return results
}

func attempt(name string, fn func() (string, error)) RecoveryResult {
	msg, err := fn()
	res := RecoveryResult{Action: name, Timestamp: time.Now().UTC()}
	if err != nil {
		res.OK = false
		res.Message = err.Error()
		return res
	}
	res.OK = true
	res.Message = msg
	return res
}
