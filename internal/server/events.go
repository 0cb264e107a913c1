package server

import (
	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/pkg/api"
)

// eventTrail decorates the audit trail so dashboard-relevant records
// also reach WebSocket subscribers the moment they are written. Every
// call delegates to the wrapped logger first; the audit file, not the
// stream, is the durable record.
//
// Anomalies deliberately stay off this path: the guardrail engine
// publishes them with their metric payloads through Events(), which the
// server forwards separately.
type eventTrail struct {
	audit.Logger
	hub *Hub
}

// NewEventTrail wraps trail so job transitions, approval decisions, and
// safe-mode changes stream to hub subscribers.
func NewEventTrail(trail audit.Logger, hub *Hub) audit.Logger {
	return &eventTrail{Logger: trail, hub: hub}
}

func (t *eventTrail) StateTransition(jobID, state, summary string) {
	t.Logger.StateTransition(jobID, state, summary)
	t.hub.Publish(api.Event{
		Type:    api.EventJobTransition,
		JobID:   jobID,
		State:   state,
		Payload: map[string]any{"summary": summary},
	})
}

func (t *eventTrail) Requeued(jobID string) {
	t.Logger.Requeued(jobID)
	t.hub.Publish(api.Event{
		Type:    api.EventJobTransition,
		JobID:   jobID,
		State:   "pending",
		Payload: map[string]any{"summary": "requeued after restart"},
	})
}

func (t *eventTrail) ApprovalDecision(requestID, status, decidedBy, reason string) {
	t.Logger.ApprovalDecision(requestID, status, decidedBy, reason)
	t.hub.Publish(api.Event{
		Type: api.EventApprovalDecided,
		Payload: map[string]any{
			"request_id": requestID,
			"status":     status,
			"decided_by": decidedBy,
			"reason":     reason,
		},
	})
}

func (t *eventTrail) SafeModeEntered(reason string) {
	t.Logger.SafeModeEntered(reason)
	t.hub.Publish(api.Event{
		Type:    api.EventSafeMode,
		Payload: map[string]any{"active": true, "reason": reason},
	})
}

func (t *eventTrail) SafeModeExited(user string) {
	t.Logger.SafeModeExited(user)
	t.hub.Publish(api.Event{
		Type:    api.EventSafeMode,
		Payload: map[string]any{"active": false, "user": user},
	})
}
