package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cerebric/cerebric/internal/approval"
	"github.com/cerebric/cerebric/pkg/api"
)

// dialEvents opens the event stream against the harness and waits for
// the hub to register the client.
func dialEvents(t *testing.T, h *serverHarness, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return h.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "hub never registered the client")
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) api.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev api.Event
	require.NoError(t, json.Unmarshal(data, &ev), "frame: %s", data)
	return ev
}

func TestEventStreamDeliversPublishedEvents(t *testing.T) {
	h := newServerHarness(t, Config{})
	conn := dialEvents(t, h, nil)

	h.hub.Publish(api.Event{
		Type:    api.EventJobTransition,
		JobID:   "job-42",
		State:   "running",
		Payload: map[string]any{"summary": "dispatched"},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, api.EventJobTransition, ev.Type)
	assert.Equal(t, "job-42", ev.JobID)
	assert.Equal(t, "running", ev.State)
	assert.Equal(t, "dispatched", ev.Payload["summary"])
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventTrailMirrorsAuditWrites(t *testing.T) {
	h := newServerHarness(t, Config{})
	conn := dialEvents(t, h, nil)

	trail := NewEventTrail(h.trail, h.hub)

	trail.StateTransition("job-9", "completed", "all checks passed")
	ev := readEvent(t, conn)
	assert.Equal(t, api.EventJobTransition, ev.Type)
	assert.Equal(t, "job-9", ev.JobID)
	assert.Equal(t, "completed", ev.State)

	trail.SafeModeEntered("too many failures")
	ev = readEvent(t, conn)
	assert.Equal(t, api.EventSafeMode, ev.Type)
	assert.Equal(t, true, ev.Payload["active"])
	assert.Equal(t, "too many failures", ev.Payload["reason"])

	trail.ApprovalDecision("req-1", "rejected", "tester", "not tonight")
	ev = readEvent(t, conn)
	assert.Equal(t, api.EventApprovalDecided, ev.Type)
	assert.Equal(t, "rejected", ev.Payload["status"])
}

func TestAnomalyEventsReachSubscribers(t *testing.T) {
	h := newServerHarness(t, Config{})
	conn := dialEvents(t, h, nil)

	// The forwarder normally starts with Server.Start; drive it directly
	// since the harness serves routes without the listener.
	go h.srv.forwardAnomalies()
	t.Cleanup(h.srv.cancel)

	for i := 0; i < 3; i++ {
		h.guard.RecordOutcome(context.Background(), "flaky-job", false)
	}

	ev := readEvent(t, conn)
	assert.Equal(t, api.EventAnomaly, ev.Type)
	assert.Equal(t, "repeated_failures", ev.Payload["type"])
	assert.Equal(t, "critical", ev.Payload["severity"])
}

func TestPendingApprovalAnnouncedOnStream(t *testing.T) {
	h := newServerHarness(t, Config{})
	conn := dialEvents(t, h, nil)

	req := approval.NewRequest("write_config", "tune sysctl", 0.7, "medium", time.Minute)
	go func() {
		h.approver.RequestApproval(context.Background(), req, approval.ModeDashboard, 2*time.Second)
	}()

	ev := readEvent(t, conn)
	assert.Equal(t, api.EventApprovalRequest, ev.Type)
	assert.Equal(t, req.ID, ev.Payload["request_id"])
	assert.Equal(t, "write_config", ev.Payload["task"])
}

func TestUpgradeRejectsDisallowedOrigin(t *testing.T) {
	h := newServerHarness(t, Config{AllowedOrigins: []string{"https://ops.example.com"}})

	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/events"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, h.hub.ClientCount())
}

func TestPublishNeverBlocksOnSlowClient(t *testing.T) {
	h := newServerHarness(t, Config{})
	conn := dialEvents(t, h, nil)
	_ = conn // never read; the client queue must fill without stalling Publish

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 400; i++ {
			h.hub.Publish(api.Event{Type: api.EventHeartbeat})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish stalled on a slow client")
	}
}
