package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// defaultDevOrigins are accepted when no allow list is configured, so a
// locally served dashboard works out of the box.
var defaultDevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// newUpgrader builds the WebSocket upgrader for the given origin allow
// list. Requests without an Origin header (CLI clients, curl, same-host
// tooling) always pass; "*" disables the check entirely.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := allowedOrigins
	if len(allowed) == 0 {
		allowed = defaultDevOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

// handleWSEvents upgrades GET /ws/events and streams supervisor events
// until the client disconnects or the server stops.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error (403 for origin, 400 for
		// a malformed handshake).
		s.log.Warn("websocket upgrade refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	client := newWSClient(s.deps.Hub, conn, uuid.NewString())
	select {
	case s.deps.Hub.register <- client:
	case <-s.deps.Hub.ctx.Done():
		conn.Close()
		return
	}

	s.log.Debug("websocket client connected",
		zap.String("client", client.id),
		zap.String("remote", r.RemoteAddr),
	)

	go client.writePump()
	go client.readPump()
}
