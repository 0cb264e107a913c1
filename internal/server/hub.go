package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/metrics"
	"github.com/cerebric/cerebric/pkg/api"
)

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second

	// heartbeatPeriod is how often an idle stream emits a heartbeat
	// event so clients can distinguish quiet from dead.
	heartbeatPeriod = 30 * time.Second

	// clientSendBuffer is the per-client outbound queue. A client that
	// falls this far behind is disconnected rather than slowing the hub.
	clientSendBuffer = 64

	hubBroadcastBuffer = 256
)

// Hub fans supervisor events out to every connected dashboard socket.
// Create it before the components that publish into it, run it with
// the server, and publish from anywhere: Publish never blocks.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger
}

// NewHub creates a stopped hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, hubBroadcastBuffer),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		ctx:        ctx,
		cancel:     cancel,
		log:        log,
	}
}

// Run owns the client set until Stop. The caller runs it on its own
// goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.WebSocketConnections.Dec()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client queue full: drop the client, not the event.
					delete(h.clients, client)
					close(client.send)
					metrics.WebSocketConnections.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WebSocketConnections.Dec()
	}
}

// Publish queues an event for every connected client. Events published
// while no hub goroutine is draining the queue are dropped once the
// buffer fills; a dashboard stream is telemetry, never backpressure on
// the supervisor.
func (h *Hub) Publish(ev api.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("event not serialisable, dropped", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.log.Warn("event queue full, event dropped", zap.String("type", ev.Type))
	}
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wsClient is one connected dashboard socket.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	ctx    context.Context
	cancel context.CancelFunc
	id     string
}

func newWSClient(hub *Hub, conn *websocket.Conn, id string) *wsClient {
	ctx, cancel := context.WithCancel(hub.ctx)
	return &wsClient{
		conn:   conn,
		send:   make(chan []byte, clientSendBuffer),
		hub:    hub,
		ctx:    ctx,
		cancel: cancel,
		id:     id,
	}
}

// readPump discards inbound frames; the stream is one-way. It exists
// to surface close frames and connection errors promptly.
func (c *wsClient) readPump() {
	defer func() {
		// After Stop the hub loop is gone; its shutdown path already
		// drops every client, so skip the hand-off instead of blocking.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.cancel()
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		metrics.WebSocketMessagesTotal.WithLabelValues("inbound").Inc()
	}
}

// writePump drains the send queue onto the socket and emits heartbeat
// events whenever the stream has been idle for a full period.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(heartbeatPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()

		case <-ticker.C:
			hb, err := json.Marshal(api.Event{Type: api.EventHeartbeat, Timestamp: time.Now().UTC()})
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, hb); err != nil {
				return
			}
			metrics.WebSocketMessagesTotal.WithLabelValues("outbound").Inc()
		}
	}
}
