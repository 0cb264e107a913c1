// Package server exposes the dashboard HTTP API: job CRUD, approval
// decisions, anomaly and audit views, safe-mode control, Prometheus
// metrics, and a WebSocket event stream.
//
// The server is a read/control surface only. It never runs jobs itself;
// every mutation goes through the same scheduler, approval, and
// guardrail components the decision loop uses, so nothing the dashboard
// does can bypass an invariant.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/approval"
	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/guardrail"
	"github.com/cerebric/cerebric/internal/middleware"
	"github.com/cerebric/cerebric/internal/scheduler"
	"github.com/cerebric/cerebric/pkg/api"
)

// Config tunes the HTTP listener.
type Config struct {
	Host string
	Port int

	// AllowedOrigins restricts WebSocket upgrades. Empty means the
	// development defaults (localhost:3000 and localhost:5173); a single
	// "*" allows any origin.
	AllowedOrigins []string

	// RateLimitPerMinute and RateLimitBurst bound mutating requests per
	// client address. Zero disables rate limiting.
	RateLimitPerMinute int
	RateLimitBurst     int

	Version string
}

// Deps wires the server to the supervisor components it fronts.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Guard     *guardrail.Engine
	Approver  *approval.Engine
	Trail     audit.Logger
	Hub       *Hub
	Log       *zap.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	httpServer *http.Server
	limiter    *middleware.RateLimiter
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// New builds a stopped server. The scheduler, guardrail engine,
// approval engine, audit trail, and hub are all required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("server: scheduler is required")
	}
	if deps.Guard == nil {
		return nil, fmt.Errorf("server: guardrail engine is required")
	}
	if deps.Approver == nil {
		return nil, fmt.Errorf("server: approval engine is required")
	}
	if deps.Trail == nil {
		return nil, fmt.Errorf("server: audit trail is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("server: event hub is required")
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		log:      log,
		upgrader: newUpgrader(cfg.AllowedOrigins),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}

	// New pending approvals reach the dashboard stream the moment they
	// park, not on the next poll.
	deps.Approver.OnRequest(func(req *approval.Request) {
		deps.Hub.Publish(api.Event{
			Type: api.EventApprovalRequest,
			Payload: map[string]any{
				"request_id": req.ID,
				"task":       req.Task,
				"action":     req.Action,
				"confidence": req.Confidence,
				"risk_level": req.RiskLevel,
				"expires_at": req.ExpiresAt,
			},
		})
	})

	return s, nil
}

// Start launches the listener, the event hub, and the anomaly
// forwarder. It returns once the listener goroutine is up.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deps.Hub.Run()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.forwardAnomalies()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("dashboard server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("dashboard server failed", zap.Error(err))
		}
	}()

	return nil
}

// Stop drains in-flight requests, closes WebSocket clients, and waits
// for all server goroutines.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("dashboard shutdown incomplete", zap.Error(err))
		}
	}

	s.cancel()
	s.deps.Hub.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.wg.Wait()

	s.log.Info("dashboard server stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// forwardAnomalies republishes guardrail anomaly events onto the hub.
func (s *Server) forwardAnomalies() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.deps.Guard.Events():
			if !ok {
				return
			}
			payload := map[string]any{
				"id":          ev.ID,
				"type":        ev.Type,
				"severity":    ev.Severity,
				"description": ev.Description,
			}
			if len(ev.Metrics) > 0 {
				payload["metrics"] = ev.Metrics
			}
			s.deps.Hub.Publish(api.Event{
				Type:      api.EventAnomaly,
				Timestamp: ev.Timestamp,
				Payload:   payload,
			})
		}
	}
}

// routes builds the handler tree. Split out from Start so tests can
// serve it from httptest without binding the configured port.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/jobs", s.limitMutating(s.handleJobs))
	mux.HandleFunc("/api/v1/jobs/", s.limitMutating(s.handleJobByID))
	mux.HandleFunc("/api/v1/approvals/pending", s.handlePendingApprovals)
	mux.HandleFunc("/api/v1/approvals/", s.limitMutating(s.handleApprovalDecision))
	mux.HandleFunc("/api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("/api/v1/audit", s.handleAudit)
	mux.HandleFunc("/api/v1/safemode/exit", s.limitMutating(s.handleSafeModeExit))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", s.handleWSEvents)

	return mux
}

// limitMutating applies the rate limiter to non-GET requests only, so
// dashboards can poll read endpoints freely while job submission and
// approval decisions stay bounded.
func (s *Server) limitMutating(h http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return h
	}
	limited := s.limiter.Middleware(h)
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			h(w, r)
		default:
			limited(w, r)
		}
	}
}

// writeJSON encodes v with the given status. Encoding failures are
// logged; by then the status line is already on the wire.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response not encoded", zap.Error(err))
	}
}

// writeError sends the standard error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Code: code, Message: message})
}

// decodeBody decodes a JSON request body into v, rejecting unknown
// fields so typos surface as 400s instead of silent defaults.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
