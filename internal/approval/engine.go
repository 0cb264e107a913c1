package approval

// Package approval obtains human decisions for actions the guardrails
// or the model marked as needing one. Requests persist across restarts;
// every decision lands in both the request file and a dated history
// record.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/metrics"
)

// resolution is an externally supplied decision for a parked request.
type resolution struct {
	approved bool
	by       string
	reason   string
}

// Engine routes approval requests through the configured mode and
// persists every outcome.
type Engine struct {
	store *Store
	trail audit.Logger
	log   *zap.Logger

	// in/out drive the CLI prompt; tests inject buffers.
	in  io.Reader
	out io.Writer

	mu        sync.Mutex
	waiters   map[string]chan resolution
	onRequest func(*Request)
}

// NewEngine creates the engine over the given store.
func NewEngine(store *Store, trail audit.Logger, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:   store,
		trail:   trail,
		log:     log,
		in:      os.Stdin,
		out:     os.Stdout,
		waiters: make(map[string]chan resolution),
	}
}

// SetPrompt redirects the CLI prompt streams. Tests use this.
func (e *Engine) SetPrompt(in io.Reader, out io.Writer) {
	e.in = in
	e.out = out
}

// OnRequest registers a callback invoked whenever a request parks as
// pending. The dashboard event stream uses it; the callback must not
// block.
func (e *Engine) OnRequest(fn func(*Request)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRequest = fn
}

// NewRequest builds a pending request with id and timestamps filled.
func NewRequest(task, action string, confidence float64, riskLevel string, expiresAfter time.Duration) *Request {
	now := time.Now().UTC()
	return &Request{
		ID:          uuid.NewString(),
		Task:        task,
		Action:      action,
		Confidence:  confidence,
		RiskLevel:   riskLevel,
		RequestedAt: now,
		ExpiresAt:   now.Add(expiresAfter),
		Status:      StatusPending,
	}
}

// RequestApproval persists req as pending, obtains a decision via mode,
// and returns the decided request. A non-approved outcome also returns
// a RejectedError so callers can propagate rejection as a typed error.
func (e *Engine) RequestApproval(ctx context.Context, req *Request, mode Mode, timeout time.Duration) (*Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = req.RequestedAt.Add(timeout)
	}
	req.Status = StatusPending

	if err := e.store.SaveRequest(req); err != nil {
		return nil, fmt.Errorf("persist approval request: %w", err)
	}
	metrics.ApprovalsPending.Inc()
	defer metrics.ApprovalsPending.Dec()

	e.mu.Lock()
	notify := e.onRequest
	e.mu.Unlock()
	if notify != nil {
		notify(req)
	}

	e.log.Info("approval requested",
		zap.String("id", req.ID),
		zap.String("task", req.Task),
		zap.String("mode", string(mode)),
	)

	switch mode {
	case ModeAuto:
		e.decide(req, StatusApproved, "auto", "auto-approved (test mode)")
		e.trail.Write(audit.NewRecord("approval", audit.ModeApproval).
			WithRequestID(req.ID).
			WithOK(true).
			WithSummary("AUTO MODE: unconditional approval").
			WithField("mode", string(ModeAuto)))
	case ModeCLI:
		e.promptCLI(ctx, req, timeout)
	case ModeDashboard:
		e.awaitDashboard(ctx, req, timeout)
	default:
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}

	if req.Status != StatusApproved {
		return req, &RejectedError{RequestID: req.ID, Status: req.Status, Reason: req.Reason}
	}
	return req, nil
}

// Resolve delivers an external decision for a parked dashboard request.
// It returns false when no request with that id is waiting.
func (e *Engine) Resolve(id string, approved bool, by, reason string) bool {
	e.mu.Lock()
	ch, ok := e.waiters[id]
	if ok {
		delete(e.waiters, id)
	}
	e.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resolution{approved: approved, by: by, reason: reason}
	return true
}

// Pending lists unresolved requests, oldest first.
func (e *Engine) Pending() ([]*Request, error) { return e.store.ListPending() }

// History lists decision records, newest first.
func (e *Engine) History() ([]*Request, error) { return e.store.ListHistory() }

// decide finalises the request and persists decision + history record.
func (e *Engine) decide(req *Request, status Status, by, reason string) {
	req.Status = status
	req.DecidedAt = time.Now().UTC()
	req.DecidedBy = by
	req.Reason = reason

	if err := e.store.RecordDecision(req); err != nil {
		e.log.Warn("approval decision not persisted", zap.String("id", req.ID), zap.Error(err))
	}
	e.trail.ApprovalDecision(req.ID, string(status), by, reason)
	metrics.ApprovalsTotal.WithLabelValues(string(status)).Inc()
}

// promptCLI asks on the terminal: y approves, n rejects, d prints the
// full request as JSON and re-prompts.
func (e *Engine) promptCLI(ctx context.Context, req *Request, timeout time.Duration) {
	deadline := time.Now().Add(timeout)

	answers := make(chan string)
	go func() {
		scanner := bufio.NewScanner(e.in)
		for scanner.Scan() {
			answers <- strings.ToLower(strings.TrimSpace(scanner.Text()))
		}
		close(answers)
	}()

	fmt.Fprintf(e.out, "\nApproval required: %s\n", req.Action)
	fmt.Fprintf(e.out, "  task=%s confidence=%.2f risk=%s\n", req.Task, req.Confidence, req.RiskLevel)
	if req.Simulation != nil && len(req.Simulation.Warnings) > 0 {
		fmt.Fprintf(e.out, "  warnings: %s\n", strings.Join(req.Simulation.Warnings, "; "))
	}

	for {
		fmt.Fprint(e.out, "Approve? [y/n/d(etails)]: ")

		remaining := time.Until(deadline)
		if remaining <= 0 {
			e.expire(req)
			return
		}
		timer := time.NewTimer(remaining)

		select {
		case <-ctx.Done():
			timer.Stop()
			e.decide(req, StatusRejected, "system", "cancelled: "+ctx.Err().Error())
			return
		case <-timer.C:
			e.expire(req)
			return
		case answer, ok := <-answers:
			timer.Stop()
			if !ok {
				e.decide(req, StatusRejected, "user", "input closed without decision")
				return
			}
			switch answer {
			case "y", "yes":
				e.decide(req, StatusApproved, currentUser(), "approved interactively")
				return
			case "n", "no":
				e.decide(req, StatusRejected, currentUser(), "rejected interactively")
				return
			case "d", "details":
				dump, err := json.MarshalIndent(req, "", "  ")
				if err != nil {
					fmt.Fprintf(e.out, "cannot render details: %v\n", err)
					continue
				}
				fmt.Fprintf(e.out, "%s\n", dump)
			default:
				fmt.Fprintln(e.out, "please answer y, n, or d")
			}
		}
	}
}

// awaitDashboard parks the request until Resolve delivers a decision or
// the window lapses. No UI ships yet, so an unresolved request rejects
// at the deadline; see ModeDashboard.
func (e *Engine) awaitDashboard(ctx context.Context, req *Request, timeout time.Duration) {
	ch := make(chan resolution, 1)
	e.mu.Lock()
	e.waiters[req.ID] = ch
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.waiters, req.ID)
		e.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		e.decide(req, StatusRejected, "system", "cancelled: "+ctx.Err().Error())
	case <-timer.C:
		e.expire(req)
	case res := <-ch:
		if res.approved {
			e.decide(req, StatusApproved, res.by, res.reason)
		} else {
			e.decide(req, StatusRejected, res.by, res.reason)
		}
	}
}

func (e *Engine) expire(req *Request) {
	e.decide(req, StatusExpired, "system", "expired")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}
