// Package tools holds the executable capabilities the decision loop
// invokes once an action clears guardrails, policy, and approval. Every
// call runs through the Registry, which stamps timing, metrics, and an
// audit record; side-effecting tools apply only when the request says
// confirm and not dry-run.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/metrics"
)

// Request is one tool invocation.
type Request struct {
	Tool      string         `json:"tool"`
	Version   string         `json:"version,omitempty"`
	DryRun    bool           `json:"dry_run"`
	Confirm   bool           `json:"confirm"`
	RequestID string         `json:"request_id"`
	Inputs    map[string]any `json:"inputs,omitempty"`
}

// Apply reports whether this request authorises real side effects.
func (r Request) Apply() bool { return r.Confirm && !r.DryRun }

// Response is the result of one tool invocation.
type Response struct {
	RequestID  string         `json:"request_id"`
	OK         bool           `json:"ok"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Audit      map[string]any `json:"audit,omitempty"`
}

// Tool is an addressable capability.
type Tool interface {
	// Name is the stable identifier used in jobs and policy documents.
	Name() string

	// SideEffects reports whether Execute can change system state.
	// Side-effecting tools must refuse to apply unless Request.Apply().
	SideEffects() bool

	Execute(ctx context.Context, req Request) Response
}

// Registry maps tool names to implementations and wraps every call
// with timing, metrics, and audit.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	trail audit.Logger
	log   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(trail audit.Logger, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		tools: make(map[string]Tool),
		trail: trail,
		log:   log,
	}
}

// Register adds a tool. A later registration under the same name wins.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute dispatches the request to its tool, fills in request id and
// duration, and records the call in metrics and the audit trail.
func (r *Registry) Execute(ctx context.Context, req Request) Response {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	mode := audit.ModeApply
	if req.DryRun {
		mode = audit.ModeDryRun
	}

	tool, ok := r.Get(req.Tool)
	if !ok {
		resp := failure(req, fmt.Sprintf("unknown tool %q", req.Tool))
		resp.DurationMS = time.Since(start).Milliseconds()
		r.record(req, resp, mode)
		return resp
	}

	resp := tool.Execute(ctx, req)
	resp.RequestID = req.RequestID
	resp.DurationMS = time.Since(start).Milliseconds()
	r.record(req, resp, mode)
	return resp
}

func (r *Registry) record(req Request, resp Response, mode audit.Mode) {
	status := "ok"
	if !resp.OK {
		status = "error"
	}
	metrics.ToolCallsTotal.WithLabelValues(req.Tool, string(mode), status).Inc()

	if r.trail == nil {
		return
	}
	rec := audit.NewRecord(req.Tool, mode).
		WithRequestID(req.RequestID).
		WithOK(resp.OK).
		WithDuration(time.Duration(resp.DurationMS) * time.Millisecond)
	if resp.Error != "" {
		rec = rec.WithField("error", resp.Error)
	}
	for k, v := range resp.Audit {
		rec = rec.WithField(k, v)
	}
	r.trail.Write(rec)
}

// failure builds an error response for the request.
func failure(req Request, msg string) Response {
	return Response{RequestID: req.RequestID, OK: false, Error: msg}
}

// success builds an ok response carrying outputs.
func success(req Request, outputs map[string]any) Response {
	return Response{RequestID: req.RequestID, OK: true, Outputs: outputs}
}

func stringInput(inputs map[string]any, key string) string {
	if v, ok := inputs[key].(string); ok {
		return v
	}
	return ""
}

func boolInput(inputs map[string]any, key string) bool {
	if v, ok := inputs[key].(bool); ok {
		return v
	}
	return false
}

func floatInput(inputs map[string]any, key string) (float64, bool) {
	switch v := inputs[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func stringSliceInput(inputs map[string]any, key string) []string {
	switch v := inputs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
