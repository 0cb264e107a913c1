package policy

// Package policy evaluates tool invocations against a declarative YAML
// document.
//
// Evaluation order (first rule to deny wins, otherwise allow):
//  1. Read-only invocations bypass policy entirely.
//  2. The tool's allow flag (or default_allow when the tool has no entry
//     or no flag) gates the invocation.
//  3. Conditions evaluate in a fixed order: users, hosts, hours_allow,
//     paths_allow/paths_deny, names_allow. A condition whose input field
//     is absent is not applicable and cannot deny.
//
// Conditions only ever deny, so adding one can never turn a denial into
// an allowance.

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeniedError marks an invocation rejected by policy.
type DeniedError struct {
	Tool   string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.Tool, e.Reason)
}

// IsDenied reports whether err is a policy denial.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow              bool     `json:"allow"`
	Reason             string   `json:"reason"`
	SimulationRequired bool     `json:"simulation_required"`
	RollbackRequired   bool     `json:"rollback_required"`
	ApprovalsNeeded    []string `json:"approvals_needed,omitempty"`
}

// Context carries the invocation facts a decision may depend on. Zero
// fields are filled from the process environment.
type Context struct {
	User   string
	Host   string
	Now    time.Time
	Inputs map[string]any
}

// Engine evaluates invocations against the current document. The document
// may be swapped at runtime (config reload).
type Engine struct {
	mu  sync.RWMutex
	doc *Document
	log *zap.Logger
}

// NewEngine creates an engine over doc. A nil doc starts from the default
// document.
func NewEngine(doc *Document, log *zap.Logger) *Engine {
	if doc == nil {
		doc = DefaultDocument()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{doc: doc, log: log}
}

// Reload swaps the active document.
func (e *Engine) Reload(doc *Document) {
	if doc == nil {
		return
	}
	e.mu.Lock()
	e.doc = doc
	e.mu.Unlock()
	e.log.Info("policy document reloaded", zap.Int("tools", len(doc.Tools)))
}

// Document returns the active document.
func (e *Engine) Document() *Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Decide evaluates one invocation. isApply=false (read-only paths) always
// allows.
func (e *Engine) Decide(tool string, isApply bool, pctx Context) Decision {
	if !isApply {
		return Decision{Allow: true, Reason: "read-only"}
	}

	e.mu.RLock()
	doc := e.doc
	e.mu.RUnlock()

	entry, hasEntry := doc.Tools[tool]
	allowed := doc.DefaultAllow
	if hasEntry && entry.Allow != nil {
		allowed = *entry.Allow
	}
	if !allowed {
		return Decision{Allow: false, Reason: "tool disabled by policy"}
	}

	if hasEntry {
		if reason := evalConditions(entry.Conditions, fill(pctx)); reason != "" {
			return Decision{Allow: false, Reason: reason}
		}
	}

	return Decision{
		Allow:              true,
		Reason:             "allowed by policy",
		SimulationRequired: entry.SimulationRequired,
		RollbackRequired:   entry.RollbackRequired,
		ApprovalsNeeded:    entry.Approvals,
	}
}

// fill populates zero context fields from the environment.
func fill(pctx Context) Context {
	if pctx.User == "" {
		if u, err := user.Current(); err == nil {
			pctx.User = u.Username
		}
	}
	if pctx.Host == "" {
		if h, err := os.Hostname(); err == nil {
			pctx.Host = h
		}
	}
	if pctx.Now.IsZero() {
		pctx.Now = time.Now()
	}
	return pctx
}

// evalConditions returns the first denial reason, or "" when every
// applicable condition passes.
func evalConditions(c Conditions, pctx Context) string {
	if len(c.Users) > 0 && pctx.User != "" {
		if !contains(c.Users, pctx.User) {
			return "user not allowed"
		}
	}

	if len(c.Hosts) > 0 && pctx.Host != "" {
		if !matchesAny(c.Hosts, pctx.Host) {
			return "host not allowed"
		}
	}

	if len(c.HoursAllow) > 0 {
		inRange := false
		for _, r := range c.HoursAllow {
			start, end, err := parseHourRange(r)
			if err != nil {
				continue
			}
			if minutesInRange(pctx.Now.Hour()*60+pctx.Now.Minute(), start, end) {
				inRange = true
				break
			}
		}
		if !inRange {
			return "outside allowed hours"
		}
	}

	if path, ok := stringInput(pctx.Inputs, "path"); ok {
		if len(c.PathsAllow) > 0 && !matchesAny(c.PathsAllow, path) {
			return "path not allowed"
		}
		if matchesAny(c.PathsDeny, path) {
			return "path denied"
		}
	}

	if name, ok := stringInput(pctx.Inputs, "name"); ok {
		if len(c.NamesAllow) > 0 && !contains(c.NamesAllow, name) {
			return "name not allowed"
		}
	}

	return ""
}

func stringInput(inputs map[string]any, key string) (string, bool) {
	if inputs == nil {
		return "", false
	}
	v, ok := inputs[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// matchesAny applies shell-style globs, case-sensitive.
func matchesAny(globs []string, v string) bool {
	for _, g := range globs {
		if ok, err := filepath.Match(g, v); err == nil && ok {
			return true
		}
	}
	return false
}

// parseHourRange parses "HH:MM-HH:MM" into day-minutes.
func parseHourRange(r string) (start, end int, err error) {
	parts := strings.SplitN(r, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid hour range %q", r)
	}
	start, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour range %q: %w", r, err)
	}
	end, err = parseHHMM(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour range %q: %w", r, err)
	}
	return start, end, nil
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// minutesInRange handles wrap-around ranges: for "22:00-06:00" any minute
// at or after 22:00 or at or before 06:00 is in range.
func minutesInRange(m, start, end int) bool {
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}
