// Package guardrail enforces the safety layer that sits between a
// proposed action and its execution. Nothing the model suggests can
// bypass it: the checks are deterministic and rule-based.
//
// Responsibilities:
//   - Confidence gate: route actions to auto-execution, approval, or
//     rejection based on model-reported confidence
//   - Resource budgets: pre-execution estimate checks and live
//     tracking of CPU, memory, and duration while a job runs
//   - Anomaly detection: repeated failures, error-rate, CPU spikes,
//     and memory-leak patterns over recent activity
//   - Safe mode: a persistent kill switch that halts autonomous
//     execution and triggers the recovery ladder
package guardrail

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/metrics"
)

const (
	recentAnomalyCap = 100
	eventBufferSize  = 64
)

// Config tunes every guardrail component.
type Config struct {
	// MinApprovalConfidence is the floor below which actions are
	// rejected outright.
	MinApprovalConfidence float64

	// MinAutoConfidence is the threshold at or above which actions may
	// run without human approval.
	MinAutoConfidence float64

	// Budget caps per-job resource usage.
	Budget Budget

	// Anomaly tunes the detector rules.
	Anomaly AnomalyConfig
}

// DefaultConfig returns the guardrail defaults.
func DefaultConfig() Config {
	return Config{
		MinApprovalConfidence: 0.5,
		MinAutoConfidence:     0.8,
		Budget:                DefaultBudget(),
		Anomaly:               DefaultAnomalyConfig(),
	}
}

// Engine composes the confidence gate, budget checks, anomaly
// detector, and safe mode into one evaluation surface.
type Engine struct {
	cfg      Config
	trail    audit.Logger
	app      *zap.Logger
	safe     *SafeMode
	detector *Detector

	mu       sync.Mutex
	lastUndo RollbackFunc
	recent   []AnomalyEvent
	events   chan AnomalyEvent
	paused   bool
}

// NewEngine builds the guardrail engine. Safe mode binds to dataDir so
// an activation survives restarts.
func NewEngine(cfg Config, dataDir string, trail audit.Logger, app *zap.Logger) *Engine {
	if app == nil {
		app = zap.NewNop()
	}
	if cfg.MinAutoConfidence <= 0 {
		cfg.MinAutoConfidence = DefaultConfig().MinAutoConfidence
	}
	if cfg.MinApprovalConfidence <= 0 {
		cfg.MinApprovalConfidence = DefaultConfig().MinApprovalConfidence
	}
	e := &Engine{
		cfg:      cfg,
		trail:    trail,
		app:      app,
		safe:     NewSafeMode(dataDir),
		detector: NewDetector(cfg.Anomaly),
		events:   make(chan AnomalyEvent, eventBufferSize),
	}
	if e.safe.Active() {
		metrics.SafeModeActive.Set(1)
		app.Warn("safe mode marker found on startup, autonomy paused",
			zap.String("reason", e.safe.Reason()))
		e.paused = true
	}
	return e
}

// UpdateTunables swaps the confidence thresholds and budget caps at
// runtime (config hot reload). Anomaly detector tuning is fixed at
// construction and takes a restart.
func (e *Engine) UpdateTunables(minApproval, minAuto float64, budget Budget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if minApproval > 0 {
		e.cfg.MinApprovalConfidence = minApproval
	}
	if minAuto > 0 {
		e.cfg.MinAutoConfidence = minAuto
	}
	e.cfg.Budget = budget
	e.app.Info("guardrail tunables updated",
		zap.Float64("min_approval_confidence", e.cfg.MinApprovalConfidence),
		zap.Float64("min_auto_confidence", e.cfg.MinAutoConfidence),
		zap.Float64("max_cpu_percent", budget.MaxCPUPercent),
		zap.Float64("max_memory_mb", budget.MaxMemoryMB))
}

// ─── Confidence gate ───

// CheckConfidence routes a proposed action by its confidence score.
// Task-level thresholds override the engine defaults when positive.
// The auto threshold is inclusive: confidence equal to it runs
// autonomously.
func (e *Engine) CheckConfidence(task string, confidence, minApproval, minAuto float64) Verdict {
	e.mu.Lock()
	if minAuto <= 0 {
		minAuto = e.cfg.MinAutoConfidence
	}
	if minApproval <= 0 {
		minApproval = e.cfg.MinApprovalConfidence
	}
	e.mu.Unlock()

	var v Verdict
	switch {
	case confidence >= minAuto:
		v = Verdict{Outcome: OutcomeAllow, Reason: fmtConfidence("meets auto threshold", confidence, minAuto)}
	case confidence >= minApproval:
		v = Verdict{Outcome: OutcomeNeedsApproval, Reason: fmtConfidence("requires approval, auto threshold", confidence, minAuto)}
	default:
		reason := fmtConfidence("below approval threshold", confidence, minApproval)
		v = Verdict{Outcome: OutcomeDenied, Reason: reason, Violations: []string{reason}}
	}
	metrics.GuardrailVerdictsTotal.WithLabelValues("confidence", v.Outcome.String()).Inc()
	return v
}

// ─── Budget gate ───

// CheckBudget compares a task's estimated resource needs against the
// configured caps and reports every exceeded cap, not just the first.
func (e *Engine) CheckBudget(task string, estimate map[string]float64) Verdict {
	e.mu.Lock()
	caps := e.cfg.Budget
	e.mu.Unlock()

	violations := checkEstimate(caps, estimate)
	var v Verdict
	if len(violations) == 0 {
		v = Verdict{Outcome: OutcomeAllow, Reason: "within resource budgets"}
	} else {
		v = Verdict{Outcome: OutcomeDenied, Reason: "resource budget exceeded", Violations: violations}
	}
	metrics.GuardrailVerdictsTotal.WithLabelValues("budget", v.Outcome.String()).Inc()
	return v
}

// Tracker returns a live resource tracker bound to the engine's caps.
func (e *Engine) Tracker() (*Tracker, error) {
	e.mu.Lock()
	caps := e.cfg.Budget
	e.mu.Unlock()
	return NewTracker(caps)
}

// ─── Anomaly detection ───

// RecordOutcome feeds a job result to the detector and publishes any
// anomalies it trips. A critical anomaly engages safe mode.
func (e *Engine) RecordOutcome(ctx context.Context, jobID string, success bool) []AnomalyEvent {
	events := e.detector.RecordJobOutcome(jobID, success)
	e.publishAll(ctx, events)
	return events
}

// RecordSample feeds a resource snapshot to the detector.
func (e *Engine) RecordSample(ctx context.Context, cpuPercent, memMB float64) []AnomalyEvent {
	events := e.detector.RecordSample(cpuPercent, memMB)
	e.publishAll(ctx, events)
	return events
}

func (e *Engine) publishAll(ctx context.Context, events []AnomalyEvent) {
	for _, ev := range events {
		e.trail.Anomaly(ev.Type, ev.Severity, ev.Description)
		metrics.AnomaliesTotal.WithLabelValues(ev.Type, ev.Severity).Inc()

		e.mu.Lock()
		e.recent = append(e.recent, ev)
		if len(e.recent) > recentAnomalyCap {
			e.recent = e.recent[len(e.recent)-recentAnomalyCap:]
		}
		e.mu.Unlock()

		select {
		case e.events <- ev:
		default:
			e.app.Warn("anomaly event channel full, dropping event",
				zap.String("type", ev.Type))
		}

		if ev.Severity == SeverityCritical {
			if _, err := e.EnterSafeMode(ctx, ev.Description); err != nil {
				e.app.Error("failed to enter safe mode", zap.Error(err))
			}
		}
	}
}

// Events streams detected anomalies to one consumer, typically the
// dashboard broadcaster. Events are dropped when the buffer is full.
func (e *Engine) Events() <-chan AnomalyEvent {
	return e.events
}

// RecentAnomalies returns up to the last hundred anomalies, newest
// first.
func (e *Engine) RecentAnomalies() []AnomalyEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]AnomalyEvent, len(e.recent))
	for i, ev := range e.recent {
		out[len(e.recent)-1-i] = ev
	}
	return out
}

// ConsecutiveFailures exposes the detector's current failure streak.
func (e *Engine) ConsecutiveFailures() int {
	return e.detector.ConsecutiveFailures()
}

// ─── Safe mode and recovery ───

// EnterSafeMode persists the safe-mode marker and runs the recovery
// ladder. Entering while already active is a no-op.
func (e *Engine) EnterSafeMode(ctx context.Context, reason string) ([]RecoveryResult, error) {
	e.mu.Lock()
	if e.safe.Active() {
		e.mu.Unlock()
		return nil, nil
	}
	if err := e.safe.Enter(reason); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.paused = true
	undo := e.lastUndo
	e.lastUndo = nil
	e.mu.Unlock()

	metrics.SafeModeActive.Set(1)
	e.trail.SafeModeEntered(reason)
	e.app.Error("safe mode entered", zap.String("reason", reason))

	hooks := RecoveryHooks{
		Alert: func(r string) error {
			e.app.Error("operator alert", zap.String("reason", r))
			return nil
		},
		Pause: func() error { return nil }, // paused above, before recovery ran
	}
	if undo != nil {
		hooks.Rollback = undo
	}

	results := RunRecovery(ctx, reason, hooks)
	for _, res := range results {
		e.trail.RecoveryAction(res.Action, res.OK, res.Message)
		status := "ok"
		if !res.OK {
			status = "failed"
		}
		metrics.RecoveryActionsTotal.WithLabelValues(res.Action, status).Inc()
	}
	return results, nil
}

// ExitSafeMode clears the marker and resumes autonomy. Only an explicit
// operator request should reach here.
func (e *Engine) ExitSafeMode(user string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.safe.Exit(); err != nil {
		return err
	}
	e.paused = false
	metrics.SafeModeActive.Set(0)
	e.trail.SafeModeExited(user)
	e.app.Info("safe mode exited", zap.String("user", user))
	return nil
}

// SafeModeActive reports whether the kill switch is engaged.
func (e *Engine) SafeModeActive() bool {
	return e.safe.Active()
}

// SafeModeReason returns why safe mode engaged, empty when inactive.
func (e *Engine) SafeModeReason() string {
	return e.safe.Reason()
}

// AutonomyPaused reports whether recovery paused autonomous execution.
func (e *Engine) AutonomyPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// SetLastAction registers the undo for the most recent state-changing
// action. Recovery consumes it at most once.
func (e *Engine) SetLastAction(undo RollbackFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUndo = undo
}

func fmtConfidence(what string, confidence, threshold float64) string {
	return fmt.Sprintf("confidence %.2f %s %.2f", confidence, what, threshold)
}
