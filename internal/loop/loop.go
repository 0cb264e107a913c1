// Package loop runs the autonomous decision pipeline for each job
// firing: gather state, retrieve memories, consult the model, gate the
// proposed action through guardrails and policy, obtain approval when
// required, then execute the tool under budget tracking and retry.
//
// The loop owns every job state transition after dispatch. Jobs arrive
// in the pending state; the supplied TransitionFunc persists and audits
// each move, so errors are surfaced exactly once at the loop boundary
// and never leave a job stranded in running.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/approval"
	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/guardrail"
	"github.com/cerebric/cerebric/internal/llm"
	"github.com/cerebric/cerebric/internal/memory"
	"github.com/cerebric/cerebric/internal/metrics"
	"github.com/cerebric/cerebric/internal/policy"
	"github.com/cerebric/cerebric/internal/retrieval"
	"github.com/cerebric/cerebric/internal/retry"
	"github.com/cerebric/cerebric/internal/scheduler"
	"github.com/cerebric/cerebric/internal/simulate"
	"github.com/cerebric/cerebric/internal/task"
	"github.com/cerebric/cerebric/internal/tools"
)

// budgetSampleInterval paces the in-flight budget watchdog.
const budgetSampleInterval = 2 * time.Second

// Config holds the tunable knobs of the loop. Everything here may be
// swapped at runtime via Reconfigure; structural dependencies may not.
type Config struct {
	ApprovalMode    approval.Mode
	ApprovalTimeout time.Duration
	RetrievalK      int
	Temperature     float64
	MaxTokens       int

	// User and Host feed policy conditions. Empty values fall back to
	// the process environment inside the policy engine.
	User string
	Host string
}

// DefaultConfig mirrors the daemon's configuration defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalMode:    approval.ModeCLI,
		ApprovalTimeout: 5 * time.Minute,
		RetrievalK:      3,
		Temperature:     0.3,
		MaxTokens:       1024,
	}
}

// Deps wires the loop to the rest of the supervisor. All fields are
// required except Memory and Trail, which degrade to logged warnings
// when absent (the loop never fails a job over bookkeeping).
type Deps struct {
	Provider  llm.Provider
	Retriever retrieval.Retriever
	Guard     *guardrail.Engine
	Policy    *policy.Engine
	Approver  *approval.Engine
	Simulator *simulate.Simulator
	Tasks     *task.Registry
	Tools     *tools.Registry
	Retry     *retry.Executor
	Memory    *memory.Store
	Trail     audit.Logger
	Log       *zap.Logger
}

// Loop drives one decision pipeline per job firing. Safe to share
// across scheduler workers; per-run state lives on the stack.
type Loop struct {
	deps Deps
	log  *zap.Logger

	mu      sync.RWMutex
	cfg     Config
	session *Session
}

// New builds a loop around deps with the given tunables and the default
// session profile.
func New(deps Deps, cfg Config) *Loop {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		deps:    deps,
		log:     log,
		cfg:     cfg,
		session: NewSession("", ""),
	}
}

// Reconfigure swaps the tunables. In-flight runs keep the snapshot they
// started with.
func (l *Loop) Reconfigure(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	l.log.Info("decision loop reconfigured",
		zap.String("approval_mode", string(cfg.ApprovalMode)),
		zap.Duration("approval_timeout", cfg.ApprovalTimeout),
		zap.Int("retrieval_k", cfg.RetrievalK))
}

// SwitchProfile changes the memory profile future runs retrieve from
// and record to.
func (l *Loop) SwitchProfile(profile string) {
	l.mu.Lock()
	l.session = l.session.WithProfile(profile)
	l.mu.Unlock()
}

// SetModel pins the model future consultations use. Empty means the
// provider default.
func (l *Loop) SetModel(modelID string) {
	l.mu.Lock()
	s := *l.session
	s.ModelID = modelID
	l.session = &s
	l.mu.Unlock()
}

func (l *Loop) snapshot() (Config, *Session) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg, l.session
}

// RunJob implements scheduler.Runner. It never returns an error to the
// scheduler; every failure mode ends in a terminal job state with the
// reason recorded on the job and in the audit trail.
func (l *Loop) RunJob(ctx context.Context, job *scheduler.Job, transition scheduler.TransitionFunc) {
	started := time.Now()
	cfg, session := l.snapshot()

	defer func() {
		if r := recover(); r != nil {
			l.log.Error("decision loop panic",
				zap.String("job_id", job.ID),
				zap.Any("panic", r))
			if job.State == scheduler.StateRunning {
				job.LastError = fmt.Sprintf("panic: %v", r)
				l.transitionTo(job, transition, scheduler.StateFailed, job.LastError)
			}
		}
	}()

	// Safe mode halts all autonomous work before any state changes.
	if l.deps.Guard.SafeModeActive() {
		reason := "safe mode active: " + l.deps.Guard.SafeModeReason()
		l.transitionTo(job, transition, scheduler.StateSkipped, reason)
		l.recordOutcome(job, "", false, scheduler.StateSkipped, time.Since(started), reason)
		metrics.DecisionsTotal.WithLabelValues(job.Task, "skipped").Inc()
		return
	}

	if err := transition(scheduler.StateRunning, "decision loop started"); err != nil {
		// Cancelled between dispatch and pickup; nothing to do.
		l.log.Warn("job no longer runnable", zap.String("job_id", job.ID), zap.Error(err))
		return
	}

	tsk, ok := l.resolveTask(job)
	if !ok {
		l.fail(ctx, job, transition, started, "",
			fmt.Errorf("unknown task %q", job.Task))
		return
	}

	state := tsk.GatherState(ctx)

	// Memories are advisory: retrieval failure degrades to an empty
	// context rather than failing the job.
	memories := l.retrieve(ctx, session, tsk.Describe(), cfg.RetrievalK)

	decision, err := l.consult(ctx, job, tsk, session, cfg, state, memories)
	if err != nil {
		l.fail(ctx, job, transition, started, "",
			fmt.Errorf("model consultation: %w", err))
		return
	}

	metrics.DecisionConfidence.WithLabelValues(job.Task).Observe(decision.Confidence)
	l.appendMemory("confidence_history.jsonl", map[string]any{
		"task":       job.Task,
		"confidence": decision.Confidence,
	})

	// Hard gates: budget estimate first, then confidence. A denial from
	// either is final for this firing.
	estimate := tsk.EstimateResources()
	if len(estimate) == 0 {
		estimate = conservativeEstimate()
	}
	if v := l.deps.Guard.CheckBudget(job.Task, estimate); v.Denied() {
		l.rejectWithTally(ctx, job, transition, started, decision, v.Err().Error())
		return
	}
	gate := l.deps.Guard.CheckConfidence(job.Task, decision.Confidence, 0, 0)
	if gate.Denied() {
		l.rejectWithTally(ctx, job, transition, started, decision, gate.Err().Error())
		return
	}
	if gate.Outcome == guardrail.OutcomeNeedsApproval && !decision.RequiresApproval {
		decision.RequiresApproval = true
		decision.ApprovalReason = gate.Reason
	}

	// A confident skip completes without touching the tool. The
	// conservative fallback never lands here: its zero confidence is
	// denied by the gate above.
	if decision.Action == ActionSkip {
		l.transitionTo(job, transition, scheduler.StateCompleted, "model declined to act: "+decision.Reasoning)
		l.recordOutcome(job, decision.Action, true, scheduler.StateCompleted, time.Since(started), "")
		events := l.deps.Guard.RecordOutcome(ctx, job.ID, true)
		l.persistAnomalies(events)
		metrics.DecisionsTotal.WithLabelValues(job.Task, "skipped").Inc()
		return
	}

	pd := l.deps.Policy.Decide(job.Task, true, policy.Context{
		User:   cfg.User,
		Host:   cfg.Host,
		Now:    time.Now(),
		Inputs: mergedInputs(job.Inputs, state),
	})
	if !pd.Allow {
		l.reject(job, transition, "policy: "+pd.Reason)
		metrics.DecisionsTotal.WithLabelValues(job.Task, "denied").Inc()
		return
	}
	if len(pd.ApprovalsNeeded) > 0 && !decision.RequiresApproval {
		decision.RequiresApproval = true
		decision.ApprovalReason = "policy requires approval"
	}

	var sim *simulate.Result
	if pd.SimulationRequired || decision.RequiresApproval {
		sim = l.simulate(ctx, job)
	}
	if pd.RollbackRequired && (sim == nil || !sim.Reversible) {
		l.reject(job, transition, "policy requires a rollback path and the action is not reversible")
		metrics.DecisionsTotal.WithLabelValues(job.Task, "denied").Inc()
		return
	}

	if decision.RequiresApproval {
		if ok := l.seekApproval(ctx, job, transition, cfg, decision, state, sim); !ok {
			metrics.DecisionsTotal.WithLabelValues(job.Task, "denied").Inc()
			return
		}
	}

	resp, execErr := l.execute(ctx, job, sim)
	if execErr != nil {
		l.fail(ctx, job, transition, started, decision.Action, execErr)
		return
	}

	l.transitionTo(job, transition, scheduler.StateCompleted,
		fmt.Sprintf("%s completed in %dms", decision.Action, resp.DurationMS))
	l.recordOutcome(job, decision.Action, true, scheduler.StateCompleted, time.Since(started), "")
	events := l.deps.Guard.RecordOutcome(ctx, job.ID, true)
	l.persistAnomalies(events)
	metrics.DecisionsTotal.WithLabelValues(job.Task, "executed").Inc()
}

// resolveTask looks the job's task up, falling back to a bare tool
// stand-in when the name is only registered as a tool.
func (l *Loop) resolveTask(job *scheduler.Job) (task.Task, bool) {
	if tsk, ok := l.deps.Tasks.Get(job.Task); ok {
		return tsk, true
	}
	if _, ok := l.deps.Tools.Get(job.Task); ok {
		desc := job.Description
		if desc == "" {
			desc = "invoke the " + job.Task + " tool"
		}
		return &toolTask{name: job.Task, description: desc}, true
	}
	return nil, false
}

func (l *Loop) retrieve(ctx context.Context, session *Session, query string, k int) []retrieval.Hit {
	if l.deps.Retriever == nil || k <= 0 {
		return nil
	}
	hits, err := l.deps.Retriever.Retrieve(ctx, query, k)
	if err != nil {
		l.log.Warn("memory retrieval failed, continuing without context",
			zap.String("profile", session.Profile), zap.Error(err))
		return nil
	}
	return hits
}

// consult runs the model under retry and parses the first JSON object
// out of the reply. A reply that cannot be parsed is not retried: the
// model answered, it just answered badly, so the conservative fallback
// applies.
func (l *Loop) consult(ctx context.Context, job *scheduler.Job, tsk task.Task, session *Session, cfg Config, state map[string]any, memories []retrieval.Hit) (*Decision, error) {
	prompt := composePrompt(session.PromptTemplate, tsk.Describe(), state, memories)

	var resp *llm.GenerateResponse
	pol := retry.Standard()
	err := l.deps.Retry.Do(ctx, pol, func() error {
		r, gerr := l.deps.Provider.Generate(ctx, llm.GenerateRequest{
			Prompt:      prompt,
			ModelID:     session.ModelID,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
		if gerr != nil {
			return gerr
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	decision, perr := ParseDecision(resp.Text)
	if perr != nil {
		l.log.Warn("unparseable model reply, falling back to conservative decision",
			zap.String("job_id", job.ID), zap.Error(perr))
		metrics.DecisionsTotal.WithLabelValues(job.Task, "fallback").Inc()
		return ConservativeDecision("model reply was not a valid decision: " + perr.Error()), nil
	}
	return decision, nil
}

// simulate predicts the job's effect for the approval prompt. Jobs
// whose tool has no simulation mapping produce no result.
func (l *Loop) simulate(ctx context.Context, job *scheduler.Job) *simulate.Result {
	action, ok := actionForJob(job)
	if !ok {
		return nil
	}
	res, err := l.deps.Simulator.Simulate(ctx, action)
	if err != nil {
		l.log.Warn("simulation failed", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return res
}

// seekApproval blocks on a human (or the auto mode) and reports whether
// execution may proceed. A rejection or timeout moves the job to
// rejected.
func (l *Loop) seekApproval(ctx context.Context, job *scheduler.Job, transition scheduler.TransitionFunc, cfg Config, decision *Decision, state map[string]any, sim *simulate.Result) bool {
	req := approval.NewRequest(job.Task, decision.Action, decision.Confidence, decision.RiskLevel, cfg.ApprovalTimeout)
	req.SystemState = state
	req.Simulation = sim
	req.AffectedResources = affectedResources(job, sim)

	resolved, err := l.deps.Approver.RequestApproval(ctx, req, cfg.ApprovalMode, cfg.ApprovalTimeout)
	if err != nil {
		reason := "approval: " + err.Error()
		if approval.IsRejected(err) && resolved != nil && resolved.Reason != "" {
			reason = "approval rejected: " + resolved.Reason
		}
		l.reject(job, transition, reason)
		return false
	}
	return true
}

// execute runs the tool under the job timeout, the budget watchdog, and
// the retry policy. Budget breaches cancel the attempt, are never
// retried, and trigger the rollback strategy from the simulation.
func (l *Loop) execute(ctx context.Context, job *scheduler.Job, sim *simulate.Result) (tools.Response, error) {
	runCtx := ctx
	if job.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSecs)*time.Second)
		defer cancel()
	}
	execCtx, cancelExec := context.WithCancel(runCtx)
	defer cancelExec()

	tracker, err := l.deps.Guard.Tracker()
	if err != nil {
		l.log.Warn("budget tracker unavailable", zap.Error(err))
		tracker = nil
	} else if serr := tracker.Start(); serr != nil {
		l.log.Warn("budget tracker start failed", zap.Error(serr))
		tracker = nil
	}

	var wmu sync.Mutex
	var budgetErr error
	if tracker != nil {
		go func() {
			ticker := time.NewTicker(budgetSampleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-execCtx.Done():
					return
				case <-ticker.C:
					snap, cerr := tracker.Check()
					if cerr != nil {
						if guardrail.IsBudgetExceeded(cerr) {
							wmu.Lock()
							budgetErr = cerr
							wmu.Unlock()
							cancelExec()
						}
						return
					}
					l.deps.Guard.RecordSample(execCtx, snap.CPUPercent, snap.MemoryMB)
				}
			}
		}()
	}

	// Retries are opted into per job; max_retries 0 means one attempt.
	pol := retry.Standard()
	pol.MaxAttempts = job.MaxRetries + 1
	pol.Retriable = func(err error) bool {
		return !guardrail.IsBudgetExceeded(err) &&
			!errors.Is(err, context.DeadlineExceeded) &&
			!errors.Is(err, context.Canceled)
	}
	pol.OnRetry = func(attempt int, err error, delay time.Duration) {
		job.RetryCount = attempt
		metrics.RetryAttemptsTotal.WithLabelValues("standard").Inc()
		l.log.Info("retrying tool execution",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	var resp tools.Response
	execErr := l.deps.Retry.Do(execCtx, pol, func() error {
		resp = l.deps.Tools.Execute(execCtx, tools.Request{
			Tool:      job.Task,
			Confirm:   true,
			RequestID: uuid.NewString(),
			Inputs:    job.Inputs,
		})
		if !resp.OK {
			return errors.New(resp.Error)
		}
		return nil
	})

	cancelExec()
	if tracker != nil {
		usage := tracker.Stop()
		l.deps.Guard.RecordSample(ctx, usage.PeakCPUPercent, usage.PeakMemoryMB)
	}

	wmu.Lock()
	bErr := budgetErr
	wmu.Unlock()
	if bErr != nil {
		l.rollbackBudgetBreach(ctx, job, sim, resp)
		return resp, bErr
	}
	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) && job.TimeoutSecs > 0 {
			execErr = fmt.Errorf("timed out after %ds: %w", job.TimeoutSecs, execErr)
		}
		return resp, execErr
	}

	// Arm the recovery ladder with the undo for this action. Nil clears
	// any stale undo from an earlier job.
	l.deps.Guard.SetLastAction(l.undoFor(job, resp))
	return resp, nil
}

// rollbackBudgetBreach undoes what it can after a budget kill. Only
// reversible actions with a known undo get rolled back; everything else
// is recorded as unrecoverable.
func (l *Loop) rollbackBudgetBreach(ctx context.Context, job *scheduler.Job, sim *simulate.Result, resp tools.Response) {
	if sim == nil || !sim.Reversible {
		l.log.Warn("budget exceeded with no reversible simulation, nothing to roll back",
			zap.String("job_id", job.ID))
		return
	}
	undo := l.undoFor(job, resp)
	if undo == nil {
		l.log.Warn("budget exceeded but tool offers no rollback",
			zap.String("job_id", job.ID), zap.String("tool", job.Task))
		return
	}
	rerr := undo(ctx)
	if l.deps.Trail != nil {
		l.deps.Trail.Write(audit.NewRecord(job.Task, audit.ModeRecovery).
			WithOK(rerr == nil).
			WithJob(job.ID, string(scheduler.StateFailed)).
			WithSummary("rollback after budget exhaustion: " + sim.RollbackStrategy))
	}
	if rerr != nil {
		l.log.Error("rollback after budget exhaustion failed",
			zap.String("job_id", job.ID), zap.Error(rerr))
	}
}

// undoFor builds the inverse invocation for tools that expose one.
func (l *Loop) undoFor(job *scheduler.Job, resp tools.Response) guardrail.RollbackFunc {
	switch job.Task {
	case "write_config":
		inputs := make(map[string]any, len(job.Inputs))
		for k, v := range job.Inputs {
			inputs[k] = v
		}
		delete(inputs, "content")
		inputs["rollback"] = true
		return l.reinvoke(job.Task, inputs)
	case "fan_control":
		prev, ok := intOutput(resp.Outputs, "previous_pwm")
		if !ok || prev < 0 {
			return nil
		}
		return l.reinvoke(job.Task, map[string]any{
			"device":  job.Inputs["device"],
			"percent": float64(prev) * 100 / 255,
		})
	}
	return nil
}

func (l *Loop) reinvoke(tool string, inputs map[string]any) guardrail.RollbackFunc {
	return func(rctx context.Context) error {
		resp := l.deps.Tools.Execute(rctx, tools.Request{
			Tool:      tool,
			Confirm:   true,
			RequestID: uuid.NewString(),
			Inputs:    inputs,
		})
		if !resp.OK {
			return fmt.Errorf("rollback %s: %s", tool, resp.Error)
		}
		return nil
	}
}

// reject moves the job to rejected. The transition itself writes the
// audit record.
func (l *Loop) reject(job *scheduler.Job, transition scheduler.TransitionFunc, reason string) {
	job.LastError = reason
	l.transitionTo(job, transition, scheduler.StateRejected, reason)
}

// rejectWithTally is reject plus the failure bookkeeping guardrail
// denials require: an outcome record and the anomaly tally.
func (l *Loop) rejectWithTally(ctx context.Context, job *scheduler.Job, transition scheduler.TransitionFunc, started time.Time, decision *Decision, reason string) {
	l.reject(job, transition, reason)
	l.recordOutcome(job, decision.Action, false, scheduler.StateRejected, time.Since(started), reason)
	events := l.deps.Guard.RecordOutcome(ctx, job.ID, false)
	l.persistAnomalies(events)
	metrics.DecisionsTotal.WithLabelValues(job.Task, "denied").Inc()
}

func (l *Loop) fail(ctx context.Context, job *scheduler.Job, transition scheduler.TransitionFunc, started time.Time, action string, execErr error) {
	if action == "" {
		action = job.Task
	}
	job.LastError = execErr.Error()
	l.transitionTo(job, transition, scheduler.StateFailed, execErr.Error())
	l.recordOutcome(job, action, false, scheduler.StateFailed, time.Since(started), execErr.Error())
	events := l.deps.Guard.RecordOutcome(ctx, job.ID, false)
	l.persistAnomalies(events)
	metrics.DecisionsTotal.WithLabelValues(job.Task, "failed").Inc()
}

func (l *Loop) transitionTo(job *scheduler.Job, transition scheduler.TransitionFunc, to scheduler.State, summary string) {
	if err := transition(to, summary); err != nil {
		l.log.Error("state transition failed",
			zap.String("job_id", job.ID),
			zap.String("to", string(to)),
			zap.Error(err))
	}
}

func (l *Loop) recordOutcome(job *scheduler.Job, action string, success bool, state scheduler.State, elapsed time.Duration, errMsg string) {
	if action == "" {
		action = job.Task
	}
	entry := map[string]any{
		"job_id":      job.ID,
		"task":        job.Task,
		"action":      action,
		"success":     success,
		"state":       string(state),
		"duration_ms": elapsed.Milliseconds(),
	}
	if errMsg != "" {
		entry["error"] = errMsg
	}
	l.appendMemory("action_outcomes.jsonl", entry)
}

func (l *Loop) persistAnomalies(events []guardrail.AnomalyEvent) {
	for _, ev := range events {
		l.appendMemory("anomalies.jsonl", map[string]any{
			"type":        ev.Type,
			"severity":    ev.Severity,
			"description": ev.Description,
		})
	}
}

// appendMemory writes to the runtime partition. Memory failures never
// fail a job; they downgrade to warnings.
func (l *Loop) appendMemory(filename string, entry map[string]any) {
	if l.deps.Memory == nil {
		return
	}
	if err := l.deps.Memory.Append("runtime", filename, entry); err != nil {
		l.log.Warn("memory append failed", zap.String("file", filename), zap.Error(err))
	}
}

// toolTask stands in when a job names a registered tool that has no
// task wrapper: the job description feeds the prompt, state gathering
// is skipped, and the budget check falls back to conservative defaults.
type toolTask struct {
	name        string
	description string
}

func (t *toolTask) Name() string { return t.name }

func (t *toolTask) Describe() string { return t.description }

func (t *toolTask) GatherState(context.Context) map[string]any { return map[string]any{} }

func (t *toolTask) EstimateResources() map[string]float64 { return nil }

func (t *toolTask) Execute(context.Context, map[string]any) (map[string]any, error) {
	return nil, errors.New("tool-backed jobs execute through the tool registry")
}

// conservativeEstimate stands in when a task declares no footprint. The
// numbers assume a moderately expensive action so the budget check
// still bites.
func conservativeEstimate() map[string]float64 {
	return map[string]float64{
		guardrail.EstimateCPUPercent:      25,
		guardrail.EstimateMemoryMB:        256,
		guardrail.EstimateDurationMinutes: 5,
	}
}

// mergedInputs layers job inputs over gathered state for policy
// conditions. Explicit inputs win on key collisions.
func mergedInputs(inputs, state map[string]any) map[string]any {
	merged := make(map[string]any, len(inputs)+len(state))
	for k, v := range state {
		merged[k] = v
	}
	for k, v := range inputs {
		merged[k] = v
	}
	return merged
}

// actionForJob maps a job onto the simulation action its tool performs.
func actionForJob(job *scheduler.Job) (simulate.Action, bool) {
	in := job.Inputs
	switch job.Task {
	case "write_config":
		path := stringField(in, "path")
		return simulate.Action{
			Kind:    simulate.ActionFileWrite,
			Path:    path,
			Content: []byte(stringField(in, "content")),
		}, path != ""
	case "run_command":
		cmd := stringField(in, "command")
		return simulate.Action{
			Kind:    simulate.ActionCommand,
			Command: cmd,
			Args:    stringSliceField(in, "args"),
		}, cmd != ""
	case "restart_service":
		svc := stringField(in, "service")
		return simulate.Action{
			Kind:    simulate.ActionServiceRestart,
			Service: svc,
		}, svc != ""
	case "fan_control":
		dev := stringField(in, "device")
		pct, _ := floatField(in, "percent")
		return simulate.Action{
			Kind:          simulate.ActionHardwareControl,
			Device:        dev,
			TargetPercent: int(pct),
		}, dev != ""
	case "package_update":
		pkgs := stringSliceField(in, "packages")
		return simulate.Action{
			Kind:     simulate.ActionPackageUpdate,
			Packages: pkgs,
			Manager:  stringField(in, "manager"),
		}, len(pkgs) > 0
	}
	return simulate.Action{}, false
}

// affectedResources summarizes what the action touches for the
// approval prompt.
func affectedResources(job *scheduler.Job, sim *simulate.Result) []string {
	if sim != nil {
		var out []string
		out = append(out, sim.AffectedFiles...)
		out = append(out, sim.AffectedServices...)
		out = append(out, sim.AffectedProcesses...)
		if len(out) > 0 {
			return out
		}
	}
	return []string{job.Task}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func floatField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func stringSliceField(m map[string]any, key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
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

func intOutput(outputs map[string]any, key string) (int, bool) {
	if outputs == nil {
		return 0, false
	}
	switch v := outputs[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
