package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/approval"
	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/guardrail"
	"github.com/cerebric/cerebric/internal/scheduler"
	"github.com/cerebric/cerebric/pkg/api"
)

// handleHealthz reports liveness. It carries no component state so a
// wedged scheduler still answers probes.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `"}` + "\n"))
}

// handleStatus summarises the supervisor: scheduler lifecycle, job
// counts, safe mode, pending approvals, failure streak.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	st := s.deps.Scheduler.Status()
	jobs := make(map[string]int, len(st.Counts))
	for state, n := range st.Counts {
		jobs[string(state)] = n
	}

	pending, err := s.deps.Approver.Pending()
	if err != nil {
		s.log.Warn("pending approvals unavailable for status", zap.Error(err))
	}

	s.mu.RLock()
	startedAt := s.startedAt
	running := s.running
	s.mu.RUnlock()
	var uptime int64
	if running && !startedAt.IsZero() {
		uptime = int64(time.Since(startedAt).Seconds())
	}

	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:             st.Running,
		SafeMode:            s.deps.Guard.SafeModeActive(),
		SafeModeReason:      s.deps.Guard.SafeModeReason(),
		Jobs:                jobs,
		PendingApprovals:    len(pending),
		ConsecutiveFailures: s.deps.Guard.ConsecutiveFailures(),
		UptimeSeconds:       uptime,
		Version:             s.cfg.Version,
	})
}

// handleJobs lists jobs (GET, optional ?state= filter) or schedules a
// new one (POST).
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state := scheduler.State(r.URL.Query().Get("state"))
		jobs := s.deps.Scheduler.List(state)
		out := make([]api.Job, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, wireJob(job))
		}
		s.writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var req api.CreateJobRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "invalid job body: "+err.Error())
			return
		}
		if req.Task == "" {
			s.writeError(w, http.StatusBadRequest, "bad_request", "task is required")
			return
		}
		if (req.CronExpr == "") == (req.RunAt == nil) {
			s.writeError(w, http.StatusBadRequest, "bad_request", "exactly one of cron_expr or run_at must be set")
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		job := &scheduler.Job{
			ID:          req.ID,
			Task:        req.Task,
			Description: req.Description,
			CronExpr:    req.CronExpr,
			RunAt:       req.RunAt,
			Priority:    req.Priority,
			Inputs:      req.Inputs,
			MaxRetries:  req.MaxRetries,
			TimeoutSecs: req.TimeoutSecs,
		}
		if err := s.deps.Scheduler.AddJob(job); err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		s.writeJSON(w, http.StatusCreated, wireJob(job))

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

// handleJobByID serves /api/v1/jobs/{id}: GET returns the record,
// DELETE cancels it.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := s.deps.Scheduler.Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "not_found", "job "+id+" not found")
			return
		}
		s.writeJSON(w, http.StatusOK, wireJob(job))

	case http.MethodDelete:
		if err := s.deps.Scheduler.Cancel(id); err != nil {
			var ite *scheduler.InvalidTransitionError
			switch {
			case errors.As(err, &ite):
				s.writeError(w, http.StatusConflict, "conflict", err.Error())
			case strings.Contains(err.Error(), "not found"):
				s.writeError(w, http.StatusNotFound, "not_found", err.Error())
			default:
				s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
			}
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": string(scheduler.StateCancelled)})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or DELETE")
	}
}

// handlePendingApprovals lists unresolved approval requests, oldest
// first, with their simulation payloads for review.
func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	pending, err := s.deps.Approver.Pending()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", "list pending approvals: "+err.Error())
		return
	}
	out := make([]api.Approval, 0, len(pending))
	for _, req := range pending {
		out = append(out, wireApproval(req))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleApprovalDecision serves POST /api/v1/approvals/{id}/decision,
// resolving a parked dashboard-mode request. Deciding twice, or
// deciding a request that already expired, is a 404: the waiter is
// gone and the first outcome stands.
func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/approvals/")
	id, ok := strings.CutSuffix(rest, "/decision")
	if !ok || id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "not_found", "no such approval endpoint")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req api.DecideApprovalRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid decision body: "+err.Error())
		return
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "dashboard"
	}

	if !s.deps.Approver.Resolve(id, req.Approved, decidedBy, req.Reason) {
		s.writeError(w, http.StatusNotFound, "not_found", "approval "+id+" is not awaiting a decision")
		return
	}

	status := string(approval.StatusRejected)
	if req.Approved {
		status = string(approval.StatusApproved)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

// handleAlerts returns the recent anomaly buffer, newest first.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	events := s.deps.Guard.RecentAnomalies()
	out := make([]api.Alert, 0, len(events))
	for _, ev := range events {
		out = append(out, wireAlert(ev))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleAudit returns one day of the audit trail. ?date=YYYY-MM-DD
// selects the day, defaulting to today (UTC).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	day := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	records, err := s.deps.Trail.ReadDay(day)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", "read audit trail: "+err.Error())
		return
	}
	out := make([]api.AuditRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, wireAuditRecord(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleSafeModeExit resumes autonomy. Exiting while safe mode is
// inactive is a conflict, not a no-op, so accidental double-posts are
// visible to the caller.
func (s *Server) handleSafeModeExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req api.ExitSafeModeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", "invalid body: "+err.Error())
		return
	}
	user := req.User
	if user == "" {
		user = "dashboard"
	}

	if !s.deps.Guard.SafeModeActive() {
		s.writeError(w, http.StatusConflict, "conflict", "safe mode is not active")
		return
	}
	if err := s.deps.Guard.ExitSafeMode(user); err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal", "exit safe mode: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"safe_mode": false, "user": user})
}

// Wire conversions

func wireJob(job *scheduler.Job) api.Job {
	return api.Job{
		ID:          job.ID,
		Task:        job.Task,
		Description: job.Description,
		CronExpr:    job.CronExpr,
		RunAt:       job.RunAt,
		Priority:    job.Priority,
		Inputs:      job.Inputs,
		State:       string(job.State),
		MaxRetries:  job.MaxRetries,
		TimeoutSecs: job.TimeoutSecs,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		RetryCount:  job.RetryCount,
		LastError:   job.LastError,
	}
}

func wireApproval(req *approval.Request) api.Approval {
	a := api.Approval{
		ID:                req.ID,
		Task:              req.Task,
		Action:            req.Action,
		Confidence:        req.Confidence,
		RiskLevel:         req.RiskLevel,
		SystemState:       req.SystemState,
		AffectedResources: req.AffectedResources,
		RequestedAt:       req.RequestedAt,
		ExpiresAt:         req.ExpiresAt,
		Status:            string(req.Status),
		DecidedBy:         req.DecidedBy,
		Reason:            req.Reason,
	}
	if req.Simulation != nil {
		a.Simulation = req.Simulation
	}
	if !req.DecidedAt.IsZero() {
		at := req.DecidedAt
		a.DecidedAt = &at
	}
	return a
}

func wireAlert(ev guardrail.AnomalyEvent) api.Alert {
	return api.Alert{
		ID:          ev.ID,
		Type:        ev.Type,
		Severity:    ev.Severity,
		Description: ev.Description,
		Metrics:     ev.Metrics,
		Timestamp:   ev.Timestamp,
	}
}

func wireAuditRecord(rec audit.Record) api.AuditRecord {
	return api.AuditRecord{
		TS:         rec.TS,
		Tool:       rec.Tool,
		Mode:       string(rec.Mode),
		RequestID:  rec.RequestID,
		OK:         rec.OK,
		Summary:    rec.Summary,
		JobID:      rec.JobID,
		State:      rec.State,
		User:       rec.User,
		Error:      rec.Error,
		ErrorCode:  rec.ErrorCode,
		DurationMs: rec.DurationMs,
		Fields:     rec.Fields,
	}
}
