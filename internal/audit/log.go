package audit

// Package audit writes the append-only audit trail.
//
// Responsibilities:
//   - Append one JSON object per line to a daily file <dir>/audit-YYYY-MM-DD.jsonl
//   - Insert the required ts field when callers omit it
//   - Never block or fail a running tool: write errors are downgraded to
//     application-log warnings and the record is dropped
//   - Provide convenience writers for the recurring record shapes
//     (state transitions, crash recovery, approval decisions, misfires)
//   - Read a day's records back for the dashboard audit view
//
// Every append opens the file fresh, writes the line, and closes it; a
// single mutex gives per-file total ordering within the process.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger is the audit trail writer.
type Logger interface {
	// Write appends one record to the day file. It never returns an error
	// for write failures; those are logged and the record is dropped.
	Write(rec *Record)

	// StateTransition records a job moving to a new state.
	StateTransition(jobID, state, summary string)

	// Requeued records crash recovery of a job found running at load time.
	Requeued(jobID string)

	// Misfire records a trigger firing that was coalesced or dropped.
	Misfire(jobID, summary string)

	// ApprovalDecision records the resolution of an approval request.
	ApprovalDecision(requestID, status, decidedBy, reason string)

	// SafeModeEntered and SafeModeExited record the safe-mode lifecycle.
	SafeModeEntered(reason string)
	SafeModeExited(user string)

	// Anomaly records a detected anomaly event.
	Anomaly(kind, severity, description string)

	// RecoveryAction records one step of the recovery executor.
	RecoveryAction(name string, ok bool, message string)

	// ReadDay returns all records written on the given UTC date,
	// in write order.
	ReadDay(date time.Time) ([]Record, error)
}

type fileLogger struct {
	dir string
	app *zap.Logger
	mu  sync.Mutex
}

// NewLogger creates an audit trail writer rooted at dir. The application
// logger receives warnings when records cannot be written.
func NewLogger(dir string, app *zap.Logger) Logger {
	if app == nil {
		app = zap.NewNop()
	}
	return &fileLogger{dir: dir, app: app}
}

// fileForDate returns the day file path for a UTC timestamp.
func (l *fileLogger) fileForDate(t time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", t.UTC().Format("2006-01-02")))
}

func (l *fileLogger) Write(rec *Record) {
	if rec == nil {
		return
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	if rec.Tool == "" || rec.Mode == "" {
		l.app.Warn("audit record missing required field, dropped",
			zap.String("tool", rec.Tool),
			zap.String("mode", string(rec.Mode)),
		)
		return
	}

	line, err := json.Marshal(rec)
	if err != nil {
		l.app.Warn("audit record not serialisable, dropped",
			zap.String("tool", rec.Tool),
			zap.Error(err),
		)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.app.Warn("audit directory unavailable, record dropped", zap.Error(err))
		return
	}

	path := l.fileForDate(rec.TS)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.app.Warn("audit file unwritable, record dropped",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.app.Warn("audit append failed, record dropped",
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (l *fileLogger) StateTransition(jobID, state, summary string) {
	l.Write(NewRecord("scheduler", ModeState).
		WithJob(jobID, state).
		WithOK(true).
		WithSummary(summary))
}

func (l *fileLogger) Requeued(jobID string) {
	l.Write(NewRecord("scheduler", ModeRecovery).
		WithJob(jobID, "pending").
		WithOK(true).
		WithSummary("requeued after restart"))
}

func (l *fileLogger) Misfire(jobID, summary string) {
	l.Write(NewRecord("scheduler", ModeMisfire).
		WithJob(jobID, "").
		WithOK(true).
		WithSummary(summary))
}

func (l *fileLogger) ApprovalDecision(requestID, status, decidedBy, reason string) {
	l.Write(NewRecord("approval", ModeApproval).
		WithRequestID(requestID).
		WithOK(status == "approved").
		WithUser(decidedBy).
		WithSummary(fmt.Sprintf("request %s %s: %s", requestID, status, reason)))
}

func (l *fileLogger) SafeModeEntered(reason string) {
	l.Write(NewRecord("guardrail", ModeSafeMode).
		WithOK(true).
		WithSummary("safe mode entered: " + reason))
}

func (l *fileLogger) SafeModeExited(user string) {
	l.Write(NewRecord("guardrail", ModeSafeMode).
		WithOK(true).
		WithUser(user).
		WithSummary("safe mode exited"))
}

func (l *fileLogger) Anomaly(kind, severity, description string) {
	l.Write(NewRecord("guardrail", ModeAnomaly).
		WithOK(false).
		WithSummary(fmt.Sprintf("Anomaly %s (%s): %s", kind, severity, description)).
		WithField("anomaly_type", kind).
		WithField("severity", severity))
}

func (l *fileLogger) RecoveryAction(name string, ok bool, message string) {
	l.Write(NewRecord("guardrail", ModeRecovery).
		WithOK(ok).
		WithSummary(message).
		WithField("recovery_action", name))
}

func (l *fileLogger) ReadDay(date time.Time) ([]Record, error) {
	l.mu.Lock()
	path := l.fileForDate(date)
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit day file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Malformed lines are skipped, not fatal; the trail must stay readable.
			l.app.Warn("skipping malformed audit line", zap.String("path", path), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan audit day file: %w", err)
	}
	return records, nil
}
