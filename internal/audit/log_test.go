package audit

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWriteCreatesDayFile(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	rec := NewRecord("health_check", ModeApply).
		WithRequestID("req-1").
		WithOK(true).
		WithSummary("all healthy")
	logger.Write(rec)

	want := filepath.Join(tmpDir, "audit-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("day file not created: %v", err)
	}

	line := strings.TrimSpace(string(content))
	var got Record
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if got.Tool != "health_check" {
		t.Errorf("expected tool 'health_check', got %s", got.Tool)
	}
	if got.Mode != ModeApply {
		t.Errorf("expected mode 'apply', got %s", got.Mode)
	}
	if !got.OK {
		t.Error("expected ok=true")
	}
	if got.TS.IsZero() {
		t.Error("writer did not insert ts")
	}
}

func TestWriteInsertsTimestamp(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	before := time.Now().UTC()
	logger.Write(&Record{Tool: "noop", Mode: ModeDryRun})

	recs, err := logger.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].TS.Before(before.Add(-time.Second)) {
		t.Errorf("inserted ts %v is before write time %v", recs[0].TS, before)
	}
}

func TestWriteDropsRecordMissingRequiredFields(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	logger.Write(&Record{Mode: ModeApply})  // no tool
	logger.Write(&Record{Tool: "no-mode"})  // no mode
	logger.Write(nil)

	recs, err := logger.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected no records, got %d", len(recs))
	}
}

func TestWriteNeverBlocksOnUnwritablePath(t *testing.T) {
	tmpDir := t.TempDir()
	blocked := filepath.Join(tmpDir, "blocked")
	// A file where the directory should be makes MkdirAll fail.
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	logger := NewLogger(blocked, zap.NewNop())
	// Must not panic or error out.
	logger.Write(NewRecord("noop", ModeApply))
}

func TestStateTransitionHelper(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	logger.StateTransition("job-1", "running", "trigger fired")
	logger.StateTransition("job-1", "completed", "tool succeeded")

	recs, err := logger.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].JobID != "job-1" || recs[0].State != "running" {
		t.Errorf("first transition wrong: %+v", recs[0])
	}
	if recs[1].State != "completed" {
		t.Errorf("second transition wrong: %+v", recs[1])
	}
	if recs[0].Mode != ModeState {
		t.Errorf("expected mode 'state', got %s", recs[0].Mode)
	}
}

func TestRequeuedHelper(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	logger.Requeued("job-9")

	recs, err := logger.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Mode != ModeRecovery {
		t.Errorf("expected mode 'recovery', got %s", recs[0].Mode)
	}
	if recs[0].Summary != "requeued after restart" {
		t.Errorf("expected summary 'requeued after restart', got %q", recs[0].Summary)
	}
}

func TestReadDaySkipsMalformedLines(t *testing.T) {
	tmpDir := t.TempDir()
	logger := NewLogger(tmpDir, zap.NewNop())

	logger.Write(NewRecord("noop", ModeApply).WithSummary("first"))

	path := filepath.Join(tmpDir, "audit-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f.Close()

	logger.Write(NewRecord("noop", ModeApply).WithSummary("second"))

	recs, err := logger.ReadDay(time.Now().UTC())
	if err != nil {
		t.Fatalf("ReadDay failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(recs))
	}
	if recs[0].Summary != "first" || recs[1].Summary != "second" {
		t.Errorf("records out of order: %+v", recs)
	}
}

func TestReadDayMissingFile(t *testing.T) {
	logger := NewLogger(t.TempDir(), zap.NewNop())

	recs, err := logger.ReadDay(time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("expected nil error for missing day, got %v", err)
	}
	if recs != nil {
		t.Errorf("expected nil records, got %v", recs)
	}
}

func TestRecordBuilderChain(t *testing.T) {
	rec := NewRecord("write_config", ModeApply).
		WithRequestID("req-42").
		WithOK(true).
		WithSummary("wrote /etc/cerebric/app.yaml").
		WithJob("cfg-1", "completed").
		WithUser("admin").
		WithDuration(1500 * time.Millisecond).
		WithField("path", "/etc/cerebric/app.yaml")

	if rec.RequestID != "req-42" {
		t.Errorf("expected request id 'req-42', got %s", rec.RequestID)
	}
	if rec.JobID != "cfg-1" || rec.State != "completed" {
		t.Errorf("job fields wrong: %+v", rec)
	}
	if rec.DurationMs != 1500 {
		t.Errorf("expected duration 1500ms, got %d", rec.DurationMs)
	}
	if rec.Fields["path"] != "/etc/cerebric/app.yaml" {
		t.Errorf("expected path field, got %v", rec.Fields)
	}
}

func TestWithErrorClearsOK(t *testing.T) {
	rec := NewRecord("run_command", ModeApply).
		WithOK(true).
		WithError(errors.New("exit status 1"), "command_failed")

	if rec.OK {
		t.Error("WithError should clear ok")
	}
	if rec.Error != "exit status 1" {
		t.Errorf("expected error text, got %q", rec.Error)
	}
	if rec.ErrorCode != "command_failed" {
		t.Errorf("expected error code, got %q", rec.ErrorCode)
	}
}

func TestAppLoggerRejectsInvalidLevel(t *testing.T) {
	cfg := DefaultAppLogConfig()
	cfg.Level = "invalid"
	cfg.Path = filepath.Join(t.TempDir(), "app.log")

	_, err := NewAppLogger(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "invalid log level") {
		t.Errorf("expected 'invalid log level' error, got: %v", err)
	}
}

func TestAppLoggerWrites(t *testing.T) {
	cfg := DefaultAppLogConfig()
	cfg.Path = filepath.Join(t.TempDir(), "app.log")

	logger, err := NewAppLogger(cfg)
	if err != nil {
		t.Fatalf("NewAppLogger failed: %v", err)
	}
	logger.Info("started", zap.String("component", "test"))
	_ = logger.Sync()

	content, err := os.ReadFile(cfg.Path)
	if err != nil {
		t.Fatalf("app log not created: %v", err)
	}
	if !strings.Contains(string(content), "started") {
		t.Error("app log does not contain message")
	}
}
