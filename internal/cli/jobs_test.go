package cli

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cerebric/cerebric/pkg/api"
)

func TestJobsListRendersTable(t *testing.T) {
	f := newFakeDaemon(t)
	var gotQuery string
	f.mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		runAt := time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)
		_ = json.NewEncoder(w).Encode([]api.Job{
			{ID: "nightly-report", Task: "disk_report", CronExpr: "0 2 * * *", Priority: 5, State: "pending", MaxRetries: 3},
			{ID: "one-off", Task: "package_update", RunAt: &runAt, Priority: 2, State: "failed", RetryCount: 1, MaxRetries: 1},
		})
	})

	out, _, err := runCLI(t, nil, "jobs", "list", "--state", "all", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	if gotQuery != "state=all" {
		t.Errorf("expected state filter in query, got %q", gotQuery)
	}
	for _, want := range []string{"ID", "nightly-report", "cron 0 2 * * *", "one-off", "at 2026-09-01T02:00:00Z", "1/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJobsListEmpty(t *testing.T) {
	f := newFakeDaemon(t)
	f.mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]api.Job{})
	})

	out, _, err := runCLI(t, nil, "jobs", "list", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	if !strings.Contains(out, "No jobs scheduled.") {
		t.Errorf("expected empty message, got: %q", out)
	}
}

func TestJobsAddPostsRequest(t *testing.T) {
	f := newFakeDaemon(t)
	var got api.CreateJobRequest
	f.mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.Job{ID: "nightly", Task: got.Task, CronExpr: got.CronExpr, Priority: 5, State: "pending"})
	})

	out, _, err := runCLI(t, nil, "jobs", "add",
		"--task", "disk_report",
		"--cron", "0 2 * * *",
		"--input", "path=/var",
		"--max-retries", "3",
		"--server", f.url(),
	)
	if err != nil {
		t.Fatalf("jobs add failed: %v", err)
	}
	if got.Task != "disk_report" || got.CronExpr != "0 2 * * *" || got.MaxRetries != 3 {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.Inputs["path"] != "/var" {
		t.Errorf("expected inputs to carry path=/var, got %v", got.Inputs)
	}
	if !strings.Contains(out, "job nightly scheduled (cron 0 2 * * *)") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestJobsAddRelativeRunAt(t *testing.T) {
	f := newFakeDaemon(t)
	var got api.CreateJobRequest
	f.mux.HandleFunc("/api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.Job{ID: "later", Task: got.Task, RunAt: got.RunAt, State: "pending"})
	})

	before := time.Now()
	_, _, err := runCLI(t, nil, "jobs", "add", "--task", "cleanup", "--at", "30m", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs add failed: %v", err)
	}
	if got.RunAt == nil {
		t.Fatal("expected run_at to be set")
	}
	offset := got.RunAt.Sub(before)
	if offset < 29*time.Minute || offset > 31*time.Minute {
		t.Errorf("expected run_at ~30m out, got offset %s", offset)
	}
}

func TestJobsAddValidation(t *testing.T) {
	// Validation failures must not reach the daemon; the dead server
	// address proves no request is attempted.
	dead := "http://127.0.0.1:1"

	_, _, err := runCLI(t, nil, "jobs", "add", "--task", "t", "--at", "tomorrow", "--server", dead)
	if err == nil || !strings.Contains(err.Error(), "invalid --at") {
		t.Errorf("expected --at parse error, got %v", err)
	}

	_, _, err = runCLI(t, nil, "jobs", "add", "--task", "t", "--cron", "@daily", "--input", "noequals", "--server", dead)
	if err == nil || !strings.Contains(err.Error(), "invalid --input") {
		t.Errorf("expected --input parse error, got %v", err)
	}
}

func TestJobsCancel(t *testing.T) {
	f := newFakeDaemon(t)
	f.mux.HandleFunc("/api/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Path != "/api/v1/jobs/nightly" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Code: "not_found", Message: "job ghost: not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "nightly", "state": "cancelled"})
	})

	out, _, err := runCLI(t, nil, "jobs", "cancel", "nightly", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs cancel failed: %v", err)
	}
	if !strings.Contains(out, "job nightly cancelled") {
		t.Errorf("unexpected output: %q", out)
	}

	_, _, err = runCLI(t, nil, "jobs", "cancel", "ghost", "--server", f.url())
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected daemon error to surface, got %v", err)
	}
}

func TestJobsStatusDetail(t *testing.T) {
	f := newFakeDaemon(t)
	started := time.Date(2026, 8, 25, 2, 0, 1, 0, time.UTC)
	f.mux.HandleFunc("/api/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.Job{
			ID: "nightly", Task: "disk_report", State: "failed", Priority: 5,
			CronExpr: "0 2 * * *", MaxRetries: 3, RetryCount: 2,
			CreatedAt: started.Add(-time.Hour), StartedAt: &started,
			LastError: "disk probe timed out",
		})
	})

	out, _, err := runCLI(t, nil, "jobs", "status", "nightly", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs status failed: %v", err)
	}
	for _, want := range []string{"State:", "failed", "Retries:", "2/3", "Last error:", "disk probe timed out"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestJobsStatusJSON(t *testing.T) {
	f := newFakeDaemon(t)
	f.mux.HandleFunc("/api/v1/jobs/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.Job{ID: "nightly", Task: "disk_report", State: "pending"})
	})

	out, _, err := runCLI(t, nil, "jobs", "status", "nightly", "--json", "--server", f.url())
	if err != nil {
		t.Fatalf("jobs status --json failed: %v", err)
	}
	var job api.Job
	if err := json.Unmarshal([]byte(out), &job); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, out)
	}
	if job.ID != "nightly" {
		t.Errorf("unexpected job: %+v", job)
	}
}
