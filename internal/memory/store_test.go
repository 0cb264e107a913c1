package memory

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), "default", zap.NewNop())
}

func TestAppendInsertsTimestamp(t *testing.T) {
	store := newTestStore(t)

	err := store.Append("shared", "profile.jsonl", map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := store.ListEntries("shared", "profile.jsonl")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0]["ts"].(string); !ok {
		t.Error("ts was not inserted")
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		err := store.Append("core", "facts.jsonl", map[string]any{"seq": i})
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	entries, err := store.ListEntries("core", "facts.jsonl")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if int(e["seq"].(float64)) != i {
			t.Errorf("entry %d out of order: %v", i, e["seq"])
		}
	}
}

func TestAppendAllowsDuplicates(t *testing.T) {
	store := newTestStore(t)

	entry := map[string]any{"ts": "2026-08-25T10:00:00Z", "note": "same"}
	for i := 0; i < 2; i++ {
		if err := store.Append("shared", "notes.jsonl", entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := store.ListEntries("shared", "notes.jsonl")
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected duplicates to be kept, got %d entries", len(entries))
	}
}

func TestAppendValidatesRuntimeShape(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name    string
		entry   map[string]any
		wantErr bool
	}{
		{
			name: "valid outcome",
			entry: map[string]any{
				"job_id": "hc1", "task": "health_check", "success": true,
			},
			wantErr: false,
		},
		{
			name:    "missing job_id",
			entry:   map[string]any{"task": "health_check", "success": true},
			wantErr: true,
		},
		{
			name: "success wrong type",
			entry: map[string]any{
				"job_id": "hc1", "task": "health_check", "success": "yes",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Append("runtime", "action_outcomes.jsonl", tt.entry)
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestAppendRejectsBadTimestamp(t *testing.T) {
	store := newTestStore(t)

	err := store.Append("shared", "x.jsonl", map[string]any{"ts": "yesterday"})
	if err == nil {
		t.Fatal("expected rejection of non-RFC3339 ts")
	}
}

func TestAppendRejectsInvalidPartition(t *testing.T) {
	store := newTestStore(t)

	for _, partition := range []string{"secrets", "profiles/", "profiles/../core", "../etc"} {
		err := store.Append(partition, "x.jsonl", map[string]any{"k": 1})
		if !errors.Is(err, ErrInvalidPartition) {
			t.Errorf("partition %q: expected ErrInvalidPartition, got %v", partition, err)
		}
	}
}

func TestAppendRejectsInvalidFilename(t *testing.T) {
	store := newTestStore(t)

	for _, name := range []string{"", "x.json", "sub/x.jsonl", "..\\x.jsonl"} {
		err := store.Append("shared", name, map[string]any{"k": 1})
		if !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("filename %q: expected ErrInvalidFilename, got %v", name, err)
		}
	}
}

func TestListEntriesMissingFile(t *testing.T) {
	store := newTestStore(t)

	entries, err := store.ListEntries("runtime", "missing.jsonl")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty slice, got %d entries", len(entries))
	}
}

func TestPurgeProtectedPartitions(t *testing.T) {
	store := newTestStore(t)

	if err := store.Purge("core"); !errors.Is(err, ErrProtectedPartition) {
		t.Errorf("purge core: expected ErrProtectedPartition, got %v", err)
	}
	if err := store.Purge("default"); !errors.Is(err, ErrProtectedPartition) {
		t.Errorf("purge default profile: expected ErrProtectedPartition, got %v", err)
	}
	if err := store.Purge("profiles/default"); !errors.Is(err, ErrProtectedPartition) {
		t.Errorf("purge profiles/default: expected ErrProtectedPartition, got %v", err)
	}
}

func TestPurgeRemovesProfileTree(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, "default", zap.NewNop())

	err := store.Append("profiles/gaming", "prefs.jsonl", map[string]any{"fan": "quiet"})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := store.Purge("gaming"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "profiles", "gaming")); !os.IsNotExist(err) {
		t.Error("profile directory still exists after purge")
	}
}

func TestExportConcatenatesProfile(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, "default", zap.NewNop())

	if err := store.Append("profiles/lab", "a.jsonl", map[string]any{"n": 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append("profiles/lab", "b.jsonl", map[string]any{"n": 2}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dest := filepath.Join(root, "export", "lab.jsonl")
	if err := store.Export("lab", dest); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("export line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 exported lines, got %d", lines)
	}
}

func TestObserverNotified(t *testing.T) {
	store := newTestStore(t)

	var gotPartition, gotFile string
	store.SetObserver(func(partition, filename string, entry map[string]any) {
		gotPartition, gotFile = partition, filename
	})

	err := store.Append("runtime", "anomalies.jsonl", map[string]any{
		"type": "cpu_spike", "severity": "warning",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if gotPartition != "runtime" || gotFile != "anomalies.jsonl" {
		t.Errorf("observer not notified correctly: %s/%s", gotPartition, gotFile)
	}
}

func TestPartitionsAndFiles(t *testing.T) {
	store := newTestStore(t)

	if err := store.Append("profiles/night", "x.jsonl", map[string]any{"k": 1}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	parts, err := store.Partitions()
	if err != nil {
		t.Fatalf("Partitions failed: %v", err)
	}
	found := false
	for _, p := range parts {
		if p == "profiles/night" {
			found = true
		}
	}
	if !found {
		t.Errorf("profiles/night not listed: %v", parts)
	}

	files, err := store.Files("profiles/night")
	if err != nil {
		t.Fatalf("Files failed: %v", err)
	}
	if len(files) != 1 || files[0] != "x.jsonl" {
		t.Errorf("unexpected files: %v", files)
	}
}
