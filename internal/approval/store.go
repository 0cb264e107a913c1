package approval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists approval requests and decision history.
//
// Layout under its root:
//
//	requests/<id>.json           current state, atomic write-then-rename
//	history/<id>_<timestamp>.json one file per decision
//
// A decision identified by request id + decided-at is recorded at most
// once; re-submitting the same decision is a no-op.
type Store struct {
	dir string
	log *zap.Logger
	mu  sync.Mutex
}

// NewStore creates the store rooted at dir.
func NewStore(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, log: log}
}

func (s *Store) requestPath(id string) string {
	return filepath.Join(s.dir, "requests", id+".json")
}

func (s *Store) historyPath(id string, decidedAt time.Time) string {
	return filepath.Join(s.dir, "history",
		fmt.Sprintf("%s_%s.json", id, decidedAt.UTC().Format("20060102T150405.000000000Z")))
}

// SaveRequest writes the request's current state atomically.
func (s *Store) SaveRequest(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeAtomic(s.requestPath(req.ID), req)
}

// LoadRequest reads one request by id.
func (s *Store) LoadRequest(id string) (*Request, error) {
	data, err := os.ReadFile(s.requestPath(id))
	if err != nil {
		return nil, fmt.Errorf("load approval request %s: %w", id, err)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse approval request %s: %w", id, err)
	}
	return &req, nil
}

// ListPending returns unresolved requests, oldest first. Malformed
// files are skipped with a warning.
func (s *Store) ListPending() ([]*Request, error) {
	dir := filepath.Join(s.dir, "requests")
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}

	var pending []*Request
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("unreadable approval request", zap.String("path", path), zap.Error(err))
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("malformed approval request, quarantined", zap.String("path", path), zap.Error(err))
			quarantine(path)
			continue
		}
		if req.Status == StatusPending {
			pending = append(pending, &req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].RequestedAt.Before(pending[j].RequestedAt)
	})
	return pending, nil
}

// RecordDecision persists the decided request and appends one history
// record. The same decision (request id + decided-at) is recorded only
// once; the second submission changes nothing.
func (s *Store) RecordDecision(req *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.requestPath(req.ID), req); err != nil {
		return err
	}

	histPath := s.historyPath(req.ID, req.DecidedAt)
	if _, err := os.Stat(histPath); err == nil {
		return nil // decision already recorded
	}
	return writeAtomic(histPath, req)
}

// ListHistory returns decision records, newest first.
func (s *Store) ListHistory() ([]*Request, error) {
	dir := filepath.Join(s.dir, "history")
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list approval history: %w", err)
	}
	// The timestamp suffix makes lexical descending order newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	var history []*Request
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("unreadable history record", zap.String("path", path), zap.Error(err))
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.log.Warn("malformed history record", zap.String("path", path), zap.Error(err))
			continue
		}
		history = append(history, &req)
	}
	return history, nil
}

// writeAtomic serialises v and renames a temp file over the target so
// readers never observe a torn write.
func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// quarantine renames a corrupt file aside so loading can continue.
func quarantine(path string) {
	_ = os.Rename(path, strings.TrimSuffix(path, ".json")+".corrupt")
}
