package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/audit"
)

// Store persists one JSON file per job id. Job files are never removed;
// cancelled and completed records stay on disk for audit.
type Store struct {
	dir   string
	trail audit.Logger
	log   *zap.Logger
	mu    sync.Mutex
}

// NewStore creates the store rooted at dir.
func NewStore(dir string, trail audit.Logger, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{dir: dir, trail: trail, log: log}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the job atomically.
func (s *Store) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	path := s.path(job.ID)
	tmp, err := os.CreateTemp(s.dir, "."+job.ID+".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for job %s: %w", job.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close job %s: %w", job.ID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename job %s: %w", job.ID, err)
	}
	return nil
}

// Load reads one job by id.
func (s *Store) Load(id string) (*Job, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job %s: %w", id, err)
	}
	return &job, nil
}

// LoadAll reads every job file. A job found running means the process
// died mid-firing; it moves back to pending with a recovery audit
// record. Malformed files are quarantined and loading continues.
func (s *Store) LoadAll() ([]*Job, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list job files: %w", err)
	}

	var jobs []*Job
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("unreadable job file", zap.String("path", path), zap.Error(err))
			continue
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			s.log.Warn("malformed job file, quarantined", zap.String("path", path), zap.Error(err))
			s.quarantine(path)
			continue
		}

		if job.State == StateRunning {
			job.State = StatePending
			job.StartedAt = nil
			job.RetryCount = 0
			if err := s.Save(&job); err != nil {
				s.log.Warn("requeued job not persisted", zap.String("job_id", job.ID), zap.Error(err))
			}
			if s.trail != nil {
				s.trail.Requeued(job.ID)
			}
			s.log.Info("requeued running job after restart", zap.String("job_id", job.ID))
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

func (s *Store) quarantine(path string) {
	_ = os.Rename(path, strings.TrimSuffix(path, ".json")+".corrupt")
}
