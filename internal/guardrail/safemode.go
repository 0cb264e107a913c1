package guardrail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SafeModeFlagFile is the marker dropped in the data directory while
// safe mode is active. Its presence alone is authoritative, so an
// activation survives a process restart.
const SafeModeFlagFile = "safe_mode_active.flag"

// SafeMode gates all non-essential execution behind a single switch
// backed by an in-memory flag and an on-disk marker.
type SafeMode struct {
	path string

	mu        sync.Mutex
	active    bool
	reason    string
	enteredAt time.Time
}

// NewSafeMode binds safe mode to the marker file inside dataDir and
// adopts an existing marker left by a previous run.
func NewSafeMode(dataDir string) *SafeMode {
	s := &SafeMode{path: filepath.Join(dataDir, SafeModeFlagFile)}
	if data, err := os.ReadFile(s.path); err == nil {
		s.active = true
		s.reason = strings.TrimSpace(string(data))
	}
	return s
}

// Enter activates safe mode and persists the marker. Re-entering while
// already active keeps the original reason.
func (s *SafeMode) Enter(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir for safe-mode marker: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(reason+"\n"), 0o644); err != nil {
		return fmt.Errorf("write safe-mode marker: %w", err)
	}
	s.active = true
	s.reason = reason
	s.enteredAt = time.Now().UTC()
	return nil
}

// Exit deactivates safe mode and removes the marker. Only an explicit
// operator action should call this.
func (s *SafeMode) Exit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove safe-mode marker: %w", err)
	}
	s.active = false
	s.reason = ""
	s.enteredAt = time.Time{}
	return nil
}

// Active reports whether safe mode is on, consulting both the flag and
// the marker file so an external touch of the file takes effect without
// a restart.
func (s *SafeMode) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return true
	}
	if data, err := os.ReadFile(s.path); err == nil {
		s.active = true
		s.reason = strings.TrimSpace(string(data))
		return true
	}
	return false
}

// Reason returns why safe mode was entered, empty when inactive.
func (s *SafeMode) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
