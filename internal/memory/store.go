package memory

// Package memory is the partitioned append-only JSONL store.
//
// Responsibilities:
//   - Append entries to partition files under <data-dir>/memory, inserting
//     the ts field when absent and validating against the partition's
//     declared record shape
//   - List a file's entries in write order
//   - Purge a profile's directory tree, refusing protected partitions
//   - Export a profile's files as one concatenated JSONL stream
//
// Partitions are fixed: core (protected), runtime, shared, and
// profiles/<name>. The profile bound to the default administrative persona
// is protected alongside core. Every append opens the file fresh, writes
// one line, and closes it; per-file mutexes give per-file total ordering.

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrProtectedPartition is returned when purging core or the default
	// administrative profile.
	ErrProtectedPartition = errors.New("partition is protected")

	// ErrInvalidPartition is returned for partition names outside the
	// fixed layout.
	ErrInvalidPartition = errors.New("invalid partition")

	// ErrInvalidFilename is returned for file names that are not bare
	// .jsonl names.
	ErrInvalidFilename = errors.New("invalid filename")
)

var profileNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Observer is notified after a successful append. The retrieval index
// subscribes here to keep itself current.
type Observer func(partition, filename string, entry map[string]any)

// Store is the memory store rooted at <data-dir>/memory.
type Store struct {
	root           string
	defaultProfile string
	log            *zap.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	observer Observer
}

// NewStore creates a store rooted at root. defaultProfile names the
// profile bound to the default administrative persona; it is protected
// from purge together with core.
func NewStore(root, defaultProfile string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	if defaultProfile == "" {
		defaultProfile = "default"
	}
	return &Store{
		root:           root,
		defaultProfile: defaultProfile,
		log:            log,
		locks:          make(map[string]*sync.Mutex),
	}
}

// resolve maps a partition name to its directory, rejecting anything
// outside the fixed layout.
func (s *Store) resolve(partition string) (string, error) {
	switch partition {
	case "core", "runtime", "shared":
		return filepath.Join(s.root, partition), nil
	}
	if name, ok := strings.CutPrefix(partition, "profiles/"); ok {
		if !profileNameRe.MatchString(name) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
		}
		return filepath.Join(s.root, "profiles", name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPartition, partition)
}

func validFilename(filename string) error {
	if filename == "" || strings.ContainsAny(filename, "/\\") || !strings.HasSuffix(filename, ".jsonl") {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}

// fileLock returns the mutex serialising appends to one file.
func (s *Store) fileLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// SetObserver registers the append observer. Call before concurrent use.
func (s *Store) SetObserver(obs Observer) {
	s.observer = obs
}

// Append validates entry against the partition's record shape, inserts ts
// if absent, and appends one JSON line. Duplicate entries are not
// deduplicated; callers may produce duplicates intentionally.
func (s *Store) Append(partition, filename string, entry map[string]any) error {
	dir, err := s.resolve(partition)
	if err != nil {
		return err
	}
	if err := validFilename(filename); err != nil {
		return err
	}
	if entry == nil {
		return errors.New("nil entry")
	}
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := shapeFor(partition, filename).validate(entry); err != nil {
		return fmt.Errorf("entry rejected for %s/%s: %w", partition, filename, err)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	path := filepath.Join(dir, filename)
	lock := s.fileLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}

	if s.observer != nil {
		s.observer(partition, filename, entry)
	}
	return nil
}

// ListEntries returns the file's entries in write order. A missing file
// yields an empty slice.
func (s *Store) ListEntries(partition, filename string) ([]map[string]any, error) {
	dir, err := s.resolve(partition)
	if err != nil {
		return nil, err
	}
	if err := validFilename(filename); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, filename)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []map[string]any{}, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var entries []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			s.log.Warn("skipping malformed memory line",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan %s: %w", path, err)
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	return entries, nil
}

// Purge removes a profile's directory tree. core and the default
// administrative profile refuse with ErrProtectedPartition.
func (s *Store) Purge(profile string) error {
	if profile == "core" || profile == s.defaultProfile ||
		profile == "profiles/"+s.defaultProfile {
		return fmt.Errorf("purge %s: %w", profile, ErrProtectedPartition)
	}
	partition := profile
	if !strings.HasPrefix(partition, "profiles/") {
		partition = "profiles/" + profile
	}
	dir, err := s.resolve(partition)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge %s: %w", partition, err)
	}
	s.log.Info("memory partition purged", zap.String("partition", partition))
	return nil
}

// Export concatenates all of a profile's JSONL files, sorted by name, into
// one JSONL file at destPath.
func (s *Store) Export(profile, destPath string) error {
	partition := profile
	if !strings.HasPrefix(partition, "profiles/") && partition != "core" &&
		partition != "runtime" && partition != "shared" {
		partition = "profiles/" + profile
	}
	dir, err := s.resolve(partition)
	if err != nil {
		return err
	}

	names, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(names)

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	for _, name := range names {
		in, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		if _, err := io.Copy(w, in); err != nil {
			in.Close()
			return fmt.Errorf("copy %s: %w", name, err)
		}
		in.Close()
	}
	return w.Flush()
}

// Partitions returns the fixed partitions plus discovered profiles.
func (s *Store) Partitions() ([]string, error) {
	parts := []string{"core", "runtime", "shared"}
	profilesDir := filepath.Join(s.root, "profiles")
	dirents, err := os.ReadDir(profilesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return parts, nil
		}
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	for _, d := range dirents {
		if d.IsDir() {
			parts = append(parts, "profiles/"+d.Name())
		}
	}
	return parts, nil
}

// Files lists the JSONL file names in a partition.
func (s *Store) Files(partition string) ([]string, error) {
	dir, err := s.resolve(partition)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}
