package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/guardrail"
)

// LogCleanup scans the log directory and deletes files older than the
// retention window. Without inputs.apply=true it only reports what it
// would delete. Rotated artifacts (.log, .log.N, .gz, .jsonl, .old) are
// in scope; anything else is left alone.
type LogCleanup struct {
	dir    string
	maxAge time.Duration
	log    *zap.Logger
}

// NewLogCleanup builds the task over dir with the given retention.
// Non-positive maxAge defaults to 14 days.
func NewLogCleanup(dir string, maxAge time.Duration, log *zap.Logger) *LogCleanup {
	if maxAge <= 0 {
		maxAge = 14 * 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LogCleanup{dir: dir, maxAge: maxAge, log: log}
}

func (lc *LogCleanup) Name() string { return "log_cleanup" }

func (lc *LogCleanup) Describe() string {
	return fmt.Sprintf("Scan %s for log files older than %s and reclaim the space they hold.", lc.dir, lc.maxAge)
}

func (lc *LogCleanup) EstimateResources() map[string]float64 {
	return map[string]float64{
		guardrail.EstimateCPUPercent:      10,
		guardrail.EstimateMemoryMB:        64,
		guardrail.EstimateDurationMinutes: 2,
	}
}

// GatherState reports directory volume and the aged candidates.
func (lc *LogCleanup) GatherState(ctx context.Context) map[string]any {
	totalBytes, fileCount, aged, err := lc.scan(ctx)
	if err != nil {
		return map[string]any{"scan_error": err.Error(), "dir": lc.dir}
	}

	agedNames := make([]string, 0, len(aged))
	var agedBytes int64
	for _, f := range aged {
		agedNames = append(agedNames, f.path)
		agedBytes += f.size
	}

	return map[string]any{
		"dir":           lc.dir,
		"total_size_mb": round1(float64(totalBytes) / 1024 / 1024),
		"file_count":    fileCount,
		"aged_files":    agedNames,
		"aged_size_mb":  round1(float64(agedBytes) / 1024 / 1024),
		"retention":     lc.maxAge.String(),
	}
}

// Execute deletes the aged files when inputs.apply is true; otherwise it
// returns the candidate list unchanged.
func (lc *LogCleanup) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	_, _, aged, err := lc.scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", lc.dir, err)
	}

	apply, _ := inputs["apply"].(bool)
	if !apply {
		names := make([]string, 0, len(aged))
		for _, f := range aged {
			names = append(names, f.path)
		}
		return map[string]any{"deleted": 0, "candidates": names, "applied": false}, nil
	}

	var deleted int
	var reclaimed int64
	var failures []string
	for _, f := range aged {
		if err := os.Remove(f.path); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", f.path, err))
			continue
		}
		deleted++
		reclaimed += f.size
	}

	lc.log.Info("log cleanup finished",
		zap.Int("deleted", deleted),
		zap.Float64("reclaimed_mb", float64(reclaimed)/1024/1024),
		zap.Int("failures", len(failures)),
	)

	out := map[string]any{
		"deleted":      deleted,
		"reclaimed_mb": round1(float64(reclaimed) / 1024 / 1024),
		"applied":      true,
	}
	if len(failures) > 0 {
		out["failures"] = failures
	}
	return out, nil
}

type agedFile struct {
	path string
	size int64
}

func (lc *LogCleanup) scan(ctx context.Context) (totalBytes int64, fileCount int, aged []agedFile, err error) {
	cutoff := time.Now().Add(-lc.maxAge)

	err = filepath.WalkDir(lc.dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !cleanable(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		totalBytes += info.Size()
		fileCount++
		if info.ModTime().Before(cutoff) {
			aged = append(aged, agedFile{path: path, size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}

	sort.Slice(aged, func(i, j int) bool { return aged[i].path < aged[j].path })
	return totalBytes, fileCount, aged, nil
}

func cleanable(name string) bool {
	switch filepath.Ext(name) {
	case ".log", ".gz", ".jsonl", ".old":
		return true
	}
	// rotated suffixes like app.log.1
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.Contains(base, ".log")
}
