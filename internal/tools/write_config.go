package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// WriteConfig writes files under the daemon's config directory. Writes
// anywhere else are refused before anything touches disk. An existing
// target is copied to a .bak sibling before overwrite; the rollback
// input restores from the .bak and keeps it, so rollback can run again.
type WriteConfig struct {
	dir string
	log *zap.Logger
}

// NewWriteConfig confines writes to configDir.
func NewWriteConfig(configDir string, log *zap.Logger) *WriteConfig {
	if log == nil {
		log = zap.NewNop()
	}
	return &WriteConfig{dir: filepath.Clean(configDir), log: log}
}

func (w *WriteConfig) Name() string      { return "write_config" }
func (w *WriteConfig) SideEffects() bool { return true }

// Execute handles inputs: path (required), content, rollback (bool).
func (w *WriteConfig) Execute(_ context.Context, req Request) Response {
	path := stringInput(req.Inputs, "path")
	if path == "" {
		return failure(req, "missing input: path")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return failure(req, fmt.Sprintf("resolve path: %v", err))
	}
	rel, err := filepath.Rel(w.dir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return failure(req, fmt.Sprintf("path not allowed: %s", path))
	}

	if boolInput(req.Inputs, "rollback") {
		return w.rollback(req, abs)
	}

	content := stringInput(req.Inputs, "content")
	if !req.Apply() {
		return success(req, map[string]any{
			"path":    abs,
			"bytes":   len(content),
			"applied": false,
		})
	}

	backedUp := false
	if _, err := os.Stat(abs); err == nil {
		if err := copyFile(abs, abs+".bak"); err != nil {
			return failure(req, fmt.Sprintf("backup %s: %v", abs, err))
		}
		backedUp = true
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure(req, fmt.Sprintf("create dir: %v", err))
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return failure(req, fmt.Sprintf("write %s: %v", abs, err))
	}

	w.log.Info("config written", zap.String("path", abs), zap.Bool("backup", backedUp))
	resp := success(req, map[string]any{
		"path":    abs,
		"bytes":   len(content),
		"backup":  backedUp,
		"applied": true,
	})
	resp.Audit = map[string]any{"path": abs, "backup": backedUp}
	return resp
}

// rollback restores the target from its .bak sibling. The backup file
// stays in place afterwards so a later rollback still has a source.
func (w *WriteConfig) rollback(req Request, abs string) Response {
	bak := abs + ".bak"
	data, err := os.ReadFile(bak)
	if err != nil {
		return failure(req, fmt.Sprintf("no backup to restore for %s", abs))
	}

	if !req.Apply() {
		return success(req, map[string]any{
			"path":    abs,
			"backup":  bak,
			"applied": false,
		})
	}

	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return failure(req, fmt.Sprintf("restore %s: %v", abs, err))
	}

	w.log.Info("config rolled back", zap.String("path", abs), zap.String("backup", bak))
	resp := success(req, map[string]any{
		"path":     abs,
		"backup":   bak,
		"restored": true,
		"applied":  true,
	})
	resp.Audit = map[string]any{"path": abs, "rollback": true}
	return resp
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
