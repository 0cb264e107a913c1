package tools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultAllowedCommands is the conservative out-of-the-box allow list
// for run_command: read-mostly diagnostics plus the maintenance binaries
// the builtin tasks lean on.
var DefaultAllowedCommands = []string{
	"ls", "df", "du", "free", "uptime",
	"journalctl", "logrotate", "rsync", "sensors",
}

// RunCommand executes a binary from a fixed allow list. Anything not on
// the list is refused before exec, regardless of confirm flags.
type RunCommand struct {
	allowed map[string]bool
	timeout time.Duration
	log     *zap.Logger

	// run is swappable for tests; the default executes for real.
	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewRunCommand builds the tool with the given allow list. A nil list
// means DefaultAllowedCommands.
func NewRunCommand(allowed []string, log *zap.Logger) *RunCommand {
	if allowed == nil {
		allowed = DefaultAllowedCommands
	}
	if log == nil {
		log = zap.NewNop()
	}
	set := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		set[name] = true
	}
	rc := &RunCommand{allowed: set, timeout: 60 * time.Second, log: log}
	rc.run = func(ctx context.Context, name string, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		return string(out), err
	}
	return rc
}

func (rc *RunCommand) Name() string      { return "run_command" }
func (rc *RunCommand) SideEffects() bool { return true }

// Execute handles inputs: command (required), args ([]string).
func (rc *RunCommand) Execute(ctx context.Context, req Request) Response {
	command := stringInput(req.Inputs, "command")
	if command == "" {
		return failure(req, "missing input: command")
	}
	args := stringSliceInput(req.Inputs, "args")

	base := filepath.Base(command)
	if !rc.allowed[base] {
		return failure(req, fmt.Sprintf("command not allowed: %s", base))
	}

	preview := strings.TrimSpace(command + " " + strings.Join(args, " "))
	if !req.Apply() {
		return success(req, map[string]any{
			"command": preview,
			"applied": false,
		})
	}

	cctx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	out, err := rc.run(cctx, command, args...)
	if err != nil {
		resp := failure(req, fmt.Sprintf("%s: %v", preview, err))
		resp.Outputs = map[string]any{"output": out}
		return resp
	}

	rc.log.Info("command executed", zap.String("command", preview))
	resp := success(req, map[string]any{
		"command": preview,
		"output":  out,
		"applied": true,
	})
	resp.Audit = map[string]any{"command": preview}
	return resp
}
