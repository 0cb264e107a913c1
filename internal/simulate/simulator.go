package simulate

// Package simulate predicts the effects of side-effecting actions
// without performing them. The approval protocol embeds the prediction
// in the request so a human decides on evidence, not intent.
//
// Purity contract: Simulate never mutates tracked resources. The only
// external interaction is invoking a binary's own dry-run flag under a
// short timeout, which is the binary's documented no-op mode.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

// commandTimeout bounds a dry-run capable binary's preview invocation.
const commandTimeout = 5 * time.Second

// dryRunFlags maps binaries to their no-op preview flag.
var dryRunFlags = map[string]string{
	"rsync":     "--dry-run",
	"apt-get":   "--simulate",
	"apt":       "--simulate",
	"dnf":       "--assumeno",
	"systemctl": "--dry-run",
	"make":      "--dry-run",
	"logrotate": "--debug",
}

// dangerPatterns flag substrings that have destroyed machines before.
var dangerPatterns = []struct {
	substr  string
	warning string
}{
	{"rm -rf /", "unbounded recursive delete from filesystem root"},
	{"rm -rf /*", "unbounded recursive delete from filesystem root"},
	{"dd if=", "raw block-device write"},
	{"of=/dev/", "raw block-device write"},
	{"mkfs", "filesystem creation destroys existing data"},
	{":(){ :|:& };:", "fork bomb"},
	{"> /dev/sd", "raw block-device write"},
}

// Simulator produces dry-run previews.
type Simulator struct {
	log *zap.Logger

	// runCommand is swappable for tests; the default executes the
	// binary's own dry-run flag.
	runCommand func(ctx context.Context, name string, args ...string) (string, error)
}

// New creates a simulator.
func New(log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Simulator{log: log}
	s.runCommand = func(ctx context.Context, name string, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		return string(out), err
	}
	return s
}

// Simulate routes the action to its strategy.
func (s *Simulator) Simulate(ctx context.Context, action Action) (*Result, error) {
	switch action.Kind {
	case ActionFileWrite:
		return s.simulateFileWrite(action)
	case ActionCommand:
		return s.simulateCommand(ctx, action)
	case ActionServiceRestart:
		return s.simulateServiceRestart(action)
	case ActionHardwareControl:
		return s.simulateHardwareControl(action)
	case ActionPackageUpdate:
		return s.simulatePackageUpdate(action)
	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func newResult(action string) *Result {
	return &Result{
		ID:        uuid.NewString(),
		Action:    action,
		CreatedAt: time.Now().UTC(),
	}
}

// simulateFileWrite diffs the proposed content against what is on disk.
func (s *Simulator) simulateFileWrite(action Action) (*Result, error) {
	if action.Path == "" {
		return nil, fmt.Errorf("file write simulation requires a path")
	}

	res := newResult("write " + action.Path)
	res.AffectedFiles = []string{action.Path}
	res.Reversible = true
	res.EstimatedDuration = time.Second

	current, err := os.ReadFile(action.Path)
	switch {
	case os.IsNotExist(err):
		res.Changes = []Change{{
			Type:        ChangeFileCreate,
			Target:      action.Path,
			After:       string(action.Content),
			Description: fmt.Sprintf("new file, %d bytes", len(action.Content)),
		}}
		res.RollbackStrategy = "delete file"
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("read current %s: %w", action.Path, err)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(action.Content)),
		FromFile: action.Path,
		ToFile:   action.Path + " (proposed)",
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", action.Path, err)
	}
	if diff == "" {
		res.Warnings = append(res.Warnings, "proposed content is identical to current file")
	}

	res.Changes = []Change{{
		Type:        ChangeFileModify,
		Target:      action.Path,
		Diff:        diff,
		Description: fmt.Sprintf("%d bytes -> %d bytes", len(current), len(action.Content)),
	}}
	res.RollbackStrategy = "restore from backup"
	return res, nil
}

// simulateCommand previews a command, using the binary's own dry-run
// flag when one is known.
func (s *Simulator) simulateCommand(ctx context.Context, action Action) (*Result, error) {
	if action.Command == "" {
		return nil, fmt.Errorf("command simulation requires a command")
	}

	full := action.Command
	if len(action.Args) > 0 {
		full += " " + strings.Join(action.Args, " ")
	}

	res := newResult("run " + full)
	res.Commands = []string{full}
	res.Reversible = false
	res.RollbackStrategy = "command effects are not automatically reversible"
	res.EstimatedDuration = 5 * time.Second

	for _, p := range dangerPatterns {
		if strings.Contains(full, p.substr) {
			res.Warnings = append(res.Warnings, "dangerous pattern: "+p.warning)
		}
	}

	change := Change{Type: ChangeCommand, Target: action.Command}

	if flag, ok := dryRunFlags[action.Command]; ok {
		cctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()

		args := append(append([]string{}, action.Args...), flag)
		out, err := s.runCommand(cctx, action.Command, args...)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("dry-run invocation failed: %v", err))
		}
		change.Description = "output of " + action.Command + " " + flag
		change.After = truncate(out, 8192)
	} else {
		res.Warnings = append(res.Warnings, "dry-run not supported for "+action.Command)
		change.Description = "command preview only; binary has no dry-run flag"
		change.After = full
	}

	res.Changes = []Change{change}
	return res, nil
}

// simulateServiceRestart synthesizes the ordered restart steps.
func (s *Simulator) simulateServiceRestart(action Action) (*Result, error) {
	if action.Service == "" {
		return nil, fmt.Errorf("service restart simulation requires a service name")
	}

	res := newResult("restart " + action.Service)
	res.AffectedServices = []string{action.Service}
	res.Reversible = true
	res.RollbackStrategy = "start " + action.Service + " if restart leaves it stopped"
	res.EstimatedDuration = 15 * time.Second

	steps := []struct {
		desc string
		eta  time.Duration
	}{
		{"stop " + action.Service, 5 * time.Second},
		{"wait for clean shutdown", 2 * time.Second},
		{"start " + action.Service, 5 * time.Second},
		{"wait until healthy", 3 * time.Second},
	}
	for i, step := range steps {
		res.Changes = append(res.Changes, Change{
			Type:        ChangeServiceRestart,
			Target:      action.Service,
			Description: fmt.Sprintf("step %d: %s (~%s)", i+1, step.desc, step.eta),
		})
	}
	res.Commands = []string{"systemctl restart " + action.Service}
	return res, nil
}

// simulateHardwareControl converts a target percent into device-native
// PWM units and warns at the extremes. Extreme values are legal; the
// warning exists because 0 means a stopped fan.
func (s *Simulator) simulateHardwareControl(action Action) (*Result, error) {
	if action.Device == "" {
		return nil, fmt.Errorf("hardware control simulation requires a device path")
	}
	if action.TargetPercent < 0 || action.TargetPercent > 100 {
		return nil, fmt.Errorf("target percent %d out of range [0,100]", action.TargetPercent)
	}

	pwm := action.TargetPercent * 255 / 100

	res := newResult(fmt.Sprintf("set %s to %d%%", action.Device, action.TargetPercent))
	res.Reversible = true
	res.EstimatedDuration = time.Second
	res.AffectedFiles = []string{action.Device}

	before := ""
	if data, err := os.ReadFile(action.Device); err == nil {
		before = strings.TrimSpace(string(data))
	}
	res.RollbackStrategy = "write pre-image value back to " + action.Device
	if before != "" {
		res.RollbackStrategy = fmt.Sprintf("write pre-image value %s back to %s", before, action.Device)
	}

	if pwm == 0 {
		res.Warnings = append(res.Warnings, "PWM 0 stops the fan entirely")
	}
	if pwm >= 255 {
		res.Warnings = append(res.Warnings, "PWM 255 runs the fan at maximum")
	}

	res.Changes = []Change{{
		Type:        ChangeHardwareControl,
		Target:      action.Device,
		Before:      before,
		After:       fmt.Sprint(pwm),
		Description: fmt.Sprintf("%d%% -> PWM %d/255", action.TargetPercent, pwm),
	}}
	return res, nil
}

// simulatePackageUpdate reports the package count and reboot advisory.
func (s *Simulator) simulatePackageUpdate(action Action) (*Result, error) {
	manager := action.Manager
	if manager == "" {
		manager = detectPackageManager()
	}

	res := newResult(fmt.Sprintf("update %d packages via %s", len(action.Packages), manager))
	res.Reversible = false
	res.RollbackStrategy = "package downgrade is complex; pin versions and reinstall previous releases manually"
	res.EstimatedDuration = time.Duration(30+10*len(action.Packages)) * time.Second

	if len(action.Packages) == 0 {
		res.Warnings = append(res.Warnings, "no package list given; a full upgrade would be performed")
	}
	res.Warnings = append(res.Warnings, "a reboot may be required for kernel or libc updates")

	for _, pkg := range action.Packages {
		res.Changes = append(res.Changes, Change{
			Type:        ChangePackageUpdate,
			Target:      pkg,
			Description: "upgrade to latest available version",
		})
	}

	switch manager {
	case "apt":
		res.Commands = []string{"apt-get install --only-upgrade " + strings.Join(action.Packages, " ")}
	case "dnf":
		res.Commands = []string{"dnf upgrade " + strings.Join(action.Packages, " ")}
	}
	return res, nil
}

func detectPackageManager() string {
	if _, err := exec.LookPath("apt-get"); err == nil {
		return "apt"
	}
	if _, err := exec.LookPath("dnf"); err == nil {
		return "dnf"
	}
	return "apt"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
