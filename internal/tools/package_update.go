package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PackageUpdate upgrades system packages through apt or dnf. Without
// explicit confirmation it only reports the commands it would run;
// package state is the hardest change on this host to unwind.
type PackageUpdate struct {
	timeout time.Duration
	log     *zap.Logger

	run      func(ctx context.Context, name string, args ...string) (string, error)
	lookPath func(name string) (string, error)
}

// NewPackageUpdate builds the tool, detecting the package manager at
// call time.
func NewPackageUpdate(log *zap.Logger) *PackageUpdate {
	if log == nil {
		log = zap.NewNop()
	}
	pu := &PackageUpdate{timeout: 10 * time.Minute, log: log}
	pu.run = func(ctx context.Context, name string, args ...string) (string, error) {
		out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
		return string(out), err
	}
	pu.lookPath = exec.LookPath
	return pu
}

func (pu *PackageUpdate) Name() string      { return "package_update" }
func (pu *PackageUpdate) SideEffects() bool { return true }

// Execute handles inputs: packages ([]string, empty means full
// upgrade), manager ("apt" or "dnf", detected when absent).
func (pu *PackageUpdate) Execute(ctx context.Context, req Request) Response {
	packages := stringSliceInput(req.Inputs, "packages")

	manager := stringInput(req.Inputs, "manager")
	if manager == "" {
		manager = pu.detectManager()
	}

	commands, err := updateCommands(manager, packages)
	if err != nil {
		return failure(req, err.Error())
	}

	var previews []string
	for _, cmd := range commands {
		previews = append(previews, strings.Join(cmd, " "))
	}

	if !req.Apply() {
		return success(req, map[string]any{
			"manager":  manager,
			"packages": packages,
			"commands": previews,
			"applied":  false,
			"note":     "package updates run only with explicit confirmation",
		})
	}

	cctx, cancel := context.WithTimeout(ctx, pu.timeout)
	defer cancel()

	var logs []string
	for _, cmd := range commands {
		out, err := pu.run(cctx, cmd[0], cmd[1:]...)
		logs = append(logs, out)
		if err != nil {
			resp := failure(req, fmt.Sprintf("%s: %v", strings.Join(cmd, " "), err))
			resp.Outputs = map[string]any{"logs": logs}
			resp.Audit = map[string]any{"manager": manager, "packages": packages}
			return resp
		}
	}

	pu.log.Info("packages updated",
		zap.String("manager", manager),
		zap.Strings("packages", packages),
	)
	resp := success(req, map[string]any{
		"manager":  manager,
		"packages": packages,
		"commands": previews,
		"applied":  true,
	})
	resp.Audit = map[string]any{"manager": manager, "packages": packages}
	return resp
}

func (pu *PackageUpdate) detectManager() string {
	if _, err := pu.lookPath("apt-get"); err == nil {
		return "apt"
	}
	if _, err := pu.lookPath("dnf"); err == nil {
		return "dnf"
	}
	return ""
}

// updateCommands builds the command sequence for the manager. Empty
// package list means upgrade everything.
func updateCommands(manager string, packages []string) ([][]string, error) {
	switch manager {
	case "apt":
		cmds := [][]string{{"apt-get", "update"}}
		if len(packages) == 0 {
			cmds = append(cmds, []string{"apt-get", "upgrade", "-y"})
		} else {
			install := append([]string{"apt-get", "install", "--only-upgrade", "-y"}, packages...)
			cmds = append(cmds, install)
		}
		return cmds, nil
	case "dnf":
		upgrade := []string{"dnf", "upgrade", "-y"}
		upgrade = append(upgrade, packages...)
		return [][]string{upgrade}, nil
	case "":
		return nil, fmt.Errorf("no supported package manager found (apt-get or dnf)")
	default:
		return nil, fmt.Errorf("unsupported package manager: %s", manager)
	}
}
