package simulate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimulateFileWriteNewFile(t *testing.T) {
	s := New(zap.NewNop())
	path := filepath.Join(t.TempDir(), "sshd_config")

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionFileWrite,
		Path:    path,
		Content: []byte("PermitRootLogin no\n"),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.False(t, res.CreatedAt.IsZero())
	assert.True(t, res.Reversible)
	assert.Equal(t, "delete file", res.RollbackStrategy)
	assert.Equal(t, []string{path}, res.AffectedFiles)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeFileCreate, res.Changes[0].Type)
	assert.Equal(t, "PermitRootLogin no\n", res.Changes[0].After)
	assert.Contains(t, res.Changes[0].Description, "new file")

	// Prediction only: nothing lands on disk.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSimulateFileWriteDiffsExistingFile(t *testing.T) {
	s := New(zap.NewNop())
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("nameserver 1.1.1.1\n"), 0o644))

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionFileWrite,
		Path:    path,
		Content: []byte("nameserver 9.9.9.9\n"),
	})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeFileModify, res.Changes[0].Type)
	assert.Contains(t, res.Changes[0].Diff, "-nameserver 1.1.1.1")
	assert.Contains(t, res.Changes[0].Diff, "+nameserver 9.9.9.9")
	assert.Equal(t, "restore from backup", res.RollbackStrategy)
	assert.Empty(t, res.Warnings)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "nameserver 1.1.1.1\n", string(current))
}

func TestSimulateFileWriteWarnsOnIdenticalContent(t *testing.T) {
	s := New(zap.NewNop())
	path := filepath.Join(t.TempDir(), "motd")
	require.NoError(t, os.WriteFile(path, []byte("welcome\n"), 0o644))

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionFileWrite,
		Path:    path,
		Content: []byte("welcome\n"),
	})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "identical")
	assert.Empty(t, res.Changes[0].Diff)
}

func TestSimulateFileWriteRequiresPath(t *testing.T) {
	s := New(zap.NewNop())
	_, err := s.Simulate(context.Background(), Action{Kind: ActionFileWrite})
	assert.Error(t, err)
}

func TestSimulateCommandUsesDryRunFlag(t *testing.T) {
	s := New(zap.NewNop())

	var gotName string
	var gotArgs []string
	s.runCommand = func(_ context.Context, name string, args ...string) (string, error) {
		gotName = name
		gotArgs = args
		return "would send 3 files\n", nil
	}

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionCommand,
		Command: "rsync",
		Args:    []string{"-a", "/src/", "/dst/"},
	})
	require.NoError(t, err)

	assert.Equal(t, "rsync", gotName)
	assert.Equal(t, []string{"-a", "/src/", "/dst/", "--dry-run"}, gotArgs)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeCommand, res.Changes[0].Type)
	assert.Contains(t, res.Changes[0].After, "would send 3 files")
	assert.Equal(t, []string{"rsync -a /src/ /dst/"}, res.Commands)
	assert.False(t, res.Reversible)
	assert.Empty(t, res.Warnings)
}

func TestSimulateCommandWarnsWhenDryRunFails(t *testing.T) {
	s := New(zap.NewNop())
	s.runCommand = func(context.Context, string, ...string) (string, error) {
		return "", fmt.Errorf("exit status 2")
	}

	res, err := s.Simulate(context.Background(), Action{Kind: ActionCommand, Command: "logrotate"})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "dry-run invocation failed")
}

func TestSimulateCommandWithoutDryRunFlagPreviewsOnly(t *testing.T) {
	s := New(zap.NewNop())

	calls := 0
	s.runCommand = func(context.Context, string, ...string) (string, error) {
		calls++
		return "", nil
	}

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionCommand,
		Command: "uptime",
	})
	require.NoError(t, err)

	assert.Zero(t, calls)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "dry-run not supported for uptime")
	assert.Equal(t, "uptime", res.Changes[0].After)
}

func TestSimulateCommandFlagsDangerousPatterns(t *testing.T) {
	s := New(zap.NewNop())
	s.runCommand = func(context.Context, string, ...string) (string, error) { return "", nil }

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionCommand,
		Command: "dd",
		Args:    []string{"if=/dev/zero", "of=/dev/sda"},
	})
	require.NoError(t, err)

	joined := ""
	for _, w := range res.Warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "raw block-device write")
}

func TestSimulateCommandRequiresCommand(t *testing.T) {
	s := New(zap.NewNop())
	_, err := s.Simulate(context.Background(), Action{Kind: ActionCommand})
	assert.Error(t, err)
}

func TestSimulateServiceRestartListsOrderedSteps(t *testing.T) {
	s := New(zap.NewNop())

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionServiceRestart,
		Service: "nginx",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"nginx"}, res.AffectedServices)
	assert.True(t, res.Reversible)
	assert.Equal(t, []string{"systemctl restart nginx"}, res.Commands)

	require.Len(t, res.Changes, 4)
	assert.Contains(t, res.Changes[0].Description, "step 1: stop nginx")
	assert.Contains(t, res.Changes[2].Description, "step 3: start nginx")
	for _, c := range res.Changes {
		assert.Equal(t, ChangeServiceRestart, c.Type)
		assert.Equal(t, "nginx", c.Target)
	}
}

func TestSimulateHardwareControlConvertsPercentToPWM(t *testing.T) {
	s := New(zap.NewNop())
	device := filepath.Join(t.TempDir(), "pwm1")
	require.NoError(t, os.WriteFile(device, []byte("80\n"), 0o644))

	res, err := s.Simulate(context.Background(), Action{
		Kind:          ActionHardwareControl,
		Device:        device,
		TargetPercent: 50,
	})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeHardwareControl, res.Changes[0].Type)
	assert.Equal(t, "80", res.Changes[0].Before)
	assert.Equal(t, "127", res.Changes[0].After)
	assert.Contains(t, res.Changes[0].Description, "50% -> PWM 127/255")
	assert.Contains(t, res.RollbackStrategy, "80")
	assert.Empty(t, res.Warnings)

	// The device file is only read.
	data, err := os.ReadFile(device)
	require.NoError(t, err)
	assert.Equal(t, "80\n", string(data))
}

func TestSimulateHardwareControlWarnsAtExtremes(t *testing.T) {
	s := New(zap.NewNop())
	device := filepath.Join(t.TempDir(), "pwm1")

	res, err := s.Simulate(context.Background(), Action{
		Kind: ActionHardwareControl, Device: device, TargetPercent: 0,
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "stops the fan")

	res, err = s.Simulate(context.Background(), Action{
		Kind: ActionHardwareControl, Device: device, TargetPercent: 100,
	})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "maximum")
}

func TestSimulateHardwareControlValidatesInput(t *testing.T) {
	s := New(zap.NewNop())

	_, err := s.Simulate(context.Background(), Action{Kind: ActionHardwareControl, TargetPercent: 50})
	assert.Error(t, err)

	for _, pct := range []int{-1, 101} {
		_, err := s.Simulate(context.Background(), Action{
			Kind: ActionHardwareControl, Device: "/sys/class/hwmon/hwmon0/pwm1", TargetPercent: pct,
		})
		assert.Error(t, err, "percent %d", pct)
	}
}

func TestSimulatePackageUpdate(t *testing.T) {
	s := New(zap.NewNop())

	res, err := s.Simulate(context.Background(), Action{
		Kind:     ActionPackageUpdate,
		Packages: []string{"openssl", "curl"},
		Manager:  "apt",
	})
	require.NoError(t, err)

	require.Len(t, res.Changes, 2)
	assert.Equal(t, "openssl", res.Changes[0].Target)
	assert.Equal(t, "curl", res.Changes[1].Target)
	assert.Equal(t, []string{"apt-get install --only-upgrade openssl curl"}, res.Commands)
	assert.False(t, res.Reversible)
	assert.Equal(t, time.Duration(30+10*2)*time.Second, res.EstimatedDuration)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "reboot may be required")
}

func TestSimulatePackageUpdateWarnsOnFullUpgrade(t *testing.T) {
	s := New(zap.NewNop())

	res, err := s.Simulate(context.Background(), Action{
		Kind:    ActionPackageUpdate,
		Manager: "dnf",
	})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "full upgrade")
	assert.Empty(t, res.Changes)
}

func TestSimulateRejectsUnknownKind(t *testing.T) {
	s := New(zap.NewNop())
	_, err := s.Simulate(context.Background(), Action{Kind: ActionKind("teleport")})
	assert.ErrorContains(t, err, "unknown action kind")
}
