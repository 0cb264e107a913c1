package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubbedHealthCheck() *HealthCheck {
	hc := NewHealthCheck([]string{"/"}, nil)
	hc.cpuPercent = func(context.Context) (float64, error) { return 12.5, nil }
	hc.virtualMemory = func(context.Context) (float64, float64, error) { return 41.0, 9500, nil }
	hc.diskUsage = func(context.Context, string) (float64, float64, error) { return 55.0, 120, nil }
	hc.temperatures = func(context.Context) (map[string]float64, error) {
		return map[string]float64{"coretemp_core_0": 52.0}, nil
	}
	return hc
}

func TestHealthCheckGatherState(t *testing.T) {
	hc := stubbedHealthCheck()

	state := hc.GatherState(context.Background())
	assert.Equal(t, 12.5, state["cpu_percent"])
	assert.Equal(t, 41.0, state["memory_used_percent"])
	assert.NotEmpty(t, state["sampled_at"])

	disks := state["disks"].(map[string]any)
	root := disks["/"].(map[string]any)
	assert.Equal(t, 55.0, root["used_percent"])
}

func TestHealthCheckProbeFailureDoesNotAbort(t *testing.T) {
	hc := stubbedHealthCheck()
	hc.cpuPercent = func(context.Context) (float64, error) { return 0, errors.New("no procfs") }

	state := hc.GatherState(context.Background())
	assert.Equal(t, "no procfs", state["cpu_error"])
	assert.Equal(t, 41.0, state["memory_used_percent"], "other probes still sample")
}

func TestHealthCheckHealthyVerdict(t *testing.T) {
	hc := stubbedHealthCheck()

	out, err := hc.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "healthy", out["status"])
	assert.Empty(t, out["issues"])
}

func TestHealthCheckDegradedVerdict(t *testing.T) {
	hc := stubbedHealthCheck()
	hc.cpuPercent = func(context.Context) (float64, error) { return 97.2, nil }
	hc.temperatures = func(context.Context) (map[string]float64, error) {
		return map[string]float64{"coretemp_core_0": 91.0}, nil
	}

	out, err := hc.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "degraded", out["status"])
	issues := out["issues"].([]string)
	assert.Len(t, issues, 2)
}

func TestLogCleanupDryRunKeepsFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(old, []byte("aged"), 0o644))
	require.NoError(t, os.Chtimes(old, time.Now(), time.Now().Add(-30*24*time.Hour)))

	lc := NewLogCleanup(dir, 14*24*time.Hour, nil)
	out, err := lc.Execute(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 0, out["deleted"])
	assert.Equal(t, []string{old}, out["candidates"])
	_, statErr := os.Stat(old)
	assert.NoError(t, statErr, "dry run must not delete")
}

func TestLogCleanupAppliesDeletion(t *testing.T) {
	dir := t.TempDir()

	aged := filepath.Join(dir, "audit-2026-01-01.jsonl")
	require.NoError(t, os.WriteFile(aged, []byte("old entry"), 0o644))
	require.NoError(t, os.Chtimes(aged, time.Now(), time.Now().Add(-60*24*time.Hour)))

	fresh := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(fresh, []byte("current"), 0o644))

	skipped := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(skipped, []byte("keep"), 0o644))
	require.NoError(t, os.Chtimes(skipped, time.Now(), time.Now().Add(-60*24*time.Hour)))

	lc := NewLogCleanup(dir, 14*24*time.Hour, nil)
	out, err := lc.Execute(context.Background(), map[string]any{"apply": true})
	require.NoError(t, err)

	assert.Equal(t, 1, out["deleted"])
	_, err = os.Stat(aged)
	assert.True(t, os.IsNotExist(err), "aged log should be gone")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh log stays")
	_, err = os.Stat(skipped)
	assert.NoError(t, err, "non-log file stays regardless of age")
}

func TestLogCleanupGatherState(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), make([]byte, 2048), 0o644))

	lc := NewLogCleanup(dir, 14*24*time.Hour, nil)
	state := lc.GatherState(context.Background())

	assert.Equal(t, 1, state["file_count"])
	assert.Equal(t, dir, state["dir"])
	assert.Empty(t, state["aged_files"])
}

func TestDiskReportFlagsFullMounts(t *testing.T) {
	dr := NewDiskReport(nil)
	dr.partitions = func(context.Context) ([]string, error) {
		return []string{"/", "/data"}, nil
	}
	dr.usage = func(_ context.Context, path string) (float64, float64, float64, error) {
		if path == "/data" {
			return 93.0, 930, 1000, nil
		}
		return 40.0, 40, 100, nil
	}

	out, err := dr.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data"}, out["flagged"])

	mounts := out["mounts"].(map[string]any)
	data := mounts["/data"].(map[string]any)
	assert.Equal(t, 93.0, data["used_percent"])
}

func TestDiskReportUsageErrorPerMount(t *testing.T) {
	dr := NewDiskReport(nil)
	dr.partitions = func(context.Context) ([]string, error) {
		return []string{"/", "/mnt/usb"}, nil
	}
	dr.usage = func(_ context.Context, path string) (float64, float64, float64, error) {
		if path == "/mnt/usb" {
			return 0, 0, 0, errors.New("device gone")
		}
		return 40.0, 40, 100, nil
	}

	out, err := dr.Execute(context.Background(), nil)
	require.NoError(t, err)

	mounts := out["mounts"].(map[string]any)
	usb := mounts["/mnt/usb"].(map[string]any)
	assert.Equal(t, "device gone", usb["error"])
}

func TestRegistryRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Register(stubbedHealthCheck())
	r.Register(NewDiskReport(nil))

	got, ok := r.Get("health_check")
	require.True(t, ok)
	assert.Equal(t, "health_check", got.Name())

	_, ok = r.Get("no_such_task")
	assert.False(t, ok)

	assert.Equal(t, []string{"disk_report", "health_check"}, r.Names())
}

func TestEstimatesUseBudgetKeys(t *testing.T) {
	for _, tk := range []Task{stubbedHealthCheck(), NewLogCleanup(t.TempDir(), 0, nil), NewDiskReport(nil)} {
		est := tk.EstimateResources()
		require.NotEmpty(t, est, tk.Name())
		assert.Contains(t, est, "cpu_percent", tk.Name())
	}
}
