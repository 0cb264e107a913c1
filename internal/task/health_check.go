package task

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/guardrail"
)

// Degradation thresholds for the health verdict.
const (
	cpuDegraded  = 90.0
	memDegraded  = 90.0
	diskDegraded = 90.0
	tempDegraded = 85.0
)

// HealthCheck samples host vitals and reports whether anything needs
// attention. The probe functions are swappable for tests.
type HealthCheck struct {
	diskPaths []string
	log       *zap.Logger

	cpuPercent    func(ctx context.Context) (float64, error)
	virtualMemory func(ctx context.Context) (usedPercent, availableMB float64, err error)
	diskUsage     func(ctx context.Context, path string) (usedPercent, freeGB float64, err error)
	temperatures  func(ctx context.Context) (map[string]float64, error)
}

// NewHealthCheck builds the task. Empty diskPaths means "/".
func NewHealthCheck(diskPaths []string, log *zap.Logger) *HealthCheck {
	if len(diskPaths) == 0 {
		diskPaths = []string{"/"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	hc := &HealthCheck{diskPaths: diskPaths, log: log}

	hc.cpuPercent = func(ctx context.Context) (float64, error) {
		percents, err := cpu.PercentWithContext(ctx, 500*time.Millisecond, false)
		if err != nil || len(percents) == 0 {
			return 0, err
		}
		return percents[0], nil
	}
	hc.virtualMemory = func(ctx context.Context) (float64, float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, 0, err
		}
		return vm.UsedPercent, float64(vm.Available) / 1024 / 1024, nil
	}
	hc.diskUsage = func(ctx context.Context, path string) (float64, float64, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, 0, err
		}
		return usage.UsedPercent, float64(usage.Free) / 1024 / 1024 / 1024, nil
	}
	hc.temperatures = func(ctx context.Context) (map[string]float64, error) {
		stats, err := sensors.TemperaturesWithContext(ctx)
		if err != nil {
			return nil, err
		}
		temps := make(map[string]float64, len(stats))
		for _, s := range stats {
			temps[s.SensorKey] = s.Temperature
		}
		return temps, nil
	}
	return hc
}

func (hc *HealthCheck) Name() string { return "health_check" }

func (hc *HealthCheck) Describe() string {
	return "Sample host health (CPU load, memory pressure, disk usage, temperatures) and decide whether any maintenance action is needed."
}

func (hc *HealthCheck) EstimateResources() map[string]float64 {
	return map[string]float64{
		guardrail.EstimateCPUPercent:      5,
		guardrail.EstimateMemoryMB:        64,
		guardrail.EstimateDurationMinutes: 1,
	}
}

// GatherState samples every probe; a failing probe contributes an error
// key instead of aborting the snapshot.
func (hc *HealthCheck) GatherState(ctx context.Context) map[string]any {
	state := map[string]any{"sampled_at": time.Now().UTC().Format(time.RFC3339)}

	if pct, err := hc.cpuPercent(ctx); err != nil {
		state["cpu_error"] = err.Error()
	} else {
		state["cpu_percent"] = round1(pct)
	}

	if usedPct, availMB, err := hc.virtualMemory(ctx); err != nil {
		state["memory_error"] = err.Error()
	} else {
		state["memory_used_percent"] = round1(usedPct)
		state["memory_available_mb"] = round1(availMB)
	}

	disks := make(map[string]any, len(hc.diskPaths))
	for _, path := range hc.diskPaths {
		usedPct, freeGB, err := hc.diskUsage(ctx, path)
		if err != nil {
			disks[path] = map[string]any{"error": err.Error()}
			continue
		}
		disks[path] = map[string]any{
			"used_percent": round1(usedPct),
			"free_gb":      round1(freeGB),
		}
	}
	state["disks"] = disks

	// Not every host exposes thermal sensors; absence is not degradation.
	if temps, err := hc.temperatures(ctx); err == nil && len(temps) > 0 {
		state["temperatures_c"] = temps
	}

	return state
}

// Execute re-samples and folds the snapshot into a verdict with the
// list of observed issues.
func (hc *HealthCheck) Execute(ctx context.Context, _ map[string]any) (map[string]any, error) {
	state := hc.GatherState(ctx)

	var issues []string
	if pct, ok := state["cpu_percent"].(float64); ok && pct >= cpuDegraded {
		issues = append(issues, fmt.Sprintf("cpu at %.1f%%", pct))
	}
	if pct, ok := state["memory_used_percent"].(float64); ok && pct >= memDegraded {
		issues = append(issues, fmt.Sprintf("memory at %.1f%%", pct))
	}
	if disks, ok := state["disks"].(map[string]any); ok {
		for path, v := range disks {
			usage, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if pct, ok := usage["used_percent"].(float64); ok && pct >= diskDegraded {
				issues = append(issues, fmt.Sprintf("disk %s at %.1f%%", path, pct))
			}
		}
	}
	if temps, ok := state["temperatures_c"].(map[string]float64); ok {
		for sensor, temp := range temps {
			if temp >= tempDegraded {
				issues = append(issues, fmt.Sprintf("%s at %.1fC", sensor, temp))
			}
		}
	}

	status := "healthy"
	if len(issues) > 0 {
		status = "degraded"
		hc.log.Warn("health degraded", zap.Strings("issues", issues))
	}

	return map[string]any{
		"status": status,
		"issues": issues,
		"state":  state,
	}, nil
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
