package task

import (
	"context"
	"fmt"
	"sort"

	"github.com/shirou/gopsutil/v4/disk"
	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/guardrail"
)

// diskWarn is the used-percent level that flags a mount in the report.
const diskWarn = 80.0

// DiskReport summarises mounted filesystem usage and flags mounts
// running short on space. Pseudo filesystems are excluded.
type DiskReport struct {
	log *zap.Logger

	partitions func(ctx context.Context) ([]string, error)
	usage      func(ctx context.Context, path string) (usedPercent, usedGB, totalGB float64, err error)
}

// NewDiskReport builds the task over the host's real mounts.
func NewDiskReport(log *zap.Logger) *DiskReport {
	if log == nil {
		log = zap.NewNop()
	}
	dr := &DiskReport{log: log}

	dr.partitions = func(ctx context.Context) ([]string, error) {
		parts, err := disk.PartitionsWithContext(ctx, false)
		if err != nil {
			return nil, err
		}
		mounts := make([]string, 0, len(parts))
		for _, p := range parts {
			mounts = append(mounts, p.Mountpoint)
		}
		return mounts, nil
	}
	dr.usage = func(ctx context.Context, path string) (float64, float64, float64, error) {
		u, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return 0, 0, 0, err
		}
		return u.UsedPercent, float64(u.Used) / 1024 / 1024 / 1024, float64(u.Total) / 1024 / 1024 / 1024, nil
	}
	return dr
}

func (dr *DiskReport) Name() string { return "disk_report" }

func (dr *DiskReport) Describe() string {
	return "Report per-mount disk usage and flag filesystems running short on space."
}

func (dr *DiskReport) EstimateResources() map[string]float64 {
	return map[string]float64{
		guardrail.EstimateCPUPercent:      5,
		guardrail.EstimateMemoryMB:        32,
		guardrail.EstimateDurationMinutes: 1,
	}
}

func (dr *DiskReport) GatherState(ctx context.Context) map[string]any {
	report, err := dr.report(ctx)
	if err != nil {
		return map[string]any{"scan_error": err.Error()}
	}
	return report
}

func (dr *DiskReport) Execute(ctx context.Context, _ map[string]any) (map[string]any, error) {
	report, err := dr.report(ctx)
	if err != nil {
		return nil, fmt.Errorf("disk report: %w", err)
	}
	if flagged, ok := report["flagged"].([]string); ok && len(flagged) > 0 {
		dr.log.Warn("mounts running short on space", zap.Strings("mounts", flagged))
	}
	return report, nil
}

func (dr *DiskReport) report(ctx context.Context) (map[string]any, error) {
	mounts, err := dr.partitions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(mounts)

	perMount := make(map[string]any, len(mounts))
	var flagged []string
	for _, mount := range mounts {
		usedPct, usedGB, totalGB, err := dr.usage(ctx, mount)
		if err != nil {
			perMount[mount] = map[string]any{"error": err.Error()}
			continue
		}
		perMount[mount] = map[string]any{
			"used_percent": round1(usedPct),
			"used_gb":      round1(usedGB),
			"total_gb":     round1(totalGB),
		}
		if usedPct >= diskWarn {
			flagged = append(flagged, mount)
		}
	}

	return map[string]any{
		"mounts":  perMount,
		"flagged": flagged,
	}, nil
}
