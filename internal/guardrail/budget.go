package guardrail

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Budget caps the resources one job may consume.
type Budget struct {
	// MaxCPUPercent caps process CPU usage.
	MaxCPUPercent float64

	// MaxMemoryMB caps resident memory.
	MaxMemoryMB float64

	// MaxDurationMinutes caps wall-clock execution time.
	MaxDurationMinutes float64

	// MaxPerHour caps how often a task may run.
	MaxPerHour float64
}

// DefaultBudget is the conservative cap set applied when a task declares
// no estimate of its own.
func DefaultBudget() Budget {
	return Budget{
		MaxCPUPercent:      50,
		MaxMemoryMB:        512,
		MaxDurationMinutes: 10,
		MaxPerHour:         12,
	}
}

// Estimate keys recognised by CheckBudget.
const (
	EstimateCPUPercent      = "cpu_percent"
	EstimateMemoryMB        = "memory_mb"
	EstimateDurationMinutes = "duration_minutes"
	EstimateFrequencyHour   = "frequency_per_hour"
)

// Snapshot is one budget sample taken during execution.
type Snapshot struct {
	Timestamp      time.Time `json:"ts"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryMB       float64   `json:"memory_mb"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	WithinBudgets  bool      `json:"within_budgets"`
}

// Usage is the cumulative result returned by Tracker.Stop.
type Usage struct {
	PeakCPUPercent float64
	PeakMemoryMB   float64
	ElapsedSeconds float64
	Samples        int
	WithinBudgets  bool
}

// checkEstimate compares an estimated-resources map against the caps and
// returns every violation.
func checkEstimate(caps Budget, estimate map[string]float64) []string {
	var violations []string
	if v, ok := estimate[EstimateCPUPercent]; ok && caps.MaxCPUPercent > 0 && v > caps.MaxCPUPercent {
		violations = append(violations, fmt.Sprintf("cpu %.1f%% exceeds cap %.1f%%", v, caps.MaxCPUPercent))
	}
	if v, ok := estimate[EstimateMemoryMB]; ok && caps.MaxMemoryMB > 0 && v > caps.MaxMemoryMB {
		violations = append(violations, fmt.Sprintf("memory %.1fMB exceeds cap %.1fMB", v, caps.MaxMemoryMB))
	}
	if v, ok := estimate[EstimateDurationMinutes]; ok && caps.MaxDurationMinutes > 0 && v > caps.MaxDurationMinutes {
		violations = append(violations, fmt.Sprintf("duration %.1fmin exceeds cap %.1fmin", v, caps.MaxDurationMinutes))
	}
	if v, ok := estimate[EstimateFrequencyHour]; ok && caps.MaxPerHour > 0 && v > caps.MaxPerHour {
		violations = append(violations, fmt.Sprintf("frequency %.1f/h exceeds cap %.1f/h", v, caps.MaxPerHour))
	}
	return violations
}

// sampleFunc reads the process's current CPU percent and resident memory.
// Swappable for tests.
type sampleFunc func() (cpuPercent, memMB float64, err error)

// processSampler samples the running process via gopsutil.
func processSampler() (sampleFunc, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process for sampling: %w", err)
	}
	return func() (float64, float64, error) {
		cpu, err := proc.CPUPercent()
		if err != nil {
			return 0, 0, fmt.Errorf("sample cpu: %w", err)
		}
		mi, err := proc.MemoryInfo()
		if err != nil {
			return 0, 0, fmt.Errorf("sample memory: %w", err)
		}
		return cpu, float64(mi.RSS) / (1024 * 1024), nil
	}, nil
}

// Tracker samples process resource usage across one job execution.
// Start takes a baseline, Check enforces the caps on demand, Stop
// returns cumulative usage.
type Tracker struct {
	caps   Budget
	sample sampleFunc

	mu        sync.Mutex
	startedAt time.Time
	stopped   bool
	peakCPU   float64
	peakMemMB float64
	samples   int
	within    bool
}

// NewTracker builds a tracker over the process sampler.
func NewTracker(caps Budget) (*Tracker, error) {
	sampler, err := processSampler()
	if err != nil {
		return nil, err
	}
	return newTrackerWithSampler(caps, sampler), nil
}

func newTrackerWithSampler(caps Budget, sample sampleFunc) *Tracker {
	return &Tracker{caps: caps, sample: sample, within: true}
}

// Start records the baseline sample.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Now()
	// Prime the CPU delta; the first gopsutil reading is since process start.
	_, _, err := t.sample()
	return err
}

// Check takes a snapshot and returns a BudgetExceededError when any cap
// is breached.
func (t *Tracker) Check() (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cpu, memMB, err := t.sample()
	if err != nil {
		return Snapshot{}, err
	}
	elapsed := time.Since(t.startedAt).Seconds()

	var violations []string
	if t.caps.MaxCPUPercent > 0 && cpu > t.caps.MaxCPUPercent {
		violations = append(violations, fmt.Sprintf("cpu %.1f%% exceeds cap %.1f%%", cpu, t.caps.MaxCPUPercent))
	}
	if t.caps.MaxMemoryMB > 0 && memMB > t.caps.MaxMemoryMB {
		violations = append(violations, fmt.Sprintf("memory %.1fMB exceeds cap %.1fMB", memMB, t.caps.MaxMemoryMB))
	}
	if t.caps.MaxDurationMinutes > 0 && elapsed > t.caps.MaxDurationMinutes*60 {
		violations = append(violations, fmt.Sprintf("duration %.1fs exceeds cap %.1fmin", elapsed, t.caps.MaxDurationMinutes))
	}

	t.samples++
	if cpu > t.peakCPU {
		t.peakCPU = cpu
	}
	if memMB > t.peakMemMB {
		t.peakMemMB = memMB
	}

	snap := Snapshot{
		Timestamp:      time.Now().UTC(),
		CPUPercent:     cpu,
		MemoryMB:       memMB,
		ElapsedSeconds: elapsed,
		WithinBudgets:  len(violations) == 0,
	}
	if len(violations) > 0 {
		t.within = false
		return snap, &BudgetExceededError{Violations: violations}
	}
	return snap, nil
}

// Stop finalises the tracker and returns cumulative usage with a
// within-budgets flag covering every sample taken.
func (t *Tracker) Stop() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return Usage{
		PeakCPUPercent: t.peakCPU,
		PeakMemoryMB:   t.peakMemMB,
		ElapsedSeconds: time.Since(t.startedAt).Seconds(),
		Samples:        t.samples,
		WithinBudgets:  t.within,
	}
}
