package guardrail

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Anomaly types emitted by the detector.
const (
	AnomalyRepeatedFailures  = "repeated_failures"
	AnomalyErrorRateExceeded = "error_rate_exceeded"
	AnomalyCPUSpike          = "cpu_spike"
	AnomalyMemoryLeak        = "memory_leak"
)

// Anomaly severities, ordered from least to most serious.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// AnomalyEvent is one detected deviation from normal behaviour.
type AnomalyEvent struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Severity    string             `json:"severity"`
	Description string             `json:"description"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Timestamp   time.Time          `json:"ts"`
}

// AnomalyConfig tunes the detector rules.
type AnomalyConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// critical repeated_failures anomaly.
	FailureThreshold int

	// ErrorRateThreshold is the failure fraction over the window that
	// trips error_rate_exceeded.
	ErrorRateThreshold float64

	// ErrorRateWindow bounds how far back outcomes count toward the rate.
	ErrorRateWindow time.Duration

	// MinWindowSamples is the minimum outcome count before the error
	// rate rule applies at all.
	MinWindowSamples int

	// CPUSpikeThreshold is the CPU percent that counts as a spike sample.
	CPUSpikeThreshold float64

	// CPUSpikeSamples is how many consecutive spike samples raise the
	// cpu_spike anomaly.
	CPUSpikeSamples int

	// MemoryLeakSamples is how many consecutive strictly-growing memory
	// samples raise the memory_leak anomaly.
	MemoryLeakSamples int

	// MemoryLeakGrowthMB is the minimum growth across those samples.
	MemoryLeakGrowthMB float64
}

// DefaultAnomalyConfig returns the detector defaults.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		FailureThreshold:   3,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Hour,
		MinWindowSamples:   5,
		CPUSpikeThreshold:  90,
		CPUSpikeSamples:    3,
		MemoryLeakSamples:  5,
		MemoryLeakGrowthMB: 100,
	}
}

type outcomeSample struct {
	ts      time.Time
	success bool
}

// Detector watches job outcomes and resource samples for the four
// anomaly rules. All methods are safe for concurrent use.
type Detector struct {
	cfg AnomalyConfig
	now func() time.Time

	mu             sync.Mutex
	consecutive    int            // consecutive failures across all jobs
	consecutiveJob map[string]int // consecutive failures per job
	window         []outcomeSample
	rateTripped    bool // avoid re-raising error_rate_exceeded every outcome

	cpuStreak int
	memRun    []float64
}

// NewDetector builds a detector with the given rules.
func NewDetector(cfg AnomalyConfig) *Detector {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.MinWindowSamples <= 0 {
		cfg.MinWindowSamples = 5
	}
	if cfg.ErrorRateWindow <= 0 {
		cfg.ErrorRateWindow = time.Hour
	}
	return &Detector{
		cfg:            cfg,
		now:            time.Now,
		consecutiveJob: make(map[string]int),
	}
}

// RecordJobOutcome feeds one job result into the failure rules and
// returns any anomalies the result tripped.
func (d *Detector) RecordJobOutcome(jobID string, success bool) []AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.window = append(d.window, outcomeSample{ts: now, success: success})
	d.pruneWindow(now)

	var events []AnomalyEvent

	if success {
		d.consecutive = 0
		delete(d.consecutiveJob, jobID)
	} else {
		d.consecutive++
		d.consecutiveJob[jobID]++
		if d.consecutive == d.cfg.FailureThreshold {
			events = append(events, d.newEvent(
				AnomalyRepeatedFailures,
				SeverityCritical,
				fmt.Sprintf("%d consecutive task failures", d.consecutive),
				map[string]float64{"consecutive_failures": float64(d.consecutive)},
			))
		}
	}

	if ev, ok := d.checkErrorRate(); ok {
		events = append(events, ev)
	}
	return events
}

// RecordSample feeds one resource snapshot into the CPU-spike and
// memory-leak rules.
func (d *Detector) RecordSample(cpuPercent, memMB float64) []AnomalyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []AnomalyEvent

	if cpuPercent >= d.cfg.CPUSpikeThreshold && d.cfg.CPUSpikeThreshold > 0 {
		d.cpuStreak++
		if d.cpuStreak == d.cfg.CPUSpikeSamples {
			events = append(events, d.newEvent(
				AnomalyCPUSpike,
				SeverityWarning,
				fmt.Sprintf("cpu above %.0f%% for %d consecutive samples", d.cfg.CPUSpikeThreshold, d.cpuStreak),
				map[string]float64{"cpu_percent": cpuPercent},
			))
		}
	} else {
		d.cpuStreak = 0
	}

	if n := len(d.memRun); n == 0 || memMB > d.memRun[n-1] {
		d.memRun = append(d.memRun, memMB)
	} else {
		d.memRun = d.memRun[:0]
		d.memRun = append(d.memRun, memMB)
	}
	if d.cfg.MemoryLeakSamples > 0 && len(d.memRun) == d.cfg.MemoryLeakSamples {
		growth := d.memRun[len(d.memRun)-1] - d.memRun[0]
		if growth >= d.cfg.MemoryLeakGrowthMB {
			events = append(events, d.newEvent(
				AnomalyMemoryLeak,
				SeverityWarning,
				fmt.Sprintf("memory grew %.1fMB across %d samples", growth, len(d.memRun)),
				map[string]float64{"memory_mb": memMB, "growth_mb": growth},
			))
		}
		// Restart the run so a persisting leak re-raises later.
		d.memRun = d.memRun[:0]
		d.memRun = append(d.memRun, memMB)
	}

	return events
}

// ConsecutiveFailures reports the current failure streak across jobs.
func (d *Detector) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutive
}

// ErrorRate reports the failure fraction over the current window and
// the sample count behind it.
func (d *Detector) ErrorRate() (rate float64, samples int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneWindow(d.now())
	return d.errorRateLocked()
}

func (d *Detector) errorRateLocked() (float64, int) {
	n := len(d.window)
	if n == 0 {
		return 0, 0
	}
	failures := 0
	for _, s := range d.window {
		if !s.success {
			failures++
		}
	}
	return float64(failures) / float64(n), n
}

func (d *Detector) checkErrorRate() (AnomalyEvent, bool) {
	rate, n := d.errorRateLocked()
	if n < d.cfg.MinWindowSamples {
		return AnomalyEvent{}, false
	}
	if rate < d.cfg.ErrorRateThreshold {
		d.rateTripped = false
		return AnomalyEvent{}, false
	}
	if d.rateTripped {
		return AnomalyEvent{}, false
	}
	d.rateTripped = true
	return d.newEvent(
		AnomalyErrorRateExceeded,
		SeverityError,
		fmt.Sprintf("error rate %.0f%% over %d outcomes in the last %s", rate*100, n, d.cfg.ErrorRateWindow),
		map[string]float64{"error_rate": rate, "samples": float64(n)},
	), true
}

func (d *Detector) pruneWindow(now time.Time) {
	cutoff := now.Add(-d.cfg.ErrorRateWindow)
	i := 0
	for i < len(d.window) && d.window[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		d.window = append(d.window[:0], d.window[i:]...)
	}
}

func (d *Detector) newEvent(kind, severity, description string, metrics map[string]float64) AnomalyEvent {
	return AnomalyEvent{
		ID:          uuid.NewString(),
		Type:        kind,
		Severity:    severity,
		Description: description,
		Metrics:     metrics,
		Timestamp:   d.now().UTC(),
	}
}
