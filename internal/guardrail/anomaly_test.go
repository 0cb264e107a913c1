package guardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorRepeatedFailuresFiresOnceAtThreshold(t *testing.T) {
	d := NewDetector(AnomalyConfig{FailureThreshold: 3, MinWindowSamples: 100})

	assert.Empty(t, d.RecordJobOutcome("j", false))
	assert.Empty(t, d.RecordJobOutcome("j", false))

	events := d.RecordJobOutcome("j", false)
	require.Len(t, events, 1)
	assert.Equal(t, AnomalyRepeatedFailures, events[0].Type)
	assert.Equal(t, SeverityCritical, events[0].Severity)
	assert.Equal(t, float64(3), events[0].Metrics["consecutive_failures"])

	// A fourth failure extends the streak without re-raising.
	assert.Empty(t, d.RecordJobOutcome("j", false))
	assert.Equal(t, 4, d.ConsecutiveFailures())
}

func TestDetectorErrorRate(t *testing.T) {
	d := NewDetector(AnomalyConfig{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Hour,
		MinWindowSamples:   4,
	})

	d.RecordJobOutcome("a", false)
	d.RecordJobOutcome("b", false)
	assert.Empty(t, d.RecordJobOutcome("c", true), "below the minimum sample count")

	events := d.RecordJobOutcome("d", false)
	require.Len(t, events, 1)
	assert.Equal(t, AnomalyErrorRateExceeded, events[0].Type)
	assert.Equal(t, SeverityError, events[0].Severity)

	// Still elevated: not re-raised until the rate dips back under.
	assert.Empty(t, d.RecordJobOutcome("e", false))
	assert.Empty(t, d.RecordJobOutcome("f", false))

	rate, samples := d.ErrorRate()
	assert.Equal(t, 6, samples)
	assert.InDelta(t, 5.0/6.0, rate, 1e-9)
}

func TestDetectorErrorRateWindowPrunesOldOutcomes(t *testing.T) {
	d := NewDetector(AnomalyConfig{
		FailureThreshold:   100,
		ErrorRateThreshold: 0.5,
		ErrorRateWindow:    time.Hour,
		MinWindowSamples:   2,
	})

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.RecordJobOutcome("a", false)
	d.RecordJobOutcome("b", false)

	// Two hours later the old failures no longer count.
	now = now.Add(2 * time.Hour)
	rate, samples := d.ErrorRate()
	assert.Zero(t, samples)
	assert.Zero(t, rate)
}

func TestDetectorCPUSpike(t *testing.T) {
	d := NewDetector(AnomalyConfig{
		FailureThreshold:  100,
		MinWindowSamples:  100,
		CPUSpikeThreshold: 90,
		CPUSpikeSamples:   3,
	})

	assert.Empty(t, d.RecordSample(95, 10))
	assert.Empty(t, d.RecordSample(92, 10))

	events := d.RecordSample(97, 10)
	require.Len(t, events, 1)
	assert.Equal(t, AnomalyCPUSpike, events[0].Type)
	assert.Equal(t, SeverityWarning, events[0].Severity)

	// A calm sample resets the streak; the next spike starts over.
	assert.Empty(t, d.RecordSample(20, 10))
	assert.Empty(t, d.RecordSample(95, 10))
	assert.Empty(t, d.RecordSample(95, 10))
}

func TestDetectorMemoryLeak(t *testing.T) {
	d := NewDetector(AnomalyConfig{
		FailureThreshold:   100,
		MinWindowSamples:   100,
		MemoryLeakSamples:  3,
		MemoryLeakGrowthMB: 50,
	})

	assert.Empty(t, d.RecordSample(0, 100))
	assert.Empty(t, d.RecordSample(0, 130))

	events := d.RecordSample(0, 165)
	require.Len(t, events, 1)
	assert.Equal(t, AnomalyMemoryLeak, events[0].Type)
	assert.InDelta(t, 65, events[0].Metrics["growth_mb"], 1e-9)
}

func TestDetectorMemoryGrowthBelowFloorIsQuiet(t *testing.T) {
	d := NewDetector(AnomalyConfig{
		FailureThreshold:   100,
		MinWindowSamples:   100,
		MemoryLeakSamples:  3,
		MemoryLeakGrowthMB: 50,
	})

	assert.Empty(t, d.RecordSample(0, 100))
	assert.Empty(t, d.RecordSample(0, 110))
	assert.Empty(t, d.RecordSample(0, 120), "20MB growth stays under the floor")

	// A flat sample resets the growth run entirely.
	assert.Empty(t, d.RecordSample(0, 120))
	assert.Empty(t, d.RecordSample(0, 200))
}
