package guardrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerEnforcesMemoryCap(t *testing.T) {
	samples := [][2]float64{{10, 50}, {12, 80}, {15, 150}}
	i := 0
	tr := newTrackerWithSampler(Budget{MaxMemoryMB: 100}, func() (float64, float64, error) {
		s := samples[i]
		if i < len(samples)-1 {
			i++
		}
		return s[0], s[1], nil
	})
	require.NoError(t, tr.Start())

	snap, err := tr.Check()
	require.NoError(t, err)
	assert.True(t, snap.WithinBudgets)

	snap, err = tr.Check()
	require.Error(t, err)
	assert.True(t, IsBudgetExceeded(err))
	assert.False(t, snap.WithinBudgets)

	usage := tr.Stop()
	assert.False(t, usage.WithinBudgets)
	assert.Equal(t, 150.0, usage.PeakMemoryMB)
	assert.Equal(t, 15.0, usage.PeakCPUPercent)
	assert.Equal(t, 2, usage.Samples)
}

func TestTrackerEnforcesDurationCap(t *testing.T) {
	tr := newTrackerWithSampler(Budget{MaxDurationMinutes: 1}, func() (float64, float64, error) {
		return 5, 20, nil
	})
	require.NoError(t, tr.Start())
	tr.startedAt = time.Now().Add(-2 * time.Minute)

	_, err := tr.Check()
	require.Error(t, err)
	assert.True(t, IsBudgetExceeded(err))
	assert.Contains(t, err.Error(), "duration")
}

func TestCheckEstimateIgnoresUnknownKeysAndZeroCaps(t *testing.T) {
	violations := checkEstimate(Budget{}, map[string]float64{
		EstimateCPUPercent: 400,
		EstimateMemoryMB:   99999,
		"made_up_metric":   12,
	})
	assert.Empty(t, violations, "zero caps disable every check")

	violations = checkEstimate(DefaultBudget(), map[string]float64{
		EstimateDurationMinutes: 30,
		EstimateFrequencyHour:   60,
	})
	require.Len(t, violations, 2)
	assert.Contains(t, violations[0], "duration")
	assert.Contains(t, violations[1], "frequency")
}
