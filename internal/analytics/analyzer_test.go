package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buswatch/buswatch_core/internal/models"
)

func recordAt(hour int, delay float64, load models.LoadStatus) models.ArrivalRecord {
	recorded := time.Date(2026, 8, 24, hour, 30, 0, 0, time.UTC)
	return models.ArrivalRecord{
		StopCode:         "01012",
		ServiceNo:        "12",
		EstimatedArrival: recorded.Add(5 * time.Minute),
		Load:             load,
		DelayMinutes:     delay,
		RecordedAt:       recorded,
	}
}

func TestAggregateByHour(t *testing.T) {
	records := []models.ArrivalRecord{
		recordAt(8, 2, models.LoadSeatsAvailable),
		recordAt(8, 4, models.LoadLimitedStanding),
		recordAt(8, 12, models.LoadStandingAvailable),
		recordAt(9, 0, models.LoadSeatsAvailable),
	}

	aggs := AggregateByHour(records)
	require.Len(t, aggs, 2)

	eight := aggs[0]
	assert.Equal(t, 8, eight.Hour)
	assert.Equal(t, 3, eight.SampleCount)
	assert.InDelta(t, 6.0, eight.MeanDelay, 1e-9)
	assert.InDelta(t, 4.0, eight.MedianDelay, 1e-9)
	assert.Equal(t, 1, eight.SevereDelays)
	assert.Equal(t, 1, eight.LSDCount)
	assert.InDelta(t, 1.0/3.0, eight.LSDRatio, 1e-9)

	nine := aggs[1]
	assert.Equal(t, 9, nine.Hour)
	assert.Equal(t, 1, nine.SampleCount)
	assert.InDelta(t, 0.0, nine.MeanDelay, 1e-9)
}

func TestAggregateByHourEmpty(t *testing.T) {
	assert.Empty(t, AggregateByHour(nil))
}

func TestCompareAgainstBaseline(t *testing.T) {
	a := New(nil, DefaultConfig())

	current := []models.ArrivalRecord{
		recordAt(8, 5.5, models.LoadSeatsAvailable),
		recordAt(8, 5.5, models.LoadStandingAvailable),
		recordAt(8, 5.5, models.LoadLimitedStanding),
		recordAt(8, 5.5, models.LoadSeatsAvailable),
	}
	byHour := []models.HourlyAggregate{
		{Hour: 8, MeanDelay: 4.0, SampleCount: 40},
	}

	cmp := a.Compare(current, byHour, time.Date(2026, 8, 24, 8, 35, 0, 0, time.UTC))

	assert.Equal(t, 8, cmp.CurrentHour)
	assert.False(t, cmp.InsufficientData)
	assert.Equal(t, 4, cmp.CurrentSampleCount)
	assert.Equal(t, 40, cmp.HistoricalSampleCount)
	assert.InDelta(t, 5.5, cmp.CurrentMeanDelay, 1e-9)
	assert.InDelta(t, 0.25, cmp.CurrentLSDRatio, 1e-9)
	assert.InDelta(t, 37.5, cmp.DelayChangePercent, 1e-9)
	assert.True(t, cmp.IsWorseThanUsual)
	assert.Equal(t, models.CongestionHigh, cmp.CongestionLevel)
}

func TestCompareWithinMarginNotWorse(t *testing.T) {
	a := New(nil, DefaultConfig())

	current := []models.ArrivalRecord{
		recordAt(10, 4.4, models.LoadSeatsAvailable),
	}
	byHour := []models.HourlyAggregate{
		{Hour: 10, MeanDelay: 4.0, SampleCount: 12},
	}

	cmp := a.Compare(current, byHour, time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC))

	assert.InDelta(t, 10.0, cmp.DelayChangePercent, 1e-6)
	assert.False(t, cmp.IsWorseThanUsual)
	assert.Equal(t, models.CongestionLow, cmp.CongestionLevel)
}

func TestCompareInsufficientHistory(t *testing.T) {
	a := New(nil, DefaultConfig())

	current := []models.ArrivalRecord{
		recordAt(3, 7, models.LoadSeatsAvailable),
	}

	cmp := a.Compare(current, nil, time.Date(2026, 8, 24, 3, 10, 0, 0, time.UTC))

	assert.True(t, cmp.InsufficientData)
	assert.Equal(t, 3, cmp.CurrentHour)
	assert.Equal(t, 1, cmp.CurrentSampleCount)
	assert.Zero(t, cmp.DelayChangePercent)
	assert.False(t, cmp.IsWorseThanUsual)
}

func TestCompareZeroBaselineUsesEpsilon(t *testing.T) {
	a := New(nil, DefaultConfig())

	current := []models.ArrivalRecord{
		recordAt(14, 1, models.LoadSeatsAvailable),
	}
	byHour := []models.HourlyAggregate{
		{Hour: 14, MeanDelay: 0, SampleCount: 5},
	}

	cmp := a.Compare(current, byHour, time.Date(2026, 8, 24, 14, 0, 0, 0, time.UTC))

	// Guarded division: finite, very large, still classified severe.
	assert.False(t, cmp.InsufficientData)
	assert.Greater(t, cmp.DelayChangePercent, severeThresholdPct)
	assert.Equal(t, models.CongestionSevere, cmp.CongestionLevel)
}

func TestCompareStaleSnapshotDiscarded(t *testing.T) {
	a := New(nil, DefaultConfig())

	// The newest tick is 40 minutes old: several missed collection intervals.
	now := time.Date(2026, 8, 24, 9, 10, 0, 0, time.UTC)
	stale := []models.ArrivalRecord{
		recordAt(8, 5.0, models.LoadSeatsAvailable),
		recordAt(8, 6.0, models.LoadLimitedStanding),
	}
	byHour := []models.HourlyAggregate{
		{Hour: 8, MeanDelay: 4.0, SampleCount: 40},
		{Hour: 9, MeanDelay: 3.0, SampleCount: 30},
	}

	cmp := a.Compare(stale, byHour, now)

	// The stale tick must not pass for the present.
	assert.Equal(t, 0, cmp.CurrentSampleCount)
	assert.Zero(t, cmp.CurrentMeanDelay)
	assert.Equal(t, 9, cmp.CurrentHour, "hour comes from the clock once the snapshot is discarded")
	assert.Equal(t, 30, cmp.HistoricalSampleCount)
}

func TestCompareSlightlyStaleSnapshotKept(t *testing.T) {
	a := New(nil, DefaultConfig())

	// One missed tick is within the freshness bound.
	now := time.Date(2026, 8, 24, 8, 38, 0, 0, time.UTC)
	current := []models.ArrivalRecord{
		recordAt(8, 5.0, models.LoadSeatsAvailable),
	}
	byHour := []models.HourlyAggregate{
		{Hour: 8, MeanDelay: 4.0, SampleCount: 40},
	}

	cmp := a.Compare(current, byHour, now)

	assert.Equal(t, 1, cmp.CurrentSampleCount)
	assert.Equal(t, 8, cmp.CurrentHour)
}

func TestCompareEmptySnapshot(t *testing.T) {
	a := New(nil, DefaultConfig())

	byHour := []models.HourlyAggregate{
		{Hour: 11, MeanDelay: 3.0, SampleCount: 30},
	}

	cmp := a.Compare(nil, byHour, time.Date(2026, 8, 24, 11, 15, 0, 0, time.UTC))

	// Hour falls back to the clock when the snapshot is empty.
	assert.Equal(t, 11, cmp.CurrentHour)
	assert.Equal(t, 0, cmp.CurrentSampleCount)
	assert.Equal(t, 30, cmp.HistoricalSampleCount)
	assert.False(t, cmp.InsufficientData)
}

func TestPeakHours(t *testing.T) {
	a := New(nil, Config{PeakHourCount: 3})

	byHour := []models.HourlyAggregate{
		{Hour: 8, MeanDelay: 6.0, SampleCount: 3, LSDCount: 1},
		{Hour: 9, MeanDelay: 1.0, SampleCount: 1},
		{Hour: 17, MeanDelay: 8.0, SampleCount: 2, LSDCount: 2},
		{Hour: 18, MeanDelay: 3.0, SampleCount: 2},
	}

	peaks := a.PeakHours(byHour)

	assert.Equal(t, []int{17, 8, 18}, peaks.PeakHours)
	assert.Equal(t, 17, peaks.WorstHour)

	// Morning window covers hours 8 and 9, weighted by sample count.
	assert.Equal(t, 4, peaks.Morning.SampleCount)
	assert.InDelta(t, (6.0*3+1.0*1)/4, peaks.Morning.MeanDelay, 1e-9)
	assert.InDelta(t, 0.25, peaks.Morning.LSDRatio, 1e-9)

	// Evening window covers hours 17 and 18.
	assert.Equal(t, 4, peaks.Evening.SampleCount)
	assert.InDelta(t, (8.0*2+3.0*2)/4, peaks.Evening.MeanDelay, 1e-9)
}

func TestPeakHoursNoData(t *testing.T) {
	a := New(nil, DefaultConfig())

	peaks := a.PeakHours(nil)

	assert.Empty(t, peaks.PeakHours)
	assert.Equal(t, -1, peaks.WorstHour)
	assert.Zero(t, peaks.Morning.SampleCount)
	assert.Zero(t, peaks.Evening.SampleCount)
}

func TestInsights(t *testing.T) {
	tests := []struct {
		name     string
		cmp      *Comparison
		peaks    PeakAnalysis
		expected []string
	}{
		{
			name: "Much worse than usual",
			cmp: &Comparison{
				DelayChangePercent: 62,
				CongestionLevel:    models.CongestionHigh,
			},
			peaks: PeakAnalysis{WorstHour: 8},
			expected: []string{
				"Traffic delays are 62% higher than usual",
				"High congestion levels observed",
				"Worst congestion typically occurs around 8:00",
			},
		},
		{
			name: "Flowing better than usual",
			cmp: &Comparison{
				DelayChangePercent: -45,
				CongestionLevel:    models.CongestionLow,
			},
			peaks: PeakAnalysis{WorstHour: -1},
			expected: []string{
				"Traffic is flowing 45% better than usual",
			},
		},
		{
			name: "Severe congestion",
			cmp: &Comparison{
				DelayChangePercent: 80,
				CongestionLevel:    models.CongestionSevere,
			},
			peaks: PeakAnalysis{WorstHour: -1},
			expected: []string{
				"Traffic delays are 80% higher than usual",
				"Severe congestion detected across multiple routes",
			},
		},
		{
			name: "Insufficient history",
			cmp: &Comparison{
				CurrentHour:      3,
				InsufficientData: true,
			},
			peaks: PeakAnalysis{WorstHour: 18},
			expected: []string{
				"Insufficient historical data for hour 03:00, comparison unavailable",
				"Worst congestion typically occurs around 18:00",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Insights(tt.cmp, tt.peaks))
		})
	}
}
