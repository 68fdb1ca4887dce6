// Package analytics derives operational intelligence from the historical
// store: hourly baselines, peak-hour identification and the comparison of
// current conditions against what is normal for the hour.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/buswatch/buswatch_core/internal/models"
)

// Morning and evening peak windows (hours of day, inclusive)
const (
	morningWindowStart = 6
	morningWindowEnd   = 11
	eveningWindowStart = 16
	eveningWindowEnd   = 20
)

// Source is the read-only slice of the historical store the analyzer needs
type Source interface {
	QueryArrivals(ctx context.Context, q models.ArrivalQuery) ([]models.ArrivalRecord, error)
	LatestSnapshot(ctx context.Context) ([]models.ArrivalRecord, error)
	HourlyAggregates(ctx context.Context, hours int) ([]models.HourlyAggregate, error)
}

// Config holds analyzer tunables
type Config struct {
	LookbackDays     int     // historical window, default 30
	PeakHourCount    int     // top-k hours reported as peaks, default 5
	WorseMarginPct   float64 // is_worse_than_usual margin, default +20%
	LSDSevereCeiling float64 // limited-standing ratio forcing SEVERE, default 0.5
	// SnapshotFreshness bounds how old the stored snapshot may be and still
	// count as current. Default 15m, three collection intervals.
	SnapshotFreshness time.Duration
}

// DefaultConfig returns the standard analyzer tunables
func DefaultConfig() Config {
	return Config{
		LookbackDays:      30,
		PeakHourCount:     5,
		WorseMarginPct:    20,
		LSDSevereCeiling:  0.5,
		SnapshotFreshness: 15 * time.Minute,
	}
}

// epsilon guards the baseline division when the historical average is zero
const epsilon = 0.01

// Analyzer is a pure function of the store contents at call time. It keeps
// no mutable state of its own.
type Analyzer struct {
	src Source
	cfg Config
	now func() time.Time
}

// New creates an Analyzer
func New(src Source, cfg Config) *Analyzer {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	if cfg.PeakHourCount <= 0 {
		cfg.PeakHourCount = 5
	}
	if cfg.WorseMarginPct <= 0 {
		cfg.WorseMarginPct = 20
	}
	if cfg.LSDSevereCeiling <= 0 {
		cfg.LSDSevereCeiling = 0.5
	}
	if cfg.SnapshotFreshness <= 0 {
		cfg.SnapshotFreshness = 15 * time.Minute
	}
	return &Analyzer{src: src, cfg: cfg, now: time.Now}
}

// WindowStats summarises a morning or evening peak window
type WindowStats struct {
	MeanDelay   float64 `json:"mean_delay"`
	LSDRatio    float64 `json:"lsd_ratio"`
	SampleCount int     `json:"sample_count"`
}

// PeakAnalysis reports the hours with the worst delays
type PeakAnalysis struct {
	PeakHours []int       `json:"peak_hours"` // ranked by mean delay, descending
	WorstHour int         `json:"worst_congestion_hour"`
	Morning   WindowStats `json:"morning_peak_stats"`
	Evening   WindowStats `json:"evening_peak_stats"`
}

// Comparison holds the current-vs-historical baseline evaluation
type Comparison struct {
	CurrentHour           int                    `json:"current_hour"`
	CurrentMeanDelay      float64                `json:"current_avg_delay"`
	CurrentLSDRatio       float64                `json:"current_lsd_ratio"`
	CurrentSampleCount    int                    `json:"current_sample_count"`
	HistoricalMeanDelay   float64                `json:"historical_avg_delay"`
	HistoricalSampleCount int                    `json:"historical_sample_count"`
	DelayChangePercent    float64                `json:"delay_change_percent"`
	IsWorseThanUsual      bool                   `json:"is_worse_than_usual"`
	CongestionLevel       models.CongestionLevel `json:"congestion_level,omitempty"`
	// InsufficientData is set when the historical window has no samples for
	// the current hour; the percentage fields are meaningless then.
	InsufficientData bool `json:"insufficient_data,omitempty"`
}

// TrendReport is the full analyzer output served to callers
type TrendReport struct {
	GeneratedAt      time.Time                `json:"generated_at"`
	WindowDays       int                      `json:"window_days"`
	Hourly           []models.HourlyAggregate `json:"hourly_trends"`
	Peaks            PeakAnalysis             `json:"peak_analysis"`
	Comparison       *Comparison              `json:"comparison"`
	RecentHours      []models.HourlyAggregate `json:"recent_hours,omitempty"`
	RoutePerformance []RoutePerformance       `json:"route_performance,omitempty"`
	Insights         []string                 `json:"insights"`
}

// TrendReport computes the full report over the given lookback window.
// Store failures surface to the caller; an empty report is never substituted
// for one, since "no data" and "all clear" must stay distinguishable.
func (a *Analyzer) TrendReport(ctx context.Context, days int) (*TrendReport, error) {
	if days <= 0 {
		days = a.cfg.LookbackDays
	}
	now := a.now().UTC()

	records, err := a.src.QueryArrivals(ctx, models.ArrivalQuery{
		From: now.AddDate(0, 0, -days),
		To:   now.Add(time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("trend report: %w", err)
	}

	byHour := AggregateByHour(records)

	current, err := a.src.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("trend report: %w", err)
	}

	comparison := a.Compare(current, byHour, now)

	recent, err := a.src.HourlyAggregates(ctx, 24)
	if err != nil {
		return nil, fmt.Errorf("trend report: %w", err)
	}

	peaks := a.PeakHours(byHour)

	return &TrendReport{
		GeneratedAt:      now,
		WindowDays:       days,
		Hourly:           byHour,
		Peaks:            peaks,
		Comparison:       comparison,
		RecentHours:      recent,
		RoutePerformance: RankRoutePerformance(records),
		Insights:         Insights(comparison, peaks),
	}, nil
}

// CurrentVsHistorical evaluates the latest snapshot against the hour-of-day
// baseline over the configured lookback window.
func (a *Analyzer) CurrentVsHistorical(ctx context.Context) (*Comparison, error) {
	now := a.now().UTC()

	records, err := a.src.QueryArrivals(ctx, models.ArrivalQuery{
		From: now.AddDate(0, 0, -a.cfg.LookbackDays),
		To:   now.Add(time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("current vs historical: %w", err)
	}

	current, err := a.src.LatestSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("current vs historical: %w", err)
	}

	return a.Compare(current, AggregateByHour(records), now), nil
}

// Compare is the pure comparison step. The current hour is taken from the
// snapshot's recording instant so that evaluation of a slightly stale
// snapshot still compares against the hour it was observed in. A snapshot
// older than the freshness bound is discarded entirely: the store always
// returns the newest tick, so when the collector has appended nothing for
// several intervals the present is empty, not whatever came last.
func (a *Analyzer) Compare(current []models.ArrivalRecord, byHour []models.HourlyAggregate, now time.Time) *Comparison {
	if len(current) > 0 && now.Sub(current[0].RecordedAt) > a.cfg.SnapshotFreshness {
		current = nil
	}

	hour := now.Hour()
	if len(current) > 0 {
		hour = current[0].RecordedAt.UTC().Hour()
	}

	cmp := &Comparison{CurrentHour: hour}

	for _, agg := range byHour {
		if agg.Hour == hour {
			cmp.HistoricalMeanDelay = agg.MeanDelay
			cmp.HistoricalSampleCount = agg.SampleCount
			break
		}
	}

	cmp.CurrentSampleCount = len(current)
	if len(current) > 0 {
		var delays []float64
		lsd := 0
		for _, r := range current {
			delays = append(delays, r.DelayMinutes)
			if r.Load == models.LoadLimitedStanding {
				lsd++
			}
		}
		cmp.CurrentMeanDelay, _ = stats.Mean(delays)
		cmp.CurrentLSDRatio = float64(lsd) / float64(len(current))
	}

	if cmp.HistoricalSampleCount == 0 {
		cmp.InsufficientData = true
		return cmp
	}

	baseline := cmp.HistoricalMeanDelay
	if baseline < epsilon {
		baseline = epsilon
	}
	cmp.DelayChangePercent = (cmp.CurrentMeanDelay - cmp.HistoricalMeanDelay) / baseline * 100
	cmp.IsWorseThanUsual = cmp.DelayChangePercent > a.cfg.WorseMarginPct
	cmp.CongestionLevel = ClassifyCongestion(cmp.DelayChangePercent, cmp.CurrentLSDRatio, a.cfg.LSDSevereCeiling)

	return cmp
}

// AggregateByHour partitions records into hour-of-day buckets (0-23) and
// summarises each. Hours with no samples are omitted.
func AggregateByHour(records []models.ArrivalRecord) []models.HourlyAggregate {
	delays := make(map[int][]float64)
	lsdCounts := make(map[int]int)
	severe := make(map[int]int)

	for _, r := range records {
		h := r.RecordedAt.UTC().Hour()
		delays[h] = append(delays[h], r.DelayMinutes)
		if r.Load == models.LoadLimitedStanding {
			lsdCounts[h]++
		}
		if r.DelayMinutes > 10 {
			severe[h]++
		}
	}

	var aggs []models.HourlyAggregate
	for h := 0; h < 24; h++ {
		samples := delays[h]
		if len(samples) == 0 {
			continue
		}
		mean, _ := stats.Mean(samples)
		median, _ := stats.Median(samples)
		aggs = append(aggs, models.HourlyAggregate{
			Hour:         h,
			TotalBuses:   len(samples),
			MeanDelay:    mean,
			MedianDelay:  median,
			SevereDelays: severe[h],
			LSDCount:     lsdCounts[h],
			LSDRatio:     float64(lsdCounts[h]) / float64(len(samples)),
			SampleCount:  len(samples),
		})
	}

	return aggs
}

// PeakHours ranks hour buckets by mean delay descending and reports the
// top-k alongside the morning (6-11) and evening (16-20) window stats.
func (a *Analyzer) PeakHours(byHour []models.HourlyAggregate) PeakAnalysis {
	ranked := make([]models.HourlyAggregate, len(byHour))
	copy(ranked, byHour)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MeanDelay > ranked[j].MeanDelay
	})

	analysis := PeakAnalysis{WorstHour: -1}
	for i, agg := range ranked {
		if i >= a.cfg.PeakHourCount {
			break
		}
		analysis.PeakHours = append(analysis.PeakHours, agg.Hour)
	}
	if len(ranked) > 0 {
		analysis.WorstHour = ranked[0].Hour
	}

	analysis.Morning = windowStats(byHour, morningWindowStart, morningWindowEnd)
	analysis.Evening = windowStats(byHour, eveningWindowStart, eveningWindowEnd)

	return analysis
}

func windowStats(byHour []models.HourlyAggregate, from, to int) WindowStats {
	var (
		weighted float64
		lsd      int
		total    int
	)
	for _, agg := range byHour {
		if agg.Hour < from || agg.Hour > to {
			continue
		}
		weighted += agg.MeanDelay * float64(agg.SampleCount)
		lsd += agg.LSDCount
		total += agg.SampleCount
	}

	if total == 0 {
		return WindowStats{}
	}
	return WindowStats{
		MeanDelay:   weighted / float64(total),
		LSDRatio:    float64(lsd) / float64(total),
		SampleCount: total,
	}
}
