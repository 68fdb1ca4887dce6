package analytics

import (
	"fmt"
	"math"

	"github.com/buswatch/buswatch_core/internal/models"
)

// Insight generation thresholds
const (
	insightWorsePct  = 50.0  // delays notably higher than usual
	insightBetterPct = -30.0 // traffic flowing notably better
)

// Insights renders deterministic human-readable observations from the
// comparison and peak analysis. Same aggregates in, same strings out, so
// tests can assert exact text.
func Insights(cmp *Comparison, peaks PeakAnalysis) []string {
	var insights []string

	if cmp != nil && !cmp.InsufficientData {
		if cmp.DelayChangePercent > insightWorsePct {
			insights = append(insights, fmt.Sprintf(
				"Traffic delays are %.0f%% higher than usual", math.Abs(cmp.DelayChangePercent)))
		} else if cmp.DelayChangePercent < insightBetterPct {
			insights = append(insights, fmt.Sprintf(
				"Traffic is flowing %.0f%% better than usual", math.Abs(cmp.DelayChangePercent)))
		}

		switch cmp.CongestionLevel {
		case models.CongestionSevere:
			insights = append(insights, "Severe congestion detected across multiple routes")
		case models.CongestionHigh:
			insights = append(insights, "High congestion levels observed")
		}
	}

	if cmp != nil && cmp.InsufficientData {
		insights = append(insights, fmt.Sprintf(
			"Insufficient historical data for hour %02d:00, comparison unavailable", cmp.CurrentHour))
	}

	if peaks.WorstHour >= 0 {
		insights = append(insights, fmt.Sprintf(
			"Worst congestion typically occurs around %d:00", peaks.WorstHour))
	}

	return insights
}
