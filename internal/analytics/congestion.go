package analytics

import "github.com/buswatch/buswatch_core/internal/models"

// Congestion classification thresholds, in percent change of average delay
// against the hour-of-day baseline.
const (
	moderateThresholdPct = 15.0
	highThresholdPct     = 35.0
	severeThresholdPct   = 75.0
)

// ClassifyCongestion maps a delay change percentage and the current
// limited-standing ratio onto a congestion level. Pure function: LOW below
// +15%, MODERATE to +35%, HIGH to +75%, SEVERE beyond that or whenever the
// limited-standing ratio reaches the ceiling regardless of delay.
func ClassifyCongestion(delayChangePct, lsdRatio, lsdCeiling float64) models.CongestionLevel {
	if delayChangePct >= severeThresholdPct || lsdRatio >= lsdCeiling {
		return models.CongestionSevere
	}
	if delayChangePct >= highThresholdPct {
		return models.CongestionHigh
	}
	if delayChangePct >= moderateThresholdPct {
		return models.CongestionModerate
	}
	return models.CongestionLow
}
