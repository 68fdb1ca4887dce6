package analytics

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/buswatch/buswatch_core/internal/models"
)

// RoutePerformance summarises one bus service over the analysis window
type RoutePerformance struct {
	ServiceNo        string  `json:"service_no"`
	MeanDelay        float64 `json:"avg_delay"`
	DelayStdDev      float64 `json:"delay_std"`
	MaxDelay         float64 `json:"max_delay"`
	TotalTrips       int     `json:"total_trips"`
	LSDCount         int     `json:"lsd_count"`
	ReliabilityScore int     `json:"reliability_score"`
}

// RankRoutePerformance groups records by service and scores each route,
// worst average delay first.
func RankRoutePerformance(records []models.ArrivalRecord) []RoutePerformance {
	delays := make(map[string][]float64)
	lsd := make(map[string]int)

	for _, r := range records {
		delays[r.ServiceNo] = append(delays[r.ServiceNo], r.DelayMinutes)
		if r.Load == models.LoadLimitedStanding {
			lsd[r.ServiceNo]++
		}
	}

	var routes []RoutePerformance
	for service, samples := range delays {
		mean, _ := stats.Mean(samples)
		stddev, _ := stats.StandardDeviation(samples)
		max, _ := stats.Max(samples)

		routes = append(routes, RoutePerformance{
			ServiceNo:        service,
			MeanDelay:        mean,
			DelayStdDev:      stddev,
			MaxDelay:         max,
			TotalTrips:       len(samples),
			LSDCount:         lsd[service],
			ReliabilityScore: reliabilityScore(mean, stddev, lsd[service], len(samples)),
		})
	}

	sort.SliceStable(routes, func(i, j int) bool {
		return routes[i].MeanDelay > routes[j].MeanDelay
	})

	return routes
}

// reliabilityScore rates a route 0-100, penalising average delay, delay
// variability and crowding incidents.
func reliabilityScore(meanDelay, stddev float64, lsdCount, totalTrips int) int {
	score := 100.0

	score -= minF(30, meanDelay*2)
	score -= minF(20, stddev)

	if totalTrips > 0 {
		lsdRatio := float64(lsdCount) / float64(totalTrips)
		score -= minF(30, lsdRatio*100)
	}

	if score < 0 {
		return 0
	}
	return int(score)
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
