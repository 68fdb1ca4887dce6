package prediction

import (
	"sort"
	"time"

	"github.com/buswatch/buswatch_core/internal/analytics"
	"github.com/buswatch/buswatch_core/internal/models"
)

// featureCount is the width of the feature vector: hour of day, day of week,
// weekend flag, peak-hour flag, encoded stop, encoded route, encoded load.
const featureCount = 7

// unknownCode is the reserved encoding for categories never seen during
// training. Unseen stops and routes predict through it instead of failing.
const unknownCode = -1

// buildEncoder assigns stable numeric codes to the distinct values of a
// categorical column, in sorted order so retraining on the same data yields
// the same encoding.
func buildEncoder(values []string) map[string]int {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v] = struct{}{}
	}

	distinct := make([]string, 0, len(seen))
	for v := range seen {
		distinct = append(distinct, v)
	}
	sort.Strings(distinct)

	codes := make(map[string]int, len(distinct))
	for i, v := range distinct {
		codes[v] = i
	}
	return codes
}

func encode(codes map[string]int, value string) float64 {
	if code, ok := codes[value]; ok {
		return float64(code)
	}
	return unknownCode
}

// featureVector derives the model inputs for one arrival observed (or
// predicted) at the given instant.
func featureVector(m *models.TrainedModel, stopCode, serviceNo string, load models.LoadStatus, at time.Time) []float64 {
	hour := at.UTC().Hour()
	dow := int(at.UTC().Weekday())

	weekend := 0.0
	if at.UTC().Weekday() == time.Saturday || at.UTC().Weekday() == time.Sunday {
		weekend = 1.0
	}

	peak := 0.0
	if analytics.InPeakWindow(hour) {
		peak = 1.0
	}

	return []float64{
		float64(hour),
		float64(dow),
		weekend,
		peak,
		encode(m.StopCodes, stopCode),
		encode(m.Routes, serviceNo),
		encode(m.Loads, string(load)),
	}
}
