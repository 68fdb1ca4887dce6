// Package collector runs the periodic fetch-and-append cycle that feeds the
// historical store. A tick is the unit of atomicity: a failed tick appends
// nothing, never blocks later ticks, and is not retried before the next
// scheduled tick.
package collector

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/lta"
	"github.com/buswatch/buswatch_core/internal/metrics"
	"github.com/buswatch/buswatch_core/internal/models"
)

const (
	// DefaultInterval is the scheduled tick cadence.
	DefaultInterval = 300 * time.Second
	// MinInterval is the floor for configurable cadence (shorter only makes
	// sense in tests, which call CollectOnce directly).
	MinInterval = 60 * time.Second
)

// Provider is the external transit-data source, one snapshot per tick
type Provider interface {
	FetchSnapshot(ctx context.Context) ([]lta.Arrival, error)
}

// Appender is the slice of the historical store the collector writes through
type Appender interface {
	AppendArrivals(ctx context.Context, records []models.ArrivalRecord) (int, error)
	MaterializeHourlyStats(ctx context.Context, at time.Time) (*models.HourlyAggregate, error)
}

// Result summarises one completed tick
type Result struct {
	Fetched    int       `json:"fetched"`
	Appended   int       `json:"appended"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Collector pulls arrival snapshots on a fixed cadence and appends them to
// the store. The scheduled loop and manual CollectOnce calls share a
// single-flight guard: only one collection cycle runs per process.
type Collector struct {
	provider Provider
	store    Appender
	interval time.Duration

	mu  sync.Mutex
	now func() time.Time
}

// IntervalFromEnv reads COLLECT_INTERVAL, clamped to MinInterval
func IntervalFromEnv() time.Duration {
	raw := os.Getenv("COLLECT_INTERVAL")
	if raw == "" {
		return DefaultInterval
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval < MinInterval {
		return MinInterval
	}
	return interval
}

// New creates a Collector
func New(provider Provider, store Appender, interval time.Duration) *Collector {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Collector{
		provider: provider,
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

// Run executes the scheduled loop until the context is cancelled. The first
// tick fires immediately.
func (c *Collector) Run(ctx context.Context) {
	log.Info().Dur("interval", c.interval).Msg("Collector loop started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Collector loop stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Collector) tick(ctx context.Context) {
	result, err := c.CollectOnce(ctx)
	switch {
	case errors.Is(err, models.ErrCollectionInProgress):
		log.Warn().Msg("Skipping tick, previous collection still running")
	case errors.Is(err, models.ErrProviderUnavailable):
		// Absorbed per tick; the next scheduled tick is the retry.
		log.Warn().Err(err).Msg("Tick skipped, provider unavailable")
	case err != nil:
		log.Error().Err(err).Msg("Tick failed")
	default:
		log.Info().Int("fetched", result.Fetched).Int("appended", result.Appended).
			Time("recorded_at", result.RecordedAt).Msg("Tick complete")
	}
}

// CollectOnce performs a single fetch-and-append cycle. It fails with
// ErrCollectionInProgress when another cycle is running, and with the
// provider or store error otherwise. All records of a tick share one
// recorded-at timestamp.
func (c *Collector) CollectOnce(ctx context.Context) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, models.ErrCollectionInProgress
	}
	defer c.mu.Unlock()

	arrivals, err := c.provider.FetchSnapshot(ctx)
	if err != nil {
		metrics.ObserveTick(metrics.OutcomeSkipped, 0)
		return nil, err
	}

	recordedAt := c.now().UTC()
	records := translate(arrivals, recordedAt)

	appended, err := c.store.AppendArrivals(ctx, records)
	if err != nil {
		metrics.ObserveTick(metrics.OutcomeSkipped, 0)
		return nil, err
	}
	metrics.ObserveTick(metrics.OutcomeSuccess, appended)

	// Refresh the previous hour's aggregate cache. Failures here never fail
	// the tick; the analyzer recomputes from raw records anyway.
	if _, err := c.store.MaterializeHourlyStats(ctx, recordedAt.Add(-time.Hour)); err != nil {
		log.Warn().Err(err).Msg("Failed to materialize hourly stats")
	}

	return &Result{
		Fetched:    len(arrivals),
		Appended:   appended,
		RecordedAt: recordedAt,
	}, nil
}

// translate converts validated provider arrivals into immutable records
func translate(arrivals []lta.Arrival, recordedAt time.Time) []models.ArrivalRecord {
	records := make([]models.ArrivalRecord, 0, len(arrivals))
	for _, a := range arrivals {
		records = append(records, models.ArrivalRecord{
			StopCode:         a.StopCode,
			ServiceNo:        a.ServiceNo,
			EstimatedArrival: a.EstimatedArrival,
			Load:             a.Load,
			DelayMinutes:     DelayMinutes(a.EstimatedArrival, recordedAt),
			RecordedAt:       recordedAt,
		})
	}
	return records
}

// DelayMinutes estimates the observed delay from how far out the estimated
// arrival is, with no schedule data available: arrivals more than 15 minutes
// out count as late beyond the expected 10 minute headway, arrivals under 2
// minutes out count as early, anything between is on time.
func DelayMinutes(estimated, now time.Time) float64 {
	minutesUntil := estimated.Sub(now).Minutes()

	switch {
	case minutesUntil > 15:
		return minutesUntil - 10
	case minutesUntil < 2:
		return -(2 - minutesUntil)
	default:
		return 0
	}
}
