// Package api exposes the analytics core over HTTP. Handlers translate the
// core's sentinel errors into status codes; they hold no business logic of
// their own.
package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/alerts"
	"github.com/buswatch/buswatch_core/internal/analytics"
	"github.com/buswatch/buswatch_core/internal/cache"
	"github.com/buswatch/buswatch_core/internal/collector"
	"github.com/buswatch/buswatch_core/internal/db"
	"github.com/buswatch/buswatch_core/internal/models"
	"github.com/buswatch/buswatch_core/internal/prediction"
	"github.com/buswatch/buswatch_core/internal/store"
)

// Handlers carries the wired core components behind the HTTP surface
type Handlers struct {
	Store     *store.Store
	Analyzer  *analytics.Analyzer
	Predictor *prediction.Engine
	Alerts    *alerts.Engine
	Collector *collector.Collector
	CacheTTL  time.Duration
}

// Health handles the /health endpoint
func (h *Handlers) Health(c *fiber.Ctx) error {
	ctx := c.Context()

	dbErr := db.HealthCheck(ctx)
	dbStatus := "ok"
	if dbErr != nil {
		dbStatus = dbErr.Error()
	}

	redisErr := cache.HealthCheck(ctx)
	redisStatus := "ok"
	if redisErr != nil {
		redisStatus = redisErr.Error()
	}

	status := "healthy"
	httpStatus := 200
	if dbErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}

// Trends handles GET /v2/trends?days=N. Reports are cached; on a miss, one
// request computes while concurrent requests wait for its result.
func (h *Handlers) Trends(c *fiber.Ctx) error {
	days := c.QueryInt("days", 0)
	if days < 0 || days > 365 {
		return c.Status(400).JSON(fiber.Map{
			"error": "days must be between 0 and 365; 0 or omitted uses the default window",
		})
	}

	report, err := h.trendReport(c.Context(), days)
	if err != nil {
		return mapCoreError(c, err)
	}

	return c.JSON(report)
}

// trendReport computes a trend report with caching
func (h *Handlers) trendReport(ctx context.Context, days int) (*analytics.TrendReport, error) {
	cacheKey := cache.TrendKey(days)
	lockKey := cache.LockKey(cacheKey)

	cached, err := cache.GetTrendReport(ctx, cacheKey)
	if err == nil && cached != nil {
		return cached, nil
	}

	acquired, err := cache.AcquireLock(ctx, lockKey, 30*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to acquire trend lock")
		// Continue without lock (degrade gracefully)
	} else if !acquired {
		// Another request is computing this report, wait for it
		cached, err := cache.WaitForLock(ctx, cacheKey, 5*time.Second)
		if err == nil && cached != nil {
			return cached, nil
		}
		// If waiting failed, compute anyway
	}

	defer func() {
		if acquired {
			cache.ReleaseLock(ctx, lockKey)
		}
	}()

	report, err := h.Analyzer.TrendReport(ctx, days)
	if err != nil {
		return nil, err
	}

	ttl := h.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := cache.SetTrendReport(ctx, cacheKey, report, ttl); err != nil {
		log.Warn().Err(err).Msg("Failed to cache trend report")
	}

	return report, nil
}

// predictionRequest is the POST /v2/predictions body. When arrivals is empty
// the forecast covers the latest stored snapshot.
type predictionRequest struct {
	Arrivals []models.ArrivalRecord `json:"arrivals"`
}

// Predictions handles POST /v2/predictions
func (h *Handlers) Predictions(c *fiber.Ctx) error {
	var req predictionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	arrivals := req.Arrivals
	if len(arrivals) == 0 {
		snapshot, err := h.Store.LatestSnapshot(c.Context())
		if err != nil {
			return mapCoreError(c, err)
		}
		arrivals = snapshot
	}

	for _, a := range arrivals {
		if a.StopCode == "" || a.ServiceNo == "" {
			return c.Status(400).JSON(fiber.Map{
				"error": "each arrival needs stop_code and service_no",
			})
		}
	}

	predictions, err := h.Predictor.Predict(c.Context(), arrivals)
	if err != nil {
		return mapCoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// ListAlerts handles GET /v2/alerts
func (h *Handlers) ListAlerts(c *fiber.Ctx) error {
	active, err := h.Store.ListActiveAlerts(c.Context())
	if err != nil {
		return mapCoreError(c, err)
	}

	if active == nil {
		active = []models.Alert{}
	}
	return c.JSON(fiber.Map{
		"alerts": active,
		"count":  len(active),
	})
}

// CheckAlerts handles POST /v2/alerts/check: one on-demand evaluation cycle
func (h *Handlers) CheckAlerts(c *fiber.Ctx) error {
	created, err := h.Alerts.Evaluate(c.Context())
	if err != nil {
		return mapCoreError(c, err)
	}

	if created == nil {
		created = []models.Alert{}
	}
	return c.JSON(fiber.Map{
		"created": created,
		"count":   len(created),
	})
}

// ResolveAlert handles POST /v2/alerts/:id/resolve
func (h *Handlers) ResolveAlert(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid alert id",
		})
	}

	if err := h.Store.ResolveAlert(c.Context(), id); err != nil {
		if errors.Is(err, models.ErrStoreUnavailable) {
			return mapCoreError(c, err)
		}
		return c.Status(404).JSON(fiber.Map{
			"error": "no active alert with that id",
		})
	}

	return c.JSON(fiber.Map{
		"resolved": id,
	})
}

// trainRequest is the POST /v2/model/train body
type trainRequest struct {
	LookbackDays int `json:"lookback_days"`
}

// TrainModel handles POST /v2/model/train
func (h *Handlers) TrainModel(c *fiber.Ctx) error {
	var req trainRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	model, err := h.Predictor.Train(c.Context(), req.LookbackDays)
	if err != nil {
		return mapCoreError(c, err)
	}

	return c.JSON(fiber.Map{
		"trained_at": model.TrainedAt,
		"metrics":    model.Metrics,
		"confidence": model.Confidence,
	})
}

// Collect handles POST /v2/collect: one on-demand collection cycle
func (h *Handlers) Collect(c *fiber.Ctx) error {
	result, err := h.Collector.CollectOnce(c.Context())
	if err != nil {
		return mapCoreError(c, err)
	}

	return c.JSON(result)
}

// Purge handles POST /v2/admin/purge?older_than_days=N
func (h *Handlers) Purge(c *fiber.Ctx) error {
	days := c.QueryInt("older_than_days", 0)
	if days < 1 {
		return c.Status(400).JSON(fiber.Map{
			"error": "older_than_days must be at least 1",
		})
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	purged, err := h.Store.PurgeArrivals(c.Context(), cutoff)
	if err != nil {
		return mapCoreError(c, err)
	}

	log.Info().Int64("purged", purged).Time("cutoff", cutoff).Msg("Purged arrival records")
	return c.JSON(fiber.Map{
		"purged": purged,
		"cutoff": cutoff,
	})
}

// mapCoreError translates the core's sentinel errors into HTTP responses.
// Conflicting in-flight work maps to 409, data problems to 422, and
// infrastructure failures to 502/503.
func mapCoreError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrModelNotTrained):
		return c.Status(409).JSON(fiber.Map{
			"error":   "model_not_trained",
			"message": "No trained model is available yet; train one first",
		})
	case errors.Is(err, models.ErrTrainingInProgress):
		return c.Status(409).JSON(fiber.Map{
			"error":   "training_in_progress",
			"message": "A training run is already in progress",
		})
	case errors.Is(err, models.ErrCollectionInProgress):
		return c.Status(409).JSON(fiber.Map{
			"error":   "collection_in_progress",
			"message": "A collection cycle is already in progress",
		})
	case errors.Is(err, models.ErrInsufficientData):
		return c.Status(422).JSON(fiber.Map{
			"error":   "insufficient_data",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrProviderUnavailable):
		return c.Status(502).JSON(fiber.Map{
			"error":   "provider_unavailable",
			"message": "The upstream transit data provider is unavailable",
		})
	case errors.Is(err, models.ErrStoreUnavailable):
		return c.Status(503).JSON(fiber.Map{
			"error":   "store_unavailable",
			"message": "The historical store is unavailable",
		})
	default:
		log.Error().Err(err).Msg("Unhandled core error")
		return c.Status(500).JSON(fiber.Map{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
