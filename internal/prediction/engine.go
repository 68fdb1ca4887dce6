package prediction

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/metrics"
	"github.com/buswatch/buswatch_core/internal/models"
)

// RecordSource provides the historical records training reads
type RecordSource interface {
	QueryArrivals(ctx context.Context, q models.ArrivalQuery) ([]models.ArrivalRecord, error)
}

// ModelStore owns the single active-model slot
type ModelStore interface {
	SaveModel(ctx context.Context, model *models.TrainedModel) error
	LoadActiveModel(ctx context.Context) (*models.TrainedModel, error)
}

// Engine ties training and inference to the historical store. Training is
// heavyweight and single in flight: a concurrent request is rejected with
// ErrTrainingInProgress instead of queuing silently.
type Engine struct {
	src      RecordSource
	store    ModelStore
	training atomic.Bool
	now      func() time.Time
}

// NewEngine creates a prediction engine
func NewEngine(src RecordSource, store ModelStore) *Engine {
	return &Engine{src: src, store: store, now: time.Now}
}

// Train fits a fresh model from the lookback window and atomically promotes
// it to the active slot. Retraining is on demand only; there is no automatic
// drift-triggered retrain.
func (e *Engine) Train(ctx context.Context, lookbackDays int) (*models.TrainedModel, error) {
	if !e.training.CompareAndSwap(false, true) {
		return nil, models.ErrTrainingInProgress
	}
	defer e.training.Store(false)

	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	now := e.now().UTC()

	records, err := e.src.QueryArrivals(ctx, models.ArrivalQuery{
		From: now.AddDate(0, 0, -lookbackDays),
		To:   now.Add(time.Minute),
	})
	if err != nil {
		metrics.ObserveTraining("error")
		return nil, fmt.Errorf("train: %w", err)
	}

	model, err := Fit(records, now)
	if err != nil {
		metrics.ObserveTraining("insufficient_data")
		return nil, err
	}

	if err := e.store.SaveModel(ctx, model); err != nil {
		metrics.ObserveTraining("error")
		return nil, fmt.Errorf("train: %w", err)
	}
	metrics.ObserveTraining("success")

	log.Info().
		Int("records", model.Metrics.TrainingRecords).
		Float64("test_r2", model.Metrics.TestR2).
		Float64("mae", model.Metrics.MeanAbsoluteError).
		Msg("Delay model trained")

	return model, nil
}

// Predict emits one delay forecast per input arrival using the active model.
// Fails with ErrModelNotTrained when no training has succeeded yet; a zero
// prediction and a missing model are different things.
func (e *Engine) Predict(ctx context.Context, arrivals []models.ArrivalRecord) ([]models.Prediction, error) {
	model, err := e.store.LoadActiveModel(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	predictions := make([]models.Prediction, 0, len(arrivals))
	for _, a := range arrivals {
		predictions = append(predictions, models.Prediction{
			StopCode:       a.StopCode,
			ServiceNo:      a.ServiceNo,
			Load:           a.Load,
			PredictedDelay: PredictOne(model, a.StopCode, a.ServiceNo, a.Load, now),
			Confidence:     model.Confidence,
		})
	}

	return predictions, nil
}
