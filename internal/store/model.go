package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/buswatch/buswatch_core/internal/models"
)

// SaveModel persists a freshly trained artifact and atomically makes it the
// active model. The previous model is retained for audit but never loaded
// again by LoadActiveModel.
func (s *Store) SaveModel(ctx context.Context, model *models.TrainedModel) error {
	artifact, err := json.Marshal(model)
	if err != nil {
		return storeErr("marshal model artifact", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("save model", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE trained_model SET active = false WHERE active`); err != nil {
		return storeErr("deactivate previous model", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO trained_model (trained_at, artifact, active)
		VALUES ($1, $2, true)
		RETURNING id`,
		model.TrainedAt, artifact,
	).Scan(&model.ID)
	if err != nil {
		return storeErr("insert model", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("save model", err)
	}

	return nil
}

// LoadActiveModel fetches the single active artifact. Returns
// models.ErrModelNotTrained when no training has succeeded yet.
func (s *Store) LoadActiveModel(ctx context.Context) (*models.TrainedModel, error) {
	var (
		id       int64
		artifact []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, artifact FROM trained_model WHERE active LIMIT 1`,
	).Scan(&id, &artifact)
	if err == pgx.ErrNoRows {
		return nil, models.ErrModelNotTrained
	}
	if err != nil {
		return nil, storeErr("load active model", err)
	}

	var model models.TrainedModel
	if err := json.Unmarshal(artifact, &model); err != nil {
		return nil, storeErr("decode model artifact", err)
	}
	model.ID = id

	return &model, nil
}
