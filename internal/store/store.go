// Package store implements the historical time-series repository backing the
// analytics engine: arrival records, materialised hourly statistics, the
// alert log and the active-model slot, all on PostgreSQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buswatch/buswatch_core/internal/models"
)

// Store wraps a pgx pool with the persistence operations of the core.
// All writes are durable before the call returns.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store on top of an initialized connection pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// storeErr tags a persistence failure so callers can distinguish "store is
// down" from "no data" with errors.Is(err, models.ErrStoreUnavailable).
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %s", op, models.ErrStoreUnavailable, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS bus_arrival (
	id                BIGSERIAL PRIMARY KEY,
	stop_code         TEXT NOT NULL,
	service_no        TEXT NOT NULL,
	estimated_arrival TIMESTAMPTZ NOT NULL,
	load_status       TEXT NOT NULL,
	delay_minutes     DOUBLE PRECISION NOT NULL,
	recorded_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bus_arrival_recorded_at ON bus_arrival (recorded_at);
CREATE INDEX IF NOT EXISTS idx_bus_arrival_stop ON bus_arrival (stop_code);
CREATE INDEX IF NOT EXISTS idx_bus_arrival_service ON bus_arrival (service_no);

CREATE TABLE IF NOT EXISTS hourly_statistic (
	hour_start    TIMESTAMPTZ PRIMARY KEY,
	total_buses   INTEGER NOT NULL,
	mean_delay    DOUBLE PRECISION NOT NULL,
	median_delay  DOUBLE PRECISION NOT NULL,
	severe_delays INTEGER NOT NULL,
	lsd_count     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS congestion_alert (
	id                BIGSERIAL PRIMARY KEY,
	kind              TEXT NOT NULL,
	severity          TEXT NOT NULL,
	message           TEXT NOT NULL,
	details           JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	resolved_at       TIMESTAMPTZ,
	notification_sent BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_alert_kind
	ON congestion_alert (kind) WHERE resolved_at IS NULL;

CREATE TABLE IF NOT EXISTS trained_model (
	id         BIGSERIAL PRIMARY KEY,
	trained_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	artifact   JSONB NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT false
);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_model
	ON trained_model (active) WHERE active;
`

// EnsureSchema creates the four core tables if they do not exist. The partial
// unique indexes back the one-active-per-kind alert invariant and the
// single-active-model slot at the database level.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return storeErr("ensure schema", err)
	}
	return nil
}

// HealthCheck pings the underlying pool
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}
