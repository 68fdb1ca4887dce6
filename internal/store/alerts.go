package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/buswatch/buswatch_core/internal/models"
)

// CreateAlertIfAbsent inserts a new alert unless an unresolved alert of the
// same kind already exists. The check-then-create is a single conditional
// write backed by the partial unique index, so the one-active-per-kind
// invariant holds under concurrent evaluators.
func (s *Store) CreateAlertIfAbsent(ctx context.Context, kind models.AlertKind, severity models.Severity, message string, details json.RawMessage) (*models.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO congestion_alert (kind, severity, message, details)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind) WHERE resolved_at IS NULL DO NOTHING
		RETURNING id, created_at`,
		string(kind), string(severity), message, details,
	)

	alert := models.Alert{
		Kind:     kind,
		Severity: severity,
		Message:  message,
		Details:  details,
	}
	err := row.Scan(&alert.ID, &alert.CreatedAt)
	if err == pgx.ErrNoRows {
		// An active alert of this kind already exists; suppressed.
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("create alert", err)
	}

	return &alert, nil
}

// RefreshAlertDetail updates the detail payload of the active alert of a
// kind, if one exists. A repeat detection refreshes rather than duplicates.
func (s *Store) RefreshAlertDetail(ctx context.Context, kind models.AlertKind, details json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE congestion_alert SET details = $2
		WHERE kind = $1 AND resolved_at IS NULL`,
		string(kind), details,
	)
	if err != nil {
		return storeErr("refresh alert detail", err)
	}
	return nil
}

// ListActiveAlerts returns unresolved alerts, newest first
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, severity, message, details, created_at, resolved_at, notification_sent
		FROM congestion_alert
		WHERE resolved_at IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, storeErr("list active alerts", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ResolveAlert sets the resolution timestamp of one alert by id
func (s *Store) ResolveAlert(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE congestion_alert SET resolved_at = now()
		WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return storeErr("resolve alert", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ResolveAlertsOfKind resolves the active alert of the given kind, if any.
// Used by reconciliation when a rule stops firing.
func (s *Store) ResolveAlertsOfKind(ctx context.Context, kind models.AlertKind) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE congestion_alert SET resolved_at = now()
		WHERE kind = $1 AND resolved_at IS NULL`, string(kind))
	if err != nil {
		return 0, storeErr("resolve alerts of kind", err)
	}
	return tag.RowsAffected(), nil
}

// MarkAlertNotified records that the notification channel accepted the alert
func (s *Store) MarkAlertNotified(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE congestion_alert SET notification_sent = true WHERE id = $1`, id)
	if err != nil {
		return storeErr("mark alert notified", err)
	}
	return nil
}

func scanAlerts(rows pgx.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var kind, severity string
		if err := rows.Scan(&a.ID, &kind, &severity, &a.Message, &a.Details,
			&a.CreatedAt, &a.ResolvedAt, &a.NotificationSent); err != nil {
			return nil, storeErr("scan alert", err)
		}
		a.Kind = models.AlertKind(kind)
		a.Severity = models.Severity(severity)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("scan alerts", err)
	}
	return alerts, nil
}
