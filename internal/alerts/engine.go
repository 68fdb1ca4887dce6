// Package alerts evaluates threshold rules against current conditions and
// manages the alert lifecycle: creation, deduplication, auto-resolution and
// notification dispatch. Alerts form an append-only log; at most one active
// alert exists per kind.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/analytics"
	"github.com/buswatch/buswatch_core/internal/metrics"
	"github.com/buswatch/buswatch_core/internal/models"
)

// Config holds alert rule thresholds
type Config struct {
	// CriticalDelayMarginPct fires UNUSUAL_DELAY when the delay change
	// percentage exceeds it. Default +50%.
	CriticalDelayMarginPct float64
	// LSDRatioCeiling fires HIGH_LSD_RATIO when the fraction of current
	// arrivals at the worst load classification exceeds it. Default 0.3.
	LSDRatioCeiling float64
}

// DefaultConfig returns the standard rule thresholds
func DefaultConfig() Config {
	return Config{
		CriticalDelayMarginPct: 50,
		LSDRatioCeiling:        0.3,
	}
}

// AlertStore is the slice of the historical store the engine reconciles
// against. CreateAlertIfAbsent must be atomic per kind.
type AlertStore interface {
	CreateAlertIfAbsent(ctx context.Context, kind models.AlertKind, severity models.Severity, message string, details json.RawMessage) (*models.Alert, error)
	RefreshAlertDetail(ctx context.Context, kind models.AlertKind, details json.RawMessage) error
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
	ResolveAlertsOfKind(ctx context.Context, kind models.AlertKind) (int64, error)
	MarkAlertNotified(ctx context.Context, id int64) error
}

// TrendSource supplies the current-vs-historical evaluation
type TrendSource interface {
	CurrentVsHistorical(ctx context.Context) (*analytics.Comparison, error)
}

// Notifier is the outbound notification channel. Delivery failures are
// non-fatal to the engine.
type Notifier interface {
	Notify(ctx context.Context, alert models.Alert) error
}

// Engine applies the alert rules and reconciles the result against the
// currently active alert set.
type Engine struct {
	store    AlertStore
	trends   TrendSource
	notifier Notifier
	cfg      Config
}

// NewEngine creates an alert engine. notifier may be nil when no channel is
// configured.
func NewEngine(store AlertStore, trends TrendSource, notifier Notifier, cfg Config) *Engine {
	if cfg.CriticalDelayMarginPct <= 0 {
		cfg.CriticalDelayMarginPct = 50
	}
	if cfg.LSDRatioCeiling <= 0 {
		cfg.LSDRatioCeiling = 0.3
	}
	return &Engine{store: store, trends: trends, notifier: notifier, cfg: cfg}
}

// candidate is a rule that fired during one evaluation
type candidate struct {
	severity models.Severity
	message  string
	details  json.RawMessage
}

// Evaluate runs every rule against the latest conditions and reconciles:
// a firing rule with no active alert creates one (and dispatches a
// notification); a firing rule with an active alert refreshes its detail;
// a silent rule with an active alert resolves it. Returns the alerts
// created by this evaluation. Idempotent: repeated calls under unchanged
// conditions create nothing new.
func (e *Engine) Evaluate(ctx context.Context) ([]models.Alert, error) {
	cmp, err := e.trends.CurrentVsHistorical(ctx)
	if err != nil {
		return nil, fmt.Errorf("alert evaluation: %w", err)
	}

	fired := e.applyRules(cmp)

	active, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("alert evaluation: %w", err)
	}
	activeByKind := make(map[models.AlertKind]models.Alert, len(active))
	for _, a := range active {
		activeByKind[a.Kind] = a
	}

	var created []models.Alert
	for _, kind := range models.AlertKinds {
		cand, firing := fired[kind]
		_, isActive := activeByKind[kind]

		switch {
		case firing && !isActive:
			alert, err := e.store.CreateAlertIfAbsent(ctx, kind, cand.severity, cand.message, cand.details)
			if err != nil {
				return created, fmt.Errorf("alert evaluation: %w", err)
			}
			if alert == nil {
				// Lost the race to a concurrent evaluator; the invariant held.
				continue
			}
			metrics.ObserveAlertCreated(string(kind))
			log.Warn().Str("kind", string(kind)).Str("severity", string(cand.severity)).
				Msg(cand.message)
			e.dispatch(ctx, *alert)
			created = append(created, *alert)

		case firing && isActive:
			if err := e.store.RefreshAlertDetail(ctx, kind, cand.details); err != nil {
				return created, fmt.Errorf("alert evaluation: %w", err)
			}

		case !firing && isActive:
			resolved, err := e.store.ResolveAlertsOfKind(ctx, kind)
			if err != nil {
				return created, fmt.Errorf("alert evaluation: %w", err)
			}
			if resolved > 0 {
				metrics.ObserveAlertResolved(string(kind))
				log.Info().Str("kind", string(kind)).Msg("Alert condition cleared, resolved")
			}
		}
	}

	return created, nil
}

// applyRules evaluates every rule independently against the comparison
func (e *Engine) applyRules(cmp *analytics.Comparison) map[models.AlertKind]candidate {
	fired := make(map[models.AlertKind]candidate)

	if !cmp.InsufficientData {
		if cmp.CongestionLevel == models.CongestionSevere {
			fired[models.AlertSevereCongestion] = candidate{
				severity: models.SeverityCritical,
				message:  "Severe congestion detected across the network",
				details: mustDetails(map[string]interface{}{
					"avg_delay":            cmp.CurrentMeanDelay,
					"delay_change_percent": cmp.DelayChangePercent,
					"lsd_ratio":            cmp.CurrentLSDRatio,
				}),
			}
		}

		if cmp.DelayChangePercent > e.cfg.CriticalDelayMarginPct {
			fired[models.AlertUnusualDelay] = candidate{
				severity: models.SeverityCritical,
				message:  fmt.Sprintf("Traffic delays are %.0f%% higher than usual", cmp.DelayChangePercent),
				details: mustDetails(map[string]interface{}{
					"delay_change_percent": cmp.DelayChangePercent,
					"current_avg_delay":    cmp.CurrentMeanDelay,
					"historical_avg_delay": cmp.HistoricalMeanDelay,
				}),
			}
		}
	}

	if cmp.CurrentSampleCount > 0 && cmp.CurrentLSDRatio > e.cfg.LSDRatioCeiling {
		fired[models.AlertHighLSDRatio] = candidate{
			severity: models.SeverityWarning,
			message:  fmt.Sprintf("%.0f%% of buses are severely crowded", cmp.CurrentLSDRatio*100),
			details: mustDetails(map[string]interface{}{
				"lsd_ratio":    cmp.CurrentLSDRatio,
				"sample_count": cmp.CurrentSampleCount,
			}),
		}
	}

	// A snapshot with zero parsable arrivals where history expects traffic
	// signals upstream trouble, not quiet roads.
	if cmp.CurrentSampleCount == 0 && cmp.HistoricalSampleCount > 0 {
		fired[models.AlertSystemAnomaly] = candidate{
			severity: models.SeverityCritical,
			message:  "Latest snapshot contained no parsable arrivals despite historical activity",
			details: mustDetails(map[string]interface{}{
				"current_hour":             cmp.CurrentHour,
				"historical_sample_count":  cmp.HistoricalSampleCount,
			}),
		}
	}

	return fired
}

// dispatch attempts notification delivery for a newly created alert.
// Failure never rolls back alert creation.
func (e *Engine) dispatch(ctx context.Context, alert models.Alert) {
	if e.notifier == nil {
		return
	}

	if err := e.notifier.Notify(ctx, alert); err != nil {
		metrics.ObserveNotificationFailure()
		log.Error().Err(err).Int64("alert_id", alert.ID).
			Msg("Alert notification failed, alert persists")
		return
	}

	if err := e.store.MarkAlertNotified(ctx, alert.ID); err != nil {
		log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("Failed to mark alert notified")
	}
}

func mustDetails(payload map[string]interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
