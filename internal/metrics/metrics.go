// Package metrics exposes Prometheus instrumentation for the collector and
// the alert engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels ticks that appended records.
	OutcomeSuccess = "success"
	// OutcomeSkipped labels ticks skipped on provider failure.
	OutcomeSkipped = "skipped"
)

var (
	collectorTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "collector_ticks_total",
			Help:      "Total collector ticks, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	recordsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "arrival_records_appended_total",
			Help:      "Arrival records appended to the historical store.",
		},
	)

	alertsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "alerts_created_total",
			Help:      "Alerts created, partitioned by kind.",
		},
		[]string{"kind"},
	)

	alertsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "alerts_resolved_total",
			Help:      "Alerts auto-resolved by reconciliation, partitioned by kind.",
		},
		[]string{"kind"},
	)

	notificationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "notification_failures_total",
			Help:      "Alert notifications that could not be delivered.",
		},
	)

	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buswatch",
			Name:      "model_training_runs_total",
			Help:      "Model training attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches buswatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		collectorTicksTotal,
		recordsAppendedTotal,
		alertsCreatedTotal,
		alertsResolvedTotal,
		notificationFailuresTotal,
		trainingRunsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one collector tick and the records it appended.
func ObserveTick(outcome string, records int) {
	collectorTicksTotal.WithLabelValues(outcome).Inc()
	if records > 0 {
		recordsAppendedTotal.Add(float64(records))
	}
}

// ObserveAlertCreated records a newly created alert.
func ObserveAlertCreated(kind string) {
	alertsCreatedTotal.WithLabelValues(kind).Inc()
}

// ObserveAlertResolved records an auto-resolved alert.
func ObserveAlertResolved(kind string) {
	alertsResolvedTotal.WithLabelValues(kind).Inc()
}

// ObserveNotificationFailure records a failed alert notification.
func ObserveNotificationFailure() {
	notificationFailuresTotal.Inc()
}

// ObserveTraining records a model training attempt outcome.
func ObserveTraining(outcome string) {
	trainingRunsTotal.WithLabelValues(outcome).Inc()
}
