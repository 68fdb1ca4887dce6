package models

import (
	"encoding/json"
	"time"
)

// LoadStatus represents the crowding classification of an arriving bus,
// ordered from least to most crowded
type LoadStatus string

const (
	LoadSeatsAvailable    LoadStatus = "SEA" // seats available
	LoadStandingAvailable LoadStatus = "SDA" // standing available
	LoadLimitedStanding   LoadStatus = "LSD" // limited standing
)

// Rank returns the ordering of a load status (SEA < SDA < LSD).
// Unknown statuses rank below SEA.
func (l LoadStatus) Rank() int {
	switch l {
	case LoadSeatsAvailable:
		return 0
	case LoadStandingAvailable:
		return 1
	case LoadLimitedStanding:
		return 2
	default:
		return -1
	}
}

// Valid reports whether the load status is one of the known categories
func (l LoadStatus) Valid() bool {
	return l.Rank() >= 0
}

// CongestionLevel classifies current network conditions against baseline
type CongestionLevel string

const (
	CongestionLow      CongestionLevel = "LOW"
	CongestionModerate CongestionLevel = "MODERATE"
	CongestionHigh     CongestionLevel = "HIGH"
	CongestionSevere   CongestionLevel = "SEVERE"
)

// AlertKind identifies the rule that produced an alert
type AlertKind string

const (
	AlertSevereCongestion AlertKind = "SEVERE_CONGESTION"
	AlertUnusualDelay     AlertKind = "UNUSUAL_DELAY"
	AlertHighLSDRatio     AlertKind = "HIGH_LSD_RATIO"
	AlertSystemAnomaly    AlertKind = "SYSTEM_ANOMALY"
)

// AlertKinds lists every rule kind in evaluation order
var AlertKinds = []AlertKind{
	AlertSevereCongestion,
	AlertUnusualDelay,
	AlertHighLSDRatio,
	AlertSystemAnomaly,
}

// Severity represents alert severity, ordered info < warning < critical
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// ArrivalRecord is one observed bus arrival at one stop at one sampling
// instant. Records are immutable once written; all records from the same
// collector tick share a RecordedAt timestamp.
type ArrivalRecord struct {
	ID               int64      `json:"id,omitempty"`
	StopCode         string     `json:"stop_code"`
	ServiceNo        string     `json:"service_no"`
	EstimatedArrival time.Time  `json:"estimated_arrival"`
	Load             LoadStatus `json:"load"`
	DelayMinutes     float64    `json:"delay_minutes"`
	RecordedAt       time.Time  `json:"recorded_at"`
}

// ArrivalQuery filters a historical arrival read
type ArrivalQuery struct {
	From      time.Time
	To        time.Time
	StopCode  string // optional
	ServiceNo string // optional
}

// HourlyAggregate summarises one hour-of-day bucket. It is derived from
// ArrivalRecords and only ever materialised as a cache, never authored.
type HourlyAggregate struct {
	Hour         int       `json:"hour"`
	HourStart    time.Time `json:"hour_start,omitempty"`
	TotalBuses   int       `json:"total_buses"`
	MeanDelay    float64   `json:"mean_delay"`
	MedianDelay  float64   `json:"median_delay"`
	SevereDelays int       `json:"severe_delays"`
	LSDCount     int       `json:"lsd_count"`
	LSDRatio     float64   `json:"lsd_ratio"`
	SampleCount  int       `json:"sample_count"`
}

// Alert is a detected abnormal condition. Alerts are never deleted, only
// marked resolved; at most one unresolved alert exists per kind.
type Alert struct {
	ID               int64           `json:"id"`
	Kind             AlertKind       `json:"kind"`
	Severity         Severity        `json:"severity"`
	Message          string          `json:"message"`
	Details          json.RawMessage `json:"details,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	NotificationSent bool            `json:"notification_sent"`
}

// Active reports whether the alert is still unresolved
func (a Alert) Active() bool {
	return a.ResolvedAt == nil
}

// TrainingMetrics holds the held-out evaluation of a trained model
type TrainingMetrics struct {
	TrainingRecords   int     `json:"training_records"`
	TrainRecords      int     `json:"train_records"`
	TestRecords       int     `json:"test_records"`
	TrainR2           float64 `json:"train_r2_score"`
	TestR2            float64 `json:"test_r2_score"`
	MeanAbsoluteError float64 `json:"mean_absolute_error"`
	RMSE              float64 `json:"rmse"`
}

// TrainedModel is one fitted delay-prediction artifact plus its training
// metadata. Exactly one model is active at a time; a newly saved model
// replaces the previous one wholesale.
type TrainedModel struct {
	ID        int64           `json:"id,omitempty"`
	TrainedAt time.Time       `json:"trained_at"`
	Weights   []float64       `json:"weights"` // feature weights, intercept last
	StopCodes map[string]int  `json:"stop_codes"`
	Routes    map[string]int  `json:"routes"`
	Loads     map[string]int  `json:"loads"`
	Metrics   TrainingMetrics `json:"metrics"`
	// Confidence is derived once from the held-out error bound and reused
	// for every prediction made with this model.
	Confidence float64 `json:"confidence"`
}

// Prediction is one per-arrival delay forecast
type Prediction struct {
	StopCode       string     `json:"stop_code"`
	ServiceNo      string     `json:"service_no"`
	Load           LoadStatus `json:"load"`
	PredictedDelay float64    `json:"predicted_delay_minutes"`
	Confidence     float64    `json:"confidence"`
}
