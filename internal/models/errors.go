package models

import "errors"

// Error taxonomy for the analytics and alerting core. Callers distinguish
// these with errors.Is; the HTTP layer maps them to response codes.
var (
	// ErrProviderUnavailable means the upstream transit API was down, rate
	// limited or returned garbage. The collector absorbs it per tick.
	ErrProviderUnavailable = errors.New("transit data provider unavailable")

	// ErrStoreUnavailable means the persistence layer failed. It is fatal to
	// the calling operation and must never be masked as empty data.
	ErrStoreUnavailable = errors.New("historical store unavailable")

	// ErrInsufficientData means training was requested before the minimum
	// sample threshold was reached.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrModelNotTrained means inference was requested with no active model.
	ErrModelNotTrained = errors.New("no trained model available")

	// ErrTrainingInProgress means a training run was rejected because one is
	// already in flight.
	ErrTrainingInProgress = errors.New("model training already in progress")

	// ErrCollectionInProgress means a manual collection overlapped the
	// scheduled one; ticks are single flight per process.
	ErrCollectionInProgress = errors.New("collection already in progress")

	// ErrNotificationFailure means an alert notification could not be
	// delivered. The alert itself persists regardless.
	ErrNotificationFailure = errors.New("notification delivery failed")
)
