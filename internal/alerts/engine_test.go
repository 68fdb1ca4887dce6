package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buswatch/buswatch_core/internal/analytics"
	"github.com/buswatch/buswatch_core/internal/models"
)

// fakeAlertStore mimics the conditional-write semantics of the real store:
// CreateAlertIfAbsent is atomic per kind, so concurrent evaluators race the
// same way they do against the partial unique index.
type fakeAlertStore struct {
	mu       sync.Mutex
	nextID   int64
	active   map[models.AlertKind]*models.Alert
	notified []int64
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{active: make(map[models.AlertKind]*models.Alert)}
}

func (f *fakeAlertStore) CreateAlertIfAbsent(_ context.Context, kind models.AlertKind, severity models.Severity, message string, details json.RawMessage) (*models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.active[kind]; exists {
		return nil, nil
	}
	f.nextID++
	alert := &models.Alert{
		ID:        f.nextID,
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	f.active[kind] = alert
	return alert, nil
}

func (f *fakeAlertStore) RefreshAlertDetail(_ context.Context, kind models.AlertKind, details json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if alert, exists := f.active[kind]; exists {
		alert.Details = details
	}
	return nil
}

func (f *fakeAlertStore) ListActiveAlerts(_ context.Context) ([]models.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var alerts []models.Alert
	for _, a := range f.active {
		alerts = append(alerts, *a)
	}
	return alerts, nil
}

func (f *fakeAlertStore) ResolveAlertsOfKind(_ context.Context, kind models.AlertKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.active[kind]; exists {
		delete(f.active, kind)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeAlertStore) MarkAlertNotified(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeAlertStore) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

type fakeTrendSource struct {
	cmp *analytics.Comparison
	err error
}

func (f *fakeTrendSource) CurrentVsHistorical(_ context.Context) (*analytics.Comparison, error) {
	return f.cmp, f.err
}

type fakeNotifier struct {
	delivered []models.Alert
	err       error
}

func (f *fakeNotifier) Notify(_ context.Context, alert models.Alert) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, alert)
	return nil
}

func severeComparison() *analytics.Comparison {
	return &analytics.Comparison{
		CurrentHour:           8,
		CurrentMeanDelay:      9.0,
		CurrentLSDRatio:       0.2,
		CurrentSampleCount:    40,
		HistoricalMeanDelay:   4.0,
		HistoricalSampleCount: 400,
		DelayChangePercent:    125,
		IsWorseThanUsual:      true,
		CongestionLevel:       models.CongestionSevere,
	}
}

func TestEvaluateCreatesOnceAcrossRepeats(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: severeComparison()}
	notifier := &fakeNotifier{}
	engine := NewEngine(store, trends, notifier, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	// 125% over baseline fires both the severe-congestion and unusual-delay rules.
	assert.Len(t, created, 2)
	assert.Len(t, notifier.delivered, 2)

	for i := 0; i < 3; i++ {
		again, err := engine.Evaluate(context.Background())
		require.NoError(t, err)
		assert.Empty(t, again, "unchanged conditions must not duplicate alerts")
	}

	assert.Len(t, store.active, 2)
	assert.Len(t, notifier.delivered, 2)
}

func TestEvaluateConcurrentEvaluatorsOneAlertPerKind(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: severeComparison()}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	const evaluators = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []models.Alert
	)
	for i := 0; i < evaluators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alerts, err := engine.Evaluate(context.Background())
			assert.NoError(t, err)

			mu.Lock()
			created = append(created, alerts...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Whatever the interleaving, each firing kind is created exactly once.
	byKind := make(map[models.AlertKind]int)
	for _, a := range created {
		byKind[a.Kind]++
	}
	assert.Equal(t, 1, byKind[models.AlertSevereCongestion])
	assert.Equal(t, 1, byKind[models.AlertUnusualDelay])
	assert.Len(t, created, 2)
	assert.Equal(t, 2, store.activeCount())
}

func TestEvaluateAutoResolvesWhenConditionClears(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: severeComparison()}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	_, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, store.active)

	trends.cmp = &analytics.Comparison{
		CurrentHour:           9,
		CurrentMeanDelay:      3.5,
		CurrentSampleCount:    40,
		HistoricalMeanDelay:   4.0,
		HistoricalSampleCount: 400,
		DelayChangePercent:    -12.5,
		CongestionLevel:       models.CongestionLow,
	}

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, store.active, "cleared conditions must resolve active alerts")
}

func TestEvaluateHighCongestionBelowCriticalMargin(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: &analytics.Comparison{
		CurrentHour:           8,
		CurrentMeanDelay:      5.5,
		CurrentLSDRatio:       0.25,
		CurrentSampleCount:    40,
		HistoricalMeanDelay:   4.0,
		HistoricalSampleCount: 400,
		DelayChangePercent:    37.5,
		IsWorseThanUsual:      true,
		CongestionLevel:       models.CongestionHigh,
	}}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	// HIGH is below the severe rule and +37.5% is below the critical margin.
	assert.Empty(t, created)
	assert.Empty(t, store.active)
}

func TestEvaluateHighCrowdingRatio(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: &analytics.Comparison{
		CurrentHour:           18,
		CurrentMeanDelay:      4.0,
		CurrentLSDRatio:       0.35,
		CurrentSampleCount:    20,
		HistoricalMeanDelay:   4.0,
		HistoricalSampleCount: 200,
		CongestionLevel:       models.CongestionLow,
	}}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, models.AlertHighLSDRatio, created[0].Kind)
	assert.Equal(t, models.SeverityWarning, created[0].Severity)
}

func TestEvaluateSystemAnomaly(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: &analytics.Comparison{
		CurrentHour:           8,
		CurrentSampleCount:    0,
		HistoricalSampleCount: 400,
		InsufficientData:      false,
	}}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, models.AlertSystemAnomaly, created[0].Kind)
	assert.Equal(t, models.SeverityCritical, created[0].Severity)
}

type fakeArrivalSource struct {
	history  []models.ArrivalRecord
	snapshot []models.ArrivalRecord
}

func (f *fakeArrivalSource) QueryArrivals(_ context.Context, _ models.ArrivalQuery) ([]models.ArrivalRecord, error) {
	return f.history, nil
}

func (f *fakeArrivalSource) LatestSnapshot(_ context.Context) ([]models.ArrivalRecord, error) {
	return f.snapshot, nil
}

func (f *fakeArrivalSource) HourlyAggregates(_ context.Context, _ int) ([]models.HourlyAggregate, error) {
	return nil, nil
}

func TestEvaluateSystemAnomalyThroughAnalyzer(t *testing.T) {
	now := time.Now().UTC()

	// History exists for the current hour, but the newest stored tick is
	// nearly an hour old: the collector has been appending nothing.
	history := []models.ArrivalRecord{
		{StopCode: "01012", ServiceNo: "12", Load: models.LoadSeatsAvailable,
			DelayMinutes: 4, RecordedAt: now.Add(-24 * time.Hour)},
		{StopCode: "01012", ServiceNo: "190", Load: models.LoadSeatsAvailable,
			DelayMinutes: 5, RecordedAt: now.Add(-48 * time.Hour)},
		// Covers the next hour bucket in case the clock rolls over mid-test.
		{StopCode: "01012", ServiceNo: "12", Load: models.LoadSeatsAvailable,
			DelayMinutes: 4, RecordedAt: now.Add(-23 * time.Hour)},
	}
	stale := []models.ArrivalRecord{
		{StopCode: "01012", ServiceNo: "12", Load: models.LoadSeatsAvailable,
			DelayMinutes: 4, RecordedAt: now.Add(-55 * time.Minute)},
	}

	analyzer := analytics.New(&fakeArrivalSource{history: history, snapshot: stale}, analytics.DefaultConfig())
	store := newFakeAlertStore()
	engine := NewEngine(store, analyzer, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, models.AlertSystemAnomaly, created[0].Kind)
	assert.Equal(t, models.SeverityCritical, created[0].Severity)
}

func TestEvaluateNoAnomalyWithoutHistory(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: &analytics.Comparison{
		CurrentHour:           8,
		CurrentSampleCount:    0,
		HistoricalSampleCount: 0,
		InsufficientData:      true,
	}}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	// A cold start with no history is not an anomaly.
	assert.Empty(t, created)
}

func TestEvaluateInsufficientDataSuppressesDelayRules(t *testing.T) {
	store := newFakeAlertStore()
	cmp := severeComparison()
	cmp.InsufficientData = true
	trends := &fakeTrendSource{cmp: cmp}
	engine := NewEngine(store, trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	// Only the crowding rule may fire without a baseline; 0.2 is below the
	// ceiling so nothing fires here.
	assert.Empty(t, created)
}

func TestEvaluateNotificationFailureKeepsAlert(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: severeComparison()}
	notifier := &fakeNotifier{err: models.ErrNotificationFailure}
	engine := NewEngine(store, trends, notifier, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Len(t, created, 2)
	assert.Len(t, store.active, 2, "delivery failure must not roll back creation")
	assert.Empty(t, store.notified)
}

func TestEvaluateMarksNotified(t *testing.T) {
	store := newFakeAlertStore()
	trends := &fakeTrendSource{cmp: severeComparison()}
	engine := NewEngine(store, trends, &fakeNotifier{}, DefaultConfig())

	created, err := engine.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.Len(t, store.notified, 2)
}

func TestEvaluateTrendSourceError(t *testing.T) {
	trends := &fakeTrendSource{err: errors.New("store down")}
	engine := NewEngine(newFakeAlertStore(), trends, nil, DefaultConfig())

	created, err := engine.Evaluate(context.Background())

	assert.Error(t, err)
	assert.Nil(t, created)
}
