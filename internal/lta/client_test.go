package lta

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buswatch/buswatch_core/internal/models"
)

func TestParseServices(t *testing.T) {
	valid := time.Date(2026, 8, 24, 8, 35, 0, 0, time.UTC).Format(time.RFC3339)

	tests := []struct {
		name     string
		services []service
		expected int
	}{
		{
			name: "Valid entries pass through",
			services: []service{
				{ServiceNo: "12", NextBus: nextBus{EstimatedArrival: valid, Load: "SEA"}},
				{ServiceNo: "190", NextBus: nextBus{EstimatedArrival: valid, Load: "LSD"}},
			},
			expected: 2,
		},
		{
			name: "Missing service number skipped",
			services: []service{
				{ServiceNo: "", NextBus: nextBus{EstimatedArrival: valid, Load: "SEA"}},
				{ServiceNo: "12", NextBus: nextBus{EstimatedArrival: valid, Load: "SEA"}},
			},
			expected: 1,
		},
		{
			name: "Empty arrival time skipped",
			services: []service{
				{ServiceNo: "12", NextBus: nextBus{EstimatedArrival: "", Load: "SEA"}},
			},
			expected: 0,
		},
		{
			name: "Unparsable arrival time skipped",
			services: []service{
				{ServiceNo: "12", NextBus: nextBus{EstimatedArrival: "yesterday", Load: "SEA"}},
			},
			expected: 0,
		},
		{
			name: "Unknown load skipped",
			services: []service{
				{ServiceNo: "12", NextBus: nextBus{EstimatedArrival: valid, Load: "FULL"}},
			},
			expected: 0,
		},
		{
			name:     "Empty input",
			services: nil,
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arrivals := parseServices("01012", tt.services)
			assert.Len(t, arrivals, tt.expected)
			for _, a := range arrivals {
				assert.Equal(t, "01012", a.StopCode)
				assert.True(t, a.Load.Valid())
			}
		})
	}
}

func TestFetchSnapshot(t *testing.T) {
	estimated := time.Now().UTC().Add(8 * time.Minute).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("AccountKey"))

		stop := r.URL.Query().Get("BusStopCode")
		fmt.Fprintf(w, `{
			"BusStopCode": %q,
			"Services": [
				{"ServiceNo": "12", "NextBus": {"EstimatedArrival": %q, "Load": "SEA"}},
				{"ServiceNo": "190", "NextBus": {"EstimatedArrival": %q, "Load": "SDA"}}
			]
		}`, stop, estimated, estimated)
	}))
	defer server.Close()

	client := NewClient(&Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Stops:   []string{"01012", "01013"},
	})

	arrivals, err := client.FetchSnapshot(context.Background())
	require.NoError(t, err)

	assert.Len(t, arrivals, 4)
	assert.Equal(t, "01012", arrivals[0].StopCode)
	assert.Equal(t, "01013", arrivals[2].StopCode)
	assert.Equal(t, models.LoadSeatsAvailable, arrivals[0].Load)
}

func TestFetchSnapshotPartialFailure(t *testing.T) {
	estimated := time.Now().UTC().Add(8 * time.Minute).Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("BusStopCode") == "01013" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{
			"BusStopCode": "01012",
			"Services": [{"ServiceNo": "12", "NextBus": {"EstimatedArrival": %q, "Load": "SEA"}}]
		}`, estimated)
	}))
	defer server.Close()

	client := NewClient(&Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Stops:   []string{"01012", "01013"},
	})

	arrivals, err := client.FetchSnapshot(context.Background())

	// One healthy stop keeps the snapshot usable.
	require.NoError(t, err)
	assert.Len(t, arrivals, 1)
}

func TestFetchSnapshotAllStopsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(&Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Stops:   []string{"01012", "01013"},
	})

	arrivals, err := client.FetchSnapshot(context.Background())

	assert.Nil(t, arrivals)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestFetchStopRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(&Config{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
		Stops:   []string{"01012"},
	})

	_, err := client.fetchStop(context.Background(), "01012")

	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LTA_API_KEY", "abc")
	t.Setenv("LTA_MONITORED_STOPS", "01012, 01013,,01019")
	t.Setenv("LTA_TIMEOUT", "3s")

	cfg := LoadConfigFromEnv()

	assert.Equal(t, "abc", cfg.APIKey)
	assert.Equal(t, []string{"01012", "01013", "01019"}, cfg.Stops)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}
