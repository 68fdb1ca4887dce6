// Package lta is the boundary adapter for the LTA DataMall bus arrival API.
// The upstream payload is loosely typed; everything leaving this package has
// been validated into a strict shape, and malformed entries are dropped here
// rather than propagated downstream.
package lta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/buswatch/buswatch_core/internal/models"
)

const defaultBaseURL = "https://datamall2.mytransport.sg/ltaodataservice/v3/BusArrival"

// Default tracked stop set, overridable with LTA_MONITORED_STOPS
var defaultStops = []string{
	"01012", "01013", "01019", "01029", "01039",
	"01109", "01112", "01113", "01121", "01129",
}

// Config holds provider configuration
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Stops   []string
}

// LoadConfigFromEnv loads provider configuration from environment variables
func LoadConfigFromEnv() *Config {
	timeout, err := time.ParseDuration(getEnv("LTA_TIMEOUT", "10s"))
	if err != nil {
		timeout = 10 * time.Second
	}

	stops := defaultStops
	if raw := os.Getenv("LTA_MONITORED_STOPS"); raw != "" {
		stops = nil
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				stops = append(stops, s)
			}
		}
	}

	return &Config{
		APIKey:  os.Getenv("LTA_API_KEY"),
		BaseURL: getEnv("LTA_API_URL", defaultBaseURL),
		Timeout: timeout,
		Stops:   stops,
	}
}

// Arrival is one validated (stop, service, estimated arrival, load) tuple
type Arrival struct {
	StopCode         string
	ServiceNo        string
	EstimatedArrival time.Time
	Load             models.LoadStatus
}

// Client fetches arrival snapshots for a bounded set of tracked stops
type Client struct {
	cfg  *Config
	http *http.Client
}

// NewClient creates a provider client. The HTTP timeout bounds each per-stop
// request; this is the only hard timeout inside a collector tick.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Stops returns the tracked stop set
func (c *Client) Stops() []string {
	return c.cfg.Stops
}

// FetchSnapshot pulls the current arrival snapshot across the tracked stop
// set. Individual stop failures are logged and skipped; the call fails with
// ErrProviderUnavailable only when no stop could be fetched at all.
func (c *Client) FetchSnapshot(ctx context.Context) ([]Arrival, error) {
	var (
		arrivals []Arrival
		fetched  int
	)

	for _, stop := range c.cfg.Stops {
		stopArrivals, err := c.fetchStop(ctx, stop)
		if err != nil {
			log.Warn().Err(err).Str("stop", stop).Msg("Failed to fetch stop arrivals")
			continue
		}
		fetched++
		arrivals = append(arrivals, stopArrivals...)
	}

	if fetched == 0 {
		return nil, fmt.Errorf("%w: all %d stops failed", models.ErrProviderUnavailable, len(c.cfg.Stops))
	}

	return arrivals, nil
}

func (c *Client) fetchStop(ctx context.Context, stopCode string) ([]Arrival, error) {
	url := fmt.Sprintf("%s?BusStopCode=%s", c.cfg.BaseURL, stopCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("AccountKey", c.cfg.APIKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rate limited", models.ErrProviderUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", models.ErrProviderUnavailable, resp.StatusCode)
	}

	var payload busArrivalResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %s", models.ErrProviderUnavailable, err)
	}

	return parseServices(stopCode, payload.Services), nil
}

// busArrivalResponse mirrors the loosely typed DataMall shape
type busArrivalResponse struct {
	BusStopCode string    `json:"BusStopCode"`
	Services    []service `json:"Services"`
}

type service struct {
	ServiceNo string  `json:"ServiceNo"`
	NextBus   nextBus `json:"NextBus"`
}

type nextBus struct {
	EstimatedArrival string `json:"EstimatedArrival"`
	Load             string `json:"Load"`
}

// parseServices validates raw service entries into Arrivals. Entries with a
// missing service number, an unparsable arrival time or an unknown load
// classification are skipped.
func parseServices(stopCode string, services []service) []Arrival {
	var arrivals []Arrival
	for _, svc := range services {
		if svc.ServiceNo == "" || svc.NextBus.EstimatedArrival == "" {
			continue
		}

		estimated, err := time.Parse(time.RFC3339, svc.NextBus.EstimatedArrival)
		if err != nil {
			log.Debug().Str("stop", stopCode).Str("service", svc.ServiceNo).
				Str("estimated", svc.NextBus.EstimatedArrival).Msg("Skipping unparsable arrival time")
			continue
		}

		load := models.LoadStatus(svc.NextBus.Load)
		if !load.Valid() {
			continue
		}

		arrivals = append(arrivals, Arrival{
			StopCode:         stopCode,
			ServiceNo:        svc.ServiceNo,
			EstimatedArrival: estimated,
			Load:             load,
		})
	}
	return arrivals
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
