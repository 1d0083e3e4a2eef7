package openmeteo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// HourlyVariables are the series requested from the archive endpoint. The
// response schema below is typed to exactly this set.
var HourlyVariables = []string{"temperature_2m", "wind_speed_10m", "precipitation"}

// ErrSchema reports a response that does not match the documented archive
// shape: wrong entry count, or hourly series of unequal length.
var ErrSchema = errors.New("openmeteo: response schema mismatch")

// FetchError reports a request whose retry budget was exhausted. It is fatal
// for the batch/month pair it covers; the orchestrator aborts the run on it.
type FetchError struct {
	Locations int
	Range     domain.DateRange
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("openmeteo: fetch for %d locations over %s failed after retries: %v",
		e.Locations, e.Range, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds the client settings. Zero BaseURL selects the public archive
// endpoint.
type Config struct {
	BaseURL    string
	Timezone   string
	MaxRetries int
	RetryDelay time.Duration // linear backoff: RetryDelay * attempt
	Timeout    time.Duration // per-request wall clock
}

// Client fetches hourly historical weather from the Open-Meteo archive API.
// One call issues one HTTP request covering a whole location batch and date
// range; transient failures (429, 5xx, transport) are retried with linear
// backoff.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an archive API client.
func NewClient(cfg Config, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://archive-api.open-meteo.com/v1/archive"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchHourly requests the hourly series for every location over r and
// returns one series per location, in submission order. It fails with a
// *FetchError once MaxRetries attempts are spent, and without retrying on
// non-transient responses (4xx other than 429, malformed payloads).
func (c *Client) FetchHourly(ctx context.Context, locations []domain.Location, r domain.DateRange) ([]domain.LocationSeries, error) {
	if len(locations) == 0 {
		return nil, nil
	}

	fullURL := c.requestURL(locations, r)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			c.logger.Info("retrying archive request",
				"locations", len(locations),
				"range", r.String(),
				"attempt", attempt,
				"max_retries", c.cfg.MaxRetries,
			)
		}

		series, retryable, err := c.doRequest(ctx, fullURL, locations)
		if err == nil {
			return series, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.metrics.FetchRetries.Inc()
		delay := c.cfg.RetryDelay * time.Duration(attempt)
		c.logger.Warn("archive request failed, backing off",
			"error", err,
			"delay", delay,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
		)
		c.clock.Sleep(delay)
	}

	return nil, &FetchError{Locations: len(locations), Range: r, Err: lastErr}
}

func (c *Client) requestURL(locations []domain.Location, r domain.DateRange) string {
	lats := make([]string, len(locations))
	lons := make([]string, len(locations))
	for i, loc := range locations {
		lats[i] = strconv.FormatFloat(loc.Latitude, 'f', -1, 64)
		lons[i] = strconv.FormatFloat(loc.Longitude, 'f', -1, 64)
	}

	params := url.Values{
		"latitude":   {strings.Join(lats, ",")},
		"longitude":  {strings.Join(lons, ",")},
		"start_date": {r.Start.Format(domain.DateLayout)},
		"end_date":   {r.End.Format(domain.DateLayout)},
		"hourly":     {strings.Join(HourlyVariables, ",")},
		"timezone":   {c.cfg.Timezone},
	}
	return c.cfg.BaseURL + "?" + params.Encode()
}

// doRequest performs a single attempt. retryable reports whether the failure
// is transient (rate limit, server error, transport error).
func (c *Client) doRequest(ctx context.Context, fullURL string, locations []domain.Location) (series []domain.LocationSeries, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	c.metrics.FetchRequests.Inc()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("archive API rate limited: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("archive API server error: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("archive API error: status %d: %s", resp.StatusCode, body)
	}

	entries, err := decodeResponse(resp.Body)
	if err != nil {
		return nil, false, err
	}

	series, err = alignSeries(entries, locations)
	if err != nil {
		return nil, false, err
	}

	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	return series, false, nil
}

// Archive API response types. The hourly block holds parallel arrays keyed by
// variable name, index-aligned to the shared time array.

type locationResponse struct {
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	Hourly    hourlyBlock `json:"hourly"`
}

type hourlyBlock struct {
	Time          []string  `json:"time"`
	Temperature2m []float64 `json:"temperature_2m"`
	WindSpeed10m  []float64 `json:"wind_speed_10m"`
	Precipitation []float64 `json:"precipitation"`
}

// decodeResponse accepts both response forms: a JSON array for multi-location
// requests and a bare object when only one location was submitted.
func decodeResponse(body io.Reader) ([]locationResponse, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []locationResponse
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return entries, nil
	}

	var single locationResponse
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return []locationResponse{single}, nil
}

// alignSeries validates the response against the submitted batch: one entry
// per location in submission order, and all hourly series the same length as
// the time series.
func alignSeries(entries []locationResponse, locations []domain.Location) ([]domain.LocationSeries, error) {
	if len(entries) != len(locations) {
		return nil, fmt.Errorf("%w: %d entries for %d locations", ErrSchema, len(entries), len(locations))
	}

	series := make([]domain.LocationSeries, len(entries))
	for i, entry := range entries {
		n := len(entry.Hourly.Time)
		if len(entry.Hourly.Temperature2m) != n ||
			len(entry.Hourly.WindSpeed10m) != n ||
			len(entry.Hourly.Precipitation) != n {
			return nil, fmt.Errorf("%w: unequal hourly series lengths at entry %d", ErrSchema, i)
		}
		series[i] = domain.LocationSeries{
			Location:      locations[i],
			Times:         entry.Hourly.Time,
			Temperature:   entry.Hourly.Temperature2m,
			WindSpeed:     entry.Hourly.WindSpeed10m,
			Precipitation: entry.Hourly.Precipitation,
		}
	}
	return series, nil
}
