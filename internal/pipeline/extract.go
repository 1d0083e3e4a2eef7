// Package pipeline drives the batched extraction of historical weather and
// the reconciliation of file-sourced rows against the city identity store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

// HourlyFetcher issues one archive API request for a batch of locations over
// a date range and returns one series per location, in submission order.
type HourlyFetcher interface {
	FetchHourly(ctx context.Context, locations []domain.Location, r domain.DateRange) ([]domain.LocationSeries, error)
}

// ObservationSink receives expanded observation rows. Flush is called once,
// after the last row of a successful run.
type ObservationSink interface {
	Name() string
	Write(ctx context.Context, obs domain.HourlyObservation) error
	Flush(ctx context.Context) error
}

// CityStore is the relational identity store as consumed by the pipeline.
type CityStore interface {
	ReadAllCities(ctx context.Context) ([]domain.CityRecord, error)
	InsertCities(ctx context.Context, cities []domain.CityRecord) error
	BulkInsertObservations(ctx context.Context, rows []domain.ObservationRow) error
}

// Extractor runs the fetch-expand-route loop: location batches outer, month
// sub-ranges inner, one API call per pair, with an unconditional throttle
// sleep between units of work. Execution is single-threaded and sequential;
// there is no checkpointing, so a failed run restarts from scratch.
type Extractor struct {
	fetcher   HourlyFetcher
	batchSize int
	throttle  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
}

// NewExtractor creates an Extractor. batchSize must be positive.
func NewExtractor(fetcher HourlyFetcher, batchSize int, throttle time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Extractor {
	return &Extractor{
		fetcher:   fetcher,
		batchSize: batchSize,
		throttle:  throttle,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once at least one unit of work has completed.
func (e *Extractor) CheckReadiness(_ context.Context) error {
	if !e.ready.Load() {
		return errors.New("extraction has not completed any request yet")
	}
	return nil
}

// Run extracts hourly observations for every location over r and routes each
// row to every sink. It returns the number of rows written per sink, keyed by
// sink name. Any fetch failure aborts the run; rows a streaming sink already
// wrote persist, while rows still buffered by a deferred sink are lost.
func (e *Extractor) Run(ctx context.Context, locations []domain.Location, r domain.DateRange, sinks []ObservationSink) (map[string]int, error) {
	counts := make(map[string]int, len(sinks))
	for _, sink := range sinks {
		counts[sink.Name()] = 0
	}
	if len(locations) == 0 {
		e.logger.Info("no locations to extract, nothing to do")
		return counts, nil
	}

	months := domain.MonthRanges(r)
	batches := domain.Chunk(locations, e.batchSize)
	total := len(batches) * len(months)

	e.logger.Info("extraction started",
		"locations", len(locations),
		"batches", len(batches),
		"months", len(months),
		"requests", total,
		"range", r.String(),
	)
	e.metrics.RunInProgress.Set(1)
	defer e.metrics.RunInProgress.Set(0)

	unit := 0
	for _, batch := range batches {
		for _, month := range months {
			if err := ctx.Err(); err != nil {
				return counts, err
			}

			series, err := e.fetcher.FetchHourly(ctx, batch, month)
			if err != nil {
				return counts, fmt.Errorf("fetch %d locations for %s: %w", len(batch), month, err)
			}

			if err := e.route(ctx, series, sinks, counts); err != nil {
				return counts, err
			}

			unit++
			e.ready.Store(true)
			e.logger.Info("request complete",
				"batch_size", len(batch),
				"range", month.String(),
				"progress", fmt.Sprintf("%d/%d", unit, total),
			)
			e.clock.Sleep(e.throttle)
		}
	}

	for _, sink := range sinks {
		if err := sink.Flush(ctx); err != nil {
			return counts, fmt.Errorf("flush %s sink: %w", sink.Name(), err)
		}
	}

	e.logger.Info("extraction complete", "rows", counts)
	return counts, nil
}

// route zips each location's parallel series into observations and writes
// them to every sink.
func (e *Extractor) route(ctx context.Context, series []domain.LocationSeries, sinks []ObservationSink, counts map[string]int) error {
	for _, s := range series {
		for i, ts := range s.Times {
			obs := domain.HourlyObservation{
				Location:        s.Location,
				TimestampUTC:    ts,
				TemperatureC:    s.Temperature[i],
				WindSpeedMS:     s.WindSpeed[i],
				PrecipitationMM: s.Precipitation[i],
			}
			for _, sink := range sinks {
				if err := sink.Write(ctx, obs); err != nil {
					return fmt.Errorf("write to %s sink: %w", sink.Name(), err)
				}
				counts[sink.Name()]++
				e.metrics.RowsWritten.WithLabelValues(sink.Name()).Inc()
			}
		}
	}
	return nil
}
