package pipeline

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
)

// PostgresSink buffers observation rows in memory and bulk-inserts them in a
// single Flush at the end of the run. This deliberately differs from the CSV
// sink, which streams: bulk inserts are cheapest as one large operation, at
// the cost of losing every buffered row when a run aborts mid-way. Rows whose
// location carries no city identity cannot be stored and are skipped with a
// count.
type PostgresSink struct {
	store   CityStore
	logger  *slog.Logger
	metrics *observability.Metrics
	buffer  []domain.ObservationRow
	skipped int
}

// NewPostgresSink creates a buffered relational sink.
func NewPostgresSink(store CityStore, logger *slog.Logger, metrics *observability.Metrics) *PostgresSink {
	return &PostgresSink{store: store, logger: logger, metrics: metrics}
}

func (p *PostgresSink) Name() string { return "postgres" }

// Write buffers one observation row.
func (p *PostgresSink) Write(_ context.Context, obs domain.HourlyObservation) error {
	if obs.Location.ID == nil {
		p.skipped++
		p.metrics.RowsSkipped.Inc()
		return nil
	}
	temp := obs.TemperatureC
	wind := obs.WindSpeedMS
	precip := obs.PrecipitationMM
	p.buffer = append(p.buffer, domain.ObservationRow{
		CityID:        *obs.Location.ID,
		TimestampUTC:  obs.TimestampUTC,
		TemperatureC:  &temp,
		WindSpeed:     &wind,
		Precipitation: &precip,
	})
	return nil
}

// Flush bulk-inserts everything buffered since the run began.
func (p *PostgresSink) Flush(ctx context.Context) error {
	if p.skipped > 0 {
		p.logger.Warn("observations without city identity were not stored", "skipped", p.skipped)
	}
	if len(p.buffer) == 0 {
		return nil
	}
	if err := p.store.BulkInsertObservations(ctx, p.buffer); err != nil {
		return err
	}
	p.logger.Info("relational sink flushed", "rows", len(p.buffer))
	p.buffer = nil
	return nil
}
