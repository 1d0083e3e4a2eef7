package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
)

// BuildCityLookup maps rounded coordinates to city ids from a full read of
// the identity store. When two cities share a rounded coordinate the one read
// later wins; every collision is logged and counted so the data loss is
// visible to operators.
func BuildCityLookup(cities []domain.CityRecord, logger *slog.Logger, metrics *observability.Metrics) map[domain.CoordKey]int64 {
	lookup := make(map[domain.CoordKey]int64, len(cities))
	for _, city := range cities {
		key := domain.KeyFor(city.Longitude, city.Latitude)
		if prev, ok := lookup[key]; ok {
			logger.Warn("cities collide on rounded coordinate, later city wins",
				"lon", key.Lon,
				"lat", key.Lat,
				"replaced_id", prev,
				"winning_id", city.ID,
			)
			metrics.CoordCollisions.Inc()
		}
		lookup[key] = city.ID
	}
	return lookup
}

// ActualsImporter resolves file-sourced weather rows to city identities and
// bulk-inserts them. Unlike the API-sourced relational sink, this path
// flushes incrementally every flushSize rows, so an aborted import loses only
// the current unflushed buffer.
type ActualsImporter struct {
	store     CityStore
	flushSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewActualsImporter creates an importer. flushSize must be positive.
func NewActualsImporter(store CityStore, flushSize int, logger *slog.Logger, metrics *observability.Metrics) *ActualsImporter {
	return &ActualsImporter{
		store:     store,
		flushSize: flushSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run resolves every record against the identity store and inserts the
// resolved rows. It returns the number of rows inserted and the number
// skipped. Rows with missing or unparseable coordinates, or coordinates that
// match no city, are skipped; unparseable numeric fields are stored as NULL
// without dropping the row.
func (im *ActualsImporter) Run(ctx context.Context, records []domain.RawActualRecord) (inserted, skipped int, err error) {
	cities, err := im.store.ReadAllCities(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read cities for lookup: %w", err)
	}
	lookup := BuildCityLookup(cities, im.logger, im.metrics)

	buffer := make([]domain.ObservationRow, 0, im.flushSize)
	for _, record := range records {
		row, ok := resolveRecord(record, lookup)
		if !ok {
			skipped++
			im.metrics.RowsSkipped.Inc()
			continue
		}
		buffer = append(buffer, row)

		if len(buffer) >= im.flushSize {
			if err := im.store.BulkInsertObservations(ctx, buffer); err != nil {
				return inserted, skipped, fmt.Errorf("insert actuals batch: %w", err)
			}
			inserted += len(buffer)
			im.metrics.RowsWritten.WithLabelValues("postgres").Add(float64(len(buffer)))
			buffer = make([]domain.ObservationRow, 0, im.flushSize)
		}
	}

	if len(buffer) > 0 {
		if err := im.store.BulkInsertObservations(ctx, buffer); err != nil {
			return inserted, skipped, fmt.Errorf("insert final actuals batch: %w", err)
		}
		inserted += len(buffer)
		im.metrics.RowsWritten.WithLabelValues("postgres").Add(float64(len(buffer)))
	}

	im.logger.Info("actuals import complete", "inserted", inserted, "skipped", skipped)
	return inserted, skipped, nil
}

// resolveRecord matches one raw record to a city id. ok is false when the
// coordinates are unusable or unknown to the identity store.
func resolveRecord(record domain.RawActualRecord, lookup map[domain.CoordKey]int64) (domain.ObservationRow, bool) {
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(record.Longitude), 64)
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(record.Latitude), 64)
	if lonErr != nil || latErr != nil {
		return domain.ObservationRow{}, false
	}

	cityID, ok := lookup[domain.KeyFor(lon, lat)]
	if !ok {
		return domain.ObservationRow{}, false
	}

	return domain.ObservationRow{
		CityID:        cityID,
		TimestampUTC:  strings.TrimSpace(record.TimestampUTC),
		TemperatureC:  parseOptionalFloat(record.TemperatureC),
		WindSpeed:     parseOptionalFloat(record.WindSpeed),
		Precipitation: parseOptionalFloat(record.Precipitation),
	}, true
}

func parseOptionalFloat(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}
