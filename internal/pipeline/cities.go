package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// ImportCities bulk-appends file-sourced locations to the identity store and
// returns the number of rows inserted. An empty input is a no-op with no
// store call. There is no dedup against existing rows: importing the same
// file twice creates duplicate cities with distinct ids.
func ImportCities(ctx context.Context, store CityStore, locations []domain.Location, logger *slog.Logger) (int, error) {
	if len(locations) == 0 {
		logger.Info("no cities to import")
		return 0, nil
	}

	records := make([]domain.CityRecord, len(locations))
	for i, loc := range locations {
		records[i] = domain.CityRecord{
			Name:      loc.Name,
			Longitude: loc.Longitude,
			Latitude:  loc.Latitude,
		}
	}

	if err := store.InsertCities(ctx, records); err != nil {
		return 0, fmt.Errorf("import cities: %w", err)
	}

	logger.Info("cities imported", "count", len(records))
	return len(records), nil
}
