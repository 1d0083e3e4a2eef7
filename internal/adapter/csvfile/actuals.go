package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Column aliases accepted in weather-actuals files. Matching is
// case-insensitive, so capitalized variants need no separate entry.
var (
	longitudeAliases     = []string{"longitude", "lon"}
	latitudeAliases      = []string{"latitude", "lat"}
	timestampAliases     = []string{"timestamp_utc", "time", "timestamp"}
	temperatureAliases   = []string{"temperature_c", "temperature"}
	windSpeedAliases     = []string{"wind_speed_m_s", "wind_speed"}
	precipitationAliases = []string{"precipitation_mm", "precipitation"}
)

// ReadActuals reads a weather-actuals file into raw records. Field values are
// left unparsed; the identity resolver decides per row what is usable.
// Columns absent from the header yield empty fields.
func ReadActuals(path string) ([]domain.RawActualRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open actuals file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read actuals header: %w", err)
	}

	lonIdx := aliasIndex(header, longitudeAliases)
	latIdx := aliasIndex(header, latitudeAliases)
	tsIdx := aliasIndex(header, timestampAliases)
	tempIdx := aliasIndex(header, temperatureAliases)
	windIdx := aliasIndex(header, windSpeedAliases)
	precipIdx := aliasIndex(header, precipitationAliases)

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read actuals rows: %w", err)
	}

	records := make([]domain.RawActualRecord, len(rows))
	for i, rec := range rows {
		records[i] = domain.RawActualRecord{
			Longitude:     fieldAt(rec, lonIdx),
			Latitude:      fieldAt(rec, latIdx),
			TimestampUTC:  fieldAt(rec, tsIdx),
			TemperatureC:  fieldAt(rec, tempIdx),
			WindSpeed:     fieldAt(rec, windIdx),
			Precipitation: fieldAt(rec, precipIdx),
		}
	}
	return records, nil
}

func aliasIndex(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func fieldAt(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return rec[idx]
}
