// Package csvfile reads and writes the delimited files the pipeline exchanges
// with the outside world: city location files, weather-actuals files, and the
// flat-file observation sink.
package csvfile

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// LoadCities reads a city location file. The header must contain Longitude
// and Latitude columns; Name is optional. A malformed coordinate fails the
// whole load; city files are curated inputs, not best-effort feeds.
func LoadCities(path string) ([]domain.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cities file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read cities header: %w", err)
	}

	lonIdx := columnIndex(header, "Longitude")
	latIdx := columnIndex(header, "Latitude")
	nameIdx := columnIndex(header, "Name")
	if lonIdx < 0 || latIdx < 0 {
		return nil, fmt.Errorf("cities file %s: header must contain Longitude and Latitude", path)
	}

	var locations []domain.Location
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read cities rows: %w", err)
	}
	for i, rec := range records {
		lon, err := strconv.ParseFloat(strings.TrimSpace(rec[lonIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("cities file %s row %d: bad longitude %q", path, i+2, rec[lonIdx])
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(rec[latIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("cities file %s row %d: bad latitude %q", path, i+2, rec[latIdx])
		}
		loc := domain.Location{Longitude: lon, Latitude: lat}
		if nameIdx >= 0 {
			loc.Name = strings.TrimSpace(rec[nameIdx])
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// columnIndex finds a header column case-insensitively.
func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}
