package domain

import "math"

// Location is a geographic point submitted to the archive API. ID is non-nil
// only when the location was loaded from the city identity store; locations
// read from a coordinate file have no identity.
type Location struct {
	ID        *int64
	Longitude float64
	Latitude  float64
	Name      string
}

// CityRecord mirrors one row of the cities table. The pipeline only reads the
// full table and appends to it; there is no update or delete path.
type CityRecord struct {
	ID        int64
	Name      string
	Longitude float64
	Latitude  float64
}

// CoordKey is a coordinate pair rounded to six decimal places, used as the
// equality key when reconciling file-sourced rows against stored cities.
type CoordKey struct {
	Lon float64
	Lat float64
}

// KeyFor builds the rounded lookup key for a coordinate pair.
func KeyFor(lon, lat float64) CoordKey {
	return CoordKey{Lon: Round6(lon), Lat: Round6(lat)}
}

// Round6 rounds to six decimal places, the precision the identity store and
// input files are compared at.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
