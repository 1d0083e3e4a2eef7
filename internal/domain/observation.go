package domain

// HourlyObservation is one hour of weather at one location. Observations are
// ephemeral: they are expanded from an API response and immediately streamed
// to a sink, never persisted as an entity of their own.
type HourlyObservation struct {
	Location        Location
	TimestampUTC    string // ISO-8601 hour, e.g. "2023-01-05T14:00"
	TemperatureC    float64
	WindSpeedMS     float64
	PrecipitationMM float64
}

// LocationSeries is the per-location result of one archive fetch: a shared
// hourly timestamp series and one value series per variable, all the same
// length and index-aligned.
type LocationSeries struct {
	Location      Location
	Times         []string
	Temperature   []float64
	WindSpeed     []float64
	Precipitation []float64
}

// ObservationRow is one item of a relational bulk insert into wf_actuals.
// Nil numeric fields are stored as NULL; a file row whose temperature fails
// to parse is kept with a NULL temperature rather than dropped.
type ObservationRow struct {
	CityID        int64
	TimestampUTC  string
	TemperatureC  *float64
	WindSpeed     *float64
	Precipitation *float64
}

// RawActualRecord is one unparsed row of a weather-actuals file, with fields
// exactly as they appeared under their (possibly aliased) source columns.
// Missing columns are empty strings.
type RawActualRecord struct {
	Longitude     string
	Latitude      string
	TimestampUTC  string
	TemperatureC  string
	WindSpeed     string
	Precipitation string
}
