package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type fetchCall struct {
	Names []string
	Range string
}

// mockFetcher returns two hourly samples per location and records every call.
type mockFetcher struct {
	calls   []fetchCall
	failAt  int // 1-based call number to fail at; 0 means never
	failErr error
}

func (m *mockFetcher) FetchHourly(_ context.Context, locations []domain.Location, r domain.DateRange) ([]domain.LocationSeries, error) {
	names := make([]string, len(locations))
	for i, loc := range locations {
		names[i] = loc.Name
	}
	m.calls = append(m.calls, fetchCall{Names: names, Range: r.String()})

	if m.failAt > 0 && len(m.calls) == m.failAt {
		return nil, m.failErr
	}

	series := make([]domain.LocationSeries, len(locations))
	for i, loc := range locations {
		day := r.Start.Format(domain.DateLayout)
		series[i] = domain.LocationSeries{
			Location:      loc,
			Times:         []string{day + "T00:00", day + "T01:00"},
			Temperature:   []float64{1.0, 2.0},
			WindSpeed:     []float64{3.0, 4.0},
			Precipitation: []float64{0.0, 0.5},
		}
	}
	return series, nil
}

type memorySink struct {
	name     string
	written  []domain.HourlyObservation
	flushed  bool
	writeErr error
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(_ context.Context, obs domain.HourlyObservation) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.written = append(s.written, obs)
	return nil
}

func (s *memorySink) Flush(_ context.Context) error {
	s.flushed = true
	return nil
}

// mockStore implements pipeline.CityStore in memory.
type mockStore struct {
	cities      []domain.CityRecord
	citiesErr   error
	inserted    [][]domain.CityRecord
	bulkBatches [][]domain.ObservationRow
	bulkErr     error
}

func (m *mockStore) ReadAllCities(_ context.Context) ([]domain.CityRecord, error) {
	return m.cities, m.citiesErr
}

func (m *mockStore) InsertCities(_ context.Context, cities []domain.CityRecord) error {
	m.inserted = append(m.inserted, cities)
	return nil
}

func (m *mockStore) BulkInsertObservations(_ context.Context, rows []domain.ObservationRow) error {
	if m.bulkErr != nil {
		return m.bulkErr
	}
	batch := make([]domain.ObservationRow, len(rows))
	copy(batch, rows)
	m.bulkBatches = append(m.bulkBatches, batch)
	return nil
}

// recordingClock records throttle sleeps and returns immediately.
type recordingClock struct {
	clockwork.Clock
	sleeps []time.Duration
}

func (c *recordingClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
}

func newRecordingClock() *recordingClock {
	return &recordingClock{Clock: clockwork.NewRealClock()}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExtractor(fetcher pipeline.HourlyFetcher, batchSize int, clock clockwork.Clock) *pipeline.Extractor {
	return pipeline.NewExtractor(fetcher, batchSize, 2*time.Second, clock, testLogger(), observability.NewMetricsForTesting())
}

func testRange() domain.DateRange {
	return domain.DateRange{
		Start: time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, time.February, 15, 0, 0, 0, 0, time.UTC),
	}
}

func cityID(id int64) *int64 { return &id }

// --- extractor tests ---

// Batches are the outer loop and month sub-ranges the inner one, so with a
// batch size of 1 the request order is (A, Jan), (A, Feb), (B, Jan), (B, Feb).
func TestExtractor_Run_RequestOrder(t *testing.T) {
	locations := []domain.Location{
		{Longitude: 10.0, Latitude: 20.0, Name: "A"},
		{Longitude: 11.0, Latitude: 21.0, Name: "B"},
	}
	fetcher := &mockFetcher{}
	clock := newRecordingClock()
	e := newExtractor(fetcher, 1, clock)
	sink := &memorySink{name: "mem"}

	counts, err := e.Run(context.Background(), locations, testRange(), []pipeline.ObservationSink{sink})
	require.NoError(t, err)

	want := []fetchCall{
		{Names: []string{"A"}, Range: "2023-01-01..2023-01-31"},
		{Names: []string{"A"}, Range: "2023-02-01..2023-02-15"},
		{Names: []string{"B"}, Range: "2023-01-01..2023-01-31"},
		{Names: []string{"B"}, Range: "2023-02-01..2023-02-15"},
	}
	if diff := cmp.Diff(want, fetcher.calls); diff != "" {
		t.Fatalf("fetch calls mismatch (-want +got):\n%s", diff)
	}

	// 4 requests × 1 location × 2 hourly samples.
	assert.Equal(t, 8, counts["mem"])
	assert.Len(t, sink.written, 8)

	// One throttle sleep per unit of work.
	require.Len(t, clock.sleeps, 4)
	assert.Equal(t, 2*time.Second, clock.sleeps[0])
}

func TestExtractor_Run_BatchesLocations(t *testing.T) {
	locations := []domain.Location{
		{Name: "A"}, {Name: "B"}, {Name: "C"},
	}
	fetcher := &mockFetcher{}
	e := newExtractor(fetcher, 2, newRecordingClock())

	_, err := e.Run(context.Background(), locations, domain.DateRange{
		Start: time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC),
	}, []pipeline.ObservationSink{&memorySink{name: "mem"}})
	require.NoError(t, err)

	require.Len(t, fetcher.calls, 2)
	assert.Equal(t, []string{"A", "B"}, fetcher.calls[0].Names)
	assert.Equal(t, []string{"C"}, fetcher.calls[1].Names)
}

func TestExtractor_Run_RoutesToEverySink(t *testing.T) {
	locations := []domain.Location{{Name: "A"}}
	first := &memorySink{name: "csv"}
	second := &memorySink{name: "other"}
	e := newExtractor(&mockFetcher{}, 10, newRecordingClock())

	counts, err := e.Run(context.Background(), locations, singleMonth(), []pipeline.ObservationSink{first, second})
	require.NoError(t, err)

	assert.Equal(t, 2, counts["csv"])
	assert.Equal(t, 2, counts["other"])
	assert.Len(t, first.written, 2)
	assert.Len(t, second.written, 2)
	assert.True(t, first.flushed)
	assert.True(t, second.flushed)
}

func TestExtractor_Run_EmptyLocationsIsNoop(t *testing.T) {
	fetcher := &mockFetcher{}
	clock := newRecordingClock()
	e := newExtractor(fetcher, 10, clock)
	sink := &memorySink{name: "mem"}

	counts, err := e.Run(context.Background(), nil, singleMonth(), []pipeline.ObservationSink{sink})
	require.NoError(t, err)
	assert.Zero(t, counts["mem"])
	assert.Empty(t, fetcher.calls)
	assert.Empty(t, clock.sleeps)
}

func TestExtractor_Run_FetchErrorAbortsRun(t *testing.T) {
	locations := []domain.Location{{Name: "A"}, {Name: "B"}}
	fetcher := &mockFetcher{failAt: 2, failErr: errors.New("retries exhausted")}
	e := newExtractor(fetcher, 1, newRecordingClock())
	sink := &memorySink{name: "mem"}

	_, err := e.Run(context.Background(), locations, singleMonth(), []pipeline.ObservationSink{sink})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")

	// Rows from the first request were streamed before the abort; nothing was flushed.
	assert.Len(t, sink.written, 2)
	assert.False(t, sink.flushed)
	assert.Len(t, fetcher.calls, 2)
}

func TestExtractor_Run_SinkWriteErrorAbortsRun(t *testing.T) {
	locations := []domain.Location{{Name: "A"}}
	sink := &memorySink{name: "mem", writeErr: errors.New("disk full")}
	e := newExtractor(&mockFetcher{}, 1, newRecordingClock())

	_, err := e.Run(context.Background(), locations, singleMonth(), []pipeline.ObservationSink{sink})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestExtractor_CheckReadiness(t *testing.T) {
	e := newExtractor(&mockFetcher{}, 1, newRecordingClock())
	require.Error(t, e.CheckReadiness(context.Background()))

	_, err := e.Run(context.Background(), []domain.Location{{Name: "A"}}, singleMonth(),
		[]pipeline.ObservationSink{&memorySink{name: "mem"}})
	require.NoError(t, err)
	assert.NoError(t, e.CheckReadiness(context.Background()))
}

// The relational sink must not touch the store until the end-of-run flush.
func TestPostgresSink_BuffersUntilFlush(t *testing.T) {
	store := &mockStore{}
	metrics := observability.NewMetricsForTesting()
	sink := pipeline.NewPostgresSink(store, testLogger(), metrics)

	locations := []domain.Location{
		{ID: cityID(7), Longitude: 10.0, Latitude: 20.0, Name: "A"},
	}
	e := pipeline.NewExtractor(&mockFetcher{}, 10, 0, newRecordingClock(), testLogger(), metrics)

	counts, err := e.Run(context.Background(), locations, singleMonth(), []pipeline.ObservationSink{sink})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["postgres"])

	require.Len(t, store.bulkBatches, 1, "single end-of-run bulk insert")
	require.Len(t, store.bulkBatches[0], 2)
	row := store.bulkBatches[0][0]
	assert.Equal(t, int64(7), row.CityID)
	assert.Equal(t, "2023-03-01T00:00", row.TimestampUTC)
	require.NotNil(t, row.TemperatureC)
	assert.Equal(t, 1.0, *row.TemperatureC)
}

func TestPostgresSink_SkipsRowsWithoutIdentity(t *testing.T) {
	store := &mockStore{}
	sink := pipeline.NewPostgresSink(store, testLogger(), observability.NewMetricsForTesting())

	obs := domain.HourlyObservation{Location: domain.Location{Name: "no-id"}, TimestampUTC: "2023-03-01T00:00"}
	require.NoError(t, sink.Write(context.Background(), obs))
	require.NoError(t, sink.Flush(context.Background()))
	assert.Empty(t, store.bulkBatches)
}

func singleMonth() domain.DateRange {
	return domain.DateRange{
		Start: time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC),
	}
}

// --- lookup and importer tests ---

func TestBuildCityLookup_LastWriteWinsOnCollision(t *testing.T) {
	cities := []domain.CityRecord{
		{ID: 1, Name: "first", Longitude: 10.0000009, Latitude: 20.0},
		{ID: 2, Name: "second", Longitude: 10.000001, Latitude: 20.0},
		{ID: 3, Name: "elsewhere", Longitude: 30.0, Latitude: 40.0},
	}

	lookup := pipeline.BuildCityLookup(cities, testLogger(), observability.NewMetricsForTesting())
	require.Len(t, lookup, 2)
	assert.Equal(t, int64(2), lookup[domain.KeyFor(10.000001, 20.0)])
	assert.Equal(t, int64(3), lookup[domain.KeyFor(30.0, 40.0)])
}

func TestActualsImporter_Run(t *testing.T) {
	store := &mockStore{cities: []domain.CityRecord{
		{ID: 1, Name: "Berlin", Longitude: 13.405, Latitude: 52.52},
		{ID: 2, Name: "Rounded", Longitude: 10.0000009, Latitude: 20.0},
	}}
	im := pipeline.NewActualsImporter(store, 2, testLogger(), observability.NewMetricsForTesting())

	records := []domain.RawActualRecord{
		{Longitude: "13.405", Latitude: "52.52", TimestampUTC: "2023-01-01T00:00", TemperatureC: "1.5", WindSpeed: "3.2", Precipitation: "0"},
		// Rounds to the stored coordinate despite the extra digit.
		{Longitude: "10.000001", Latitude: "20.0", TimestampUTC: "2023-01-01T01:00", TemperatureC: "2.5", WindSpeed: "4.0", Precipitation: "0.1"},
		// Unknown coordinate: skipped.
		{Longitude: "99.0", Latitude: "99.0", TimestampUTC: "2023-01-01T02:00"},
		// Malformed longitude: skipped.
		{Longitude: "abc", Latitude: "52.52", TimestampUTC: "2023-01-01T03:00"},
		// Unparseable temperature: kept with a NULL field.
		{Longitude: "13.405", Latitude: "52.52", TimestampUTC: "2023-01-01T04:00", TemperatureC: "n/a", WindSpeed: "1.0", Precipitation: "0"},
	}

	inserted, skipped, err := im.Run(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)
	assert.Equal(t, 2, skipped)

	// Flush size 2: one full batch mid-run, the remainder at the end.
	require.Len(t, store.bulkBatches, 2)
	assert.Len(t, store.bulkBatches[0], 2)
	assert.Len(t, store.bulkBatches[1], 1)

	assert.Equal(t, int64(1), store.bulkBatches[0][0].CityID)
	assert.Equal(t, int64(2), store.bulkBatches[0][1].CityID)

	nullTemp := store.bulkBatches[1][0]
	assert.Nil(t, nullTemp.TemperatureC)
	require.NotNil(t, nullTemp.WindSpeed)
	assert.Equal(t, 1.0, *nullTemp.WindSpeed)
}

// Resolving the same rows against an unchanged lookup is deterministic.
func TestActualsImporter_ResolutionIsIdempotent(t *testing.T) {
	store := &mockStore{cities: []domain.CityRecord{
		{ID: 5, Longitude: 13.405, Latitude: 52.52},
	}}
	im := pipeline.NewActualsImporter(store, 100, testLogger(), observability.NewMetricsForTesting())

	records := []domain.RawActualRecord{
		{Longitude: "13.405", Latitude: "52.52", TimestampUTC: "2023-01-01T00:00"},
	}

	for i := 0; i < 2; i++ {
		inserted, skipped, err := im.Run(context.Background(), records)
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, 1, inserted)
		assert.Zero(t, skipped)
	}
	require.Len(t, store.bulkBatches, 2)
	assert.Equal(t, store.bulkBatches[0], store.bulkBatches[1])
}

func TestActualsImporter_ReadCitiesError(t *testing.T) {
	store := &mockStore{citiesErr: errors.New("no connection")}
	im := pipeline.NewActualsImporter(store, 10, testLogger(), observability.NewMetricsForTesting())

	_, _, err := im.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no connection")
}

func TestActualsImporter_InsertErrorSurfacesProgress(t *testing.T) {
	store := &mockStore{
		cities:  []domain.CityRecord{{ID: 1, Longitude: 1.0, Latitude: 2.0}},
		bulkErr: errors.New("deadlock"),
	}
	im := pipeline.NewActualsImporter(store, 1, testLogger(), observability.NewMetricsForTesting())

	records := []domain.RawActualRecord{
		{Longitude: "1.0", Latitude: "2.0", TimestampUTC: "2023-01-01T00:00"},
	}
	inserted, _, err := im.Run(context.Background(), records)
	require.Error(t, err)
	assert.Zero(t, inserted)
}

// --- city import tests ---

func TestImportCities(t *testing.T) {
	store := &mockStore{}
	locations := []domain.Location{
		{Longitude: 13.405, Latitude: 52.52, Name: "Berlin"},
		{Longitude: 2.3522, Latitude: 48.8566, Name: "Paris"},
	}

	count, err := pipeline.ImportCities(context.Background(), store, locations, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, "Berlin", store.inserted[0][0].Name)
	assert.Equal(t, 13.405, store.inserted[0][0].Longitude)
}

func TestImportCities_EmptyIsNoop(t *testing.T) {
	store := &mockStore{}
	count, err := pipeline.ImportCities(context.Background(), store, nil, testLogger())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, store.inserted)
}
