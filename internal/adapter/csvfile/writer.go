package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
)

// Header written to the flat-file sink, one data row per observation in this
// column order.
var sinkHeader = []string{
	"longitude",
	"latitude",
	"timestamp_utc",
	"temperature_c",
	"wind_speed_m_s",
	"precipitation_mm",
}

// Writer streams observations to a delimited file. Rows reach the file as
// they are written, so output produced before a run aborts is preserved.
// It implements pipeline.ObservationSink.
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter creates (or truncates) the output file and writes the header.
func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if err := w.csv.Write(sinkHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

func (w *Writer) Name() string { return "csv" }

// Write appends one observation row.
func (w *Writer) Write(_ context.Context, obs domain.HourlyObservation) error {
	row := []string{
		formatFloat(obs.Location.Longitude),
		formatFloat(obs.Location.Latitude),
		obs.TimestampUTC,
		formatFloat(obs.TemperatureC),
		formatFloat(obs.WindSpeedMS),
		formatFloat(obs.PrecipitationMM),
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("write observation row: %w", err)
	}
	return nil
}

// Flush forces buffered rows to the file.
func (w *Writer) Flush(_ context.Context) error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush output file: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Safe to call after a failed
// run; the file handle is released on every exit path.
func (w *Writer) Close() error {
	w.csv.Flush()
	flushErr := w.csv.Error()
	closeErr := w.file.Close()
	if flushErr != nil {
		return fmt.Errorf("flush output file: %w", flushErr)
	}
	return closeErr
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
