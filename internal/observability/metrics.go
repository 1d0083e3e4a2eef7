package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// extraction pipeline.
type Metrics struct {
	FetchRequests prometheus.Counter
	FetchRetries  prometheus.Counter
	FetchDuration prometheus.Histogram
	RunInProgress prometheus.Gauge

	// Row accounting.
	RowsWritten     *prometheus.CounterVec // label: sink={csv,postgres}
	RowsSkipped     prometheus.Counter
	CoordCollisions prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FetchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "fetch_requests_total",
			Help:      "Total HTTP requests issued to the archive API, including retries.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "fetch_retries_total",
			Help:      "Archive API requests that failed transiently and were retried.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of successful archive API requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_etl",
			Name:      "run_in_progress",
			Help:      "1 while an extraction run is active, 0 otherwise.",
		}),
		RowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "rows_written_total",
			Help:      "Observation rows written, by sink.",
		}, []string{"sink"}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "rows_skipped_total",
			Help:      "Input rows dropped for malformed or unresolvable coordinates.",
		}),
		CoordCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weather_etl",
			Name:      "coordinate_collisions_total",
			Help:      "Cities sharing a rounded coordinate during lookup construction.",
		}),
	}

	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchRetries,
		m.FetchDuration,
		m.RunInProgress,
		m.RowsWritten,
		m.RowsSkipped,
		m.CoordCollisions,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FetchRequests:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_etl", Name: "fetch_requests_total"}),
		FetchRetries:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_etl", Name: "fetch_retries_total"}),
		FetchDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "weather_etl", Name: "fetch_duration_seconds"}),
		RunInProgress:   prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "weather_etl", Name: "run_in_progress"}),
		RowsWritten:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "weather_etl", Name: "rows_written_total"}, []string{"sink"}),
		RowsSkipped:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_etl", Name: "rows_skipped_total"}),
		CoordCollisions: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "weather_etl", Name: "coordinate_collisions_total"}),
	}
}
