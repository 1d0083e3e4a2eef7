package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all pipeline settings, populated from environment variables.
// CLI flags may override individual fields after Load.
type Config struct {
	// Archive API.
	OpenMeteoURL   string
	BatchSize      int // locations per API request
	MaxRetries     int
	RetryDelay     time.Duration // linear backoff base: delay * attempt
	Throttle       time.Duration // unconditional pause between requests
	RequestTimeout time.Duration
	Timezone       string

	// Sinks.
	OutputCSV       string
	PostgresDSN     string
	ImportFlushSize int // rows per bulk insert on the file-import path

	// Observability.
	LogLevel  string
	LogFormat string
	HTTPAddr  string // ops endpoints; empty disables the server
}

// Load reads configuration from environment variables, applying defaults
// where unset.
func Load() (*Config, error) {
	batchSize, err := envPositiveInt("BATCH_SIZE", 10)
	if err != nil {
		return nil, err
	}
	maxRetries, err := envPositiveInt("MAX_RETRIES", 5)
	if err != nil {
		return nil, err
	}
	flushSize, err := envPositiveInt("IMPORT_FLUSH_SIZE", 10000)
	if err != nil {
		return nil, err
	}
	retryDelay, err := envDuration("RETRY_DELAY", 5*time.Second)
	if err != nil {
		return nil, err
	}
	throttle, err := envNonNegativeDuration("THROTTLE", 2*time.Second)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := envDuration("REQUEST_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		OpenMeteoURL:   envOrDefault("OPEN_METEO_URL", "https://archive-api.open-meteo.com/v1/archive"),
		BatchSize:      batchSize,
		MaxRetries:     maxRetries,
		RetryDelay:     retryDelay,
		Throttle:       throttle,
		RequestTimeout: requestTimeout,
		Timezone:       envOrDefault("TIMEZONE", "UTC"),

		OutputCSV:       envOrDefault("OUTPUT_CSV", "weather_hourly.csv"),
		PostgresDSN:     os.Getenv("POSTGRES_DSN"),
		ImportFlushSize: flushSize,

		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:  os.Getenv("HTTP_ADDR"),
	}

	if cfg.OpenMeteoURL == "" {
		return nil, fmt.Errorf("OPEN_METEO_URL must not be empty")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envPositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, s)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, s)
	}
	return d, nil
}

func envNonNegativeDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", key, s)
	}
	return d, nil
}
