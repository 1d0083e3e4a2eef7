// Command weatherarchive extracts hourly historical weather from the
// Open-Meteo archive API and loads city identities and file-sourced
// observations into Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/weather-archive-etl/internal/adapter/csvfile"
	httpadapter "github.com/couchcryptid/weather-archive-etl/internal/adapter/http"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/weather-archive-etl/internal/adapter/postgres"
	"github.com/couchcryptid/weather-archive-etl/internal/config"
	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	"github.com/couchcryptid/weather-archive-etl/internal/observability"
	"github.com/couchcryptid/weather-archive-etl/internal/pipeline"
)

func main() {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "weatherarchive",
		Short:         "Batched historical weather extraction and loading",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newExtractCmd(), newImportCitiesCmd(), newImportActualsCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// app bundles the pieces every subcommand needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	return &app{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}, nil
}

func (a *app) store() (*postgres.Store, error) {
	if a.cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required for this operation")
	}
	return postgres.NewStore(a.cfg.PostgresDSN, a.logger), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newExtractCmd() *cobra.Command {
	var (
		fromFlag     string
		toFlag       string
		inputFlag    string
		outputFlag   string
		csvFlag      bool
		postgresFlag bool
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Fetch hourly observations for every location over a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			r, err := parseRange(fromFlag, toFlag)
			if err != nil {
				return err
			}
			if !csvFlag && !postgresFlag {
				return errors.New("at least one of --csv and --postgres must be enabled")
			}

			ctx, stop := signalContext()
			defer stop()

			var (
				sinks     []pipeline.ObservationSink
				locations []domain.Location
			)

			if postgresFlag {
				store, err := a.store()
				if err != nil {
					return err
				}
				cities, err := store.ReadAllCities(ctx)
				if err != nil {
					return fmt.Errorf("read cities: %w", err)
				}
				locations = locationsFromCities(cities)
				sinks = append(sinks, pipeline.NewPostgresSink(store, a.logger, a.metrics))
			} else {
				if inputFlag == "" {
					return errors.New("--input is required when not reading locations from postgres")
				}
				locations, err = csvfile.LoadCities(inputFlag)
				if err != nil {
					return err
				}
			}

			if csvFlag {
				path := outputFlag
				if path == "" {
					path = a.cfg.OutputCSV
				}
				writer, err := csvfile.NewWriter(path)
				if err != nil {
					return err
				}
				defer writer.Close() //nolint:errcheck // flushed explicitly below
				sinks = append(sinks, writer)
			}

			clock := clockwork.NewRealClock()
			client := openmeteo.NewClient(openmeteo.Config{
				BaseURL:    a.cfg.OpenMeteoURL,
				Timezone:   a.cfg.Timezone,
				MaxRetries: a.cfg.MaxRetries,
				RetryDelay: a.cfg.RetryDelay,
				Timeout:    a.cfg.RequestTimeout,
			}, clock, a.logger, a.metrics)

			extractor := pipeline.NewExtractor(client, a.cfg.BatchSize, a.cfg.Throttle, clock, a.logger, a.metrics)

			if a.cfg.HTTPAddr != "" {
				srv := httpadapter.NewServer(a.cfg.HTTPAddr, extractor, a.logger)
				go func() {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("ops server error", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.logger.Error("ops server shutdown error", "error", err)
					}
				}()
			}

			counts, err := extractor.Run(ctx, locations, r, sinks)
			if err != nil {
				return err
			}
			for name, rows := range counts {
				a.logger.Info("sink totals", "sink", name, "rows", rows)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toFlag, "to", "", "end date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&inputFlag, "input", "", "CSV file of locations (used when --postgres is off)")
	cmd.Flags().StringVar(&outputFlag, "output", "", "output CSV path (defaults to OUTPUT_CSV)")
	cmd.Flags().BoolVar(&csvFlag, "csv", true, "write observations to a CSV file")
	cmd.Flags().BoolVar(&postgresFlag, "postgres", false, "read locations from and write observations to Postgres")
	cmd.MarkFlagRequired("from") //nolint:errcheck // flag exists
	cmd.MarkFlagRequired("to")   //nolint:errcheck // flag exists

	return cmd
}

func newImportCitiesCmd() *cobra.Command {
	var inputFlag string

	cmd := &cobra.Command{
		Use:   "import-cities",
		Short: "Load city identities from a CSV file into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			locations, err := csvfile.LoadCities(inputFlag)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			count, err := pipeline.ImportCities(ctx, store, locations, a.logger)
			if err != nil {
				return err
			}
			a.logger.Info("import-cities finished", "inserted", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFlag, "input", "", "CSV file of cities to import")
	cmd.MarkFlagRequired("input") //nolint:errcheck // flag exists

	return cmd
}

func newImportActualsCmd() *cobra.Command {
	var inputFlag string

	cmd := &cobra.Command{
		Use:   "import-actuals",
		Short: "Resolve a CSV of observations against stored cities and load it into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			records, err := csvfile.ReadActuals(inputFlag)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			importer := pipeline.NewActualsImporter(store, a.cfg.ImportFlushSize, a.logger, a.metrics)
			inserted, skipped, err := importer.Run(ctx, records)
			if err != nil {
				return err
			}
			a.logger.Info("import-actuals finished", "inserted", inserted, "skipped", skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&inputFlag, "input", "", "CSV file of observations to import")
	cmd.MarkFlagRequired("input") //nolint:errcheck // flag exists

	return cmd
}

func parseRange(from, to string) (domain.DateRange, error) {
	start, err := time.ParseInLocation(domain.DateLayout, from, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid --from date %q: expected YYYY-MM-DD", from)
	}
	end, err := time.ParseInLocation(domain.DateLayout, to, time.UTC)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("invalid --to date %q: expected YYYY-MM-DD", to)
	}
	if end.Before(start) {
		return domain.DateRange{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return domain.DateRange{Start: start, End: end}, nil
}

func locationsFromCities(cities []domain.CityRecord) []domain.Location {
	locations := make([]domain.Location, len(cities))
	for i, city := range cities {
		id := city.ID
		locations[i] = domain.Location{
			ID:        &id,
			Name:      city.Name,
			Longitude: city.Longitude,
			Latitude:  city.Latitude,
		}
	}
	return locations
}
