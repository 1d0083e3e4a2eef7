// Package postgres implements the city identity store on PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/weather-archive-etl/internal/domain"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// insertPageSize bounds statement size on bulk inserts; collections of
// thousands of rows go through in pages.
const insertPageSize = 1000

// Store reads and appends city identity data. Every operation opens its own
// connection and releases it when done. Runs are batch-scoped, so there is
// no pooling or reuse across calls.
type Store struct {
	dsn    string
	logger *slog.Logger

	// open is swapped by tests to run against a mocked connection.
	open func() (*gorm.DB, error)
}

// NewStore creates a Store for the given DSN. No connection is made until the
// first operation.
func NewStore(dsn string, log *slog.Logger) *Store {
	s := &Store{dsn: dsn, logger: log}
	s.open = func() (*gorm.DB, error) {
		return gorm.Open(gormpostgres.Open(s.dsn), &gorm.Config{
			Logger: logger.Discard,
		})
	}
	return s
}

type cityModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Name      string  `gorm:"column:name"`
	Longitude float64 `gorm:"column:longitude"`
	Latitude  float64 `gorm:"column:latitude"`
}

func (cityModel) TableName() string { return "cities" }

type actualModel struct {
	CityID        int64    `gorm:"column:city_id"`
	TimestampUTC  string   `gorm:"column:timestamp_utc"`
	TemperatureC  *float64 `gorm:"column:temperature_c"`
	WindSpeed     *float64 `gorm:"column:wind_speed"`
	Precipitation *float64 `gorm:"column:precipitation"`
}

func (actualModel) TableName() string { return "wf_actuals" }

// ReadAllCities returns every row of the cities table.
func (s *Store) ReadAllCities(ctx context.Context) ([]domain.CityRecord, error) {
	var models []cityModel
	err := s.withDB(func(db *gorm.DB) error {
		return db.WithContext(ctx).Find(&models).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read cities: %w", err)
	}

	records := make([]domain.CityRecord, len(models))
	for i, m := range models {
		records[i] = domain.CityRecord{
			ID:        m.ID,
			Name:      m.Name,
			Longitude: m.Longitude,
			Latitude:  m.Latitude,
		}
	}
	return records, nil
}

// InsertCities bulk-appends city rows; ids are assigned by the database.
// There is no dedup against existing rows.
func (s *Store) InsertCities(ctx context.Context, cities []domain.CityRecord) error {
	if len(cities) == 0 {
		return nil
	}
	models := make([]cityModel, len(cities))
	for i, c := range cities {
		models[i] = cityModel{Name: c.Name, Longitude: c.Longitude, Latitude: c.Latitude}
	}
	err := s.withDB(func(db *gorm.DB) error {
		return db.WithContext(ctx).CreateInBatches(&models, insertPageSize).Error
	})
	if err != nil {
		return fmt.Errorf("insert cities: %w", err)
	}
	s.logger.Debug("cities inserted", "count", len(models))
	return nil
}

// BulkInsertObservations appends observation rows to wf_actuals in pages of
// insertPageSize.
func (s *Store) BulkInsertObservations(ctx context.Context, rows []domain.ObservationRow) error {
	if len(rows) == 0 {
		return nil
	}
	models := make([]actualModel, len(rows))
	for i, r := range rows {
		models[i] = actualModel{
			CityID:        r.CityID,
			TimestampUTC:  r.TimestampUTC,
			TemperatureC:  r.TemperatureC,
			WindSpeed:     r.WindSpeed,
			Precipitation: r.Precipitation,
		}
	}
	err := s.withDB(func(db *gorm.DB) error {
		return db.WithContext(ctx).CreateInBatches(&models, insertPageSize).Error
	})
	if err != nil {
		return fmt.Errorf("insert observations: %w", err)
	}
	s.logger.Debug("observations inserted", "count", len(models))
	return nil
}

// withDB runs fn on a fresh connection and closes it afterwards.
func (s *Store) withDB(fn func(db *gorm.DB) error) error {
	db, err := s.open()
	if err != nil {
		return fmt.Errorf("open postgres connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap postgres connection: %w", err)
	}
	defer sqlDB.Close()
	return fn(db)
}
