// Package store persists locations, crime records, monthly aggregates and
// cached forecasts in SQLite or PostgreSQL/PostGIS.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/resilience"
)

// AggregateFilter narrows ListMonthlyAggregates. Zero values match everything.
type AggregateFilter struct {
	LocationID string `json:"location_id,omitempty"`
	Year       int    `json:"year,omitempty"`
}

// Store is the persistence interface behind the forecaster, the ranking
// engine and the HTTP API. Reads that find nothing return an empty slice;
// GetLocation returns model.ErrLocationNotFound. Transient driver failures
// are returned wrapping model.ErrStoreUnavailable.
type Store interface {
	// Locations
	GetLocation(ctx context.Context, locationID string) (*model.LocationStats, error)
	ListLocations(ctx context.Context) ([]model.LocationStats, error)
	UpsertLocations(ctx context.Context, locs []model.LocationStats) (int64, error)
	RefreshLocationTotals(ctx context.Context) error

	// Crime records
	InsertCrimeRecords(ctx context.Context, recs []model.CrimeRecord) (int64, error)
	ListCrimeRecords(ctx context.Context) ([]model.CrimeRecord, error)
	GetCrimeRecordsNear(ctx context.Context, center model.Point, radiusKM float64, year int) ([]model.CrimeRecord, error)
	GetLatestCrimeRecords(ctx context.Context, locationID string, months int) ([]model.CrimeRecord, error)
	TopCrimeTypes(ctx context.Context, locationID string, limit int) ([]model.CrimeTypeCount, error)

	// Monthly aggregates
	UpsertMonthlyAggregates(ctx context.Context, aggs []model.MonthlyAggregate) (int64, error)
	GetMonthlyHistory(ctx context.Context, locationID string, limit int) ([]model.MonthlyAggregate, error)
	ListMonthlyAggregates(ctx context.Context, filter AggregateFilter) ([]model.MonthlyAggregate, error)

	// Forecast cache
	GetForecasts(ctx context.Context, locationID string, yearFrom int) ([]model.Forecast, error)
	UpsertForecast(ctx context.Context, f model.Forecast) error

	// Evaluation ledger
	InsertEvaluationRun(ctx context.Context, run model.EvaluationRun) error
	ListEvaluationRuns(ctx context.Context, limit int) ([]model.EvaluationRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// wrapErr adds context to a driver error, tagging transient failures with
// model.ErrStoreUnavailable so callers can retry them.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if resilience.IsTransientDriverError(err) {
		return eris.Wrapf(model.ErrStoreUnavailable, "%s: %v", msg, err)
	}
	return eris.Wrap(err, msg)
}

func latestWindowValid(months int) error {
	if months <= 0 {
		return eris.Wrapf(model.ErrInvalidRequest, "store: months must be positive, got %d", months)
	}
	return nil
}
