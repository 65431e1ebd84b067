package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/db"
	"github.com/sells-group/crimesafe/internal/geo"
	"github.com/sells-group/crimesafe/internal/model"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlGetLocation = `SELECT location_id, name, city, latitude, longitude, total_crimes, population FROM locations WHERE location_id = $1`

	sqlGetForecasts = `SELECT location_id, year, month, predicted_rate, ci_lower, ci_upper, explanation, model_version FROM forecasts WHERE location_id = $1 AND year >= $2 ORDER BY year, month`

	sqlUpsertForecast = `INSERT INTO forecasts (location_id, year, month, predicted_rate, ci_lower, ci_upper, explanation, model_version, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (location_id, year, month) DO UPDATE SET
	predicted_rate = EXCLUDED.predicted_rate,
	ci_lower = EXCLUDED.ci_lower,
	ci_upper = EXCLUDED.ci_upper,
	explanation = EXCLUDED.explanation,
	model_version = EXCLUDED.model_version,
	updated_at = EXCLUDED.updated_at`

	sqlInsertEvaluationRun = `INSERT INTO evaluation_runs (run_id, model_version, train_years, test_year, rmse, mae, accuracy, samples, locations, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	sqlListEvaluationRuns = `SELECT run_id, model_version, train_years, test_year, rmse, mae, accuracy, samples, locations, created_at FROM evaluation_runs ORDER BY created_at DESC, run_id LIMIT $1`

	sqlMonthlyHistory = `SELECT location_id, year, month, crime_count, male_victims, female_victims, avg_victim_age, zone_classification, crime_rate FROM monthly_aggregates WHERE location_id = $1 ORDER BY year DESC, month DESC LIMIT $2`
)

// preparedStatements lists the forecast path queries prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_location":    sqlGetLocation,
	"get_forecasts":   sqlGetForecasts,
	"upsert_forecast": sqlUpsertForecast,
	"monthly_history": sqlMonthlyHistory,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapErr(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS locations (
	location_id  TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	latitude     DOUBLE PRECISION,
	longitude    DOUBLE PRECISION,
	total_crimes INTEGER NOT NULL DEFAULT 0,
	population   INTEGER,
	geog         GEOGRAPHY(Point, 4326) GENERATED ALWAYS AS (
		CASE WHEN latitude IS NOT NULL AND longitude IS NOT NULL
		THEN ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography END
	) STORED
);

CREATE TABLE IF NOT EXISTS crime_records (
	id                BIGSERIAL PRIMARY KEY,
	location_id       TEXT NOT NULL,
	year              INTEGER NOT NULL,
	month             INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	day               INTEGER NOT NULL DEFAULT 0,
	weekday           INTEGER NOT NULL DEFAULT 0,
	victim_age        INTEGER,
	victim_gender     TEXT,
	crime_description TEXT NOT NULL DEFAULT '',
	latitude          DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude         DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS monthly_aggregates (
	location_id         TEXT NOT NULL,
	year                INTEGER NOT NULL,
	month               INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	crime_count         INTEGER NOT NULL CHECK (crime_count >= 0),
	male_victims        INTEGER NOT NULL DEFAULT 0,
	female_victims      INTEGER NOT NULL DEFAULT 0,
	avg_victim_age      DOUBLE PRECISION,
	zone_classification TEXT NOT NULL CHECK (zone_classification IN ('red', 'amber', 'green')),
	crime_rate          DOUBLE PRECISION,
	PRIMARY KEY (location_id, year, month)
);

CREATE TABLE IF NOT EXISTS forecasts (
	location_id    TEXT NOT NULL,
	year           INTEGER NOT NULL,
	month          INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	predicted_rate DOUBLE PRECISION NOT NULL CHECK (predicted_rate >= 0),
	ci_lower       DOUBLE PRECISION NOT NULL CHECK (ci_lower >= 0),
	ci_upper       DOUBLE PRECISION NOT NULL,
	explanation    TEXT NOT NULL DEFAULT '',
	model_version  TEXT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (location_id, year, month),
	CHECK (ci_lower <= predicted_rate AND predicted_rate <= ci_upper)
);

CREATE TABLE IF NOT EXISTS evaluation_runs (
	run_id        TEXT PRIMARY KEY,
	model_version TEXT NOT NULL,
	train_years   TEXT NOT NULL DEFAULT '',
	test_year     INTEGER NOT NULL,
	rmse          DOUBLE PRECISION NOT NULL,
	mae           DOUBLE PRECISION NOT NULL,
	accuracy      DOUBLE PRECISION NOT NULL,
	samples       INTEGER NOT NULL,
	locations     INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_locations_geog ON locations USING GIST (geog);
CREATE INDEX IF NOT EXISTS idx_crime_records_location_period ON crime_records(location_id, year, month);
CREATE INDEX IF NOT EXISTS idx_crime_records_year ON crime_records(year);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return wrapErr(err, "postgres: ping")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetLocation(ctx context.Context, locationID string) (*model.LocationStats, error) {
	var l model.LocationStats
	err := s.pool.QueryRow(ctx, sqlGetLocation, locationID).Scan(
		&l.LocationID, &l.Name, &l.City, &l.Latitude, &l.Longitude, &l.TotalCrimes, &l.Population,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrLocationNotFound, "postgres: location %s", locationID)
	}
	if err != nil {
		return nil, wrapErr(err, "postgres: get location")
	}
	return &l, nil
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]model.LocationStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT location_id, name, city, latitude, longitude, total_crimes, population FROM locations ORDER BY location_id`)
	if err != nil {
		return nil, wrapErr(err, "postgres: list locations")
	}
	defer rows.Close()

	locs := []model.LocationStats{}
	for rows.Next() {
		var l model.LocationStats
		if err := rows.Scan(&l.LocationID, &l.Name, &l.City, &l.Latitude, &l.Longitude, &l.TotalCrimes, &l.Population); err != nil {
			return nil, wrapErr(err, "postgres: scan location")
		}
		locs = append(locs, l)
	}
	return locs, wrapErr(rows.Err(), "postgres: iterate locations")
}

func (s *PostgresStore) UpsertLocations(ctx context.Context, locs []model.LocationStats) (int64, error) {
	rows := make([][]any, 0, len(locs))
	for _, l := range locs {
		rows = append(rows, []any{l.LocationID, l.Name, l.City, l.Latitude, l.Longitude, l.TotalCrimes, l.Population})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "locations",
		Columns:      []string{"location_id", "name", "city", "latitude", "longitude", "total_crimes", "population"},
		ConflictKeys: []string{"location_id"},
	}, rows)
	return n, wrapErr(err, "postgres: upsert locations")
}

func (s *PostgresStore) RefreshLocationTotals(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE locations l SET total_crimes = (
			SELECT COUNT(*) FROM crime_records r WHERE r.location_id = l.location_id
		)`)
	return wrapErr(err, "postgres: refresh location totals")
}

func (s *PostgresStore) InsertCrimeRecords(ctx context.Context, recs []model.CrimeRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []any{
			r.LocationID, r.Year, r.Month, r.Day, r.Weekday,
			r.VictimAge, genderArg(r.VictimGender), r.CrimeDescription, r.Latitude, r.Longitude,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "crime_records", []string{
		"location_id", "year", "month", "day", "weekday",
		"victim_age", "victim_gender", "crime_description", "latitude", "longitude",
	}, rows)
	return n, wrapErr(err, "postgres: insert crime records")
}

func (s *PostgresStore) ListCrimeRecords(ctx context.Context) ([]model.CrimeRecord, error) {
	return s.queryRecords(ctx, "list crime records",
		`SELECT `+recordColumns+` FROM crime_records ORDER BY id`)
}

// nearQueryPadding widens the ST_DWithin radius so PostGIS's 6371008.8 m
// sphere never drops a location that haversine on EarthRadiusKM keeps; rows
// are then re-checked with geo.HaversineKM.
const nearQueryPadding = 1.001

func nearQueryMeters(radiusKM float64) float64 {
	return radiusKM * 1000 * nearQueryPadding
}

// GetCrimeRecordsNear selects records whose location lies within radiusKM
// of center using ST_DWithin on the GIST-indexed geography column, then
// confirms each location with the same haversine distance the ranking engine
// uses.
func (s *PostgresStore) GetCrimeRecordsNear(ctx context.Context, center model.Point, radiusKM float64, year int) ([]model.CrimeRecord, error) {
	if radiusKM <= 0 || !geo.ValidPoint(center) {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "postgres: invalid search %v radius %.3f", center, radiusKM)
	}
	pt, err := geo.EncodePoint(center)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode search point")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.location_id, r.year, r.month, r.day, r.weekday, r.victim_age, r.victim_gender,
		       r.crime_description, r.latitude, r.longitude, l.latitude, l.longitude
		FROM crime_records r
		JOIN locations l ON l.location_id = r.location_id
		WHERE r.year = $1
		  AND l.geog IS NOT NULL
		  AND ST_DWithin(l.geog, ST_GeomFromEWKB($2)::geography, $3, false)
		ORDER BY r.location_id, r.id`,
		year, pt, nearQueryMeters(radiusKM),
	)
	if err != nil {
		return nil, wrapErr(err, "postgres: crime records near")
	}
	defer rows.Close()

	recs := []model.CrimeRecord{}
	for rows.Next() {
		var locLat, locLon float64
		r, err := scanPostgresRecord(rows, &locLat, &locLon)
		if err != nil {
			return nil, wrapErr(err, "postgres: scan crime record")
		}
		if geo.HaversineKM(center, model.Point{Lat: locLat, Lon: locLon}) <= radiusKM {
			recs = append(recs, r)
		}
	}
	return recs, wrapErr(rows.Err(), "postgres: iterate crime records")
}

func (s *PostgresStore) GetLatestCrimeRecords(ctx context.Context, locationID string, months int) ([]model.CrimeRecord, error) {
	if err := latestWindowValid(months); err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, "latest crime records", `
		SELECT `+recordColumns+` FROM crime_records
		WHERE location_id = $1
		  AND (year * 12 + month - 1) > (
			SELECT MAX(year * 12 + month - 1) FROM crime_records WHERE location_id = $1
		  ) - $2
		ORDER BY year, month, id`,
		locationID, months,
	)
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]model.CrimeRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "postgres: "+op)
	}
	defer rows.Close()

	recs := []model.CrimeRecord{}
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, wrapErr(err, "postgres: scan crime record")
		}
		recs = append(recs, r)
	}
	return recs, wrapErr(rows.Err(), "postgres: iterate crime records")
}

// scanPostgresRecord scans the record columns followed by any extra
// destinations.
func scanPostgresRecord(rows pgx.Rows, extra ...any) (model.CrimeRecord, error) {
	var r model.CrimeRecord
	var gender *string
	dest := append([]any{
		&r.ID, &r.LocationID, &r.Year, &r.Month, &r.Day, &r.Weekday, &r.VictimAge, &gender,
		&r.CrimeDescription, &r.Latitude, &r.Longitude,
	}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return r, err
	}
	if gender != nil {
		g := model.NormalizeVictimGender(*gender)
		r.VictimGender = &g
	}
	return r, nil
}

func (s *PostgresStore) TopCrimeTypes(ctx context.Context, locationID string, limit int) ([]model.CrimeTypeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT crime_description, COUNT(*) AS n FROM crime_records
		WHERE location_id = $1
		GROUP BY crime_description
		ORDER BY n DESC, crime_description
		LIMIT $2`,
		locationID, limit,
	)
	if err != nil {
		return nil, wrapErr(err, "postgres: top crime types")
	}
	defer rows.Close()

	out := []model.CrimeTypeCount{}
	for rows.Next() {
		var c model.CrimeTypeCount
		if err := rows.Scan(&c.CrimeDescription, &c.Count); err != nil {
			return nil, wrapErr(err, "postgres: scan crime type")
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err(), "postgres: iterate crime types")
}

func (s *PostgresStore) UpsertMonthlyAggregates(ctx context.Context, aggs []model.MonthlyAggregate) (int64, error) {
	rows := make([][]any, 0, len(aggs))
	for _, a := range aggs {
		rows = append(rows, []any{
			a.LocationID, a.Year, a.Month, a.CrimeCount, a.MaleVictims, a.FemaleVictims,
			a.AvgVictimAge, string(a.ZoneClassification), a.CrimeRate,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "monthly_aggregates",
		Columns:      strings.Split(aggregateColumns, ", "),
		ConflictKeys: []string{"location_id", "year", "month"},
	}, rows)
	return n, wrapErr(err, "postgres: upsert monthly aggregates")
}

func (s *PostgresStore) GetMonthlyHistory(ctx context.Context, locationID string, limit int) ([]model.MonthlyAggregate, error) {
	if limit <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "postgres: history limit must be positive, got %d", limit)
	}
	return s.queryAggregates(ctx, "monthly history", sqlMonthlyHistory, locationID, limit)
}

func (s *PostgresStore) ListMonthlyAggregates(ctx context.Context, filter AggregateFilter) ([]model.MonthlyAggregate, error) {
	var where []string
	var args []any
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		where = append(where, "location_id = $1")
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		if len(args) == 1 {
			where = append(where, "year = $1")
		} else {
			where = append(where, "year = $2")
		}
	}
	q := `SELECT ` + aggregateColumns + ` FROM monthly_aggregates`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY location_id, year, month"
	return s.queryAggregates(ctx, "list monthly aggregates", q, args...)
}

func (s *PostgresStore) queryAggregates(ctx context.Context, op, query string, args ...any) ([]model.MonthlyAggregate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "postgres: "+op)
	}
	defer rows.Close()

	out := []model.MonthlyAggregate{}
	for rows.Next() {
		var a model.MonthlyAggregate
		var z string
		if err := rows.Scan(&a.LocationID, &a.Year, &a.Month, &a.CrimeCount, &a.MaleVictims, &a.FemaleVictims, &a.AvgVictimAge, &z, &a.CrimeRate); err != nil {
			return nil, wrapErr(err, "postgres: scan monthly aggregate")
		}
		a.ZoneClassification = model.Zone(z)
		out = append(out, a)
	}
	return out, wrapErr(rows.Err(), "postgres: iterate monthly aggregates")
}

func (s *PostgresStore) GetForecasts(ctx context.Context, locationID string, yearFrom int) ([]model.Forecast, error) {
	rows, err := s.pool.Query(ctx, sqlGetForecasts, locationID, yearFrom)
	if err != nil {
		return nil, wrapErr(err, "postgres: get forecasts")
	}
	defer rows.Close()

	out := []model.Forecast{}
	for rows.Next() {
		var f model.Forecast
		if err := rows.Scan(&f.LocationID, &f.Year, &f.Month, &f.PredictedRate, &f.CILower, &f.CIUpper, &f.Explanation, &f.ModelVersion); err != nil {
			return nil, wrapErr(err, "postgres: scan forecast")
		}
		out = append(out, f)
	}
	return out, wrapErr(rows.Err(), "postgres: iterate forecasts")
}

// UpsertForecast writes one month in a single statement; concurrent writers
// for the same key resolve to the last write.
func (s *PostgresStore) UpsertForecast(ctx context.Context, f model.Forecast) error {
	_, err := s.pool.Exec(ctx, sqlUpsertForecast,
		f.LocationID, f.Year, f.Month, f.PredictedRate, f.CILower, f.CIUpper, f.Explanation, f.ModelVersion,
	)
	return wrapErr(err, "postgres: upsert forecast")
}

// InsertEvaluationRun records one backtest.
func (s *PostgresStore) InsertEvaluationRun(ctx context.Context, run model.EvaluationRun) error {
	if run.RunID == "" {
		return eris.Wrap(model.ErrInvalidRequest, "postgres: evaluation run id is required")
	}
	_, err := s.pool.Exec(ctx, sqlInsertEvaluationRun,
		run.RunID, run.ModelVersion, run.TrainYears, run.TestYear, run.RMSE, run.MAE, run.Accuracy,
		run.Samples, run.Locations, run.CreatedAt.UTC(),
	)
	return wrapErr(err, "postgres: insert evaluation run")
}

// ListEvaluationRuns returns up to limit runs, newest first.
func (s *PostgresStore) ListEvaluationRuns(ctx context.Context, limit int) ([]model.EvaluationRun, error) {
	if limit <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "postgres: limit must be positive, got %d", limit)
	}
	rows, err := s.pool.Query(ctx, sqlListEvaluationRuns, limit)
	if err != nil {
		return nil, wrapErr(err, "postgres: list evaluation runs")
	}
	defer rows.Close()

	out := []model.EvaluationRun{}
	for rows.Next() {
		var r model.EvaluationRun
		if err := rows.Scan(&r.RunID, &r.ModelVersion, &r.TrainYears, &r.TestYear, &r.RMSE, &r.MAE, &r.Accuracy, &r.Samples, &r.Locations, &r.CreatedAt); err != nil {
			return nil, wrapErr(err, "postgres: scan evaluation run")
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, wrapErr(rows.Err(), "postgres: iterate evaluation runs")
}
