package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crimesafe/internal/geo"
	"github.com/sells-group/crimesafe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the PRAGMAs in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS locations (
	location_id  TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	city         TEXT NOT NULL DEFAULT '',
	latitude     REAL,
	longitude    REAL,
	total_crimes INTEGER NOT NULL DEFAULT 0,
	population   INTEGER
);

CREATE TABLE IF NOT EXISTS crime_records (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	location_id       TEXT NOT NULL,
	year              INTEGER NOT NULL,
	month             INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	day               INTEGER NOT NULL DEFAULT 0,
	weekday           INTEGER NOT NULL DEFAULT 0,
	victim_age        INTEGER,
	victim_gender     TEXT,
	crime_description TEXT NOT NULL DEFAULT '',
	latitude          REAL NOT NULL DEFAULT 0,
	longitude         REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS monthly_aggregates (
	location_id         TEXT NOT NULL,
	year                INTEGER NOT NULL,
	month               INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	crime_count         INTEGER NOT NULL CHECK (crime_count >= 0),
	male_victims        INTEGER NOT NULL DEFAULT 0,
	female_victims      INTEGER NOT NULL DEFAULT 0,
	avg_victim_age      REAL,
	zone_classification TEXT NOT NULL CHECK (zone_classification IN ('red', 'amber', 'green')),
	crime_rate          REAL,
	PRIMARY KEY (location_id, year, month)
);

CREATE TABLE IF NOT EXISTS forecasts (
	location_id    TEXT NOT NULL,
	year           INTEGER NOT NULL,
	month          INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	predicted_rate REAL NOT NULL CHECK (predicted_rate >= 0),
	ci_lower       REAL NOT NULL CHECK (ci_lower >= 0),
	ci_upper       REAL NOT NULL,
	explanation    TEXT NOT NULL DEFAULT '',
	model_version  TEXT NOT NULL,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (location_id, year, month),
	CHECK (ci_lower <= predicted_rate AND predicted_rate <= ci_upper)
);

CREATE TABLE IF NOT EXISTS evaluation_runs (
	run_id        TEXT PRIMARY KEY,
	model_version TEXT NOT NULL,
	train_years   TEXT NOT NULL DEFAULT '',
	test_year     INTEGER NOT NULL,
	rmse          REAL NOT NULL,
	mae           REAL NOT NULL,
	accuracy      REAL NOT NULL,
	samples       INTEGER NOT NULL,
	locations     INTEGER NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locations_coords ON locations(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_crime_records_location_period ON crime_records(location_id, year, month);
CREATE INDEX IF NOT EXISTS idx_crime_records_year ON crime_records(year);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapErr(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const locationColumns = `location_id, name, city, latitude, longitude, total_crimes, population`

func (s *SQLiteStore) GetLocation(ctx context.Context, locationID string) (*model.LocationStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE location_id = ?`,
		locationID,
	)
	loc, err := scanSQLiteLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrLocationNotFound, "sqlite: location %s", locationID)
	}
	if err != nil {
		return nil, wrapErr(err, "sqlite: get location")
	}
	return &loc, nil
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]model.LocationStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+locationColumns+` FROM locations ORDER BY location_id`)
	if err != nil {
		return nil, wrapErr(err, "sqlite: list locations")
	}
	defer rows.Close()

	locs := []model.LocationStats{}
	for rows.Next() {
		loc, err := scanSQLiteLocation(rows)
		if err != nil {
			return nil, wrapErr(err, "sqlite: scan location")
		}
		locs = append(locs, loc)
	}
	return locs, wrapErr(rows.Err(), "sqlite: iterate locations")
}

func (s *SQLiteStore) UpsertLocations(ctx context.Context, locs []model.LocationStats) (int64, error) {
	if len(locs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "upsert locations", `
		INSERT INTO locations (`+locationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location_id) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			total_crimes = excluded.total_crimes,
			population = excluded.population`,
		func(stmt *sql.Stmt) error {
			for _, l := range locs {
				if _, err := stmt.ExecContext(ctx, l.LocationID, l.Name, l.City, l.Latitude, l.Longitude, l.TotalCrimes, l.Population); err != nil {
					return err
				}
				n++
			}
			return nil
		})
	return n, err
}

func (s *SQLiteStore) RefreshLocationTotals(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE locations SET total_crimes = (
			SELECT COUNT(*) FROM crime_records r WHERE r.location_id = locations.location_id
		)`)
	return wrapErr(err, "sqlite: refresh location totals")
}

const recordColumns = `id, location_id, year, month, day, weekday, victim_age, victim_gender, crime_description, latitude, longitude`

func (s *SQLiteStore) InsertCrimeRecords(ctx context.Context, recs []model.CrimeRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "insert crime records", `
		INSERT INTO crime_records (location_id, year, month, day, weekday, victim_age, victim_gender, crime_description, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		func(stmt *sql.Stmt) error {
			for _, r := range recs {
				if _, err := stmt.ExecContext(ctx,
					r.LocationID, r.Year, r.Month, r.Day, r.Weekday,
					r.VictimAge, genderArg(r.VictimGender), r.CrimeDescription, r.Latitude, r.Longitude,
				); err != nil {
					return err
				}
				n++
			}
			return nil
		})
	return n, err
}

func (s *SQLiteStore) ListCrimeRecords(ctx context.Context) ([]model.CrimeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM crime_records ORDER BY id`)
	if err != nil {
		return nil, wrapErr(err, "sqlite: list crime records")
	}
	defer rows.Close()

	recs := []model.CrimeRecord{}
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, wrapErr(err, "sqlite: scan crime record")
		}
		recs = append(recs, r)
	}
	return recs, wrapErr(rows.Err(), "sqlite: iterate crime records")
}

// GetCrimeRecordsNear prefilters locations with a lat/lon bounding box in SQL
// and confirms each with the haversine distance.
func (s *SQLiteStore) GetCrimeRecordsNear(ctx context.Context, center model.Point, radiusKM float64, year int) ([]model.CrimeRecord, error) {
	if radiusKM <= 0 || !geo.ValidPoint(center) {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "sqlite: invalid search %v radius %.3f", center, radiusKM)
	}
	box := geo.BoundingBox(center, radiusKM)

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.location_id, r.year, r.month, r.day, r.weekday, r.victim_age, r.victim_gender,
		       r.crime_description, r.latitude, r.longitude, l.latitude, l.longitude
		FROM crime_records r
		JOIN locations l ON l.location_id = r.location_id
		WHERE r.year = ?
		  AND l.latitude BETWEEN ? AND ?
		  AND l.longitude BETWEEN ? AND ?
		ORDER BY r.location_id, r.id`,
		year, box.Min(1), box.Max(1), box.Min(0), box.Max(0),
	)
	if err != nil {
		return nil, wrapErr(err, "sqlite: crime records near")
	}
	defer rows.Close()

	recs := []model.CrimeRecord{}
	for rows.Next() {
		var locLat, locLon float64
		r, err := scanSQLiteRecord(rows, &locLat, &locLon)
		if err != nil {
			return nil, wrapErr(err, "sqlite: scan crime record")
		}
		if geo.HaversineKM(center, model.Point{Lat: locLat, Lon: locLon}) <= radiusKM {
			recs = append(recs, r)
		}
	}
	return recs, wrapErr(rows.Err(), "sqlite: iterate crime records")
}

func (s *SQLiteStore) GetLatestCrimeRecords(ctx context.Context, locationID string, months int) ([]model.CrimeRecord, error) {
	if err := latestWindowValid(months); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM crime_records
		WHERE location_id = ?
		  AND (year * 12 + month - 1) > (
			SELECT MAX(year * 12 + month - 1) FROM crime_records WHERE location_id = ?
		  ) - ?
		ORDER BY year, month, id`,
		locationID, locationID, months,
	)
	if err != nil {
		return nil, wrapErr(err, "sqlite: latest crime records")
	}
	defer rows.Close()

	recs := []model.CrimeRecord{}
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, wrapErr(err, "sqlite: scan crime record")
		}
		recs = append(recs, r)
	}
	return recs, wrapErr(rows.Err(), "sqlite: iterate crime records")
}

func (s *SQLiteStore) TopCrimeTypes(ctx context.Context, locationID string, limit int) ([]model.CrimeTypeCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT crime_description, COUNT(*) AS n FROM crime_records
		WHERE location_id = ?
		GROUP BY crime_description
		ORDER BY n DESC, crime_description
		LIMIT ?`,
		locationID, limit,
	)
	if err != nil {
		return nil, wrapErr(err, "sqlite: top crime types")
	}
	defer rows.Close()

	out := []model.CrimeTypeCount{}
	for rows.Next() {
		var c model.CrimeTypeCount
		if err := rows.Scan(&c.CrimeDescription, &c.Count); err != nil {
			return nil, wrapErr(err, "sqlite: scan crime type")
		}
		out = append(out, c)
	}
	return out, wrapErr(rows.Err(), "sqlite: iterate crime types")
}

const aggregateColumns = `location_id, year, month, crime_count, male_victims, female_victims, avg_victim_age, zone_classification, crime_rate`

func (s *SQLiteStore) UpsertMonthlyAggregates(ctx context.Context, aggs []model.MonthlyAggregate) (int64, error) {
	if len(aggs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.inTx(ctx, "upsert monthly aggregates", `
		INSERT INTO monthly_aggregates (`+aggregateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (location_id, year, month) DO UPDATE SET
			crime_count = excluded.crime_count,
			male_victims = excluded.male_victims,
			female_victims = excluded.female_victims,
			avg_victim_age = excluded.avg_victim_age,
			zone_classification = excluded.zone_classification,
			crime_rate = excluded.crime_rate`,
		func(stmt *sql.Stmt) error {
			for _, a := range aggs {
				if _, err := stmt.ExecContext(ctx,
					a.LocationID, a.Year, a.Month, a.CrimeCount, a.MaleVictims, a.FemaleVictims,
					a.AvgVictimAge, string(a.ZoneClassification), a.CrimeRate,
				); err != nil {
					return err
				}
				n++
			}
			return nil
		})
	return n, err
}

func (s *SQLiteStore) GetMonthlyHistory(ctx context.Context, locationID string, limit int) ([]model.MonthlyAggregate, error) {
	if limit <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "sqlite: history limit must be positive, got %d", limit)
	}
	return s.queryAggregates(ctx, "monthly history",
		`SELECT `+aggregateColumns+` FROM monthly_aggregates WHERE location_id = ? ORDER BY year DESC, month DESC LIMIT ?`,
		locationID, limit,
	)
}

func (s *SQLiteStore) ListMonthlyAggregates(ctx context.Context, filter AggregateFilter) ([]model.MonthlyAggregate, error) {
	var where []string
	var args []any
	if filter.LocationID != "" {
		where = append(where, "location_id = ?")
		args = append(args, filter.LocationID)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}
	q := `SELECT ` + aggregateColumns + ` FROM monthly_aggregates`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY location_id, year, month"
	return s.queryAggregates(ctx, "list monthly aggregates", q, args...)
}

func (s *SQLiteStore) queryAggregates(ctx context.Context, op, query string, args ...any) ([]model.MonthlyAggregate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "sqlite: "+op)
	}
	defer rows.Close()

	out := []model.MonthlyAggregate{}
	for rows.Next() {
		var a model.MonthlyAggregate
		var avgAge, rate sql.NullFloat64
		var z string
		if err := rows.Scan(&a.LocationID, &a.Year, &a.Month, &a.CrimeCount, &a.MaleVictims, &a.FemaleVictims, &avgAge, &z, &rate); err != nil {
			return nil, wrapErr(err, "sqlite: scan monthly aggregate")
		}
		a.AvgVictimAge = nullFloat(avgAge)
		a.CrimeRate = nullFloat(rate)
		a.ZoneClassification = model.Zone(z)
		out = append(out, a)
	}
	return out, wrapErr(rows.Err(), "sqlite: iterate monthly aggregates")
}

const forecastColumns = `location_id, year, month, predicted_rate, ci_lower, ci_upper, explanation, model_version`

func (s *SQLiteStore) GetForecasts(ctx context.Context, locationID string, yearFrom int) ([]model.Forecast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+forecastColumns+` FROM forecasts WHERE location_id = ? AND year >= ? ORDER BY year, month`,
		locationID, yearFrom,
	)
	if err != nil {
		return nil, wrapErr(err, "sqlite: get forecasts")
	}
	defer rows.Close()

	out := []model.Forecast{}
	for rows.Next() {
		var f model.Forecast
		if err := rows.Scan(&f.LocationID, &f.Year, &f.Month, &f.PredictedRate, &f.CILower, &f.CIUpper, &f.Explanation, &f.ModelVersion); err != nil {
			return nil, wrapErr(err, "sqlite: scan forecast")
		}
		out = append(out, f)
	}
	return out, wrapErr(rows.Err(), "sqlite: iterate forecasts")
}

// UpsertForecast writes one month in a single statement, so concurrent
// writers for the same key leave exactly one complete row (last write wins).
func (s *SQLiteStore) UpsertForecast(ctx context.Context, f model.Forecast) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecasts (`+forecastColumns+`, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (location_id, year, month) DO UPDATE SET
			predicted_rate = excluded.predicted_rate,
			ci_lower = excluded.ci_lower,
			ci_upper = excluded.ci_upper,
			explanation = excluded.explanation,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at`,
		f.LocationID, f.Year, f.Month, f.PredictedRate, f.CILower, f.CIUpper, f.Explanation, f.ModelVersion,
	)
	return wrapErr(err, "sqlite: upsert forecast")
}

const evaluationColumns = `run_id, model_version, train_years, test_year, rmse, mae, accuracy, samples, locations, created_at`

// sqliteTimeLayout is fixed width so created_at sorts correctly as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// InsertEvaluationRun records one backtest. created_at is stored as UTC text.
func (s *SQLiteStore) InsertEvaluationRun(ctx context.Context, run model.EvaluationRun) error {
	if run.RunID == "" {
		return eris.Wrap(model.ErrInvalidRequest, "sqlite: evaluation run id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluation_runs (`+evaluationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ModelVersion, run.TrainYears, run.TestYear, run.RMSE, run.MAE, run.Accuracy,
		run.Samples, run.Locations, run.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	return wrapErr(err, "sqlite: insert evaluation run")
}

// ListEvaluationRuns returns up to limit runs, newest first.
func (s *SQLiteStore) ListEvaluationRuns(ctx context.Context, limit int) ([]model.EvaluationRun, error) {
	if limit <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "sqlite: limit must be positive, got %d", limit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluation_runs ORDER BY created_at DESC, run_id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, wrapErr(err, "sqlite: list evaluation runs")
	}
	defer rows.Close()

	out := []model.EvaluationRun{}
	for rows.Next() {
		var r model.EvaluationRun
		var created string
		if err := rows.Scan(&r.RunID, &r.ModelVersion, &r.TrainYears, &r.TestYear, &r.RMSE, &r.MAE, &r.Accuracy, &r.Samples, &r.Locations, &created); err != nil {
			return nil, wrapErr(err, "sqlite: scan evaluation run")
		}
		if r.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse created_at %q", created)
		}
		out = append(out, r)
	}
	return out, wrapErr(rows.Err(), "sqlite: iterate evaluation runs")
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, op, query string, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err, "sqlite: "+op+": begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return wrapErr(err, "sqlite: "+op+": prepare")
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return wrapErr(err, "sqlite: "+op)
	}
	return wrapErr(tx.Commit(), "sqlite: "+op+": commit")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteLocation(row scannable) (model.LocationStats, error) {
	var l model.LocationStats
	var lat, lon sql.NullFloat64
	var pop sql.NullInt64
	if err := row.Scan(&l.LocationID, &l.Name, &l.City, &lat, &lon, &l.TotalCrimes, &pop); err != nil {
		return l, err
	}
	l.Latitude = nullFloat(lat)
	l.Longitude = nullFloat(lon)
	l.Population = nullInt(pop)
	return l, nil
}

func scanSQLiteRecord(row scannable, extra ...any) (model.CrimeRecord, error) {
	var r model.CrimeRecord
	var age sql.NullInt64
	var gender sql.NullString
	dest := append([]any{
		&r.ID, &r.LocationID, &r.Year, &r.Month, &r.Day, &r.Weekday, &age, &gender,
		&r.CrimeDescription, &r.Latitude, &r.Longitude,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return r, err
	}
	r.VictimAge = nullInt(age)
	if gender.Valid {
		g := model.NormalizeVictimGender(gender.String)
		r.VictimGender = &g
	}
	return r, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func genderArg(g *model.Gender) any {
	if g == nil {
		return nil
	}
	return string(*g)
}
