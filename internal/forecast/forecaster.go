package forecast

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/zone"
)

// Empty-history policies.
const (
	EmptyHistoryReject  = "reject"
	EmptyHistoryDefault = "default"
)

// LocationReader looks up location reference data. Implementations return an
// error wrapping model.ErrLocationNotFound for unknown ids.
type LocationReader interface {
	GetLocation(ctx context.Context, locationID string) (*model.LocationStats, error)
}

// HistoryReader returns up to limit monthly aggregates, newest first.
type HistoryReader interface {
	GetMonthlyHistory(ctx context.Context, locationID string, limit int) ([]model.MonthlyAggregate, error)
}

// Cache stores forecasts keyed by (location_id, year, month). UpsertForecast
// must be atomic per key with last-write-wins semantics.
type Cache interface {
	GetForecasts(ctx context.Context, locationID string, yearFrom int) ([]model.Forecast, error)
	UpsertForecast(ctx context.Context, f model.Forecast) error
}

// Request asks for a forecast of HorizonMonths months. Refresh forces a
// recompute that overwrites any cached months.
type Request struct {
	LocationID    string `json:"location_id"`
	HorizonMonths int    `json:"horizon_months"`
	Refresh       bool   `json:"refresh,omitempty"`
}

// Result is a forecast series for one location.
type Result struct {
	LocationID   string           `json:"location_id"`
	LocationName string           `json:"location_name"`
	Predictions  []model.Forecast `json:"predictions"`
	Model        string           `json:"model"`
	Cached       bool             `json:"cached"`
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithClock overrides the clock used to pick the start month when a location
// has no history.
func WithClock(now func() time.Time) Option {
	return func(f *Forecaster) {
		f.now = now
	}
}

// WithStrategy replaces the forecasting strategy.
func WithStrategy(s Strategy) Option {
	return func(f *Forecaster) {
		f.strategy = s
	}
}

// Forecaster reads history, consults the cache and runs a Strategy.
type Forecaster struct {
	locations LocationReader
	history   HistoryReader
	cache     Cache
	strategy  Strategy
	zones     zone.Policy
	cfg       config.ForecastConfig
	now       func() time.Time
}

// New creates a Forecaster using SeasonalHeuristic built from cfg.
func New(locations LocationReader, history HistoryReader, cache Cache, zones zone.Policy, cfg config.ForecastConfig, opts ...Option) *Forecaster {
	f := &Forecaster{
		locations: locations,
		history:   history,
		cache:     cache,
		strategy:  HeuristicFromConfig(cfg),
		zones:     zones,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forecast returns HorizonMonths consecutive forecasts starting the month
// after the latest history point. A fully cached horizon is returned as-is
// with Cached=true; anything less is recomputed in one pass and every month is
// upserted.
func (f *Forecaster) Forecast(ctx context.Context, req Request) (*Result, error) {
	if req.HorizonMonths <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "forecast: horizon_months must be positive, got %d", req.HorizonMonths)
	}
	if f.cfg.MaxHorizon > 0 && req.HorizonMonths > f.cfg.MaxHorizon {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "forecast: horizon_months %d exceeds maximum %d", req.HorizonMonths, f.cfg.MaxHorizon)
	}

	loc, err := f.locations.GetLocation(ctx, req.LocationID)
	if err != nil {
		forecastRequests.WithLabelValues(outcomeError).Inc()
		return nil, eris.Wrapf(err, "forecast: get location %s", req.LocationID)
	}

	history, err := f.history.GetMonthlyHistory(ctx, req.LocationID, f.historyLimit())
	if err != nil {
		forecastRequests.WithLabelValues(outcomeError).Inc()
		return nil, eris.Wrapf(err, "forecast: get history %s", req.LocationID)
	}

	if len(history) == 0 {
		if f.cfg.EmptyHistory != EmptyHistoryDefault {
			forecastRequests.WithLabelValues(outcomeError).Inc()
			return nil, eris.Wrapf(model.ErrInsufficientHistory, "forecast: no monthly history for %s", req.LocationID)
		}
		zap.L().Warn("forecast: no history, using default series",
			zap.String("location_id", req.LocationID),
			zap.Int("horizon_months", req.HorizonMonths),
		)
		forecastRequests.WithLabelValues(outcomeDefault).Inc()
		series := f.defaultSeries(req.LocationID, req.HorizonMonths)
		return f.result(loc, series, false), nil
	}

	start := newestFirst(history)[0].Period().Next()

	if !req.Refresh {
		cached, ok, err := f.lookup(ctx, req.LocationID, start, req.HorizonMonths)
		if err != nil {
			forecastRequests.WithLabelValues(outcomeError).Inc()
			return nil, err
		}
		if ok {
			zap.L().Debug("forecast: cache hit",
				zap.String("location_id", req.LocationID),
				zap.Stringer("start", start),
				zap.Int("horizon_months", req.HorizonMonths),
			)
			forecastRequests.WithLabelValues(outcomeCached).Inc()
			return f.result(loc, cached, true), nil
		}
	}

	series, err := f.strategy.Forecast(req.LocationID, req.HorizonMonths, history)
	if err != nil {
		forecastRequests.WithLabelValues(outcomeError).Inc()
		return nil, eris.Wrapf(err, "forecast: compute %s", req.LocationID)
	}
	if err := validateSeries(series, start, req.HorizonMonths); err != nil {
		forecastRequests.WithLabelValues(outcomeError).Inc()
		return nil, err
	}

	for _, fc := range series {
		if err := f.cache.UpsertForecast(ctx, fc); err != nil {
			forecastRequests.WithLabelValues(outcomeError).Inc()
			return nil, eris.Wrapf(err, "forecast: upsert %s %s", fc.LocationID, fc.Period())
		}
	}

	zap.L().Info("forecast: computed",
		zap.String("location_id", req.LocationID),
		zap.String("model", f.strategy.Version()),
		zap.Stringer("start", start),
		zap.Int("horizon_months", req.HorizonMonths),
		zap.Int("history_months", len(history)),
		zap.Bool("refresh", req.Refresh),
	)
	forecastRequests.WithLabelValues(outcomeComputed).Inc()
	return f.result(loc, series, false), nil
}

// lookup returns the cached forecasts for start..start+horizon-1 in order,
// and false unless every month is present.
func (f *Forecaster) lookup(ctx context.Context, locationID string, start model.YearMonth, horizon int) ([]model.Forecast, bool, error) {
	rows, err := f.cache.GetForecasts(ctx, locationID, start.Year)
	if err != nil {
		return nil, false, eris.Wrapf(err, "forecast: read cache %s", locationID)
	}

	byMonth := make(map[model.YearMonth]model.Forecast, len(rows))
	for _, r := range rows {
		byMonth[r.Period()] = r
	}

	out := make([]model.Forecast, 0, horizon)
	for i := 0; i < horizon; i++ {
		fc, ok := byMonth[start.Add(i)]
		if !ok {
			return nil, false, nil
		}
		out = append(out, fc)
	}
	return out, true, nil
}

// defaultSeries is the deterministic fallback for a location with no history:
// a zero mean with a [0, DefaultSpread] interval, starting the month after now.
// It is never cached, so real history replaces it as soon as it exists.
func (f *Forecaster) defaultSeries(locationID string, horizon int) []model.Forecast {
	start := model.YearMonthOf(f.now()).Next()
	spread := math.Max(0, round2(f.cfg.DefaultSpread))

	out := make([]model.Forecast, 0, horizon)
	for i := 0; i < horizon; i++ {
		ym := start.Add(i)
		out = append(out, model.Forecast{
			LocationID:    locationID,
			Year:          ym.Year,
			Month:         ym.Month,
			PredictedRate: 0,
			CILower:       0,
			CIUpper:       spread,
			Explanation:   "No history available; using global default of 0 with wide interval",
			ModelVersion:  f.strategy.Version(),
		})
	}
	return out
}

func (f *Forecaster) result(loc *model.LocationStats, series []model.Forecast, cached bool) *Result {
	labeled := make([]model.Forecast, len(series))
	for i, fc := range series {
		fc.ZoneClassification = f.zones.Classify(int(math.Round(fc.PredictedRate)))
		labeled[i] = fc
	}

	version := f.strategy.Version()
	if cached && len(labeled) > 0 && labeled[0].ModelVersion != "" {
		version = labeled[0].ModelVersion
	}

	return &Result{
		LocationID:   loc.LocationID,
		LocationName: loc.Name,
		Predictions:  labeled,
		Model:        version,
		Cached:       cached,
	}
}

func (f *Forecaster) historyLimit() int {
	limit := f.cfg.HistoryLimit
	if limit <= 0 {
		limit = 24
	}
	return limit
}

// validateSeries checks a strategy's output against the forecast contract.
func validateSeries(series []model.Forecast, start model.YearMonth, horizon int) error {
	if len(series) != horizon {
		return eris.Wrapf(model.ErrInternalComputation, "forecast: strategy returned %d months, want %d", len(series), horizon)
	}
	for i, fc := range series {
		if fc.Period() != start.Add(i) {
			return eris.Wrapf(model.ErrInternalComputation, "forecast: month %d is %s, want %s", i, fc.Period(), start.Add(i))
		}
		if err := checkFinite(fc); err != nil {
			return err
		}
	}
	return nil
}

// IsClientError reports whether err is caused by the request rather than the
// store or the computation.
func IsClientError(err error) bool {
	return errors.Is(err, model.ErrInvalidRequest) ||
		errors.Is(err, model.ErrLocationNotFound) ||
		errors.Is(err, model.ErrInsufficientHistory)
}
