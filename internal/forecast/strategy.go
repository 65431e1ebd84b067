// Package forecast produces multi-month crime forecasts with confidence
// intervals and caches them per (location, year, month).
package forecast

import (
	"fmt"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/model"
)

// HeuristicVersion is the model_version written by SeasonalHeuristic.
const HeuristicVersion = "simple_heuristic_v1"

// Strategy turns a location's monthly history (newest first) into a
// consecutive series of horizon forecasts starting the month after the latest
// history point. It must be pure so that a statistical model can replace it
// without touching callers.
type Strategy interface {
	Version() string
	Forecast(locationID string, horizon int, history []model.MonthlyAggregate) ([]model.Forecast, error)
}

// SeasonalHeuristic forecasts the trailing-window mean scaled by a sinusoidal
// seasonal factor and a linear trend, with a ±σ interval.
type SeasonalHeuristic struct {
	WindowMonths      int
	SeasonalAmplitude float64
	MonthlyTrend      float64
}

// DefaultHeuristic returns a 6-month window, 10% seasonality and 1% monthly trend.
func DefaultHeuristic() SeasonalHeuristic {
	return SeasonalHeuristic{WindowMonths: 6, SeasonalAmplitude: 0.1, MonthlyTrend: 0.01}
}

// HeuristicFromConfig builds a SeasonalHeuristic from configured values as
// given. A zero amplitude or trend disables that term.
func HeuristicFromConfig(c config.ForecastConfig) SeasonalHeuristic {
	return SeasonalHeuristic{
		WindowMonths:      c.WindowMonths,
		SeasonalAmplitude: c.SeasonalAmplitude,
		MonthlyTrend:      c.MonthlyTrend,
	}
}

// Validate checks the heuristic's coefficients.
func (h SeasonalHeuristic) Validate() error {
	if h.WindowMonths <= 0 {
		return eris.Errorf("forecast: window_months must be > 0, got %d", h.WindowMonths)
	}
	if h.SeasonalAmplitude < 0 || h.SeasonalAmplitude >= 1 {
		return eris.Errorf("forecast: seasonal_amplitude must be in [0, 1), got %v", h.SeasonalAmplitude)
	}
	if h.MonthlyTrend < 0 {
		return eris.Errorf("forecast: monthly_trend must be >= 0, got %v", h.MonthlyTrend)
	}
	return nil
}

// Version implements Strategy.
func (h SeasonalHeuristic) Version() string {
	return HeuristicVersion
}

// Forecast implements Strategy.
func (h SeasonalHeuristic) Forecast(locationID string, horizon int, history []model.MonthlyAggregate) ([]model.Forecast, error) {
	if horizon <= 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "forecast: horizon must be positive, got %d", horizon)
	}
	if len(history) == 0 {
		return nil, eris.Wrapf(model.ErrInsufficientHistory, "forecast: no monthly history for %s", locationID)
	}

	recent := newestFirst(history)
	window := h.WindowMonths
	if window <= 0 {
		window = DefaultHeuristic().WindowMonths
	}
	if len(recent) < window {
		window = len(recent)
	}

	counts := make([]float64, window)
	for i := 0; i < window; i++ {
		if recent[i].CrimeCount < 0 {
			return nil, eris.Wrapf(model.ErrInvalidRequest, "forecast: negative crime_count for %s %s", locationID, recent[i].Period())
		}
		counts[i] = float64(recent[i].CrimeCount)
	}
	mean, stddev := meanStdDev(counts)

	start := recent[0].Period().Next()
	explanation := fmt.Sprintf("Based on %d-month average with seasonal adjustment", window)

	out := make([]model.Forecast, 0, horizon)
	for i := 0; i < horizon; i++ {
		ym := start.Add(i)
		seasonal := 1 + h.SeasonalAmplitude*math.Sin(2*math.Pi*float64(ym.Month)/12)
		trend := 1 + h.MonthlyTrend*float64(i)

		predicted := math.Max(0, round2(mean*seasonal*trend))
		f := model.Forecast{
			LocationID:    locationID,
			Year:          ym.Year,
			Month:         ym.Month,
			PredictedRate: predicted,
			CILower:       math.Max(0, round2(predicted-stddev)),
			CIUpper:       round2(predicted + stddev),
			Explanation:   explanation,
			ModelVersion:  HeuristicVersion,
		}
		if err := checkFinite(f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// newestFirst returns a copy of history sorted by period, newest first.
func newestFirst(history []model.MonthlyAggregate) []model.MonthlyAggregate {
	sorted := make([]model.MonthlyAggregate, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[j].Period().Before(sorted[i].Period())
	})
	return sorted
}

// meanStdDev returns the mean and population standard deviation of xs.
func meanStdDev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func checkFinite(f model.Forecast) error {
	for _, v := range []float64{f.PredictedRate, f.CILower, f.CIUpper} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return eris.Wrapf(model.ErrInternalComputation, "forecast: non-finite value for %s %s", f.LocationID, f.Period())
		}
	}
	if !f.Bracketed() {
		return eris.Wrapf(model.ErrInternalComputation, "forecast: interval does not bracket prediction for %s %s", f.LocationID, f.Period())
	}
	return nil
}
