package forecast

import (
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/zone"
)

// lastValueStrategy repeats the newest history count for every month.
type lastValueStrategy struct{}

func (lastValueStrategy) Version() string { return "last_value" }

func (lastValueStrategy) Forecast(id string, horizon int, history []model.MonthlyAggregate) ([]model.Forecast, error) {
	if len(history) == 0 {
		return nil, eris.Wrap(model.ErrInsufficientHistory, "empty")
	}
	out := make([]model.Forecast, horizon)
	start := history[0].Period().Next()
	for i := range out {
		ym := start.Add(i)
		out[i] = model.Forecast{LocationID: id, Year: ym.Year, Month: ym.Month, PredictedRate: float64(history[0].CrimeCount)}
	}
	return out, nil
}

type failingStrategy struct{ err error }

func (failingStrategy) Version() string { return "failing" }

func (s failingStrategy) Forecast(string, int, []model.MonthlyAggregate) ([]model.Forecast, error) {
	return nil, s.err
}

func agg(id string, year, month, count int) model.MonthlyAggregate {
	return model.MonthlyAggregate{LocationID: id, Year: year, Month: month, CrimeCount: count}
}

func backtestFixture() []model.MonthlyAggregate {
	stored := agg("loc_C", 2024, 1, 5)
	stored.ZoneClassification = model.ZoneRed
	return []model.MonthlyAggregate{
		agg("loc_A", 2023, 11, 30),
		agg("loc_A", 2023, 12, 40),
		agg("loc_A", 2024, 2, 60),
		agg("loc_A", 2024, 1, 40),
		agg("loc_B", 2023, 12, 10),
		agg("loc_B", 2024, 1, 25),
		stored,
		agg("loc_D", 2022, 6, 3),
	}
}

func TestEvaluate_ScoresHeldOutYear(t *testing.T) {
	ev, err := Evaluate(lastValueStrategy{}, zone.DefaultPolicy(), backtestFixture(), 0)
	require.NoError(t, err)

	assert.Equal(t, "last_value", ev.ModelVersion)
	assert.Equal(t, 2024, ev.TestYear)
	assert.Equal(t, []int{2022, 2023}, ev.TrainYears)
	assert.Equal(t, 2, ev.LocationsEvaluated)
	assert.Equal(t, 2, ev.LocationsSkipped, "loc_C has no training months, loc_D no test months")

	// errors: loc_A 0 and -20, loc_B -15
	assert.Equal(t, 3, ev.Metrics.Samples)
	assert.InDelta(t, 14.43, ev.Metrics.RMSE, 1e-9)
	assert.InDelta(t, 11.67, ev.Metrics.MAE, 1e-9)
	assert.InDelta(t, 0.3333, ev.Metrics.ClassificationAccuracy, 1e-9)

	var want [3][3]int
	want[1][1] = 1 // amber predicted amber
	want[2][1] = 1 // red predicted amber
	want[1][0] = 1 // amber predicted green
	assert.Equal(t, want, ev.ConfusionMatrix)

	assert.Equal(t, TestStats{TotalRecords: 4, AvgCrimeCount: 32.5, MinCrimeCount: 5, MaxCrimeCount: 60}, ev.TestDataStats)
	assert.Equal(t, []ZoneCount{
		{Zone: model.ZoneAmber, Count: 2},
		{Zone: model.ZoneRed, Count: 2},
	}, ev.ZoneDistribution, "stored zone wins over recomputed one")
}

func TestEvaluate_ExplicitTestYearDropsLaterMonths(t *testing.T) {
	_, err := Evaluate(lastValueStrategy{}, zone.DefaultPolicy(), backtestFixture(), 2023)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory))
}

func TestEvaluate_ZonePolicyChangesAccuracy(t *testing.T) {
	ev, err := Evaluate(lastValueStrategy{}, zone.Policy{RedAbove: 100, AmberAbove: 0}, backtestFixture(), 2024)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ev.Metrics.ClassificationAccuracy, 1e-9)
	assert.Equal(t, 3, ev.ConfusionMatrix[1][1])
}

func TestEvaluate_Errors(t *testing.T) {
	_, err := Evaluate(lastValueStrategy{}, zone.DefaultPolicy(), nil, 0)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory))

	_, err = Evaluate(lastValueStrategy{}, zone.DefaultPolicy(), backtestFixture(), -1)
	assert.True(t, errors.Is(err, model.ErrInvalidRequest))

	_, err = Evaluate(failingStrategy{err: eris.Wrap(model.ErrInternalComputation, "boom")}, zone.DefaultPolicy(), backtestFixture(), 0)
	assert.True(t, errors.Is(err, model.ErrInternalComputation))

	_, err = Evaluate(failingStrategy{err: eris.Wrap(model.ErrInsufficientHistory, "thin")}, zone.DefaultPolicy(), backtestFixture(), 0)
	assert.True(t, errors.Is(err, model.ErrInsufficientHistory), "every location skipped")
}

func TestEvaluate_SeasonalHeuristic(t *testing.T) {
	var aggs []model.MonthlyAggregate
	for m := 1; m <= 12; m++ {
		aggs = append(aggs, agg("loc_A", 2023, m, 30), agg("loc_A", 2024, m, 30))
	}
	ev, err := Evaluate(DefaultHeuristic(), zone.DefaultPolicy(), aggs, 2024)
	require.NoError(t, err)
	assert.Equal(t, HeuristicVersion, ev.ModelVersion)
	assert.Equal(t, 12, ev.Metrics.Samples)
	assert.Equal(t, []int{2023}, ev.TrainYears)
	assert.Greater(t, ev.Metrics.RMSE, 0.0)
	assert.LessOrEqual(t, ev.Metrics.MAE, ev.Metrics.RMSE)
}

func TestForecaster_EvaluateStampsRun(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("EST", -5*3600))
	f := newTestForecaster(newMemStore(), testForecastConfig(),
		WithStrategy(lastValueStrategy{}),
		WithClock(func() time.Time { return now }),
	)

	ev, err := f.Evaluate(backtestFixture(), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, ev.RunID)
	assert.Equal(t, now.UTC(), ev.EvaluatedAt)

	run := ev.Run()
	assert.Equal(t, model.EvaluationRun{
		RunID:        ev.RunID,
		ModelVersion: "last_value",
		TrainYears:   "2022,2023",
		TestYear:     2024,
		RMSE:         14.43,
		MAE:          11.67,
		Accuracy:     0.3333,
		Samples:      3,
		Locations:    2,
		CreatedAt:    now.UTC(),
	}, run)
}
