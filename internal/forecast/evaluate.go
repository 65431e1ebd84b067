package forecast

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/zone"
)

// zoneOrder indexes the confusion matrix rows (actual) and columns (predicted).
var zoneOrder = [3]model.Zone{model.ZoneGreen, model.ZoneAmber, model.ZoneRed}

// Evaluation is a held-out-year backtest: each location's strategy is fed
// only months before TestYear and its forecasts are scored against
// TestYear's actual monthly counts.
type Evaluation struct {
	RunID        string            `json:"run_id,omitempty"`
	ModelVersion string            `json:"model_version"`
	TrainYears   []int             `json:"train_years"`
	TestYear     int               `json:"test_year"`
	Metrics      EvaluationMetrics `json:"metrics"`
	// ConfusionMatrix rows are the actual zone and columns the predicted
	// zone, both ordered green, amber, red.
	ConfusionMatrix    [3][3]int   `json:"confusion_matrix"`
	TestDataStats      TestStats   `json:"test_data_stats"`
	ZoneDistribution   []ZoneCount `json:"zone_distribution"`
	LocationsEvaluated int         `json:"locations_evaluated"`
	LocationsSkipped   int         `json:"locations_skipped"`
	EvaluatedAt        time.Time   `json:"evaluated_at"`
}

// EvaluationMetrics are the error and accuracy scores over every scored month.
type EvaluationMetrics struct {
	RMSE                   float64 `json:"rmse"`
	MAE                    float64 `json:"mae"`
	ClassificationAccuracy float64 `json:"classification_accuracy"`
	Samples                int     `json:"samples"`
}

// TestStats summarizes crime_count over all test-year aggregates.
type TestStats struct {
	TotalRecords  int     `json:"total_records"`
	AvgCrimeCount float64 `json:"avg_crime_count"`
	MinCrimeCount int     `json:"min_crime_count"`
	MaxCrimeCount int     `json:"max_crime_count"`
}

// ZoneCount is the number of test-year months labeled Zone.
type ZoneCount struct {
	Zone  model.Zone `json:"zone"`
	Count int        `json:"count"`
}

// Run converts e into the row recorded in the evaluation ledger.
func (e *Evaluation) Run() model.EvaluationRun {
	years := make([]string, len(e.TrainYears))
	for i, y := range e.TrainYears {
		years[i] = strconv.Itoa(y)
	}
	return model.EvaluationRun{
		RunID:        e.RunID,
		ModelVersion: e.ModelVersion,
		TrainYears:   strings.Join(years, ","),
		TestYear:     e.TestYear,
		RMSE:         e.Metrics.RMSE,
		MAE:          e.Metrics.MAE,
		Accuracy:     e.Metrics.ClassificationAccuracy,
		Samples:      e.Metrics.Samples,
		Locations:    e.LocationsEvaluated,
		CreatedAt:    e.EvaluatedAt,
	}
}

// Evaluate backtests strategy on aggs. testYear 0 selects the latest year
// present. A location without months both before and in the test year is
// skipped; if none can be scored the result is ErrInsufficientHistory.
func Evaluate(strategy Strategy, zones zone.Policy, aggs []model.MonthlyAggregate, testYear int) (*Evaluation, error) {
	if testYear < 0 {
		return nil, eris.Wrapf(model.ErrInvalidRequest, "evaluate: test year must not be negative, got %d", testYear)
	}
	if len(aggs) == 0 {
		return nil, eris.Wrap(model.ErrInsufficientHistory, "evaluate: no monthly aggregates")
	}
	if testYear == 0 {
		for _, a := range aggs {
			testYear = max(testYear, a.Year)
		}
	}

	byLocation := make(map[string][]model.MonthlyAggregate)
	trainYears := make(map[int]bool)
	var testRows []model.MonthlyAggregate
	for _, a := range aggs {
		switch {
		case a.Year < testYear:
			trainYears[a.Year] = true
		case a.Year == testYear:
			testRows = append(testRows, a)
		default:
			continue
		}
		byLocation[a.LocationID] = append(byLocation[a.LocationID], a)
	}

	ids := make([]string, 0, len(byLocation))
	for id := range byLocation {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ev := &Evaluation{ModelVersion: strategy.Version(), TestYear: testYear}
	for y := range trainYears {
		ev.TrainYears = append(ev.TrainYears, y)
	}
	sort.Ints(ev.TrainYears)

	var sumSq, sumAbs float64
	var correct int
	for _, id := range ids {
		var train, test []model.MonthlyAggregate
		for _, a := range byLocation[id] {
			if a.Year < testYear {
				train = append(train, a)
			} else {
				test = append(test, a)
			}
		}
		if len(train) == 0 || len(test) == 0 {
			ev.LocationsSkipped++
			continue
		}

		train = newestFirst(train)
		last := train[0].Period()
		end := newestFirst(test)[0].Period()
		preds, err := strategy.Forecast(id, end.MonthsSince(last), train)
		if errors.Is(err, model.ErrInsufficientHistory) {
			ev.LocationsSkipped++
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "evaluate: forecast %s", id)
		}
		predicted := make(map[model.YearMonth]float64, len(preds))
		for _, p := range preds {
			predicted[p.Period()] = p.PredictedRate
		}

		for _, a := range test {
			p, ok := predicted[a.Period()]
			if !ok {
				continue
			}
			diff := p - float64(a.CrimeCount)
			sumSq += diff * diff
			sumAbs += math.Abs(diff)

			actual := zones.Classify(a.CrimeCount)
			guess := zones.Classify(int(math.Round(p)))
			ev.ConfusionMatrix[zoneIndex(actual)][zoneIndex(guess)]++
			if actual == guess {
				correct++
			}
			ev.Metrics.Samples++
		}
		ev.LocationsEvaluated++
	}

	if ev.Metrics.Samples == 0 {
		return nil, eris.Wrapf(model.ErrInsufficientHistory,
			"evaluate: no location has months both before and in %d", testYear)
	}
	n := float64(ev.Metrics.Samples)
	ev.Metrics.RMSE = round2(math.Sqrt(sumSq / n))
	ev.Metrics.MAE = round2(sumAbs / n)
	ev.Metrics.ClassificationAccuracy = math.Round(float64(correct)/n*10000) / 10000

	ev.TestDataStats, ev.ZoneDistribution = testYearStats(testRows, zones)
	return ev, nil
}

// Evaluate backtests the Forecaster's strategy and zone policy on aggs and
// stamps the result with a run id and time.
func (f *Forecaster) Evaluate(aggs []model.MonthlyAggregate, testYear int) (*Evaluation, error) {
	ev, err := Evaluate(f.strategy, f.zones, aggs, testYear)
	if err != nil {
		return nil, err
	}
	ev.RunID = uuid.NewString()
	ev.EvaluatedAt = f.now().UTC()

	zap.L().Info("forecast: evaluation complete",
		zap.String("run_id", ev.RunID),
		zap.Int("test_year", ev.TestYear),
		zap.Float64("rmse", ev.Metrics.RMSE),
		zap.Float64("mae", ev.Metrics.MAE),
		zap.Float64("accuracy", ev.Metrics.ClassificationAccuracy),
		zap.Int("samples", ev.Metrics.Samples),
	)
	return ev, nil
}

func testYearStats(rows []model.MonthlyAggregate, zones zone.Policy) (TestStats, []ZoneCount) {
	var stats TestStats
	var counts [3]int
	sum := 0
	for i, a := range rows {
		if i == 0 || a.CrimeCount < stats.MinCrimeCount {
			stats.MinCrimeCount = a.CrimeCount
		}
		stats.MaxCrimeCount = max(stats.MaxCrimeCount, a.CrimeCount)
		sum += a.CrimeCount

		z := a.ZoneClassification
		if !z.Valid() {
			z = zones.Classify(a.CrimeCount)
		}
		counts[zoneIndex(z)]++
	}
	stats.TotalRecords = len(rows)
	if len(rows) > 0 {
		stats.AvgCrimeCount = round2(float64(sum) / float64(len(rows)))
	}

	dist := []ZoneCount{}
	for i, z := range zoneOrder {
		if counts[i] > 0 {
			dist = append(dist, ZoneCount{Zone: z, Count: counts[i]})
		}
	}
	return stats, dist
}

func zoneIndex(z model.Zone) int {
	for i, o := range zoneOrder {
		if o == z {
			return i
		}
	}
	return 0
}
