package report

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crimesafe/internal/aggregate"
	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/ranking"
)

func sampleForecast() *forecast.Result {
	return &forecast.Result{
		LocationID:   "loc_A",
		LocationName: "MG Road",
		Model:        "seasonal-v1",
		Predictions: []model.Forecast{
			{LocationID: "loc_A", Year: 2024, Month: 10, PredictedRate: 32.73, CILower: 27.12, CIUpper: 38.34, ModelVersion: "seasonal-v1", ZoneClassification: model.ZoneAmber},
			{LocationID: "loc_A", Year: 2024, Month: 11, PredictedRate: 61.2, CILower: 50, CIUpper: 70, ModelVersion: "seasonal-v1", ZoneClassification: model.ZoneRed},
		},
	}
}

func sampleRanking() *ranking.Response {
	return &ranking.Response{
		UserProfile: ranking.UserProfile{Name: "Asha", Age: 29, Gender: model.GenderFemale, Year: 2024, SearchLocation: model.Point{Lat: 12.97, Lon: 77.59}, RadiusKM: 5},
		Recommendations: []model.SafetyRankingResult{
			{LocationID: "loc_B", LocationName: "Indiranagar", DistanceKM: 1.11, SafetyScore: 12.5, AvgCrimeCount: 0.25, Confidence: 0.1, ZoneClassification: model.ZoneGreen, Explanation: "Few crimes against similar victims"},
		},
		TotalLocationsAnalyzed: 3,
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatTable, "table": FormatTable, " JSON ": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("csv")
	assert.Error(t, err)
}

func TestWriteForecast_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteForecast(&buf, FormatTable, sampleForecast()))

	out := buf.String()
	assert.Contains(t, out, "Location: MG Road (loc_A)")
	assert.Contains(t, out, "2024-10")
	assert.Contains(t, out, "32.73")
	assert.Contains(t, out, "Amber")
	assert.Contains(t, out, "Red")
}

func TestWriteForecast_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteForecast(&buf, FormatJSON, sampleForecast()))

	var got forecast.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, *sampleForecast(), got)
}

func TestWriteForecast_YAMLUsesJSONKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteForecast(&buf, FormatYAML, sampleForecast()))

	out := buf.String()
	assert.Contains(t, out, "location_id: loc_A")
	assert.Contains(t, out, "predicted_rate: 32.73")
	assert.Contains(t, out, "zone_classification: amber")
}

func TestWriteRanking_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRanking(&buf, FormatTable, sampleRanking()))

	out := buf.String()
	assert.Contains(t, out, "Requester: Asha age 29 gender F")
	assert.Contains(t, out, "(3 locations analyzed)")
	assert.Contains(t, out, "Indiranagar")
	assert.Contains(t, out, "Green")
}

func TestWriteOverview_Table(t *testing.T) {
	rows := []aggregate.LocationOverview{
		{LocationID: "loc_A", Name: "A very long location name that keeps going", City: "Bengaluru", Year: 2024, CrimeCount: 12345, DominantZone: model.ZoneRed},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteOverview(&buf, FormatTable, rows))

	out := buf.String()
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "A very long location name t...")
	assert.Contains(t, out, "Red")
}

func sampleEvaluation() *forecast.Evaluation {
	return &forecast.Evaluation{
		RunID:        "3f2a9c1e-run",
		ModelVersion: "simple_heuristic_v1",
		TrainYears:   []int{2022, 2023},
		TestYear:     2024,
		Metrics: forecast.EvaluationMetrics{
			RMSE: 14.43, MAE: 11.67, ClassificationAccuracy: 0.3333, Samples: 3,
		},
		ConfusionMatrix:    [3][3]int{{0, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		TestDataStats:      forecast.TestStats{TotalRecords: 4, AvgCrimeCount: 32.5, MinCrimeCount: 5, MaxCrimeCount: 60},
		ZoneDistribution:   []forecast.ZoneCount{{Zone: model.ZoneAmber, Count: 2}, {Zone: model.ZoneRed, Count: 2}},
		LocationsEvaluated: 2,
		LocationsSkipped:   2,
	}
}

func TestWriteEvaluation_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvaluation(&buf, FormatTable, sampleEvaluation()))

	out := buf.String()
	assert.Contains(t, out, "Model: simple_heuristic_v1  run: 3f2a9c1e-run")
	assert.Contains(t, out, "Trained on 2022,2023, tested on 2024 (2 locations, 2 skipped)")
	assert.Contains(t, out, "RMSE 14.43  MAE 11.67  zone accuracy 33.33% over 3 months")
	assert.Regexp(t, `Amber\s+1\s+1\s+0`, out)
	assert.Contains(t, out, "4 test months: avg 32.50, min 5, max 60 crimes")
	assert.Contains(t, out, "  Red: 2")
}

func TestWriteEvaluation_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEvaluation(&buf, FormatJSON, sampleEvaluation()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2024.0, got["test_year"])
	metrics := got["metrics"].(map[string]any)
	assert.Equal(t, 14.43, metrics["rmse"])
	assert.Equal(t, 0.3333, metrics["classification_accuracy"])
	stats := got["test_data_stats"].(map[string]any)
	assert.Equal(t, 60.0, stats["max_crime_count"])
}

func TestWriteEvaluationRuns_Table(t *testing.T) {
	runs := []model.EvaluationRun{{
		RunID: "3f2a9c1e-8b7d-4c1a-9e2f-0a1b2c3d4e5f", ModelVersion: "simple_heuristic_v1", TrainYears: "2022,2023",
		TestYear: 2024, RMSE: 14.43, MAE: 11.67, Accuracy: 0.5, Samples: 3,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC),
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteEvaluationRuns(&buf, FormatTable, runs))

	out := buf.String()
	assert.Contains(t, out, "3f2a9c1e-...")
	assert.Contains(t, out, "2022,2023")
	assert.Contains(t, out, "50.00%")
	assert.Contains(t, out, "2025-01-02 03:04")
}

func TestWrite_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteOverview(&buf, Format("xml"), nil))
}

func TestZoneLabel(t *testing.T) {
	assert.Equal(t, "-", zoneLabel(""))
	assert.Equal(t, "Green", zoneLabel(model.ZoneGreen))
}

func TestForecastWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forecast.xlsx")
	require.NoError(t, ForecastWorkbook(path, []*forecast.Result{sampleForecast()}))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet["Forecasts"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "location_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "loc_A", sheet.Rows[1].Cells[0].String())

	rate, err := sheet.Rows[1].Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 32.73, rate, 1e-9)
	assert.Equal(t, "red", sheet.Rows[2].Cells[7].String())
}

func TestRankingWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranking.xlsx")
	require.NoError(t, RankingWorkbook(path, sampleRanking()))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet := f.Sheets[0]
	assert.Equal(t, "Ranking", sheet.Name)
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "loc_B", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "Few crimes against similar victims", sheet.Rows[1].Cells[10].String())
}
