package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/ranking"
)

// ForecastWorkbook saves forecast series to an XLSX file with one row per
// location-month on a "Forecasts" sheet.
func ForecastWorkbook(path string, results []*forecast.Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Forecasts")
	if err != nil {
		return eris.Wrap(err, "report: add forecasts sheet")
	}
	addHeader(sheet, "location_id", "location_name", "year", "month", "predicted_rate", "ci_lower", "ci_upper", "zone", "model_version", "explanation")

	for _, r := range results {
		for _, p := range r.Predictions {
			row := sheet.AddRow()
			row.AddCell().SetString(r.LocationID)
			row.AddCell().SetString(r.LocationName)
			row.AddCell().SetInt(p.Year)
			row.AddCell().SetInt(p.Month)
			row.AddCell().SetFloat(p.PredictedRate)
			row.AddCell().SetFloat(p.CILower)
			row.AddCell().SetFloat(p.CIUpper)
			row.AddCell().SetString(string(p.ZoneClassification))
			row.AddCell().SetString(p.ModelVersion)
			row.AddCell().SetString(p.Explanation)
		}
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

// RankingWorkbook saves a ranking to an XLSX file, best location first.
func RankingWorkbook(path string, r *ranking.Response) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Ranking")
	if err != nil {
		return eris.Wrap(err, "report: add ranking sheet")
	}
	addHeader(sheet, "rank", "location_id", "location_name", "latitude", "longitude", "distance_km", "safety_score", "avg_crime_count", "confidence", "zone", "explanation")

	for i, rec := range r.Recommendations {
		row := sheet.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(rec.LocationID)
		row.AddCell().SetString(rec.LocationName)
		row.AddCell().SetFloat(rec.Latitude)
		row.AddCell().SetFloat(rec.Longitude)
		row.AddCell().SetFloat(rec.DistanceKM)
		row.AddCell().SetFloat(rec.SafetyScore)
		row.AddCell().SetFloat(rec.AvgCrimeCount)
		row.AddCell().SetFloat(rec.Confidence)
		row.AddCell().SetString(string(rec.ZoneClassification))
		row.AddCell().SetString(rec.Explanation)
	}
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addHeader(sheet *xlsx.Sheet, cols ...string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}
