// Package report renders forecasts, rankings, location overviews and model
// evaluations for the command line as tables, JSON, YAML or XLSX workbooks.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/crimesafe/internal/aggregate"
	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/ranking"
)

// Format selects an output encoding.
type Format string

// Supported output formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", eris.Errorf("report: unknown format %q (want table, json or yaml)", s)
	}
}

var (
	printer   = message.NewPrinter(language.English)
	zoneTitle = cases.Title(language.English)
)

// WriteForecast renders one forecast series.
func WriteForecast(w io.Writer, f Format, r *forecast.Result) error {
	return write(w, f, r, func(out io.Writer) {
		_, _ = fmt.Fprintf(out, "Location: %s (%s)\n", r.LocationName, r.LocationID)
		_, _ = fmt.Fprintf(out, "Model: %s  cached: %t\n\n", r.Model, r.Cached)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "PERIOD\tPREDICTED\tLOWER\tUPPER\tZONE")
		_, _ = fmt.Fprintln(tw, "------\t---------\t-----\t-----\t----")
		for _, p := range r.Predictions {
			_, _ = fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%s\n",
				p.Period(), p.PredictedRate, p.CILower, p.CIUpper, zoneLabel(p.ZoneClassification))
		}
		_ = tw.Flush()
	})
}

// WriteRanking renders a safety ranking response.
func WriteRanking(w io.Writer, f Format, r *ranking.Response) error {
	return write(w, f, r, func(out io.Writer) {
		p := r.UserProfile
		_, _ = fmt.Fprintf(out, "Requester: %s age %d gender %s\n", p.Name, p.Age, p.Gender)
		_, _ = fmt.Fprintf(out, "Search: %.4f,%.4f within %.1f km for %d (%d locations analyzed)\n\n",
			p.SearchLocation.Lat, p.SearchLocation.Lon, p.RadiusKM, p.Year, r.TotalLocationsAnalyzed)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "RANK\tLOCATION\tDISTANCE_KM\tSCORE\tAVG/MONTH\tCONFIDENCE\tZONE\tEXPLANATION")
		_, _ = fmt.Fprintln(tw, "----\t--------\t-----------\t-----\t---------\t----------\t----\t-----------")
		for i, rec := range r.Recommendations {
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n",
				i+1, truncate(rec.LocationName, 30), rec.DistanceKM, rec.SafetyScore,
				rec.AvgCrimeCount, rec.Confidence, zoneLabel(rec.ZoneClassification), rec.Explanation)
		}
		_ = tw.Flush()
	})
}

// WriteOverview renders the per-location listing for a year.
func WriteOverview(w io.Writer, f Format, rows []aggregate.LocationOverview) error {
	return write(w, f, rows, func(out io.Writer) {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME\tCITY\tYEAR\tCRIMES\tZONE")
		_, _ = fmt.Fprintln(tw, "--\t----\t----\t----\t------\t----")
		for _, r := range rows {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				r.LocationID, truncate(r.Name, 30), r.City, r.Year,
				printer.Sprintf("%d", r.CrimeCount), zoneLabel(r.DominantZone))
		}
		_ = tw.Flush()
	})
}

// WriteEvaluation renders a held-out-year backtest.
func WriteEvaluation(w io.Writer, f Format, e *forecast.Evaluation) error {
	return write(w, f, e, func(out io.Writer) {
		years := make([]string, len(e.TrainYears))
		for i, y := range e.TrainYears {
			years[i] = fmt.Sprint(y)
		}
		_, _ = fmt.Fprintf(out, "Model: %s  run: %s\n", e.ModelVersion, e.RunID)
		_, _ = fmt.Fprintf(out, "Trained on %s, tested on %d (%d locations, %d skipped)\n\n",
			strings.Join(years, ","), e.TestYear, e.LocationsEvaluated, e.LocationsSkipped)

		m := e.Metrics
		_, _ = fmt.Fprintf(out, "RMSE %.2f  MAE %.2f  zone accuracy %.2f%% over %d months\n\n",
			m.RMSE, m.MAE, m.ClassificationAccuracy*100, m.Samples)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ACTUAL/PREDICTED\tGreen\tAmber\tRed")
		_, _ = fmt.Fprintln(tw, "----------------\t-----\t-----\t---")
		for i, z := range []model.Zone{model.ZoneGreen, model.ZoneAmber, model.ZoneRed} {
			row := e.ConfusionMatrix[i]
			_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", zoneLabel(z), row[0], row[1], row[2])
		}
		_ = tw.Flush()

		st := e.TestDataStats
		_, _ = fmt.Fprintf(out, "\n%d test months: avg %.2f, min %d, max %d crimes\n",
			st.TotalRecords, st.AvgCrimeCount, st.MinCrimeCount, st.MaxCrimeCount)
		for _, zc := range e.ZoneDistribution {
			_, _ = fmt.Fprintf(out, "  %s: %s\n", zoneLabel(zc.Zone), printer.Sprintf("%d", zc.Count))
		}
	})
}

// WriteEvaluationRuns renders the recorded evaluation ledger, newest first.
func WriteEvaluationRuns(w io.Writer, f Format, runs []model.EvaluationRun) error {
	return write(w, f, runs, func(out io.Writer) {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "RUN\tMODEL\tTRAIN\tTEST\tRMSE\tMAE\tACCURACY\tSAMPLES\tCREATED")
		_, _ = fmt.Fprintln(tw, "---\t-----\t-----\t----\t----\t---\t--------\t-------\t-------")
		for _, r := range runs {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f%%\t%d\t%s\n",
				truncate(r.RunID, 12), r.ModelVersion, r.TrainYears, r.TestYear,
				r.RMSE, r.MAE, r.Accuracy*100, r.Samples, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		_ = tw.Flush()
	})
}

func write(w io.Writer, f Format, v any, table func(io.Writer)) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "report: encode json")
	case FormatYAML:
		return writeYAML(w, v)
	case FormatTable, "":
		table(w)
		return nil
	default:
		return eris.Errorf("report: unknown format %q", f)
	}
}

// writeYAML goes through JSON first so YAML keys match the JSON field names.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return eris.Wrap(err, "report: decode json")
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

func zoneLabel(z model.Zone) string {
	if z == "" {
		return "-"
	}
	return zoneTitle.String(string(z))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
