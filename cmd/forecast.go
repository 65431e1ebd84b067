package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/report"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
)

var (
	forecastLocations []string
	forecastHorizon   int
	forecastRefresh   bool
	forecastAll       bool
	forecastFormat    string
	forecastXLSX      string
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast monthly crime counts for one or more locations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !forecastAll && len(forecastLocations) == 0 {
			return eris.New("one of --location or --all is required")
		}
		format, err := report.ParseFormat(forecastFormat)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "forecast")
		if err != nil {
			return err
		}
		defer env.Close()

		if forecastAll {
			summary, err := refreshAllForecasts(ctx, env.Store, env.Forecaster, forecastHorizon)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d locations, skipped %d\n", summary.Refreshed, summary.Skipped)
			return nil
		}

		retry := resilience.FromConfig(cfg.Retry)
		results := make([]*forecast.Result, 0, len(forecastLocations))
		for _, id := range forecastLocations {
			res, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*forecast.Result, error) {
				return env.Forecaster.Forecast(ctx, forecast.Request{
					LocationID:    id,
					HorizonMonths: forecastHorizon,
					Refresh:       forecastRefresh,
				})
			})
			if err != nil {
				return eris.Wrapf(err, "forecast %s", id)
			}
			if err := report.WriteForecast(cmd.OutOrStdout(), format, res); err != nil {
				return err
			}
			results = append(results, res)
		}

		if forecastXLSX != "" {
			if err := report.ForecastWorkbook(forecastXLSX, results); err != nil {
				return err
			}
			zap.L().Info("forecast workbook written", zap.String("path", forecastXLSX))
		}
		return nil
	},
}

// refreshAllForecasts recomputes the horizon for every stored location.
func refreshAllForecasts(ctx context.Context, st store.Store, fc *forecast.Forecaster, horizon int) (forecast.RefreshSummary, error) {
	locs, err := resilience.DoVal(ctx, resilience.FromConfig(cfg.Retry), st.ListLocations)
	if err != nil {
		return forecast.RefreshSummary{}, eris.Wrap(err, "list locations")
	}
	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.LocationID
	}
	return fc.RefreshAll(ctx, ids, horizon)
}

func init() {
	forecastCmd.Flags().StringSliceVar(&forecastLocations, "location", nil, "location id to forecast (repeatable)")
	forecastCmd.Flags().IntVar(&forecastHorizon, "horizon", 6, "months to forecast")
	forecastCmd.Flags().BoolVar(&forecastRefresh, "refresh", false, "recompute and overwrite cached forecasts")
	forecastCmd.Flags().BoolVar(&forecastAll, "all", false, "refresh forecasts for every location")
	forecastCmd.Flags().StringVar(&forecastFormat, "format", "table", "output format: table, json or yaml")
	forecastCmd.Flags().StringVar(&forecastXLSX, "xlsx", "", "also write the forecasts to this XLSX workbook")
	rootCmd.AddCommand(forecastCmd)
}
