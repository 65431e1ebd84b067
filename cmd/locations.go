package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crimesafe/internal/aggregate"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/report"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
)

var (
	locationsYear   int
	locationsCity   string
	locationsFormat string
)

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List locations with their crime count and dominant zone for a year",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := report.ParseFormat(locationsFormat)
		if err != nil {
			return err
		}
		year := locationsYear
		if year == 0 {
			year = time.Now().Year()
		}

		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := locationOverview(ctx, env.Store, year, locationsCity)
		if err != nil {
			return err
		}
		return report.WriteOverview(cmd.OutOrStdout(), format, rows)
	},
}

func locationOverview(ctx context.Context, st store.Store, year int, city string) ([]aggregate.LocationOverview, error) {
	retry := resilience.FromConfig(cfg.Retry)

	locs, err := resilience.DoVal(ctx, retry, st.ListLocations)
	if err != nil {
		return nil, eris.Wrap(err, "list locations")
	}
	if city != "" {
		filtered := make([]model.LocationStats, 0, len(locs))
		for _, l := range locs {
			if strings.EqualFold(l.City, city) {
				filtered = append(filtered, l)
			}
		}
		locs = filtered
	}

	aggs, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.MonthlyAggregate, error) {
		return st.ListMonthlyAggregates(ctx, store.AggregateFilter{Year: year})
	})
	if err != nil {
		return nil, eris.Wrap(err, "list aggregates")
	}
	return aggregate.Overview(locs, aggs, year), nil
}

func init() {
	locationsCmd.Flags().IntVar(&locationsYear, "year", 0, "year to summarize (default current year)")
	locationsCmd.Flags().StringVar(&locationsCity, "city", "", "only list locations in this city")
	locationsCmd.Flags().StringVar(&locationsFormat, "format", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(locationsCmd)
}
