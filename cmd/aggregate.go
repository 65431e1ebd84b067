package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/aggregate"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
	"github.com/sells-group/crimesafe/internal/zone"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Rebuild monthly aggregates and zone labels from stored crime records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "aggregate")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := rebuildAggregates(ctx, env.Store)
		if err != nil {
			return err
		}

		zap.L().Info("aggregate complete", zap.Int64("aggregates", n))
		return nil
	},
}

// rebuildAggregates recomputes every (location, year, month) aggregate from
// the stored records and upserts them.
func rebuildAggregates(ctx context.Context, st store.Store) (int64, error) {
	retry := resilience.FromConfig(cfg.Retry)

	records, err := resilience.DoVal(ctx, retry, st.ListCrimeRecords)
	if err != nil {
		return 0, eris.Wrap(err, "list crime records")
	}
	locs, err := resilience.DoVal(ctx, retry, st.ListLocations)
	if err != nil {
		return 0, eris.Wrap(err, "list locations")
	}

	byID := make(map[string]model.LocationStats, len(locs))
	for _, l := range locs {
		byID[l.LocationID] = l
	}

	aggs, err := aggregate.Build(records, byID, zone.FromConfig(cfg.Zone))
	if err != nil {
		return 0, eris.Wrap(err, "build aggregates")
	}

	n, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int64, error) {
		return st.UpsertMonthlyAggregates(ctx, aggs)
	})
	if err != nil {
		return 0, eris.Wrap(err, "upsert aggregates")
	}

	if err := resilience.Do(ctx, retry, st.RefreshLocationTotals); err != nil {
		return n, eris.Wrap(err, "refresh location totals")
	}
	return n, nil
}

func init() {
	rootCmd.AddCommand(aggregateCmd)
}
