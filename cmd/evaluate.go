package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/report"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
)

var (
	evaluateTestYear int
	evaluateFormat   string
	evaluateRecord   bool
	evaluateList     bool
	evaluateLimit    int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Backtest the forecast model on a held-out year",
	Long:  "Forecasts every location's held-out year from the months before it, reports RMSE, MAE and zone accuracy against the actual aggregates, and records the run. --list shows recorded runs instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := report.ParseFormat(evaluateFormat)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		retry := resilience.FromConfig(cfg.Retry)
		if evaluateList {
			runs, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]model.EvaluationRun, error) {
				return env.Store.ListEvaluationRuns(ctx, evaluateLimit)
			})
			if err != nil {
				return eris.Wrap(err, "list evaluation runs")
			}
			return report.WriteEvaluationRuns(cmd.OutOrStdout(), format, runs)
		}

		testYear := evaluateTestYear
		if testYear == 0 {
			testYear = cfg.Forecast.TestYear
		}
		ev, err := runEvaluation(ctx, env.Store, env.Forecaster, testYear)
		if err != nil {
			return err
		}

		if evaluateRecord {
			run := ev.Run()
			if err := resilience.Do(ctx, retry, func(ctx context.Context) error {
				return env.Store.InsertEvaluationRun(ctx, run)
			}); err != nil {
				return eris.Wrap(err, "record evaluation run")
			}
			zap.L().Info("evaluation run recorded", zap.String("run_id", run.RunID))
		}
		return report.WriteEvaluation(cmd.OutOrStdout(), format, ev)
	},
}

// runEvaluation loads every monthly aggregate and backtests the forecaster's
// strategy on testYear (0 for the latest year present).
func runEvaluation(ctx context.Context, st store.Store, fc *forecast.Forecaster, testYear int) (*forecast.Evaluation, error) {
	aggs, err := resilience.DoVal(ctx, resilience.FromConfig(cfg.Retry), func(ctx context.Context) ([]model.MonthlyAggregate, error) {
		return st.ListMonthlyAggregates(ctx, store.AggregateFilter{})
	})
	if err != nil {
		return nil, eris.Wrap(err, "list monthly aggregates")
	}
	ev, err := fc.Evaluate(aggs, testYear)
	if err != nil {
		return nil, eris.Wrap(err, "evaluate")
	}
	return ev, nil
}

func init() {
	evaluateCmd.Flags().IntVar(&evaluateTestYear, "test-year", 0, "held-out year (default forecast.test_year, or the latest year with data)")
	evaluateCmd.Flags().StringVar(&evaluateFormat, "format", "table", "output format: table, json or yaml")
	evaluateCmd.Flags().BoolVar(&evaluateRecord, "record", true, "record the run in the evaluation ledger")
	evaluateCmd.Flags().BoolVar(&evaluateList, "list", false, "list recorded runs instead of evaluating")
	evaluateCmd.Flags().IntVar(&evaluateLimit, "limit", 10, "runs to show with --list")
	rootCmd.AddCommand(evaluateCmd)
}
