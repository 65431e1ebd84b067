package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/ranking"
	"github.com/sells-group/crimesafe/internal/report"
	"github.com/sells-group/crimesafe/internal/resilience"
)

var (
	rankName   string
	rankAge    int
	rankGender string
	rankLat    float64
	rankLon    float64
	rankRadius float64
	rankYear   int
	rankTop    int
	rankFormat string
	rankXLSX   string
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank nearby locations by personalized safety",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := rankRequest()
		if err != nil {
			return err
		}
		format, err := report.ParseFormat(rankFormat)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "rank")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := resilience.DoVal(ctx, resilience.FromConfig(cfg.Retry), func(ctx context.Context) (*ranking.Response, error) {
			return env.Ranker.Rank(ctx, req)
		})
		if err != nil {
			return eris.Wrap(err, "rank")
		}

		if err := report.WriteRanking(cmd.OutOrStdout(), format, res); err != nil {
			return err
		}
		if rankXLSX != "" {
			if err := report.RankingWorkbook(rankXLSX, res); err != nil {
				return err
			}
			zap.L().Info("ranking workbook written", zap.String("path", rankXLSX))
		}
		return nil
	},
}

// rankRequest builds a ranking request from flags. The year defaults to the
// current calendar year.
func rankRequest() (ranking.Request, error) {
	gender, err := model.ParseGender(rankGender)
	if err != nil {
		return ranking.Request{}, err
	}
	year := rankYear
	if year == 0 {
		year = time.Now().Year()
	}
	return ranking.Request{
		Requester: model.Requester{Name: rankName, Age: rankAge, Gender: gender},
		Center:    model.Point{Lat: rankLat, Lon: rankLon},
		RadiusKM:  rankRadius,
		Year:      year,
		TopN:      rankTop,
	}, nil
}

func init() {
	rankCmd.Flags().StringVar(&rankName, "name", "", "requester name (echoed in the profile)")
	rankCmd.Flags().IntVar(&rankAge, "age", 0, "requester age (required)")
	rankCmd.Flags().StringVar(&rankGender, "gender", "", "requester gender: M or F (required)")
	rankCmd.Flags().Float64Var(&rankLat, "lat", 0, "search center latitude (required)")
	rankCmd.Flags().Float64Var(&rankLon, "lon", 0, "search center longitude (required)")
	rankCmd.Flags().Float64Var(&rankRadius, "radius", 5, "search radius in km")
	rankCmd.Flags().IntVar(&rankYear, "year", 0, "year to score (default current year)")
	rankCmd.Flags().IntVar(&rankTop, "top", 5, "number of locations to return")
	rankCmd.Flags().StringVar(&rankFormat, "format", "table", "output format: table, json or yaml")
	rankCmd.Flags().StringVar(&rankXLSX, "xlsx", "", "also write the ranking to this XLSX workbook")
	for _, f := range []string{"age", "gender", "lat", "lon"} {
		_ = rankCmd.MarkFlagRequired(f)
	}
	rootCmd.AddCommand(rankCmd)
}
