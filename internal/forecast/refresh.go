package forecast

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crimesafe/internal/model"
)

// RefreshSummary counts the outcome of a RefreshAll run.
type RefreshSummary struct {
	Refreshed int `json:"refreshed"`
	Skipped   int `json:"skipped"`
}

// RefreshAll recomputes and overwrites the forecast horizon for every
// location, cfg.Concurrency at a time. Locations rejected for client reasons
// (no history, unknown id) are skipped; a store or computation failure stops
// the run and is returned.
func (f *Forecaster) RefreshAll(ctx context.Context, locationIDs []string, horizon int) (RefreshSummary, error) {
	limit := f.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var refreshed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, id := range locationIDs {
		g.Go(func() error {
			_, err := f.Forecast(gctx, Request{LocationID: id, HorizonMonths: horizon, Refresh: true})
			switch {
			case err == nil:
				refreshed.Add(1)
				return nil
			case IsClientError(err) && !errors.Is(err, model.ErrInvalidRequest):
				zap.L().Warn("forecast: refresh skipped location",
					zap.String("location_id", id),
					zap.Error(err),
				)
				skipped.Add(1)
				return nil
			default:
				return eris.Wrapf(err, "forecast: refresh %s", id)
			}
		})
	}

	err := g.Wait()
	summary := RefreshSummary{Refreshed: int(refreshed.Load()), Skipped: int(skipped.Load())}
	if err != nil {
		return summary, err
	}

	zap.L().Info("forecast: refresh complete",
		zap.Int("locations", len(locationIDs)),
		zap.Int("refreshed", summary.Refreshed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}
