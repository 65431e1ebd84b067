package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/ranking"
	"github.com/sells-group/crimesafe/internal/store"
	"github.com/sells-group/crimesafe/internal/weight"
	"github.com/sells-group/crimesafe/internal/zone"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "crimesafe.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// appEnv holds the store and the core services built on it.
type appEnv struct {
	Store      store.Store
	Forecaster *forecast.Forecaster
	Ranker     *ranking.Engine
}

// Close releases the store.
func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv validates the config for mode, opens and migrates the store and
// wires the forecaster and ranking engine to it.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	zones := zone.FromConfig(cfg.Zone)
	return &appEnv{
		Store:      st,
		Forecaster: forecast.New(st, st, st, zones, cfg.Forecast),
		Ranker:     ranking.New(st, st, weight.FromConfig(cfg.Weighting), zones, cfg.Ranking),
	}, nil
}
