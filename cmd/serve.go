package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crimesafe/internal/api"
	"github.com/sells-group/crimesafe/internal/resilience"
)

var servePort int

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		scheduler, err := scheduleRefresh(ctx, env, cfg.Server.RefreshSchedule)
		if err != nil {
			return err
		}
		if scheduler != nil {
			scheduler.Start()
			defer func() { <-scheduler.Stop().Done() }()
		}

		srv := &http.Server{
			Handler:           newAPIServer(env).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return eris.Wrap(err, "server listen")
		}

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		return serveUntilDone(ctx, srv, ln)
	},
}

// serveUntilDone serves on ln until ctx is cancelled, then returns only once
// Shutdown has drained in-flight requests, so deferred cleanup such as
// closing the store runs after the last handler.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener) error {
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server serve")
	}
	<-shutdownDone
	return nil
}

// newAPIServer wires the HTTP API to env with the configured retry policy and
// circuit breaker.
func newAPIServer(env *appEnv) *api.Server {
	return api.New(cfg.Server, env.Store, env.Forecaster, env.Ranker,
		api.WithRetry(resilience.FromConfig(cfg.Retry)),
		api.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitFromConfig(cfg.Retry))),
		api.WithEvaluator(env.Forecaster, cfg.Forecast.TestYear),
	)
}

// scheduleRefresh registers a periodic forecast refresh for every location.
// An empty schedule disables it and returns a nil scheduler.
func scheduleRefresh(ctx context.Context, env *appEnv, spec string) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		summary, err := refreshAllForecasts(ctx, env.Store, env.Forecaster, cfg.Forecast.RefreshHorizon)
		if err != nil {
			zap.L().Error("scheduled forecast refresh failed", zap.Error(err))
			return
		}
		zap.L().Info("scheduled forecast refresh complete",
			zap.Int("refreshed", summary.Refreshed),
			zap.Int("skipped", summary.Skipped),
		)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "invalid server.refresh_schedule %q", spec)
	}

	zap.L().Info("forecast refresh scheduled", zap.String("schedule", spec))
	return c, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
