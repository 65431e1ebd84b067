// Package api serves forecasts, safety rankings, location history and model
// evaluations over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sells-group/crimesafe/internal/config"
	"github.com/sells-group/crimesafe/internal/forecast"
	"github.com/sells-group/crimesafe/internal/model"
	"github.com/sells-group/crimesafe/internal/ranking"
	"github.com/sells-group/crimesafe/internal/resilience"
	"github.com/sells-group/crimesafe/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Store is the subset of store.Store the handlers read directly.
type Store interface {
	GetLocation(ctx context.Context, locationID string) (*model.LocationStats, error)
	ListLocations(ctx context.Context) ([]model.LocationStats, error)
	ListMonthlyAggregates(ctx context.Context, filter store.AggregateFilter) ([]model.MonthlyAggregate, error)
	TopCrimeTypes(ctx context.Context, locationID string, limit int) ([]model.CrimeTypeCount, error)
	ListEvaluationRuns(ctx context.Context, limit int) ([]model.EvaluationRun, error)
	Ping(ctx context.Context) error
}

// Forecaster produces forecast series.
type Forecaster interface {
	Forecast(ctx context.Context, req forecast.Request) (*forecast.Result, error)
}

// Evaluator backtests the forecast model on a held-out year.
type Evaluator interface {
	Evaluate(aggs []model.MonthlyAggregate, testYear int) (*forecast.Evaluation, error)
}

// Ranker produces safety rankings.
type Ranker interface {
	Rank(ctx context.Context, req ranking.Request) (*ranking.Response, error)
}

// Server wires the HTTP handlers to the core.
type Server struct {
	cfg        config.ServerConfig
	store      Store
	forecaster Forecaster
	ranker     Ranker
	evaluator  Evaluator
	testYear   int
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	limiter    *rate.Limiter
}

// Option configures a Server.
type Option func(*Server)

// WithRetry sets the retry policy applied to store-backed calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(s *Server) { s.retry = cfg }
}

// WithBreaker sets the circuit breaker shared by store-backed calls.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Server) { s.breaker = cb }
}

// WithEvaluator enables the /api/evaluate routes. testYear is used when a
// request names none; 0 selects the latest year with aggregates.
func WithEvaluator(e Evaluator, testYear int) Option {
	return func(s *Server) {
		s.evaluator = e
		s.testYear = testYear
	}
}

// New creates a Server. A non-positive RateLimitRPS disables rate limiting.
func New(cfg config.ServerConfig, st Store, fc Forecaster, rk Ranker, opts ...Option) *Server {
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	s := &Server{
		cfg:        cfg,
		store:      st,
		forecaster: fc,
		ranker:     rk,
		breaker:    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		retry:      resilience.DefaultRetryConfig(),
		limiter:    rate.NewLimiter(limit, burst),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/predict", s.handlePredict)
		r.Get("/locations", s.handleLocations)
		r.Get("/location/{id}/history", s.handleHistory)
		if s.evaluator != nil {
			r.Get("/evaluate", s.handleEvaluate)
			r.Get("/evaluate/runs", s.handleEvaluationRuns)
		}
	})
	return r
}

// guarded runs fn through the circuit breaker and the retry policy.
func guarded[T any](ctx context.Context, s *Server, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (T, error) {
		return resilience.DoVal(ctx, s.retry, fn)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unavailable",
			"circuit": s.breaker.State().String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"circuit": s.breaker.State().String(),
	})
}
