package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crimesafe",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "crimesafe",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crimesafe",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)
