package forecast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCached   = "cached"
	outcomeComputed = "computed"
	outcomeDefault  = "default"
	outcomeError    = "error"
)

var forecastRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crimesafe_forecast_requests_total",
	Help: "Forecast requests by outcome (cached, computed, default, error).",
}, []string{"outcome"})
