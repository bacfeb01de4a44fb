package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	callLimit      prometheus.Gauge
	remainingCalls prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forecastsolar",
			Name:      "requests_total",
			Help:      "Requests served, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forecastsolar",
			Name:      "upstream_duration_seconds",
			Help:      "Time spent waiting on forecast.solar.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		callLimit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecastsolar",
			Name:      "ratelimit_limit",
			Help:      "Calls allowed per rate limit period as last reported by forecast.solar.",
		}),
		remainingCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "forecastsolar",
			Name:      "ratelimit_remaining",
			Help:      "Calls remaining in the current period as last reported by forecast.solar.",
		}),
	}
}
