package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailchat_auth_decision_total",
			Help: "Authentication outcomes (cached/resolved/denied by code)",
		},
		[]string{"outcome"},
	)
	AuthCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailchat_auth_cache_lookups_total",
			Help: "Principal cache lookups by result",
		},
		[]string{"result"},
	)
	ResponseCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailchat_response_cache_lookups_total",
			Help: "Read-endpoint TTL cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trailchat_rate_limited_total",
			Help: "Requests denied by a rate limiter",
		},
		[]string{"scope"},
	)
	ProviderErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trailchat_provider_errors_total",
			Help: "Identity provider transport/5xx failures",
		},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trailchat_request_duration_seconds",
			Help:    "Latency of API handlers",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"route"},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "trailchat_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(AuthDecision, AuthCacheLookups, ResponseCacheLookups, RateLimited, ProviderErrors, RequestDuration, BuildInfo)
}
