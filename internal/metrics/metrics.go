package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketproxy_auth_attempts_total",
		Help: "Credential exchanges by outcome",
	}, []string{"outcome"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketproxy_provider_requests_total",
		Help: "Upstream provider calls by operation and outcome",
	}, []string{"op", "outcome"})

	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketproxy_provider_retries_total",
		Help: "Retried upstream calls by error code",
	}, []string{"code"})

	QuoteRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketproxy_quote_rows_total",
		Help: "Dashboard rows produced, labelled ok or by error code",
	}, []string{"status"})

	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketproxy_refresh_cycles_total",
		Help: "Orchestrator cycles by outcome",
	}, []string{"outcome"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketproxy_http_request_duration_seconds",
		Help:    "Latency of boundary handlers",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "code"})
)
