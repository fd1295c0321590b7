package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry        *prometheus.Registry
	webhooksTotal   *prometheus.CounterVec
	mintsTotal      *prometheus.CounterVec
	fulfillDuration prometheus.Histogram
}

func newMetricsRegistry() *metricsRegistry {
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patronrelay_webhook_events_total",
		Help: "Payment webhook deliveries by outcome",
	}, []string{"outcome"})

	mints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "patronrelay_mint_requests_total",
		Help: "Direct mint requests by outcome",
	}, []string{"outcome"})

	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patronrelay_fulfillment_duration_seconds",
		Help:    "Wall time of successful fulfillments including confirmation wait",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	r := prometheus.NewRegistry()
	r.MustRegister(webhooks, mints, duration)

	return &metricsRegistry{
		registry:        r,
		webhooksTotal:   webhooks,
		mintsTotal:      mints,
		fulfillDuration: duration,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incWebhook(outcome string) {
	m.webhooksTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incMint(outcome string) {
	m.mintsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) observeFulfillment(seconds float64) {
	m.fulfillDuration.Observe(seconds)
}
