// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package gatewayhttp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus instruments on a private
// registry so multiple servers in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	blockedTotal   *prometheus.CounterVec
	spentUnits     prometheus.Gauge
	remainingUnits prometheus.Gauge
	duration       prometheus.Histogram
}

// NewMetrics creates and registers the instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_requests_total",
			Help: "Requests processed, by terminal state.",
		}, []string{"state"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_blocked_total",
			Help: "Requests blocked before dispatch, by reason.",
		}, []string{"reason"}),
		spentUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_budget_spent_units",
			Help: "Budget units spent in the current period.",
		}),
		remainingUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_budget_remaining_units",
			Help: "Budget units remaining in the current period.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_request_duration_seconds",
			Help:    "End-to-end request duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	m.registry.MustRegister(m.requestsTotal, m.blockedTotal, m.spentUnits, m.remainingUnits, m.duration)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
