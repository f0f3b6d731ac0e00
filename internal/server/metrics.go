package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the counters and gauges the "/metrics" debug endpoint
// exposes: request volume and outcome by tool, rate-limit denials, and the
// concurrent-connection gauge the Listener already tracks.
type Metrics struct {
	requestsTotal        *prometheus.CounterVec
	rateLimitDeniedTotal *prometheus.CounterVec
	activeConnections    prometheus.GaugeFunc
}

// NewMetrics registers Carapace's collectors against reg. activeConns is
// read by the active-connections gauge on every scrape, so Listener's
// atomic counter stays the single source of truth.
func NewMetrics(reg *prometheus.Registry, activeConns func() int64) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carapace",
			Name:      "requests_total",
			Help:      "Total dispatched requests by tool, kind (cli/http), and outcome (allowed/denied).",
		}, []string{"tool", "kind", "outcome"}),
		rateLimitDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carapace",
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by the per-tool fixed-window rate limiter.",
		}, []string{"tool"}),
	}
	m.activeConnections = promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "carapace",
		Name:      "active_connections",
		Help:      "Agent connections currently accepted by the server listener.",
	}, func() float64 { return float64(activeConns()) })
	return m
}

// Handler returns the promhttp handler for reg, to be mounted at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(tool, kind string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.requestsTotal.WithLabelValues(tool, kind, outcome).Inc()
}

func (m *Metrics) observeRateLimitDenied(tool string) {
	m.rateLimitDeniedTotal.WithLabelValues(tool).Inc()
}
