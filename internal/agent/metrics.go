package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler registers the agent's gauges against a fresh registry
// and returns the "/metrics" handler for it: connection health, lifetime
// reconnect attempts, and the multiplexer's waiter-table size, mirroring
// the original Rust implementation's reconnect_attempts gauge.
func NewMetricsHandler(a *Agent) http.Handler {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "carapace",
		Subsystem: "agent",
		Name:      "connection_healthy",
		Help:      "1 if the connection to carapace-server is currently healthy, else 0.",
	}, func() float64 {
		if a.conn.IsHealthy() {
			return 1
		}
		return 0
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "carapace",
		Subsystem: "agent",
		Name:      "reconnect_attempts_total",
		Help:      "Lifetime count of dial attempts made while (re)establishing the server connection.",
	}, func() float64 { return float64(a.conn.TotalReconnectAttempts()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "carapace",
		Subsystem: "agent",
		Name:      "waiters",
		Help:      "Number of requests currently awaiting a response from carapace-server.",
	}, func() float64 { return float64(a.mux.Len()) })

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
