// metrics.go exposes the server's operational counters through a
// Prometheus registry, served on a dedicated HTTP listener so a scrape
// can never interfere with the RESP port.

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus instruments. Each server instance
// carries its own registry to avoid collector conflicts in tests, where
// several instances coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal prometheus.Counter
	commandsTotal    *prometheus.CounterVec
	keys             prometheus.GaugeFunc
}

// NewMetrics builds the instrument set. keyCount is sampled lazily on
// each scrape rather than tracked incrementally.
func NewMetrics(keyCount func() float64) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llb_connections_total",
			Help: "Total client connections accepted.",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llb_commands_total",
			Help: "Total commands processed, by command name.",
		}, []string{"command"}),
		keys: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "llb_keys",
			Help: "Number of sketches currently stored.",
		}, keyCount),
	}

	registry.MustRegister(m.connectionsTotal, m.commandsTotal, m.keys)
	return m
}

// ConnectionAccepted records one accepted client connection.
func (m *Metrics) ConnectionAccepted() {
	m.connectionsTotal.Inc()
}

// CommandProcessed records one dispatched command.
func (m *Metrics) CommandProcessed(name string) {
	m.commandsTotal.WithLabelValues(name).Inc()
}

// Handler returns the /metrics scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
