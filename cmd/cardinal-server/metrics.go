package main

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's instrumentation: cheap atomic counters that
// back the INFO command, and Prometheus collectors exported over HTTP for
// scraping. Both are updated at the same points; the atomics exist so INFO
// never has to gather a Prometheus registry on the request path.
type Metrics struct {
	TotalConnections atomic.Uint64
	TotalCommands    atomic.Uint64

	registry *prometheus.Registry

	ConnectionsTotal prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
	Keys             prometheus.GaugeFunc
}

// NewMetrics builds the collectors on a private registry, keeping the
// default Go runtime collectors out of the scrape output.
func NewMetrics(store *Store) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cardinal",
		Name:      "connections_total",
		Help:      "Total client connections accepted.",
	})

	m.CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cardinal",
		Name:      "commands_total",
		Help:      "Total commands processed, by command name.",
	}, []string{"command"})

	m.Keys = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "cardinal",
		Name:      "keys",
		Help:      "Number of keys currently in the store.",
	}, func() float64 {
		return float64(store.Len())
	})

	m.registry.MustRegister(m.ConnectionsTotal, m.CommandsTotal, m.Keys)
	return m
}

// Handler returns the HTTP handler serving the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
