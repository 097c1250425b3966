// Package metrics exposes batch counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the engine's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	items    *prometheus.CounterVec
	batches  *prometheus.CounterVec
	tokens   *prometheus.CounterVec
	running  *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipwright",
			Name:      "items_total",
			Help:      "Settled batch items by workflow and status.",
		}, []string{"workflow", "status"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipwright",
			Name:      "batches_total",
			Help:      "Finished batches by workflow and terminal status.",
		}, []string{"workflow", "status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clipwright",
			Name:      "provider_tokens_total",
			Help:      "Completion tokens consumed by workflow.",
		}, []string{"workflow"}),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clipwright",
			Name:      "batches_running",
			Help:      "Batches currently running by workflow.",
		}, []string{"workflow"}),
	}
	m.registry.MustRegister(m.items, m.batches, m.tokens, m.running)
	return m
}

func (m *Metrics) ItemSettled(workflow, status string) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(workflow, status).Inc()
}

func (m *Metrics) BatchStarted(workflow string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(workflow).Inc()
}

// BatchFinished counts a batch leaving the running state. An empty status
// means it stopped without reaching a terminal state.
func (m *Metrics) BatchFinished(workflow, status string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(workflow).Dec()
	if status != "" {
		m.batches.WithLabelValues(workflow, status).Inc()
	}
}

func (m *Metrics) TokensUsed(workflow string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(workflow).Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
