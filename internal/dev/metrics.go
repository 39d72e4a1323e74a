package dev

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reload outcomes recorded in hotrun_reloads_total.
const (
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeSuperseded = "superseded"
)

// Reload kinds.
const (
	kindStartup = "startup"
	kindPartial = "partial"
	kindFull    = "full"
)

// metrics holds the orchestrator's Prometheus metrics.
type metrics struct {
	registry *prometheus.Registry
	app      prometheus.Gatherer

	reloadsTotal   *prometheus.CounterVec
	reloadDuration *prometheus.HistogramVec
	activeServers  prometheus.Gauge
}

// newMetrics registers the metrics on reg. cacheSize reports the number of
// evaluated modules in the current cycle. app, if set, is served along
// with them.
func newMetrics(reg *prometheus.Registry, app prometheus.Gatherer, cacheSize func() float64) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		app:      app,

		reloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotrun",
			Name:      "reloads_total",
			Help:      "Reload attempts by kind and outcome",
		}, []string{"kind", "outcome"}),

		reloadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotrun",
			Name:      "reload_duration_seconds",
			Help:      "Time from reload start to an active server",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),

		activeServers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "hotrun",
			Name:      "active_servers",
			Help:      "Server handles currently accepting connections",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hotrun",
		Name:      "module_cache_entries",
		Help:      "Evaluated modules cached by the current runner",
	}, cacheSize)

	return m
}

func (m *metrics) reload(kind, outcome string) {
	m.reloadsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) launched(kind string, d time.Duration) {
	m.reloadsTotal.WithLabelValues(kind, outcomeSuccess).Inc()
	m.reloadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// handler serves the metrics in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	var g prometheus.Gatherer = m.registry
	if m.app != nil {
		g = prometheus.Gatherers{m.registry, m.app}
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
