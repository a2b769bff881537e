// Package metrics exposes the scanner's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tapescan"

// Metrics bundles every collector on a private registry so tests can build
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal      prometheus.Counter
	CyclesSkipped    prometheus.Counter
	CycleDuration    prometheus.Histogram
	TickersScanned   prometheus.Gauge
	TickersChanged   prometheus.Gauge
	MalformedEntries prometheus.Counter
	StoreErrors      *prometheus.CounterVec

	RuleCount    *prometheus.GaugeVec
	ReloadsTotal *prometheus.CounterVec
	ReloadErrors prometheus.Counter
	EvalDuration prometheus.Histogram
	MatchedTotal prometheus.Gauge

	DeltaEventsTotal *prometheus.CounterVec
	Subscribers      prometheus.Gauge
	DroppedEvents    prometheus.Counter
}

// New creates all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Enrichment cycles completed.",
		}),
		CyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Cycles skipped because the snapshot timestamp did not advance.",
		}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "End-to-end enrichment cycle duration.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		TickersScanned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tickers_scanned",
			Help:      "Tickers in the most recent snapshot.",
		}),
		TickersChanged: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tickers_changed",
			Help:      "Tickers whose canonical bytes changed in the most recent cycle.",
		}),
		MalformedEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_entries_total",
			Help:      "Snapshot entries skipped as malformed.",
		}),
		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Shared-store operations that failed.",
		}, []string{"op"}),

		RuleCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Rules loaded in the live network.",
		}, []string{"owner"}),
		ReloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reloads_total",
			Help:      "Rule network reloads by trigger source.",
		}, []string{"source"}),
		ReloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reload_errors_total",
			Help:      "Reloads that failed and kept the previous network.",
		}),
		EvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Batch rule evaluation duration.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		MatchedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matched_tickers",
			Help:      "Total rule-ticker matches in the most recent evaluation.",
		}),

		DeltaEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delta_events_total",
			Help:      "Delta events published, by channel owner.",
		}, []string{"owner"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Connected delta subscribers.",
		}),
		DroppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Delta events dropped because a subscriber buffer was full.",
		}),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
