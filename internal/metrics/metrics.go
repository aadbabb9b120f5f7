// Package metrics exposes the scanner's operational counters on a
// dedicated Prometheus registry, so the /metrics endpoint carries only
// what this process owns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the scanner's instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	ScansCompleted prometheus.Counter
	ScansFailed    prometheus.Counter
	CacheHits      prometheus.Counter
	ScanDuration   prometheus.Histogram
}

// New creates the registry and all static collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ScansCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kansa",
			Name:      "scans_completed_total",
			Help:      "Scans that produced a result, cached hits excluded.",
		}),
		ScansFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kansa",
			Name:      "scans_failed_total",
			Help:      "Scans that failed on infrastructure before producing a result.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kansa",
			Name:      "result_cache_hits_total",
			Help:      "Scan submissions served from the TTL result cache.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kansa",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one dynamic analysis, acquire to result.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
}

// RegisterQueueDepth wires live queue depth gauges. The snapshot func is
// called on every scrape.
func (m *Metrics) RegisterQueueDepth(snapshot func() (waiting, active int)) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kansa",
		Name:      "queue_waiting_jobs",
		Help:      "Jobs waiting for a worker slot.",
	}, func() float64 {
		w, _ := snapshot()
		return float64(w)
	})
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kansa",
		Name:      "queue_active_jobs",
		Help:      "Jobs currently holding a worker slot.",
	}, func() float64 {
		_, a := snapshot()
		return float64(a)
	})
}

// RegisterPoolSize wires the live browser instance gauge.
func (m *Metrics) RegisterPoolSize(live func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "kansa",
		Name:      "browser_pool_live",
		Help:      "Live browser processes, idle and checked out.",
	}, func() float64 {
		return float64(live())
	})
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
