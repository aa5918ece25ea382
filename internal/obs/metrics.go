package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the parts of C1-C9 that
// C1 (perf.Monitor) doesn't already register itself — C1's own query
// histograms/counters register directly into this package's registry
// via perf.WithRegistry, so Metrics only adds pool/cache/graph/follow
// gauges and counters that have no owning collector elsewhere.
type Metrics struct {
	PoolConnectionsActive prometheus.Gauge
	PoolConnectionsTotal  *prometheus.CounterVec

	CacheOperationsTotal *prometheus.CounterVec
	CacheHitRatio        prometheus.Gauge

	GraphRecommendationsTotal *prometheus.CounterVec
	FollowOperationsTotal     *prometheus.CounterVec
	FollowRateLimitedTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics registers and returns the substrate's metric family set
// against a fresh registry. Pass Registry() to perf.WithRegistry so C1's
// collectors share the same registry instead of the global default.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	return &Metrics{
		registry: registry,

		PoolConnectionsActive: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: "followd", Subsystem: "pool", Name: "connections_active",
			Help: "Connections currently checked out of C3's pool.",
		}),
		PoolConnectionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "followd", Subsystem: "pool", Name: "connections_total",
			Help: "Connections opened by C3, by outcome.",
		}, []string{"outcome"}),

		CacheOperationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "followd", Subsystem: "cache", Name: "operations_total",
			Help: "C2 cache operations, by outcome.",
		}, []string{"outcome"}),
		CacheHitRatio: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Namespace: "followd", Subsystem: "cache", Name: "hit_ratio",
			Help: "C2's cumulative hit ratio.",
		}),

		GraphRecommendationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "followd", Subsystem: "graph", Name: "recommendations_total",
			Help: "C7 recommendations served, by algorithm.",
		}, []string{"algorithm"}),
		FollowOperationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "followd", Subsystem: "follow", Name: "operations_total",
			Help: "C9 relationship mutations, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		FollowRateLimitedTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "followd", Subsystem: "follow", Name: "rate_limited_total",
			Help: "C9 actions rejected by the per-action rate limiter.",
		}, []string{"action"}),
	}
}

// Registry exposes the underlying Prometheus registry, e.g. for mounting
// promhttp.HandlerFor in a transport layer outside this module's scope.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
