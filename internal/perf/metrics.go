package perf

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// collectors holds the Prometheus collectors C1 publishes. Grounded on
// internal/monitoring/prometheus.go's promauto.With(registry) idiom:
// every collector is registered against an explicit registry rather
// than the global default, so isolated Monitor instances in tests never
// collide.
type collectors struct {
	queryDuration   *prometheus.HistogramVec
	queryTotal      *prometheus.CounterVec
	connectionsOpen prometheus.Gauge
	connErrors      prometheus.Counter
	connTimeouts    prometheus.Counter
}

func newCollectors(registry *prometheus.Registry) *collectors {
	return &collectors{
		queryDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "followgraph",
				Subsystem: "query",
				Name:      "duration_seconds",
				Help:      "Query duration in seconds by table and kind",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"table", "kind"},
		),
		queryTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "followgraph",
				Subsystem: "query",
				Name:      "total",
				Help:      "Total queries by table, kind and outcome",
			},
			[]string{"table", "kind", "outcome"},
		),
		connectionsOpen: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "followgraph",
				Subsystem: "pool",
				Name:      "connections_acquired",
				Help:      "Connections currently acquired",
			},
		),
		connErrors: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Namespace: "followgraph",
				Subsystem: "pool",
				Name:      "connection_errors_total",
				Help:      "Total connection errors",
			},
		),
		connTimeouts: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Namespace: "followgraph",
				Subsystem: "pool",
				Name:      "connection_timeouts_total",
				Help:      "Total connection acquire timeouts",
			},
		),
	}
}

func (c *collectors) observe(s Sample) {
	outcome := "success"
	if !s.Success {
		outcome = "failure"
	}
	c.queryTotal.WithLabelValues(s.Table, s.Kind, outcome).Inc()
	c.queryDuration.WithLabelValues(s.Table, s.Kind).Observe(s.Duration.Seconds())
}
