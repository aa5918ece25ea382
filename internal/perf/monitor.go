// Package perf implements the performance monitor (C1): per-query and
// per-pool metric aggregation with slow-query and error alerting.
//
// Grounded on original_source/sonet/src/common/database/performance_monitor.h
// (fingerprint/kind/table samples, rolling windows, sort-and-index
// percentiles) and on the teacher's internal/monitoring/prometheus.go
// idiom for exposing the same counters as Prometheus collectors.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// AlertKind identifies the kind of performance alert emitted by End.
type AlertKind string

const (
	AlertSlowQuery     AlertKind = "SLOW_QUERY"
	AlertVerySlowQuery AlertKind = "VERY_SLOW_QUERY"
	AlertQueryFailure  AlertKind = "QUERY_FAILURE"
)

// Alert is delivered to a registered Sink on End.
type Alert struct {
	Kind    AlertKind
	Message string
	Metric  Sample
}

// Sink receives performance alerts. No alert is emitted when no sink is
// registered (spec §4.1).
type Sink interface {
	PerformanceAlert(alert Alert)
}

// Sample is a single query metric sample, per spec §3.
type Sample struct {
	Fingerprint   string
	Kind          string // "select", "insert", "update", "delete", ...
	Table         string
	Duration      time.Duration
	RowsAffected  int64
	RowsReturned  int64
	Success       bool
	ErrorKind     string
	StartedAt     time.Time
}

// Thresholds configures alerting and sampling, per spec §6 "Perf thresholds".
type Thresholds struct {
	SlowQuery              time.Duration
	VerySlowQuery          time.Duration
	MaxConnectionWaitTime  time.Duration
	MaxFailedQueriesPct    float64
	MaxPoolUtilizationPct  float64
	SamplingRate           float64 // p in [0,1]; 1.0 records everything
}

// DefaultThresholds mirrors the original PerformanceThresholds defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlowQuery:             100 * time.Millisecond,
		VerySlowQuery:         time.Second,
		MaxConnectionWaitTime: 5 * time.Second,
		MaxFailedQueriesPct:   5,
		MaxPoolUtilizationPct: 80,
		SamplingRate:          1.0,
	}
}

const (
	defaultWindowSize      = 1000
	defaultSlowBufferSize  = 1000
)

// fingerprintStats holds incrementally-updated aggregates for one
// query fingerprint, plus a bounded ring of durations for percentiles.
type fingerprintStats struct {
	total, successful, failed int64
	min, max                  time.Duration
	sumDuration               time.Duration
	window                    []time.Duration // ring buffer for p95/p99
	windowPos                 int
}

func (s *fingerprintStats) record(d time.Duration, success bool) {
	s.total++
	if success {
		s.successful++
	} else {
		s.failed++
	}
	if s.total == 1 || d < s.min {
		s.min = d
	}
	if d > s.max {
		s.max = d
	}
	s.sumDuration += d

	if len(s.window) < defaultWindowSize {
		s.window = append(s.window, d)
	} else {
		s.window[s.windowPos] = d
		s.windowPos = (s.windowPos + 1) % defaultWindowSize
	}
}

func (s *fingerprintStats) mean() time.Duration {
	if s.total == 0 {
		return 0
	}
	return s.sumDuration / time.Duration(s.total)
}

func (s *fingerprintStats) percentile(p float64) time.Duration {
	if len(s.window) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), s.window...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Stats is a point-in-time snapshot of a fingerprint's aggregates.
type Stats struct {
	Total, Successful, Failed int64
	Min, Max, Mean, P95, P99  time.Duration
}

// ConnectionCounters tracks connection lifecycle events, independent of
// per-query fingerprint stats.
type ConnectionCounters struct {
	Created, Destroyed, Acquired, Released, Timeouts, Errors int64
	WaitTimeSum                                              time.Duration
	WaitTimeCount                                            int64
	WaitTimeMax                                               time.Duration
}

// Handle identifies an in-flight begin/end pair.
type Handle struct {
	sample  Sample
	start   time.Time
	sampled bool
}

// Monitor is C1. Construct one per process (or one per test for
// isolation, per spec §4.1's testability requirement) via New.
type Monitor struct {
	mu         sync.Mutex
	thresholds Thresholds
	enabled    bool
	sink       Sink
	logger     *zap.Logger
	rnd        func() float64

	stats map[string]*fingerprintStats

	activeMu sync.Mutex
	pending  int64

	recentMu sync.Mutex
	recent   []Sample
	slow     []Sample

	connMu sync.Mutex
	conns  ConnectionCounters

	collectors *collectors // nil if no registry was supplied
}

// Option configures a Monitor at construction time.
type Option func(*Monitor)

// WithLogger attaches a zap logger; defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithSink registers an alert sink.
func WithSink(sink Sink) Option {
	return func(m *Monitor) { m.sink = sink }
}

// WithRegistry registers Prometheus collectors against registry instead
// of the global default, so concurrent tests never collide (spec §4.1's
// "isolated instance for tests").
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Monitor) { m.collectors = newCollectors(registry) }
}

// WithRandSource overrides the sampling RNG; tests use this for
// deterministic sampling-rate behavior.
func WithRandSource(rnd func() float64) Option {
	return func(m *Monitor) { m.rnd = rnd }
}

// New constructs a Monitor with the given thresholds.
func New(thresholds Thresholds, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		enabled:    true,
		logger:     zap.NewNop(),
		rnd:        defaultRand,
		stats:      make(map[string]*fingerprintStats),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enable toggles monitoring; when disabled all Begin/End calls are O(1)
// no-ops, per spec §4.1.
func (m *Monitor) Enable(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// Begin starts tracking a query. It returns a Handle to pass to End.
// A configurable fraction of calls are actually recorded; the rest are
// no-ops whose End still decrements the pending count correctly.
func (m *Monitor) Begin(fingerprint, kind, table string) Handle {
	m.mu.Lock()
	enabled := m.enabled
	rate := m.thresholds.SamplingRate
	m.mu.Unlock()

	if !enabled {
		return Handle{}
	}

	sampled := rate >= 1.0 || m.rnd() < rate
	h := Handle{
		sample: Sample{
			Fingerprint: fingerprint,
			Kind:        kind,
			Table:       table,
			StartedAt:   time.Now(),
		},
		start:   time.Now(),
		sampled: sampled,
	}
	if sampled {
		m.activeMu.Lock()
		m.pending++
		m.activeMu.Unlock()
	}
	return h
}

// End finishes tracking a query started with Begin.
func (m *Monitor) End(h Handle, success bool, rowsAffected, rowsReturned int64, errKind string) {
	if !h.sampled {
		return
	}

	m.activeMu.Lock()
	if m.pending > 0 {
		m.pending--
	}
	m.activeMu.Unlock()

	duration := time.Since(h.start)
	sample := h.sample
	sample.Duration = duration
	sample.Success = success
	sample.RowsAffected = rowsAffected
	sample.RowsReturned = rowsReturned
	sample.ErrorKind = errKind

	m.mu.Lock()
	stats, ok := m.stats[sample.Fingerprint]
	if !ok {
		stats = &fingerprintStats{}
		m.stats[sample.Fingerprint] = stats
	}
	stats.record(duration, success)
	m.mu.Unlock()

	m.recentMu.Lock()
	m.recent = appendBounded(m.recent, sample, defaultWindowSize)
	if duration >= m.thresholds.SlowQuery {
		m.slow = appendBounded(m.slow, sample, defaultSlowBufferSize)
	}
	m.recentMu.Unlock()

	if m.collectors != nil {
		m.collectors.observe(sample)
	}

	m.maybeAlert(sample)
}

func (m *Monitor) maybeAlert(sample Sample) {
	if m.sink == nil {
		return
	}
	switch {
	case !sample.Success:
		m.sink.PerformanceAlert(Alert{Kind: AlertQueryFailure, Message: "query failed", Metric: sample})
	case sample.Duration > m.thresholds.VerySlowQuery:
		m.sink.PerformanceAlert(Alert{Kind: AlertVerySlowQuery, Message: "query exceeded very-slow threshold", Metric: sample})
	case sample.Duration > m.thresholds.SlowQuery:
		m.sink.PerformanceAlert(Alert{Kind: AlertSlowQuery, Message: "query exceeded slow threshold", Metric: sample})
	}
}

// StatsFor returns a snapshot for one fingerprint.
func (m *Monitor) StatsFor(fingerprint string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[fingerprint]
	if !ok {
		return Stats{}
	}
	return Stats{
		Total:      s.total,
		Successful: s.successful,
		Failed:     s.failed,
		Min:        s.min,
		Max:        s.max,
		Mean:       s.mean(),
		P95:        s.percentile(0.95),
		P99:        s.percentile(0.99),
	}
}

// Thresholds returns the monitor's configured alerting thresholds, so
// C4 can score health against the same max_error_rate/
// max_connection_wait_time C1 itself alerts on.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// ErrorRate returns the fraction of failed queries across every
// tracked fingerprint, per spec §4.4's health-score error_rate term.
func (m *Monitor) ErrorRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total, failed int64
	for _, s := range m.stats {
		total += s.total
		failed += s.failed
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// AvgConnectionWait returns the mean connection-acquisition wait time
// recorded via ConnectionWait, per spec §4.4's wait_time_avg term.
func (m *Monitor) AvgConnectionWait() time.Duration {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conns.WaitTimeCount == 0 {
		return 0
	}
	return m.conns.WaitTimeSum / time.Duration(m.conns.WaitTimeCount)
}

// UnhealthyConnections returns the cumulative count of connection
// timeouts and errors observed, per spec §4.4's unhealthy_connections
// term.
func (m *Monitor) UnhealthyConnections() int64 {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conns.Timeouts + m.conns.Errors
}

// RecentQueries returns up to limit of the most recently completed samples.
func (m *Monitor) RecentQueries(limit int) []Sample {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	return lastN(m.recent, limit)
}

// SlowQueries returns up to limit of the most recent slow samples.
func (m *Monitor) SlowQueries(limit int) []Sample {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()
	return lastN(m.slow, limit)
}

// PendingCount returns the number of in-flight sampled queries.
func (m *Monitor) PendingCount() int64 {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	return m.pending
}

// --- connection lifecycle counters ---

func (m *Monitor) ConnectionCreated() { m.bumpConn(func(c *ConnectionCounters) { c.Created++ }) }

func (m *Monitor) ConnectionDestroyed() {
	m.bumpConn(func(c *ConnectionCounters) { c.Destroyed++ })
}

func (m *Monitor) ConnectionAcquired() {
	m.bumpConn(func(c *ConnectionCounters) { c.Acquired++ })
	m.observeConnGauge()
}

func (m *Monitor) ConnectionReleased() {
	m.bumpConn(func(c *ConnectionCounters) { c.Released++ })
	m.observeConnGauge()
}

func (m *Monitor) ConnectionTimeout() {
	m.bumpConn(func(c *ConnectionCounters) { c.Timeouts++ })
	if m.collectors != nil {
		m.collectors.connTimeouts.Inc()
	}
}

func (m *Monitor) ConnectionError() {
	m.bumpConn(func(c *ConnectionCounters) { c.Errors++ })
	if m.collectors != nil {
		m.collectors.connErrors.Inc()
	}
}

func (m *Monitor) ConnectionWait(d time.Duration) {
	m.bumpConn(func(c *ConnectionCounters) {
		c.WaitTimeSum += d
		c.WaitTimeCount++
		if d > c.WaitTimeMax {
			c.WaitTimeMax = d
		}
	})
}

func (m *Monitor) bumpConn(f func(*ConnectionCounters)) {
	m.connMu.Lock()
	f(&m.conns)
	m.connMu.Unlock()
}

func (m *Monitor) observeConnGauge() {
	if m.collectors == nil {
		return
	}
	m.connMu.Lock()
	acquired, released := m.conns.Acquired, m.conns.Released
	m.connMu.Unlock()
	m.collectors.connectionsOpen.Set(float64(acquired - released))
}

// ConnectionSnapshot returns a copy of the connection lifecycle counters.
func (m *Monitor) ConnectionSnapshot() ConnectionCounters {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	snap := m.conns
	return snap
}

// AvgConnectionWait returns the mean recorded connection wait time.
func (c ConnectionCounters) AvgConnectionWait() time.Duration {
	if c.WaitTimeCount == 0 {
		return 0
	}
	return c.WaitTimeSum / time.Duration(c.WaitTimeCount)
}

func defaultRand() float64 {
	return pseudoRand.Float64()
}

func appendBounded(buf []Sample, s Sample, max int) []Sample {
	buf = append(buf, s)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

func lastN(buf []Sample, limit int) []Sample {
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]Sample, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}
