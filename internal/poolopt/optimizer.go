// Package poolopt implements C4, the pool optimizer: two cooperative
// background loops that score the pool's health and periodically
// recommend target-size/idle-timeout adjustments, grounded on the
// teacher's DatabaseOptimizationManager
// (infrastructure/database/database_optimization_manager.go), which
// runs its own ticker-driven analysis loop against ConnectionPoolService
// stats.
package poolopt

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/perf"
)

// HealthStatus classifies the pool's current condition.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthCritical  HealthStatus = "critical"
)

// Config tunes the optimizer's loop cadences. The health-score
// thresholds themselves are spec §4.4 literals (0.9 utilization,
// C1's own max_error_rate/max_connection_wait_time), so there's
// nothing of that kind left to configure here.
type Config struct {
	HealthCheckInterval time.Duration
	OptimizeInterval    time.Duration
}

// DefaultConfig uses a 30s health-check and a 5-minute optimize cadence.
func DefaultConfig() Config {
	return Config{
		HealthCheckInterval: 30 * time.Second,
		OptimizeInterval:    5 * time.Minute,
	}
}

// Recommendation is the optimizer's periodic output, per spec §4.4.
type Recommendation struct {
	TargetMinConns int
	TargetMaxConns int
	IdleTimeout    time.Duration
	Effectiveness  float64
	Reason         string
}

// Report is the most recent health assessment.
type Report struct {
	Status      HealthStatus
	Score       float64
	Utilization float64
	ComputedAt  time.Time
}

// HealthSink receives a health_alert every health-loop cycle, per the
// external notification sink named in spec §6.
type HealthSink interface {
	HealthAlert(severity, message string)
}

// Optimizer is C4.
type Optimizer struct {
	pool   *dbpool.Pool
	mon    *perf.Monitor
	cfg    Config
	logger *zap.Logger
	sink   HealthSink

	latest Report
	recent Recommendation
}

// Option configures an Optimizer.
type Option func(*Optimizer)

func WithLogger(l *zap.Logger) Option { return func(o *Optimizer) { o.logger = l } }

// WithHealthSink registers a health_alert sink.
func WithHealthSink(sink HealthSink) Option { return func(o *Optimizer) { o.sink = sink } }

// WithMonitor binds C1 so the health score and sizing heuristic can
// read error_rate, wait_time_avg, and unhealthy_connections from it;
// without one those terms are treated as zero.
func WithMonitor(mon *perf.Monitor) Option { return func(o *Optimizer) { o.mon = mon } }

// New constructs an Optimizer bound to pool.
func New(pool *dbpool.Pool, cfg Config, opts ...Option) *Optimizer {
	o := &Optimizer{pool: pool, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts the health and optimization loops and blocks until ctx is
// cancelled.
func (o *Optimizer) Run(ctx context.Context) {
	go o.runHealthLoop(ctx)
	o.runOptimizeLoop(ctx)
}

func (o *Optimizer) runHealthLoop(ctx context.Context) {
	if o.cfg.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.latest = o.assessHealth()
			if o.latest.Status == HealthCritical {
				o.logger.Warn("pool health critical", zap.Float64("score", o.latest.Score))
			}
			if o.sink != nil {
				o.sink.HealthAlert(string(o.latest.Status), healthAlertMessage(o.latest))
			}
		}
	}
}

func (o *Optimizer) runOptimizeLoop(ctx context.Context) {
	if o.cfg.OptimizeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.OptimizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.recent = o.Optimize()
		}
	}
}

// errorRate, avgWait, and unhealthyConns read C1's aggregate signals,
// defaulting to zero when no monitor is bound.
func (o *Optimizer) errorRate() float64 {
	if o.mon == nil {
		return 0
	}
	return o.mon.ErrorRate()
}

func (o *Optimizer) avgWait() time.Duration {
	if o.mon == nil {
		return 0
	}
	return o.mon.AvgConnectionWait()
}

func (o *Optimizer) unhealthyConns() int64 {
	if o.mon == nil {
		return 0
	}
	return o.mon.UnhealthyConnections()
}

func (o *Optimizer) maxErrorRate() float64 {
	if o.mon == nil {
		return 0
	}
	return o.mon.Thresholds().MaxFailedQueriesPct / 100
}

func (o *Optimizer) maxConnectionWait() time.Duration {
	if o.mon == nil {
		return 0
	}
	return o.mon.Thresholds().MaxConnectionWaitTime
}

// assessHealth computes a deterministic health score in [0,1], starting
// at 1.0 and subtracting a penalty per degraded condition, per spec
// §4.4's formula verbatim.
func (o *Optimizer) assessHealth() Report {
	stats := o.pool.Stats()
	var utilization float64
	if stats.Total > 0 {
		utilization = float64(stats.InUse) / float64(stats.Total)
	}

	score := 1.0
	if o.errorRate() > o.maxErrorRate() {
		score -= 0.3
	}
	if utilization > 0.9 {
		score -= 0.2
	}
	if o.avgWait() > o.maxConnectionWait() {
		score -= 0.2
	}
	if o.unhealthyConns() > 0 {
		score -= 0.3
	}
	if score < 0 {
		score = 0
	}

	return Report{
		Status:      classify(score),
		Score:       score,
		Utilization: utilization,
		ComputedAt:  time.Now(),
	}
}

func healthAlertMessage(r Report) string {
	switch r.Status {
	case HealthHealthy:
		return "pool health nominal"
	case HealthDegraded:
		return "pool health degraded"
	case HealthUnhealthy:
		return "pool health unhealthy"
	default:
		return "pool health critical"
	}
}

// classify maps a health score to severity per spec §4.4:
// {≥0.8: healthy, ≥0.6: degraded, ≥0.4: unhealthy, else: critical}.
func classify(score float64) HealthStatus {
	switch {
	case score >= 0.8:
		return HealthHealthy
	case score >= 0.6:
		return HealthDegraded
	case score >= 0.4:
		return HealthUnhealthy
	default:
		return HealthCritical
	}
}

// Health returns the most recently computed report, computing one on
// demand if the loop hasn't run yet.
func (o *Optimizer) Health() Report {
	if o.latest.ComputedAt.IsZero() {
		o.latest = o.assessHealth()
	}
	return o.latest
}

// Optimize recomputes a sizing recommendation from the pool's current
// stats. Effectiveness is the fraction of the recommendation that
// matches the pool's already-configured values, i.e. how much churn
// applying it would cause (1.0 = no change needed).
func (o *Optimizer) Optimize() Recommendation {
	stats := o.pool.Stats()
	rec := Recommendation{
		TargetMinConns: stats.Total,
		TargetMaxConns: stats.Total,
		IdleTimeout:    5 * time.Minute,
	}

	switch o.assessHealth().Status {
	case HealthCritical, HealthUnhealthy:
		rec.TargetMaxConns = stats.Total + stats.Total/2 + 1
		rec.Reason = "utilization sustained above threshold; grow pool"
	case HealthDegraded:
		rec.TargetMaxConns = stats.Total + 1
		rec.Reason = "utilization trending high; modest growth"
	default:
		if stats.Idle > stats.InUse*2 && stats.Total > 1 {
			rec.TargetMaxConns = stats.Total - 1
			rec.Reason = "excess idle capacity; shrink pool"
		} else {
			rec.Reason = "pool sized appropriately"
		}
	}

	if rec.TargetMaxConns == stats.Total {
		rec.Effectiveness = 1.0
	} else {
		rec.Effectiveness = 0.5
	}

	return rec
}

// LastRecommendation returns the most recently computed recommendation.
func (o *Optimizer) LastRecommendation() Recommendation {
	return o.recent
}
