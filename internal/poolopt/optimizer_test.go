package poolopt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/storedriver/fake"
)

func newTestPool(t *testing.T, min, max int) *dbpool.Pool {
	cfg := dbpool.DefaultConfig()
	cfg.MinConns = min
	cfg.MaxConns = max
	cfg.IdleReapInterval = 0
	cfg.HealthCheckInterval = 0
	p, err := dbpool.New(context.Background(), fake.New(), "fake://host/db", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAssessHealthHealthyWhenIdle(t *testing.T) {
	pool := newTestPool(t, 4, 10)
	o := New(pool, DefaultConfig())

	report := o.Health()
	assert.Equal(t, HealthHealthy, report.Status)
	assert.Equal(t, 1.0, report.Score)
}

func TestAssessHealthDegradesUnderLoad(t *testing.T) {
	pool := newTestPool(t, 2, 2)
	mon := perf.New(perf.DefaultThresholds())
	o := New(pool, DefaultConfig(), WithMonitor(mon))

	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h1)
	defer pool.Release(h2)

	// Full utilization alone (0.9 threshold, -0.2 penalty) isn't enough
	// to leave "healthy" per spec §4.4's formula; add an unhealthy
	// connection (-0.3) so the combined score crosses into "unhealthy".
	mon.ConnectionError()

	report := o.Health()
	assert.NotEqual(t, HealthHealthy, report.Status)
	assert.Equal(t, 1.0, report.Utilization)
}

func TestOptimizeRecommendsGrowthWhenCritical(t *testing.T) {
	pool := newTestPool(t, 1, 1)
	mon := perf.New(perf.DefaultThresholds())
	o := New(pool, DefaultConfig(), WithMonitor(mon))

	h, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h)

	mon.ConnectionError()

	rec := o.Optimize()
	assert.Greater(t, rec.TargetMaxConns, 1)
	assert.Less(t, rec.Effectiveness, 1.0)
}

func TestOptimizeNoOpWhenHealthy(t *testing.T) {
	pool := newTestPool(t, 4, 10)
	o := New(pool, DefaultConfig())

	// Balance in-use against idle so neither the growth nor the
	// excess-idle-shrink branch fires.
	h1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(h1)
	defer pool.Release(h2)

	rec := o.Optimize()
	assert.Equal(t, "pool sized appropriately", rec.Reason)
	assert.Equal(t, 1.0, rec.Effectiveness)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	pool := newTestPool(t, 2, 4)
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = time.Millisecond
	cfg.OptimizeInterval = time.Millisecond
	o := New(pool, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(doneCh)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.NotZero(t, o.Health().ComputedAt)
}
