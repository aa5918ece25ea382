package main

import (
	"context"
	"time"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/obs"
	"github.com/okinrev/veza-web-app/internal/querycache"
)

// reportPoolMetrics polls C3 and C2's own accessors on a short tick and
// republishes them as Prometheus gauges, since neither package registers
// its own collectors the way C1 (perf.Monitor) does.
func reportPoolMetrics(ctx context.Context, pool *dbpool.Pool, cache *querycache.Cache, metrics *obs.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stats()
			metrics.PoolConnectionsActive.Set(float64(stats.InUse))
			metrics.CacheHitRatio.Set(cache.HitRate())
		}
	}
}
