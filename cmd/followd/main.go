// Command followd wires C1-C9 into a single process: the connection
// pool, query cache, cached executor, pool optimizer, social graph
// engine, follow repository, and follow service, plus the ambient
// eventbus/obs stack. Modeled on the teacher's cmd/server/main.go
// composition (load config, construct dependencies in order, run
// background loops, block on signal).
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/okinrev/veza-web-app/internal/config"
	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/eventbus"
	"github.com/okinrev/veza-web-app/internal/executor"
	"github.com/okinrev/veza-web-app/internal/followrepo"
	"github.com/okinrev/veza-web-app/internal/followservice"
	"github.com/okinrev/veza-web-app/internal/obs"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/poolopt"
	"github.com/okinrev/veza-web-app/internal/querycache"
	"github.com/okinrev/veza-web-app/internal/socialgraph"
	"github.com/okinrev/veza-web-app/internal/storedriver/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := config.New()

	logger, err := obs.NewLogger(cfg.Server.Environment)
	if err != nil {
		log.Fatalf("obs: logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := obs.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon := perf.New(
		perf.Thresholds{
			SlowQuery:             cfg.Perf.SlowQuery,
			VerySlowQuery:         cfg.Perf.VerySlowQuery,
			MaxConnectionWaitTime: cfg.Perf.MaxConnectionWaitTime,
			MaxFailedQueriesPct:   cfg.Perf.MaxFailedQueriesPct,
			MaxPoolUtilizationPct: cfg.Perf.MaxPoolUtilizationPct,
			SamplingRate:          cfg.Perf.SamplingRate,
		},
		perf.WithLogger(logger),
		perf.WithRegistry(metrics.Registry()),
	)

	pool, err := dbpool.New(ctx, postgres.New(), cfg.Database.URL, dbpool.Config{
		MinConns:            cfg.Pool.MinConns,
		MaxConns:            cfg.Pool.MaxConns,
		ConnMaxLifetime:     cfg.Pool.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Pool.ConnMaxIdleTime,
		AcquireTimeout:      cfg.Pool.AcquireTimeout,
		ConnectTimeout:      cfg.Pool.ConnectTimeout,
		IdleReapInterval:    cfg.Pool.IdleReapInterval,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
	}, dbpool.WithLogger(logger), dbpool.WithMonitor(mon))
	if err != nil {
		log.Fatalf("dbpool: connect failed: %v", err)
	}
	defer pool.Close()

	cache := querycache.New(querycache.DefaultConfig())
	defer cache.Close()

	exec := executor.New(pool, cache, mon)

	bus, err := eventbus.New(eventbus.DefaultConfig(), logger)
	if err != nil {
		log.Fatalf("eventbus: connect failed: %v", err)
	}
	defer bus.Close()

	optimizer := poolopt.New(pool, poolopt.Config{
		HealthCheckInterval: cfg.Optimizer.HealthCheckInterval,
		OptimizeInterval:    cfg.Optimizer.OptimizeInterval,
	}, poolopt.WithLogger(logger), poolopt.WithHealthSink(bus), poolopt.WithMonitor(mon))
	go optimizer.Run(ctx)

	graph := socialgraph.New(socialgraph.Config{
		MaxRecommendations: cfg.Graph.MaxRecommendations,
		CacheTTL:           cfg.Graph.CacheTTL,
		MutualFriendWeight: cfg.Graph.MutualFriendWeight,
		InterestWeight:     cfg.Graph.InterestWeight,
		TrendingWeight:     cfg.Graph.TrendingWeight,
		RecencyDecayFactor: cfg.Graph.RecencyDecayFactor,
		DefaultMaxHops:     cfg.Graph.DefaultMaxHops,
		Now:                time.Now,
	}, socialgraph.WithLogger(logger))

	repoOpts := []followrepo.Option{followrepo.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		redisClient := obs.NewRedisClient(obs.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		defer redisClient.Close()
		mirror := obs.NewRedisQueryMirror(redisClient, logger)
		repoOpts = append(repoOpts, followrepo.WithRedisMirror(mirror))
	}
	repo := followrepo.New(exec, cache, repoOpts...)

	followSvc := followservice.New(repo, graph, followservice.Config{
		FollowLimit:    cfg.Follow.FollowLimit,
		FollowWindow:   cfg.Follow.FollowWindow,
		UnfollowLimit:  cfg.Follow.UnfollowLimit,
		UnfollowWindow: cfg.Follow.UnfollowWindow,
		BlockLimit:     cfg.Follow.BlockLimit,
		BlockWindow:    cfg.Follow.BlockWindow,
	}, followservice.WithEventPublisher(bus), followservice.WithLogger(logger))

	// followSvc is the complete C9 surface; binding it to a transport
	// (HTTP/gRPC) is out of this module's scope (see spec's Non-goals),
	// so this composition root only keeps it alive alongside the
	// background loops that don't need a caller to do useful work.
	_ = followSvc

	go reportPoolMetrics(ctx, pool, cache, metrics)

	logger.Info("followd started")
	<-ctx.Done()
	logger.Info("followd shutting down")
}
