package followservice

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/eventbus"
	"github.com/okinrev/veza-web-app/internal/executor"
	"github.com/okinrev/veza-web-app/internal/followrepo"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/querycache"
	"github.com/okinrev/veza-web-app/internal/socialgraph"
	"github.com/okinrev/veza-web-app/internal/storedriver"
	"github.com/okinrev/veza-web-app/internal/storedriver/fake"
)

// recordingBus captures published events for assertions without a real
// NATS connection.
type recordingBus struct {
	events []eventbus.RelationshipEvent
}

func (b *recordingBus) PublishRelationshipEvent(ev eventbus.RelationshipEvent) {
	b.events = append(b.events, ev)
}

func containsBlocksTable(sql string) bool {
	return strings.Contains(sql, "blocks")
}

func newTestService(t *testing.T) (*Service, *recordingBus) {
	driver := fake.New()
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		// Blocks never exist in this harness; follows always "exist" so
		// every operation under test succeeds without needing a full
		// relational simulation (service_test.go exercises orchestration,
		// not storage — see followrepo's repo_test.go for that).
		if containsBlocksTable(sql) {
			return fake.NewResult(0), nil
		}
		return fake.NewResult(1, map[string]interface{}{"follower_id": "a", "following_id": "b", "active": true}), nil
	}

	cfg := dbpool.DefaultConfig()
	cfg.MinConns = 1
	cfg.MaxConns = 2
	cfg.IdleReapInterval = 0
	cfg.HealthCheckInterval = 0
	pool, err := dbpool.New(context.Background(), driver, "fake://host/db", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	cacheCfg := querycache.DefaultConfig()
	cacheCfg.CleanupInterval = 0
	cache := querycache.New(cacheCfg)
	t.Cleanup(cache.Close)

	mon := perf.New(perf.DefaultThresholds())
	exec := executor.New(pool, cache, mon)
	repo := followrepo.New(exec, cache)

	gcfg := socialgraph.DefaultConfig()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	gcfg.Now = func() time.Time { return now }
	graph := socialgraph.New(gcfg)

	bus := &recordingBus{}
	svc := New(repo, graph, DefaultConfig(), WithEventPublisher(bus))
	return svc, bus
}

func TestClassifyRelationshipPriority(t *testing.T) {
	cases := []struct {
		name string
		rel  followrepo.Relationship
		want RelationshipStatus
	}{
		{"blocked wins over mutual", followrepo.Relationship{U1FollowsU2: true, U2FollowsU1: true, U1BlockedU2: true}, StatusBlocked},
		{"mutual", followrepo.Relationship{U1FollowsU2: true, U2FollowsU1: true}, StatusMutual},
		{"following", followrepo.Relationship{U1FollowsU2: true}, StatusFollowing},
		{"followed_by", followrepo.Relationship{U2FollowsU1: true}, StatusFollowedBy},
		{"muted", followrepo.Relationship{U1MutedU2: true}, StatusMuted},
		{"none", followrepo.Relationship{}, StatusNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, classifyRelationship(c.rel))
		})
	}
}

func TestFollowUserRejectsSelfFollow(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.FollowUser(context.Background(), "a", "a", "standard", "direct")
	require.Error(t, err)
}

func TestFollowUserEnforcesRateLimit(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.FollowLimit = 1
	ctx := context.Background()

	_, err := svc.FollowUser(ctx, "a", "b", "standard", "direct")
	require.NoError(t, err)

	_, err = svc.FollowUser(ctx, "a", "c", "standard", "direct")
	require.Error(t, err)
}

func TestBulkFollowRejectsOversizedBatch(t *testing.T) {
	svc, _ := newTestService(t)
	targets := make([]string, MaxBulkOperations+1)
	for i := range targets {
		targets[i] = "t"
	}
	_, err := svc.BulkFollow(context.Background(), "a", targets)
	require.Error(t, err)
}

func TestGetFollowerAnalyticsRequiresSelf(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetFollowerAnalytics(context.Background(), "u", "someone-else", 7)
	require.Error(t, err)
}

func TestLimiterAllowsUpToLimitThenBlocks(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(func() time.Time { return fixed })

	assert.True(t, l.Allow("k", 2, time.Minute))
	assert.True(t, l.Allow("k", 2, time.Minute))
	assert.False(t, l.Allow("k", 2, time.Minute))
}

func TestLimiterWindowSlides(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLimiter(func() time.Time { return now })

	assert.True(t, l.Allow("k", 1, time.Minute))
	assert.False(t, l.Allow("k", 1, time.Minute))

	now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("k", 1, time.Minute))
}
