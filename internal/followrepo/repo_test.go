package followrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/executor"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/querycache"
	"github.com/okinrev/veza-web-app/internal/storedriver"
	"github.com/okinrev/veza-web-app/internal/storedriver/fake"
)

// memStore is a minimal in-memory stand-in for the follows/blocks tables,
// dispatched to by SQL substring so Repository can be exercised without a
// real database, the same way the teacher's repository tests script a
// fake driver's ExecFunc.
type memStore struct {
	mu     sync.Mutex
	edges  map[[2]string]map[string]interface{}
	blocks map[[3]string]bool
}

func newMemStore() *memStore {
	return &memStore{
		edges:  make(map[[2]string]map[string]interface{}),
		blocks: make(map[[3]string]bool),
	}
}

func (s *memStore) exec(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.HasPrefix(sql, "INSERT INTO follows") && !strings.Contains(sql, "), ("):
		// Single-row upsert: (follow_id, follower_id, following_id, type).
		id, f, t := params[0], params[1].(string), params[2].(string)
		typ := params[3].(string)
		key := [2]string{f, t}
		row, ok := s.edges[key]
		if !ok {
			// Monotonic, strictly increasing timestamps per insert so
			// cursor pagination has a deterministic order to walk.
			row = map[string]interface{}{
				"follow_id": id, "follower_id": f, "following_id": t,
				"created_at":        time.Unix(0, 0).Add(time.Duration(len(s.edges)) * time.Second),
				"interaction_count": int64(0),
				"engagement_score":  0.0, "privacy_level": "public",
				"muted": false, "show_retweets": true, "show_replies": true,
				"close_friend": false, "notification_level": "all", "source": "direct",
			}
			s.edges[key] = row
		}
		row["active"] = true
		row["type"] = typ
		return fake.NewResult(1, row), nil

	case strings.HasPrefix(sql, "INSERT INTO follows") && strings.Contains(sql, "), ("):
		// Bulk upsert: one follower_id ($1) fanned out across many
		// (follow_id, following_id) pairs, all type 'standard', in a
		// single statement.
		f := params[0].(string)
		for i := 1; i < len(params); i += 2 {
			id, t := params[i], params[i+1].(string)
			key := [2]string{f, t}
			row, ok := s.edges[key]
			if !ok {
				row = map[string]interface{}{
					"follow_id": id, "follower_id": f, "following_id": t,
					"created_at":        time.Unix(0, 0).Add(time.Duration(len(s.edges)) * time.Second),
					"interaction_count": int64(0),
					"engagement_score":  0.0, "privacy_level": "public",
					"muted": false, "show_retweets": true, "show_replies": true,
					"close_friend": false, "notification_level": "all", "source": "direct",
				}
				s.edges[key] = row
			}
			row["active"] = true
			row["type"] = "standard"
		}
		return fake.NewResult(int64((len(params) - 1) / 2)), nil

	case strings.HasPrefix(sql, "UPDATE follows SET active = false") && strings.Contains(sql, "following_id IN"):
		f := params[0].(string)
		var affected int64
		for _, raw := range params[1:] {
			t := raw.(string)
			row, ok := s.edges[[2]string{f, t}]
			if !ok || row["active"] != true {
				continue
			}
			row["active"] = false
			affected++
		}
		return fake.NewResult(affected), nil

	case strings.HasPrefix(sql, "UPDATE follows SET active = false"):
		f, t := params[0].(string), params[1].(string)
		key := [2]string{f, t}
		row, ok := s.edges[key]
		if !ok || row["active"] != true {
			return fake.NewResult(0), nil
		}
		row["active"] = false
		return fake.NewResult(1), nil

	case strings.HasPrefix(sql, "UPDATE follows SET interaction_count"):
		f, t := params[0].(string), params[1].(string)
		key := [2]string{f, t}
		row, ok := s.edges[key]
		if !ok || row["active"] != true {
			return fake.NewResult(0), nil
		}
		row["interaction_count"] = row["interaction_count"].(int64) + 1
		return fake.NewResult(1), nil

	case strings.HasPrefix(sql, "SELECT follower_id FROM follows"):
		f, t := params[0].(string), params[1].(string)
		row, ok := s.edges[[2]string{f, t}]
		if !ok || row["active"] != true {
			return fake.NewResult(0), nil
		}
		return fake.NewResult(0, map[string]interface{}{"follower_id": f}), nil

	case strings.HasPrefix(sql, "SELECT * FROM follows"):
		f, t := params[0].(string), params[1].(string)
		row, ok := s.edges[[2]string{f, t}]
		if !ok || row["active"] != true {
			return fake.NewResult(0), nil
		}
		return fake.NewResult(0, row), nil

	case strings.HasPrefix(sql, "SELECT count(*) AS n FROM follows"):
		u := params[0].(string)
		anchorIsFollowing := strings.Contains(sql, "following_id = $1")
		var n int64
		for k, row := range s.edges {
			if row["active"] != true {
				continue
			}
			if anchorIsFollowing && k[1] == u {
				n++
			} else if !anchorIsFollowing && k[0] == u {
				n++
			}
		}
		return fake.NewResult(0, map[string]interface{}{"n": n}), nil

	case strings.Contains(sql, "AS other_id, created_at, privacy_level FROM follows"):
		u := params[0].(string)
		anchorIsFollowing := strings.HasPrefix(sql, "SELECT following_id")
		hasCursor := strings.Contains(sql, "created_at <")

		var cursor time.Time
		var limit int
		if hasCursor {
			cursorStr := params[1].(string)
			cursor, _ = time.Parse(time.RFC3339Nano, cursorStr)
			limit = toInt(params[2])
		} else {
			limit = toInt(params[1])
		}

		type candidate struct {
			otherID   string
			createdAt time.Time
			privacy   interface{}
		}
		var rows []candidate
		for k, row := range s.edges {
			if row["active"] != true {
				continue
			}
			var otherID string
			switch {
			case anchorIsFollowing && k[0] == u:
				otherID = k[1]
			case !anchorIsFollowing && k[1] == u:
				otherID = k[0]
			default:
				continue
			}
			createdAt := row["created_at"].(time.Time)
			if hasCursor && !createdAt.Before(cursor) {
				continue
			}
			rows = append(rows, candidate{otherID, createdAt, row["privacy_level"]})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].createdAt.After(rows[j].createdAt) })
		if limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}

		out := make([]map[string]interface{}, len(rows))
		for i, c := range rows {
			out[i] = map[string]interface{}{"other_id": c.otherID, "created_at": c.createdAt, "privacy_level": c.privacy}
		}
		return fake.NewResult(0, out...), nil

	case strings.HasPrefix(sql, "INSERT INTO blocks"):
		a, b, kind := params[0].(string), params[1].(string), params[2].(string)
		s.blocks[[3]string{a, b, kind}] = true
		return fake.NewResult(1), nil

	case strings.HasPrefix(sql, "DELETE FROM blocks"):
		a, b, kind := params[0].(string), params[1].(string), params[2].(string)
		delete(s.blocks, [3]string{a, b, kind})
		return fake.NewResult(1), nil

	case strings.HasPrefix(sql, "SELECT actor_id FROM blocks"):
		a, b, kind := params[0].(string), params[1].(string), params[2].(string)
		if s.blocks[[3]string{a, b, kind}] {
			return fake.NewResult(0, map[string]interface{}{"actor_id": a}), nil
		}
		return fake.NewResult(0), nil

	case strings.HasPrefix(sql, "SELECT date_trunc"):
		return fake.NewResult(0), nil

	default:
		return fake.NewResult(0), nil
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

func newTestRepo(t *testing.T) *Repository {
	driver := fake.New()
	store := newMemStore()
	driver.ExecFunc = store.exec

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

	return New(exec, cache)
}

func TestCreateFollowRejectsSelfFollow(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.CreateFollow(context.Background(), "a", "a", "standard")
	require.Error(t, err)
}

func TestCreateFollowIsIdempotentAndReactivates(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateFollow(ctx, "a", "b", "standard")
	require.NoError(t, err)
	ok, err := r.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := r.RemoveFollow(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err = r.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.CreateFollow(ctx, "a", "b", "standard")
	require.NoError(t, err)
	ok, err = r.IsFollowing(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateFollowAssignsFollowID(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	follow, err := r.CreateFollow(ctx, "a", "b", "standard")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.UUID{}, follow.FollowID)

	got, ok, err := r.GetFollow(ctx, "a", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, follow.FollowID, got.FollowID)
}

func TestRemoveFollowIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	removed, err := r.RemoveFollow(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetRelationshipReflectsBidirectionalState(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateFollow(ctx, "a", "b", "standard")
	require.NoError(t, err)
	require.NoError(t, r.BlockUser(ctx, "b", "a"))

	rel, err := r.GetRelationship(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, rel.U1FollowsU2)
	assert.False(t, rel.U2FollowsU1)
	assert.True(t, rel.U2BlockedU1)
	assert.False(t, rel.U1BlockedU2)
}

func TestBulkFollowPreservesOrderAndReportsFailures(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	result, err := r.BulkFollow(ctx, "a", []string{"b", "a", "c"})
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.Equal(t, "b", result.Results[0].TargetID)
	assert.True(t, result.Results[0].Success)
	assert.Equal(t, "a", result.Results[1].TargetID)
	assert.False(t, result.Results[1].Success, "self-follow should fail")
	assert.Equal(t, "c", result.Results[2].TargetID)
	assert.True(t, result.Results[2].Success)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
}

func TestBulkFollowIsSingleRoundTrip(t *testing.T) {
	driver := fake.New()
	store := newMemStore()
	var execCount int
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		execCount++
		return store.exec(ctx, sql, params...)
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
	r := New(exec, cache)

	execCount = 0
	result, err := r.BulkFollow(context.Background(), "a", []string{"b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 1, execCount, "bulk_follow must issue a single round-trip per spec's binding contract")

	execCount = 0
	result, err = r.BulkUnfollow(context.Background(), "a", []string{"b", "c", "d"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 1, execCount, "bulk_unfollow must issue a single round-trip")
}

func TestGetFollowersPaginatesAndFiltersPrivacy(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for _, f := range []string{"f1", "f2", "f3"} {
		_, err := r.CreateFollow(ctx, f, "u", "standard")
		require.NoError(t, err)
	}

	page, err := r.GetFollowers(ctx, "u", 2, "", "u")
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)

	rest, err := r.GetFollowers(ctx, "u", 2, page.NextCursor, "u")
	require.NoError(t, err)
	assert.False(t, rest.HasMore)
}

func TestGetFollowerCountIsCachedAndInvalidatedOnWrite(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	n, err := r.GetFollowerCount(ctx, "u")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, err = r.CreateFollow(ctx, "a", "u", "standard")
	require.NoError(t, err)

	n, err = r.GetFollowerCount(ctx, "u")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "CreateFollow must invalidate the cached follower_count")
}

func TestRecordInteractionIncrementsCount(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.CreateFollow(ctx, "a", "b", "standard")
	require.NoError(t, err)

	require.NoError(t, r.RecordInteraction(ctx, "a", "b", "like"))
	require.NoError(t, r.RecordInteraction(ctx, "a", "b", "reply"))

	follow, ok, err := r.GetFollow(ctx, "a", "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, follow.InteractionCount)
}

func TestMuteAndUnmute(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.MuteUser(ctx, "a", "b"))
	rel, err := r.GetRelationship(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, rel.U1MutedU2)

	require.NoError(t, r.UnmuteUser(ctx, "a", "b"))
	rel, err = r.GetRelationship(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, rel.U1MutedU2)
}
