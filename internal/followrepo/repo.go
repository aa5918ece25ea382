package followrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okinrev/veza-web-app/internal/apperr"
	"github.com/okinrev/veza-web-app/internal/executor"
	"github.com/okinrev/veza-web-app/internal/obs"
	"github.com/okinrev/veza-web-app/internal/querycache"
)

const followsTable = "follows"
const blocksTable = "blocks"

// Repository is C8.
type Repository struct {
	exec   *executor.Executor
	cache  *querycache.Cache
	mirror *obs.RedisQueryMirror
	logger *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

func WithLogger(l *zap.Logger) Option { return func(r *Repository) { r.logger = l } }

// WithRedisMirror attaches an optional out-of-process read-through
// mirror for analytics-style reads that sit outside C6's
// latency-critical path (spec §4.2's non-core cache decorator).
// GetFollowerAnalytics is the only reader that consults it; every other
// method is unaffected.
func WithRedisMirror(m *obs.RedisQueryMirror) Option { return func(r *Repository) { r.mirror = m } }

// New constructs a Repository over exec, with a direct cache reference
// for the per-user cache-aside keys (follower_count:u, etc.) that sit
// outside C6's fingerprint/table tagging.
func New(exec *executor.Executor, cache *querycache.Cache, opts ...Option) *Repository {
	r := &Repository{exec: exec, cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InvalidateUserCache clears every cache-aside key scoped to u, per
// spec §4.8's write-path invalidation list.
func (r *Repository) InvalidateUserCache(u string) {
	if r.cache != nil {
		for _, kind := range []string{"follower_count", "following_count", "followers", "following", "social_metrics"} {
			r.cache.InvalidateByTag(userTag(kind, u))
		}
	}
	if r.mirror != nil {
		if err := r.mirror.InvalidateTag(context.Background(), userTag("follower_analytics", u)); err != nil {
			r.logger.Warn("redis mirror invalidation failed", zap.String("user_id", u), zap.Error(err))
		}
	}
}

func userTag(kind, u string) string { return kind + ":" + u }

// CreateFollow upserts the (f, t) edge, reactivating a soft-deleted
// row if one exists, per spec §4.8's idempotent-under-unique-constraint
// contract.
func (r *Repository) CreateFollow(ctx context.Context, f, t, followType string) (Follow, error) {
	if f == t {
		return Follow{}, apperr.New(apperr.KindInvalidInput, "followrepo: follower and following id must differ")
	}

	id := uuid.New()
	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "INSERT INTO follows (follow_id, follower_id, following_id, type, active, created_at) VALUES ($1, $2, $3, $4, true, now()) ON CONFLICT (follower_id, following_id) DO UPDATE SET active = true, type = EXCLUDED.type RETURNING *",
		Kind:  querycache.KindInsert,
		Table: followsTable,
		Args:  []interface{}{id, f, t, followType},
	})
	if err != nil {
		return Follow{}, err
	}

	r.InvalidateUserCache(f)
	r.InvalidateUserCache(t)

	if len(res.Rows) == 0 {
		return Follow{FollowID: id, FollowerID: f, FollowingID: t, Type: followType, Active: true, CreatedAt: time.Now()}, nil
	}
	return rowToFollow(res.Rows[0]), nil
}

// RemoveFollow soft-deletes the (f, t) edge, returning whether it was
// active beforehand.
func (r *Repository) RemoveFollow(ctx context.Context, f, t string) (bool, error) {
	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "UPDATE follows SET active = false WHERE follower_id = $1 AND following_id = $2 AND active = true",
		Kind:  querycache.KindUpdate,
		Table: followsTable,
		Args:  []interface{}{f, t},
	})
	if err != nil {
		return false, err
	}

	r.InvalidateUserCache(f)
	r.InvalidateUserCache(t)
	return res.RowsAffected > 0, nil
}

// IsFollowing reads through C6 whether f actively follows t.
func (r *Repository) IsFollowing(ctx context.Context, f, t string) (bool, error) {
	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:    "SELECT follower_id FROM follows WHERE follower_id = $1 AND following_id = $2 AND active = true",
		Kind:   querycache.KindSelect,
		Table:  followsTable,
		Params: []string{f, t},
		Args:   []interface{}{f, t},
	})
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0, nil
}

// GetFollow returns the full follow record, or (Follow{}, false) if
// absent.
func (r *Repository) GetFollow(ctx context.Context, f, t string) (Follow, bool, error) {
	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:    "SELECT * FROM follows WHERE follower_id = $1 AND following_id = $2 AND active = true",
		Kind:   querycache.KindSelect,
		Table:  followsTable,
		Params: []string{f, t},
		Args:   []interface{}{f, t},
	})
	if err != nil {
		return Follow{}, false, err
	}
	if len(res.Rows) == 0 {
		return Follow{}, false, nil
	}
	return rowToFollow(res.Rows[0]), true, nil
}

// GetRelationship builds the bidirectional projection from follow,
// block, and mute lookups between a and b.
func (r *Repository) GetRelationship(ctx context.Context, a, b string) (Relationship, error) {
	aToB, aFollowsB, err := r.GetFollow(ctx, a, b)
	if err != nil {
		return Relationship{}, err
	}
	bToA, bFollowsA, err := r.GetFollow(ctx, b, a)
	if err != nil {
		return Relationship{}, err
	}
	aBlockedB, err := r.hasBlockRecord(ctx, a, b, KindBlock)
	if err != nil {
		return Relationship{}, err
	}
	bBlockedA, err := r.hasBlockRecord(ctx, b, a, KindBlock)
	if err != nil {
		return Relationship{}, err
	}
	aMutedB, err := r.hasBlockRecord(ctx, a, b, KindMute)
	if err != nil {
		return Relationship{}, err
	}
	bMutedA, err := r.hasBlockRecord(ctx, b, a, KindMute)
	if err != nil {
		return Relationship{}, err
	}

	mutualInteractions := aToB.InteractionCount + bToA.InteractionCount
	lastInteraction := aToB.LastInteractionAt
	if bToA.LastInteractionAt.After(lastInteraction) {
		lastInteraction = bToA.LastInteractionAt
	}

	// close_friend only makes sense on an active edge, so each flag is
	// gated on that direction following. Neither this package nor
	// followservice ever sets close_friend, and the projection does not
	// check spec §3's "close_friends ⇒ mutual follows" invariant.
	return Relationship{
		U1FollowsU2:        aFollowsB,
		U2FollowsU1:        bFollowsA,
		U1BlockedU2:        aBlockedB,
		U2BlockedU1:        bBlockedA,
		U1MutedU2:          aMutedB,
		U2MutedU1:          bMutedA,
		U1CloseFriendU2:    aFollowsB && aToB.CloseFriend,
		U2CloseFriendU1:    bFollowsA && bToA.CloseFriend,
		MutualInteractions: mutualInteractions,
		LastInteractionAt:  lastInteraction,
	}, nil
}

func (r *Repository) hasBlockRecord(ctx context.Context, actor, target string, kind BlockKind) (bool, error) {
	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:    "SELECT actor_id FROM blocks WHERE actor_id = $1 AND target_id = $2 AND kind = $3",
		Kind:   querycache.KindSelect,
		Table:  blocksTable,
		Params: []string{actor, target, string(kind)},
		Args:   []interface{}{actor, target, string(kind)},
	})
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0, nil
}

// GetFollowers returns a cursor-paginated, privacy-filtered page of
// u's followers, per spec §4.8.
func (r *Repository) GetFollowers(ctx context.Context, u string, limit int, cursor, requester string) (Page, error) {
	return r.listEdges(ctx, "following_id", "follower_id", u, limit, cursor, requester)
}

// GetFollowing returns a cursor-paginated, privacy-filtered page of who
// u is following.
func (r *Repository) GetFollowing(ctx context.Context, u string, limit int, cursor, requester string) (Page, error) {
	return r.listEdges(ctx, "follower_id", "following_id", u, limit, cursor, requester)
}

func (r *Repository) listEdges(ctx context.Context, anchorCol, otherCol, u string, limit int, cursor, requester string) (Page, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	sql := fmt.Sprintf("SELECT %s AS other_id, created_at, privacy_level FROM follows WHERE %s = $1 AND active = true", otherCol, anchorCol)
	args := []interface{}{u}
	if cursor != "" {
		sql += " AND created_at < $2"
		args = append(args, cursor)
	}
	sql += " ORDER BY created_at DESC LIMIT $" + fmt.Sprint(len(args)+1)
	args = append(args, limit+1)

	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:    sql,
		Kind:   querycache.KindSelect,
		Table:  followsTable,
		Params: []string{u, cursor, fmt.Sprint(limit)},
		Args:   args,
	})
	if err != nil {
		return Page{}, err
	}

	privacyFiltered := requester != u
	entries := make([]FollowerEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		if privacyFiltered && rowPrivacyLevel(row) != PrivacyPublic {
			continue
		}
		entries = append(entries, FollowerEntry{
			UserID:    rowGetString(row, "other_id"),
			CreatedAt: rowGetTime(row, "created_at"),
		})
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}
	page := Page{Count: len(entries), Items: entries, HasMore: hasMore}
	if hasMore && len(entries) > 0 {
		page.NextCursor = entries[len(entries)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

func rowPrivacyLevel(row executor.Row) PrivacyLevel {
	return PrivacyLevel(rowGetString(row, "privacy_level"))
}

// BulkFollow creates follow edges from f to every id in targets in a
// single round-trip, preserving input order in the result, per spec
// §4.8.
func (r *Repository) BulkFollow(ctx context.Context, f string, targets []string) (BulkResult, error) {
	return r.bulkEdgeOp(ctx, f, targets, true)
}

// BulkUnfollow removes follow edges from f to every id in targets.
func (r *Repository) BulkUnfollow(ctx context.Context, f string, targets []string) (BulkResult, error) {
	return r.bulkEdgeOp(ctx, f, targets, false)
}

// bulkEdgeOp issues exactly one r.exec.Execute round trip for the whole
// batch: a single multi-row upsert (follow) or a single multi-target
// update (unfollow), per spec §4.8's single-round-trip contract.
// Self-follow targets are rejected during batch construction, before
// any row ever reaches the statement.
func (r *Repository) bulkEdgeOp(ctx context.Context, f string, targets []string, follow bool) (BulkResult, error) {
	result := BulkResult{Total: len(targets), Results: make([]BulkItemResult, len(targets))}

	type pending struct {
		idx    int
		target string
	}
	batch := make([]pending, 0, len(targets))
	for i, t := range targets {
		if follow && f == t {
			result.Results[i] = BulkItemResult{TargetID: t, Success: false, Error: "followrepo: follower and following id must differ"}
			result.Failed++
			continue
		}
		batch = append(batch, pending{idx: i, target: t})
	}
	if len(batch) == 0 {
		return result, nil
	}

	args := make([]interface{}, 0, len(batch)+1)
	args = append(args, f)

	var sql string
	kind := querycache.KindInsert
	if follow {
		values := make([]string, len(batch))
		for i, p := range batch {
			followIDIdx := 2 + 2*i
			targetIdx := followIDIdx + 1
			values[i] = fmt.Sprintf("($%d, $1, $%d, 'standard', true, now())", followIDIdx, targetIdx)
			args = append(args, uuid.New(), p.target)
		}
		sql = "INSERT INTO follows (follow_id, follower_id, following_id, type, active, created_at) VALUES " +
			strings.Join(values, ", ") +
			" ON CONFLICT (follower_id, following_id) DO UPDATE SET active = true, type = EXCLUDED.type"
	} else {
		kind = querycache.KindUpdate
		placeholders := make([]string, len(batch))
		for i, p := range batch {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, p.target)
		}
		sql = "UPDATE follows SET active = false WHERE follower_id = $1 AND following_id IN (" +
			strings.Join(placeholders, ", ") + ")"
	}

	_, err := r.exec.Execute(ctx, executor.Request{
		SQL:   sql,
		Kind:  kind,
		Table: followsTable,
		Args:  args,
	})

	for _, p := range batch {
		if err != nil {
			result.Results[p.idx] = BulkItemResult{TargetID: p.target, Success: false, Error: err.Error()}
			result.Failed++
			continue
		}
		result.Results[p.idx] = BulkItemResult{TargetID: p.target, Success: true}
		result.Successful++
	}

	if err == nil {
		r.InvalidateUserCache(f)
		for _, p := range batch {
			r.InvalidateUserCache(p.target)
		}
	}

	return result, nil
}

// BlockUser records an (a -> b, block) record. The caller (C9) is
// responsible for atomically removing both directional follows first.
func (r *Repository) BlockUser(ctx context.Context, a, b string) error {
	return r.upsertBlockRecord(ctx, a, b, KindBlock)
}

// UnblockUser removes a's block record against b. It does not restore
// any previously-removed follow edges.
func (r *Repository) UnblockUser(ctx context.Context, a, b string) error {
	return r.deleteBlockRecord(ctx, a, b, KindBlock)
}

// MuteUser records an (a -> b, mute) record.
func (r *Repository) MuteUser(ctx context.Context, a, b string) error {
	return r.upsertBlockRecord(ctx, a, b, KindMute)
}

// UnmuteUser removes a's mute record against b.
func (r *Repository) UnmuteUser(ctx context.Context, a, b string) error {
	return r.deleteBlockRecord(ctx, a, b, KindMute)
}

func (r *Repository) upsertBlockRecord(ctx context.Context, actor, target string, kind BlockKind) error {
	_, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "INSERT INTO blocks (actor_id, target_id, kind, created_at) VALUES ($1, $2, $3, now()) ON CONFLICT (actor_id, target_id, kind) DO NOTHING",
		Kind:  querycache.KindInsert,
		Table: blocksTable,
		Args:  []interface{}{actor, target, string(kind)},
	})
	if err == nil {
		r.InvalidateUserCache(actor)
		r.InvalidateUserCache(target)
	}
	return err
}

func (r *Repository) deleteBlockRecord(ctx context.Context, actor, target string, kind BlockKind) error {
	_, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "DELETE FROM blocks WHERE actor_id = $1 AND target_id = $2 AND kind = $3",
		Kind:  querycache.KindDelete,
		Table: blocksTable,
		Args:  []interface{}{actor, target, string(kind)},
	})
	if err == nil {
		r.InvalidateUserCache(actor)
		r.InvalidateUserCache(target)
	}
	return err
}

// GetFollowerCount returns u's follower count, cache-aside via a
// direct querycache entry tagged follower_count:u.
func (r *Repository) GetFollowerCount(ctx context.Context, u string) (int64, error) {
	return r.cachedCount(ctx, "follower_count", u, "following_id")
}

// GetFollowingCount returns u's following count, cache-aside via
// following_count:u.
func (r *Repository) GetFollowingCount(ctx context.Context, u string) (int64, error) {
	return r.cachedCount(ctx, "following_count", u, "follower_id")
}

func (r *Repository) cachedCount(ctx context.Context, kind, u, col string) (int64, error) {
	tag := userTag(kind, u)
	if r.cache != nil {
		if cached, ok := r.cache.Get(kind, []string{u}); ok && len(cached) == 8 {
			return int64(bytesToUint64(cached)), nil
		}
	}

	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:    fmt.Sprintf("SELECT count(*) AS n FROM follows WHERE %s = $1 AND active = true", col),
		Kind:   querycache.KindSelect,
		Table:  followsTable,
		Params: []string{u},
		Args:   []interface{}{u},
	})
	if err != nil {
		return 0, err
	}

	var count int64
	if len(res.Rows) > 0 {
		count = rowGetInt(res.Rows[0], "n")
	}

	if r.cache != nil {
		r.cache.PutWithTags(kind, querycache.KindSelect, followsTable, []string{u}, uint64ToBytes(uint64(count)), 0, tag)
	}
	return count, nil
}

// RecordInteraction increments (f, t)'s interaction counters and
// refreshes last_interaction_at/engagement_score.
func (r *Repository) RecordInteraction(ctx context.Context, f, t, kind string) error {
	weight := interactionWeight(kind)
	_, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "UPDATE follows SET interaction_count = interaction_count + 1, last_interaction_at = now(), engagement_score = LEAST(100, engagement_score + $3) WHERE follower_id = $1 AND following_id = $2 AND active = true",
		Kind:  querycache.KindUpdate,
		Table: followsTable,
		Args:  []interface{}{f, t, weight},
	})
	if err == nil {
		r.InvalidateUserCache(f)
		r.InvalidateUserCache(t)
	}
	return err
}

func interactionWeight(kind string) float64 {
	switch kind {
	case "like":
		return 1
	case "reply":
		return 3
	case "repost":
		return 2
	default:
		return 0.5
	}
}

// GetFollowerAnalytics returns u's follower analytics over the trailing
// `days` days. When a redis mirror is attached, this read-through
// consults it first and repopulates it on miss — analytics sit outside
// C6's latency-critical path, so a mirror-stale read here is acceptable
// in a way it would not be for the core follow/follower lookups.
func (r *Repository) GetFollowerAnalytics(ctx context.Context, u string, days int) (FollowerAnalytics, error) {
	mirrorKey := fmt.Sprintf("follower_analytics:%s:%d", u, days)
	if r.mirror != nil {
		var cached FollowerAnalytics
		if ok, err := r.mirror.Get(ctx, mirrorKey, &cached); err != nil {
			r.logger.Warn("redis mirror read failed", zap.String("user_id", u), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	res, err := r.exec.Execute(ctx, executor.Request{
		SQL:   "SELECT date_trunc('day', created_at) AS day, count(*) AS n FROM follows WHERE following_id = $1 AND created_at > now() - ($2 || ' days')::interval GROUP BY day ORDER BY day",
		Kind:   querycache.KindSelect,
		Table:  followsTable,
		Params: []string{u, fmt.Sprint(days)},
		Args:   []interface{}{u, days},
	})
	if err != nil {
		return FollowerAnalytics{}, err
	}

	growth := make([]DailyGrowthPoint, 0, len(res.Rows))
	var total int64
	for _, row := range res.Rows {
		n := rowGetInt(row, "n")
		total += n
		growth = append(growth, DailyGrowthPoint{Date: rowGetString(row, "day"), NewFollowers: n})
	}

	followerCount, err := r.GetFollowerCount(ctx, u)
	if err != nil {
		return FollowerAnalytics{}, err
	}

	analytics := FollowerAnalytics{
		DailyGrowth:  growth,
		TotalMetrics: map[string]int64{"new_followers": total, "current_followers": followerCount},
		Demographics: map[string]interface{}{},
		ComputedMetrics: map[string]float64{
			"avg_daily_growth": float64(total) / float64(maxInt(days, 1)),
		},
	}

	if r.mirror != nil {
		if err := r.mirror.Put(ctx, mirrorKey, analytics, 10*time.Minute, userTag("follower_analytics", u)); err != nil {
			r.logger.Warn("redis mirror write failed", zap.String("user_id", u), zap.Error(err))
		}
	}

	return analytics, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
