// Package followservice implements C9: the orchestration layer atop
// C7 (socialgraph) and C8 (followrepo) that application/transport code
// calls directly. Grounded on spec §4.9's contracts and on the
// teacher's rate_limiter.go for its sliding-window posture, reworked
// from a Gin middleware into a plain service method guard.
package followservice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/okinrev/veza-web-app/internal/apperr"
	"github.com/okinrev/veza-web-app/internal/eventbus"
	"github.com/okinrev/veza-web-app/internal/followrepo"
	"github.com/okinrev/veza-web-app/internal/socialgraph"
)

// MaxBulkOperations caps bulk_follow/bulk_unfollow input size, per spec
// §4.9.
const MaxBulkOperations = 100

// RelationshipStatus is the single-label projection get_relationship
// derives from C8's bidirectional struct, per the priority order in
// spec §4.9.
type RelationshipStatus string

const (
	StatusBlocked      RelationshipStatus = "blocked"
	StatusMutual       RelationshipStatus = "mutual"
	StatusCloseFriends RelationshipStatus = "close_friends"
	StatusFollowing    RelationshipStatus = "following"
	StatusFollowedBy   RelationshipStatus = "followed_by"
	StatusMuted        RelationshipStatus = "muted"
	StatusNone         RelationshipStatus = "none"
)

// RelationshipView is get_relationship's result shape.
type RelationshipView struct {
	followrepo.Relationship
	Status RelationshipStatus
}

// Config tunes the per-action rate limits named in spec §4.9.
type Config struct {
	FollowLimit   int
	FollowWindow  time.Duration
	UnfollowLimit int
	UnfollowWindow time.Duration
	BlockLimit    int
	BlockWindow   time.Duration
}

// DefaultConfig matches spec §4.9's named defaults: 50/min follow,
// 100/min unfollow, 20/min block.
func DefaultConfig() Config {
	return Config{
		FollowLimit: 50, FollowWindow: time.Minute,
		UnfollowLimit: 100, UnfollowWindow: time.Minute,
		BlockLimit: 20, BlockWindow: time.Minute,
	}
}

// EventPublisher receives relationship_event notifications. Satisfied
// by *eventbus.Bus; nil-able for tests.
type EventPublisher interface {
	PublishRelationshipEvent(eventbus.RelationshipEvent)
}

// Service is C9.
type Service struct {
	repo    *followrepo.Repository
	graph   *socialgraph.Graph
	limiter *Limiter
	cfg     Config
	events  EventPublisher
	logger  *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option { return func(s *Service) { s.events = p } }
func WithLogger(l *zap.Logger) Option            { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.limiter = NewLimiter(now) }
}

// New constructs a Service over repo and graph.
func New(repo *followrepo.Repository, graph *socialgraph.Graph, cfg Config, opts ...Option) *Service {
	s := &Service{repo: repo, graph: graph, cfg: cfg, logger: zap.NewNop(), limiter: NewLimiter(nil)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func rateLimitErr(action string) error {
	return apperr.New(apperr.KindForbidden, "followservice: rate limit exceeded for "+action)
}

// FollowUser validates, rate-limits, checks for a block, writes through
// C8, mirrors into C7, and publishes a relationship_event, per spec
// §4.9.
func (s *Service) FollowUser(ctx context.Context, f, t, followType, source string) (followrepo.Follow, error) {
	if f == t {
		return followrepo.Follow{}, apperr.New(apperr.KindInvalidInput, "followservice: cannot follow self")
	}
	if !s.limiter.Allow("follow:"+f, s.cfg.FollowLimit, s.cfg.FollowWindow) {
		return followrepo.Follow{}, rateLimitErr("follow")
	}

	rel, err := s.repo.GetRelationship(ctx, f, t)
	if err != nil {
		return followrepo.Follow{}, err
	}
	if rel.U2BlockedU1 {
		return followrepo.Follow{}, apperr.New(apperr.KindForbidden, "followservice: target has blocked actor")
	}

	follow, err := s.repo.CreateFollow(ctx, f, t, followType)
	if err != nil {
		return followrepo.Follow{}, err
	}
	follow.Source = source

	if err := s.graph.AddFollow(f, t); err != nil {
		// C8 succeeded but the C7 mirror failed: roll C8 back so the two
		// stores don't diverge (spec §5's C9→C7→C8 rollback rule, applied
		// symmetrically since here C7 is the one that failed second).
		if _, rbErr := s.repo.RemoveFollow(ctx, f, t); rbErr != nil {
			s.logger.Error("failed to roll back follow after graph mirror error", zap.Error(rbErr))
		}
		return followrepo.Follow{}, apperr.Wrap(apperr.KindInvariantViolation, "followservice: graph mirror failed", err)
	}

	s.publish(f, t, eventbus.EventFollow)
	return follow, nil
}

// UnfollowUser is FollowUser's symmetric counterpart, with the higher
// unfollow rate limit.
func (s *Service) UnfollowUser(ctx context.Context, f, t string) (bool, error) {
	if !s.limiter.Allow("unfollow:"+f, s.cfg.UnfollowLimit, s.cfg.UnfollowWindow) {
		return false, rateLimitErr("unfollow")
	}

	removed, err := s.repo.RemoveFollow(ctx, f, t)
	if err != nil {
		return false, err
	}
	s.graph.RemoveFollow(f, t)

	if removed {
		s.publish(f, t, eventbus.EventUnfollow)
	}
	return removed, nil
}

// BlockUser atomically removes both directional follows (C7 then C8)
// before recording the block, per spec §5's ordering rule: a reader
// must never observe "blocked and following" simultaneously.
func (s *Service) BlockUser(ctx context.Context, a, b string) error {
	if !s.limiter.Allow("block:"+a, s.cfg.BlockLimit, s.cfg.BlockWindow) {
		return rateLimitErr("block")
	}

	s.graph.RemoveFollow(a, b)
	s.graph.RemoveFollow(b, a)
	if _, err := s.repo.RemoveFollow(ctx, a, b); err != nil {
		return err
	}
	if _, err := s.repo.RemoveFollow(ctx, b, a); err != nil {
		return err
	}

	if err := s.repo.BlockUser(ctx, a, b); err != nil {
		return err
	}

	s.publish(a, b, eventbus.EventBlock)
	return nil
}

// UnblockUser removes a's block record against b.
func (s *Service) UnblockUser(ctx context.Context, a, b string) error {
	if err := s.repo.UnblockUser(ctx, a, b); err != nil {
		return err
	}
	s.publish(a, b, eventbus.EventUnblock)
	return nil
}

// MuteUser/UnmuteUser are thin pass-throughs; spec §4.9 names no
// separate rate limit for them.
func (s *Service) MuteUser(ctx context.Context, a, b string) error {
	if err := s.repo.MuteUser(ctx, a, b); err != nil {
		return err
	}
	s.publish(a, b, eventbus.EventMute)
	return nil
}

func (s *Service) UnmuteUser(ctx context.Context, a, b string) error {
	if err := s.repo.UnmuteUser(ctx, a, b); err != nil {
		return err
	}
	s.publish(a, b, eventbus.EventUnmute)
	return nil
}

// GetRelationship returns C8's bidirectional projection plus a single
// status label, derived by the priority blocked > mutual >
// close_friends > following > followed_by > muted > none. Since a
// close friend tag is only valid on a mutual edge (close_friends ⇒
// mutual follows), the mutual branch always wins once both directions
// follow; close_friends only surfaces for a one-directional close
// friend tag paired with a one-directional follow, which repo.go's
// write path never produces today, so this branch stays for
// completeness against the field rather than as a reachable status.
func (s *Service) GetRelationship(ctx context.Context, a, b string) (RelationshipView, error) {
	rel, err := s.repo.GetRelationship(ctx, a, b)
	if err != nil {
		return RelationshipView{}, err
	}
	return RelationshipView{Relationship: rel, Status: classifyRelationship(rel)}, nil
}

func classifyRelationship(rel followrepo.Relationship) RelationshipStatus {
	switch {
	case rel.U1BlockedU2 || rel.U2BlockedU1:
		return StatusBlocked
	case rel.U1FollowsU2 && rel.U2FollowsU1:
		return StatusMutual
	case rel.U1CloseFriendU2 || rel.U2CloseFriendU1:
		return StatusCloseFriends
	case rel.U1FollowsU2:
		return StatusFollowing
	case rel.U2FollowsU1:
		return StatusFollowedBy
	case rel.U1MutedU2 || rel.U2MutedU1:
		return StatusMuted
	default:
		return StatusNone
	}
}

// AreMutualFriends is a convenience boolean over GetRelationship.
func (s *Service) AreMutualFriends(ctx context.Context, a, b string) (bool, error) {
	rel, err := s.repo.GetRelationship(ctx, a, b)
	if err != nil {
		return false, err
	}
	return rel.U1FollowsU2 && rel.U2FollowsU1, nil
}

// GetFollowers/GetFollowing delegate straight through to C8, which
// already applies the privacy filter against requester.
func (s *Service) GetFollowers(ctx context.Context, u string, limit int, cursor, requester string) (followrepo.Page, error) {
	return s.repo.GetFollowers(ctx, u, limit, cursor, requester)
}

func (s *Service) GetFollowing(ctx context.Context, u string, limit int, cursor, requester string) (followrepo.Page, error) {
	return s.repo.GetFollowing(ctx, u, limit, cursor, requester)
}

// GetFriendRecommendations dispatches to C7.
func (s *Service) GetFriendRecommendations(u string, limit int, algo socialgraph.Algorithm) []socialgraph.Candidate {
	return s.graph.GetFriendRecommendations(u, algo, limit)
}

// BulkFollow/BulkUnfollow cap input at MaxBulkOperations, per spec
// §4.9, then delegate the whole batch to C8 in one call (a single
// round-trip), mirroring each successful target into C7.
func (s *Service) BulkFollow(ctx context.Context, f string, targets []string) (followrepo.BulkResult, error) {
	if len(targets) > MaxBulkOperations {
		return followrepo.BulkResult{}, apperr.New(apperr.KindInvalidInput, "followservice: bulk batch exceeds MAX_BULK_OPERATIONS")
	}
	result, err := s.repo.BulkFollow(ctx, f, targets)
	if err != nil {
		return followrepo.BulkResult{}, err
	}
	for _, item := range result.Results {
		if item.Success {
			s.graph.AddFollow(f, item.TargetID)
			s.publish(f, item.TargetID, eventbus.EventFollow)
		}
	}
	return result, nil
}

func (s *Service) BulkUnfollow(ctx context.Context, f string, targets []string) (followrepo.BulkResult, error) {
	if len(targets) > MaxBulkOperations {
		return followrepo.BulkResult{}, apperr.New(apperr.KindInvalidInput, "followservice: bulk batch exceeds MAX_BULK_OPERATIONS")
	}
	result, err := s.repo.BulkUnfollow(ctx, f, targets)
	if err != nil {
		return followrepo.BulkResult{}, err
	}
	for _, item := range result.Results {
		if item.Success {
			s.graph.RemoveFollow(f, item.TargetID)
			s.publish(f, item.TargetID, eventbus.EventUnfollow)
		}
	}
	return result, nil
}

// SocialMetrics is get_social_metrics's result shape.
type SocialMetrics struct {
	FollowerCount  int64
	FollowingCount int64
	InfluenceScore float64
}

// GetSocialMetrics is a read-through over C8's counters plus C7's
// influence score.
func (s *Service) GetSocialMetrics(ctx context.Context, u string) (SocialMetrics, error) {
	followers, err := s.repo.GetFollowerCount(ctx, u)
	if err != nil {
		return SocialMetrics{}, err
	}
	following, err := s.repo.GetFollowingCount(ctx, u)
	if err != nil {
		return SocialMetrics{}, err
	}
	return SocialMetrics{
		FollowerCount:  followers,
		FollowingCount: following,
		InfluenceScore: s.graph.InfluenceScore(u),
	}, nil
}

// GetFollowerAnalytics permission-checks (requester must be u, the
// analytics subject) then delegates to C8.
func (s *Service) GetFollowerAnalytics(ctx context.Context, u, requester string, days int) (followrepo.FollowerAnalytics, error) {
	if requester != u {
		return followrepo.FollowerAnalytics{}, apperr.New(apperr.KindForbidden, "followservice: only the subject may view their own follower analytics")
	}
	return s.repo.GetFollowerAnalytics(ctx, u, days)
}

func (s *Service) publish(actor, target string, kind eventbus.RelationshipEventKind) {
	if s.events == nil {
		return
	}
	s.events.PublishRelationshipEvent(eventbus.RelationshipEvent{Actor: actor, Target: target, Kind: kind})
}
