// Package followrepo implements C8: durable follow/relationship
// storage on top of C6, with bulk operations, cursor-paginated lists,
// and analytics. Grounded on
// original_source/sonet-server/.../repositories/follow_repository.h's
// method surface (create_follow/remove_follow/get_relationship/
// get_followers/bulk_follow/...), reimplemented against the abstract
// storedriver through C6 instead of a concrete Postgres/Redis pairing.
package followrepo

import (
	"time"

	"github.com/google/uuid"
)

// PrivacyLevel mirrors spec §3's follow-edge privacy_level enum.
type PrivacyLevel string

const (
	PrivacyPublic     PrivacyLevel = "public"
	PrivacyPrivate    PrivacyLevel = "private"
	PrivacyRestricted PrivacyLevel = "restricted"
)

// NotificationLevel mirrors spec §3's notification_level enum.
type NotificationLevel string

const (
	NotifyAll        NotificationLevel = "all"
	NotifyImportant  NotificationLevel = "important"
	NotifyMentions   NotificationLevel = "mentions"
	NotifyOff        NotificationLevel = "off"
)

// Follow is the directed follow-edge tuple from spec §3. FollowID is a
// surrogate identifier distinct from the (FollowerID, FollowingID)
// natural key, recovered from the original follow_service's edge model.
type Follow struct {
	FollowID          uuid.UUID
	FollowerID        string
	FollowingID       string
	Type              string
	CreatedAt         time.Time
	LastInteractionAt time.Time
	InteractionCount  int64
	EngagementScore   float64
	PrivacyLevel      PrivacyLevel
	Muted             bool
	ShowRetweets      bool
	ShowReplies       bool
	CloseFriend       bool
	NotificationLevel NotificationLevel
	Source            string
	Active            bool
}

// BlockKind distinguishes a block record from a mute record, per
// spec §3's "(actor, target, kind∈{block,mute})".
type BlockKind string

const (
	KindBlock BlockKind = "block"
	KindMute  BlockKind = "mute"
)

// Relationship is the bidirectional projection from spec §3.
type Relationship struct {
	U1FollowsU2        bool
	U2FollowsU1        bool
	U1BlockedU2        bool
	U2BlockedU1        bool
	U1MutedU2          bool
	U2MutedU1          bool
	U1CloseFriendU2    bool
	U2CloseFriendU1    bool
	MutualInteractions int64
	LastInteractionAt  time.Time
}

// FollowerEntry is one row of a get_followers/get_following page.
type FollowerEntry struct {
	UserID    string
	CreatedAt time.Time
}

// Page is the cursor-paginated result of get_followers/get_following.
type Page struct {
	Count      int
	Items      []FollowerEntry
	NextCursor string
	HasMore    bool
}

// BulkItemResult is one target's outcome within a bulk operation,
// order-preserving per spec §4.8.
type BulkItemResult struct {
	TargetID string
	Success  bool
	Error    string
}

// BulkResult is bulk_follow/bulk_unfollow's result shape.
type BulkResult struct {
	Total      int
	Successful int
	Failed     int
	Results    []BulkItemResult
}

// DailyGrowthPoint is one day's entry in get_follower_analytics.
type DailyGrowthPoint struct {
	Date         string
	NewFollowers int64
	Unfollows    int64
}

// FollowerAnalytics is get_follower_analytics's result shape.
type FollowerAnalytics struct {
	DailyGrowth     []DailyGrowthPoint
	TotalMetrics    map[string]int64
	Demographics    map[string]interface{}
	ComputedMetrics map[string]float64
}
