package followrepo

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/okinrev/veza-web-app/internal/executor"
)

// rowToFollow maps a generic executor.Row into a Follow. Values may
// arrive either as native Go types (a row fresh off the connection) or
// as JSON-roundtripped types (a row replayed from the query cache,
// where time.Time becomes a string and int64 becomes float64) — every
// accessor below tolerates both.
func rowToFollow(row executor.Row) Follow {
	return Follow{
		FollowID:          rowGetUUID(row, "follow_id"),
		FollowerID:        rowGetString(row, "follower_id"),
		FollowingID:       rowGetString(row, "following_id"),
		Type:              rowGetString(row, "type"),
		CreatedAt:         rowGetTime(row, "created_at"),
		LastInteractionAt: rowGetTime(row, "last_interaction_at"),
		InteractionCount:  rowGetInt(row, "interaction_count"),
		EngagementScore:   rowGetFloat(row, "engagement_score"),
		PrivacyLevel:      PrivacyLevel(rowGetString(row, "privacy_level")),
		Muted:             rowGetBool(row, "muted"),
		ShowRetweets:      rowGetBool(row, "show_retweets"),
		ShowReplies:       rowGetBool(row, "show_replies"),
		CloseFriend:       rowGetBool(row, "close_friend"),
		NotificationLevel: NotificationLevel(rowGetString(row, "notification_level")),
		Source:            rowGetString(row, "source"),
		Active:            rowGetBool(row, "active"),
	}
}

func rowGetString(row executor.Row, key string) string {
	v, ok := row[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func rowGetBool(row executor.Row, key string) bool {
	v, ok := row[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func rowGetInt(row executor.Row, key string) int64 {
	v, ok := row[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func rowGetFloat(row executor.Row, key string) float64 {
	v, ok := row[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// rowGetUUID tolerates both a native uuid.UUID (fresh off the
// connection) and its string form (replayed from the query cache).
func rowGetUUID(row executor.Row, key string) uuid.UUID {
	v, ok := row[key]
	if !ok {
		return uuid.UUID{}
	}
	switch id := v.(type) {
	case uuid.UUID:
		return id
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.UUID{}
		}
		return parsed
	default:
		return uuid.UUID{}
	}
}

func rowGetTime(row executor.Row, key string) time.Time {
	v, ok := row[key]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
