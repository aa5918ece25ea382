package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisConfig dials a RedisQueryMirror connection with the teacher's
// production timeout/retry posture (redis_cache/client.go's NewClient).
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// NewRedisClient constructs the shared *redis.Client a RedisQueryMirror
// wraps.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
	})
}

// RedisQueryMirror is an optional out-of-process read-through mirror for
// analytics-style queries that sit outside C6's latency-critical path.
// Grounded on the teacher's QueryCacheService/CacheInvalidationManager
// tag-indexed invalidation (SADD tag:{tag} key, SMEMBERS + pipelined
// DEL). Nothing in C2's core contract depends on this — repositories
// opt in explicitly for reads they're willing to serve slightly stale.
type RedisQueryMirror struct {
	client *redis.Client
	logger *zap.Logger
	prefix string
}

// NewRedisQueryMirror wraps client. logger may be nil.
func NewRedisQueryMirror(client *redis.Client, logger *zap.Logger) *RedisQueryMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisQueryMirror{client: client, logger: logger, prefix: "query"}
}

// Get decodes the mirrored value for key into dst, reporting whether it
// was present.
func (m *RedisQueryMirror) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	raw, err := m.client.Get(ctx, m.cacheKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("obs: redis mirror get failed: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("obs: redis mirror decode failed: %w", err)
	}
	return true, nil
}

// Put mirrors value under key with ttl, tagging it so InvalidateTag can
// later evict it alongside the rest of its cohort.
func (m *RedisQueryMirror) Put(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("obs: redis mirror encode failed: %w", err)
	}

	cacheKey := m.cacheKey(key)
	pipe := m.client.TxPipeline()
	pipe.Set(ctx, cacheKey, raw, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, m.tagKey(tag), cacheKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("obs: redis mirror put failed: %w", err)
	}
	return nil
}

// InvalidateTag evicts every key last Put under tag, per the teacher's
// SADD tag:{tag} key / SMEMBERS + pipelined DEL idiom.
func (m *RedisQueryMirror) InvalidateTag(ctx context.Context, tag string) error {
	tagKey := m.tagKey(tag)
	members, err := m.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("obs: redis mirror tag lookup failed: %w", err)
	}
	if len(members) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, members...)
	pipe.Del(ctx, tagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("obs: redis mirror tag invalidation failed: %w", err)
	}
	m.logger.Debug("redis mirror invalidated tag", zap.String("tag", tag), zap.Int("keys", len(members)))
	return nil
}

func (m *RedisQueryMirror) cacheKey(key string) string { return m.prefix + ":" + key }
func (m *RedisQueryMirror) tagKey(tag string) string   { return m.prefix + ":tag:" + tag }

// Close releases the underlying Redis connection pool.
func (m *RedisQueryMirror) Close() error { return m.client.Close() }
