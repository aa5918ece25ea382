// Package querycache implements the parameterized, bounded, TTL+LRU
// query-result cache (C2) with tag-based invalidation, per spec §4.2.
//
// Process-local and eventually consistent by design (spec §1's
// Non-goals rule out cross-process coherence): unlike the teacher's
// Redis-backed QueryCacheService, this cache lives entirely behind one
// sync.Mutex guarding a single map, so put/get/evict can reason about
// the whole entry set atomically against max_entries/max_memory — spec
// §5 requires exactly one mutex here, not the teacher's sync.Map.
package querycache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// QueryKind classifies a query for cacheability and default-TTL lookup.
type QueryKind string

const (
	KindSelect   QueryKind = "select"
	KindInsert   QueryKind = "insert"
	KindUpdate   QueryKind = "update"
	KindDelete   QueryKind = "delete"
	KindTruncate QueryKind = "truncate"
)

func (k QueryKind) isReadLike() bool { return k == KindSelect }

// IsWrite reports whether kind mutates data and should therefore
// invalidate, rather than populate, the cache.
func (k QueryKind) IsWrite() bool {
	switch k {
	case KindInsert, KindUpdate, KindDelete, KindTruncate:
		return true
	default:
		return false
	}
}

// systemTables are never cached even for read-like kinds.
var systemTables = map[string]bool{
	"pg_catalog": true,
	"information_schema": true,
}

// entry is one cache slot, per spec §3's cache-entry data model.
type entry struct {
	value        []byte
	tags         map[string]bool
	createdAt    time.Time
	expiresAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	sizeBytes    int
	valid        bool
}

// Config bounds the cache, per spec §6.
type Config struct {
	MaxEntries      int
	MaxResultSize   int
	MaxMemoryBytes  int64
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns reasonable bounds for a single-process cache.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10_000,
		MaxResultSize:   1 << 20, // 1MiB
		MaxMemoryBytes:  256 << 20,
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// tableTTL holds per-table default TTLs (only select results are stored,
// so kind does not vary); rapidly-changing tables get shorter TTLs than
// stable ones, per spec §4.2.
var tableTTL = map[string]time.Duration{
	"users":         15 * time.Minute,
	"sessions":      2 * time.Minute,
	"notifications": time.Minute,
	"follows":       3 * time.Minute,
	"posts":         5 * time.Minute,
}

// Cache is C2.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	data   map[string]*entry
	memory int64

	hits, misses int64

	stopCleanup chan struct{}
}

// New constructs a Cache and starts its periodic sweep goroutine.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:         cfg,
		data:        make(map[string]*entry),
		stopCleanup: make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go c.runCleanup()
	}
	return c
}

// Close stops the periodic sweep goroutine.
func (c *Cache) Close() {
	select {
	case <-c.stopCleanup:
	default:
		close(c.stopCleanup)
	}
}

// Key builds the outer cache key: the hex MD5 digest of fingerprint
// followed by each param in order, NUL-separated. Parameter order is
// significant, per spec §4.2.
func Key(fingerprint string, params []string) string {
	h := md5.New()
	h.Write([]byte(fingerprint))
	for _, p := range params {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Put stores result under the key for (fingerprint, params), subject to
// §4.2's cacheability rules: only read-like kinds against non-system
// tables are stored, and oversized results are rejected.
func (c *Cache) Put(fingerprint string, kind QueryKind, table string, params []string, result []byte, ttl time.Duration) bool {
	return c.PutWithTags(fingerprint, kind, table, params, result, ttl)
}

// PutWithTags behaves like Put but additionally tags the entry with
// extraTags, letting callers invalidate cache-aside reads (e.g.
// per-user counters) by a caller-defined key via InvalidateByTag,
// beyond the fixed fingerprint/table tags.
func (c *Cache) PutWithTags(fingerprint string, kind QueryKind, table string, params []string, result []byte, ttl time.Duration, extraTags ...string) bool {
	if !kind.isReadLike() || systemTables[strings.ToLower(table)] {
		return false
	}
	if c.cfg.MaxResultSize > 0 && len(result) > c.cfg.MaxResultSize {
		return false
	}

	if ttl <= 0 {
		ttl = c.defaultTTLFor(table)
	}

	key := Key(fingerprint, params)
	now := time.Now()
	tags := map[string]bool{"fp:" + fingerprint: true, "table:" + strings.ToLower(table): true}
	for _, t := range extraTags {
		tags[t] = true
	}
	e := &entry{
		value:        append([]byte(nil), result...),
		tags:         tags,
		createdAt:    now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
		sizeBytes:    len(result),
		valid:        true,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.data[key]; ok {
		c.memory -= int64(old.sizeBytes)
	}
	c.data[key] = e
	c.memory += int64(e.sizeBytes)

	c.evictLocked()
	return true
}

func (c *Cache) defaultTTLFor(table string) time.Duration {
	if ttl, ok := tableTTL[strings.ToLower(table)]; ok {
		return ttl
	}
	return c.cfg.DefaultTTL
}

// Get returns the cached result for (fingerprint, params) if present,
// valid and unexpired.
func (c *Cache) Get(fingerprint string, params []string) ([]byte, bool) {
	key := Key(fingerprint, params)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok || !e.valid {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.data, key)
		c.memory -= int64(e.sizeBytes)
		c.misses++
		return nil, false
	}

	e.accessCount++
	e.lastAccessed = time.Now()
	c.hits++
	out := append([]byte(nil), e.value...)
	return out, true
}

// InvalidateByFingerprint removes every entry tagged with fp.
func (c *Cache) InvalidateByFingerprint(fingerprint string) {
	c.invalidateByTag("fp:" + fingerprint)
}

// InvalidateByTable removes every entry tagged with table.
func (c *Cache) InvalidateByTable(table string) {
	c.invalidateByTag("table:" + strings.ToLower(table))
}

// InvalidateByTag removes every entry carrying the given caller-defined
// tag, e.g. one supplied via PutWithTags.
func (c *Cache) InvalidateByTag(tag string) {
	c.invalidateByTag(tag)
}

func (c *Cache) invalidateByTag(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.data {
		if e.tags[tag] {
			c.memory -= int64(e.sizeBytes)
			delete(c.data, key)
		}
	}
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
func (c *Cache) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.data {
		if strings.HasPrefix(key, prefix) {
			c.memory -= int64(e.sizeBytes)
			delete(c.data, key)
		}
	}
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*entry)
	c.memory = 0
}

// Size returns the current entry count.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// MemoryUsage returns the current total size_bytes across live entries.
func (c *Cache) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memory
}

// HitCount, MissCount, HitRate report cumulative observability counters.
func (c *Cache) HitCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits
}

func (c *Cache) MissCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses
}

func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// Healthy reports whether the cache is within its configured bounds.
func (c *Cache) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MaxEntries > 0 && len(c.data) > c.cfg.MaxEntries {
		return false
	}
	if c.cfg.MaxMemoryBytes > 0 && c.memory > c.cfg.MaxMemoryBytes {
		return false
	}
	return true
}

// evictLocked evicts entries in ascending (access_count, last_accessed)
// order until size and memory bounds are satisfied. Caller holds c.mu.
func (c *Cache) evictLocked() {
	overCount := c.cfg.MaxEntries > 0 && len(c.data) > c.cfg.MaxEntries
	overMemory := c.cfg.MaxMemoryBytes > 0 && c.memory > c.cfg.MaxMemoryBytes
	if !overCount && !overMemory {
		return
	}

	type candidate struct {
		key string
		e   *entry
	}
	candidates := make([]candidate, 0, len(c.data))
	for k, e := range c.data {
		candidates = append(candidates, candidate{k, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].e.accessCount != candidates[j].e.accessCount {
			return candidates[i].e.accessCount < candidates[j].e.accessCount
		}
		return candidates[i].e.lastAccessed.Before(candidates[j].e.lastAccessed)
	})

	for _, cand := range candidates {
		if !(c.cfg.MaxEntries > 0 && len(c.data) > c.cfg.MaxEntries) &&
			!(c.cfg.MaxMemoryBytes > 0 && c.memory > c.cfg.MaxMemoryBytes) {
			break
		}
		delete(c.data, cand.key)
		c.memory -= int64(cand.e.sizeBytes)
	}
}

func (c *Cache) runCleanup() {
	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.data {
		if now.After(e.expiresAt) {
			c.memory -= int64(e.sizeBytes)
			delete(c.data, key)
		}
	}
}
