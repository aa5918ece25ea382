package querycache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	return cfg
}

func TestPutGetRoundTrip(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	ok := c.Put("fp1", KindSelect, "users", []string{"1"}, []byte("result"), time.Minute)
	require.True(t, ok)

	v, ok := c.Get("fp1", []string{"1"})
	require.True(t, ok)
	assert.Equal(t, []byte("result"), v)

	_, ok = c.Get("fp1", []string{"2"})
	assert.False(t, ok)
}

func TestPutRejectsNonReadLike(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	ok := c.Put("fp1", KindUpdate, "users", nil, []byte("x"), time.Minute)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestPutRejectsSystemTable(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	ok := c.Put("fp1", KindSelect, "pg_catalog", nil, []byte("x"), time.Minute)
	assert.False(t, ok)
}

func TestPutRejectsOversizedResult(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResultSize = 4
	c := New(cfg)
	defer c.Close()

	ok := c.Put("fp1", KindSelect, "users", nil, []byte("too big"), time.Minute)
	assert.False(t, ok)
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.Put("fp1", KindSelect, "users", nil, []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.Get("fp1", nil)
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.MissCount())
}

func TestInvalidateByFingerprint(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.Put("fp1", KindSelect, "users", []string{"a"}, []byte("v1"), time.Minute)
	c.Put("fp1", KindSelect, "users", []string{"b"}, []byte("v2"), time.Minute)
	c.Put("fp2", KindSelect, "users", []string{"c"}, []byte("v3"), time.Minute)

	c.InvalidateByFingerprint("fp1")

	_, ok := c.Get("fp1", []string{"a"})
	assert.False(t, ok)
	_, ok = c.Get("fp1", []string{"b"})
	assert.False(t, ok)
	_, ok = c.Get("fp2", []string{"c"})
	assert.True(t, ok)
}

func TestInvalidateByTable(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.Put("fp1", KindSelect, "users", nil, []byte("v1"), time.Minute)
	c.Put("fp2", KindSelect, "follows", nil, []byte("v2"), time.Minute)

	c.InvalidateByTable("users")

	_, ok := c.Get("fp1", nil)
	assert.False(t, ok)
	_, ok = c.Get("fp2", nil)
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.Put("fp1", KindSelect, "users", nil, []byte("v1"), time.Minute)
	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.EqualValues(t, 0, c.MemoryUsage())
}

func TestEvictionUnderMaxEntries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 2
	c := New(cfg)
	defer c.Close()

	c.Put("fp1", KindSelect, "users", []string{"1"}, []byte("v1"), time.Minute)
	c.Put("fp2", KindSelect, "users", []string{"2"}, []byte("v2"), time.Minute)
	// Access fp1 to raise its access_count above fp2's.
	c.Get("fp1", []string{"1"})
	c.Put("fp3", KindSelect, "users", []string{"3"}, []byte("v3"), time.Minute)

	assert.LessOrEqual(t, c.Size(), 2)
	_, ok := c.Get("fp1", []string{"1"})
	assert.True(t, ok, "more-accessed entry should survive eviction")
}

func TestHitRate(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.Put("fp1", KindSelect, "users", nil, []byte("v1"), time.Minute)
	c.Get("fp1", nil)
	c.Get("fp1", nil)
	c.Get("missing", nil)

	assert.InDelta(t, 2.0/3.0, c.HitRate(), 0.0001)
}

func TestHealthy(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 1
	c := New(cfg)
	defer c.Close()

	assert.True(t, c.Healthy())
}

func TestPutWithTagsAndInvalidateByTag(t *testing.T) {
	c := New(testConfig())
	defer c.Close()

	c.PutWithTags("fp1", KindSelect, "users", []string{"a"}, []byte("v1"), time.Minute, "user:42")
	c.PutWithTags("fp2", KindSelect, "users", []string{"b"}, []byte("v2"), time.Minute, "user:43")

	c.InvalidateByTag("user:42")

	_, ok := c.Get("fp1", []string{"a"})
	assert.False(t, ok)
	_, ok = c.Get("fp2", []string{"b"})
	assert.True(t, ok)
}

func TestKeyIsOrderSensitive(t *testing.T) {
	k1 := Key("fp", []string{"a", "b"})
	k2 := Key("fp", []string{"b", "a"})
	assert.NotEqual(t, k1, k2)
}
