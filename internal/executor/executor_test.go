package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/querycache"
	"github.com/okinrev/veza-web-app/internal/storedriver"
	"github.com/okinrev/veza-web-app/internal/storedriver/fake"
)

func newTestExecutor(t *testing.T) (*Executor, *fake.Driver) {
	driver := fake.New()
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

	return New(pool, cache, mon), driver
}

func TestExecuteSelectCachesOnMiss(t *testing.T) {
	e, driver := newTestExecutor(t)
	calls := 0
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		calls++
		return fake.NewResult(0, map[string]interface{}{"id": int64(1)}), nil
	}

	req := Request{SQL: "SELECT * FROM users WHERE id = $1", Kind: querycache.KindSelect, Table: "users", Params: []string{"1"}, TTL: time.Minute}

	res1, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res1.FromCache)
	require.Len(t, res1.Rows, 1)

	res2, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res2.FromCache)
	assert.Equal(t, 1, calls, "second call should be served from cache")
}

func TestExecuteWriteInvalidatesTableCache(t *testing.T) {
	e, driver := newTestExecutor(t)
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		return fake.NewResult(0, map[string]interface{}{"id": int64(1)}), nil
	}

	selectReq := Request{SQL: "SELECT * FROM users", Kind: querycache.KindSelect, Table: "users", TTL: time.Minute}
	_, err := e.Execute(context.Background(), selectReq)
	require.NoError(t, err)

	updateReq := Request{SQL: "UPDATE users SET name = $1", Kind: querycache.KindUpdate, Table: "users"}
	_, err = e.Execute(context.Background(), updateReq)
	require.NoError(t, err)

	calls := 0
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		calls++
		return fake.NewResult(0, map[string]interface{}{"id": int64(2)}), nil
	}
	_, err = e.Execute(context.Background(), selectReq)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "cache should have been invalidated by the preceding write")
}

func TestExecutePropagatesExecErrorMessage(t *testing.T) {
	e, driver := newTestExecutor(t)
	driver.ExecFunc = func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
		return fake.NewErrorResult("constraint violation"), nil
	}

	_, err := e.Execute(context.Background(), Request{SQL: "INSERT INTO users VALUES (1)", Kind: querycache.KindInsert, Table: "users"})
	require.Error(t, err)
}

func TestFingerprintNormalizesWhitespace(t *testing.T) {
	a := Fingerprint("SELECT *   FROM  users\nWHERE id = $1")
	b := Fingerprint("SELECT * FROM users WHERE id = $1")
	assert.Equal(t, a, b)
}
