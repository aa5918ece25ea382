package dbpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okinrev/veza-web-app/internal/apperr"
	"github.com/okinrev/veza-web-app/internal/storedriver"
	"github.com/okinrev/veza-web-app/internal/storedriver/fake"
)

func testCfg() Config {
	cfg := DefaultConfig()
	cfg.MinConns = 1
	cfg.MaxConns = 2
	cfg.AcquireTimeout = 200 * time.Millisecond
	cfg.IdleReapInterval = 0
	cfg.HealthCheckInterval = 0
	return cfg
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stats().InUse)

	p.Release(h)
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestAcquireGrowsUpToMax(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, p.Stats().Total)

	p.Release(h1)
	p.Release(h2)
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConnectionTimeout))

	p.Release(h1)
	p.Release(h2)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	h2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(h1)
		close(released)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h3, err := p.Acquire(ctx)
	require.NoError(t, err)
	<-released
	p.Release(h2)
	p.Release(h3)
}

func TestAcquireRejectsOnClosedPool(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)

	require.NoError(t, p.Close())

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
}

func TestTxCommitReleasesConn(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	tx, err := p.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	assert.Equal(t, 0, p.Stats().InUse)

	err = tx.Commit(context.Background())
	require.Error(t, err)
}

func TestWithConn(t *testing.T) {
	driver := fake.New()
	p, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.NoError(t, err)
	defer p.Close()

	called := false
	err = p.WithConn(context.Background(), func(c storedriver.Conn) error {
		called = true
		assert.True(t, c.IsAlive(context.Background()))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestNewFailsWhenConnectFails(t *testing.T) {
	driver := fake.New()
	driver.FailConnect = assertError{"boom"}
	_, err := New(context.Background(), driver, "fake://host/db", testCfg())
	require.Error(t, err)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
