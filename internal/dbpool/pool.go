// Package dbpool implements C3, the connection pool: a bounded set
// (MinConns..MaxConns) of storedriver.Conn values cycling through idle -> in_use ->
// idle|reaped, acquired and released under a condition variable rather
// than the teacher's thin wrapper around sqlx.DB/database/sql's
// built-in pool (ConnectionPoolConfig in
// infrastructure/database/connection_pool_service.go). The
// single-goroutine run-loop shape that eurozulu-pools uses to avoid
// data races is replaced here by the simpler mutex+cond idiom the spec
// calls for, since acquire/release is a resource checkout, not a
// streaming feed.
package dbpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/okinrev/veza-web-app/internal/apperr"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/storedriver"
)

// Config mirrors the teacher's ConnectionPoolConfig idiom, generalized
// to a driver-agnostic pool.
type Config struct {
	MinConns        int
	MaxConns        int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AcquireTimeout  time.Duration
	ConnectTimeout  time.Duration
	IdleReapInterval   time.Duration
	HealthCheckInterval time.Duration
}

// DefaultConfig returns production-shaped defaults, scaled down from
// the teacher's 100k-user defaults to fit a single social-graph pool.
func DefaultConfig() Config {
	return Config{
		MinConns:            2,
		MaxConns:            20,
		ConnMaxLifetime:     30 * time.Minute,
		ConnMaxIdleTime:     5 * time.Minute,
		AcquireTimeout:      5 * time.Second,
		ConnectTimeout:      10 * time.Second,
		IdleReapInterval:    30 * time.Second,
		HealthCheckInterval: 60 * time.Second,
	}
}

type connState int

const (
	stateIdle connState = iota
	stateInUse
	stateReaped
)

type pooledConn struct {
	conn      storedriver.Conn
	state     connState
	createdAt time.Time
	idleSince time.Time
}

// Pool is C3.
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg    Config
	driver storedriver.Driver
	dsn    string
	logger *zap.Logger
	mon    *perf.Monitor

	conns  []*pooledConn
	closed bool

	cancel context.CancelFunc
}

// Option configures a Pool at construction.
type Option func(*Pool)

func WithLogger(l *zap.Logger) Option { return func(p *Pool) { p.logger = l } }
func WithMonitor(m *perf.Monitor) Option { return func(p *Pool) { p.mon = m } }

// New creates a pool against driver/dsn, opens MinConns eagerly and
// starts the idle-reaper and health-monitor background loops.
func New(ctx context.Context, driver storedriver.Driver, dsn string, cfg Config, opts ...Option) (*Pool, error) {
	p := &Pool{
		cfg:    cfg,
		driver: driver,
		dsn:    dsn,
		logger: zap.NewNop(),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < cfg.MinConns; i++ {
		c, err := p.dial(runCtx)
		if err != nil {
			cancel()
			return nil, err
		}
		p.conns = append(p.conns, &pooledConn{conn: c, state: stateIdle, createdAt: time.Now(), idleSince: time.Now()})
	}

	go p.runIdleReaper(runCtx)
	go p.runHealthMonitor(runCtx)

	return p, nil
}

func (p *Pool) dial(ctx context.Context) (storedriver.Conn, error) {
	dialCtx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}
	c, err := p.driver.Connect(dialCtx, p.dsn)
	if err != nil {
		if p.mon != nil {
			p.mon.ConnectionError()
		}
		return nil, apperr.Wrap(apperr.KindConnectionTimeout, "dbpool: connect failed", err)
	}
	if p.mon != nil {
		p.mon.ConnectionCreated()
	}
	return c, nil
}

// Handle represents a checked-out connection. Release must be called
// exactly once.
type Handle struct {
	pool *Pool
	pc   *pooledConn
}

// Conn returns the underlying storedriver.Conn.
func (h Handle) Conn() storedriver.Conn { return h.pc.conn }

// Acquire blocks, subject to ctx and AcquireTimeout, until a connection
// is idle and available, growing the pool up to MaxConns on demand.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	start := time.Now()
	if p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	var result *pooledConn
	var resultErr error

	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		for {
			if p.closed {
				resultErr = apperr.New(apperr.KindInvariantViolation, "dbpool: pool is closed")
				close(done)
				return
			}
			if ctx.Err() != nil {
				resultErr = apperr.Wrap(apperr.KindConnectionTimeout, "dbpool: acquire timed out", ctx.Err())
				close(done)
				return
			}
			if pc := p.findIdleLocked(); pc != nil {
				pc.state = stateInUse
				result = pc
				close(done)
				return
			}
			if p.liveCountLocked() < p.cfg.MaxConns {
				p.mu.Unlock()
				c, err := p.dial(ctx)
				p.mu.Lock()
				if err != nil {
					resultErr = err
					close(done)
					return
				}
				pc := &pooledConn{conn: c, state: stateInUse, createdAt: time.Now()}
				p.conns = append(p.conns, pc)
				result = pc
				close(done)
				return
			}
			p.cond.Wait()
		}
	}()

	select {
	case <-done:
		if resultErr != nil {
			if p.mon != nil {
				p.mon.ConnectionTimeout()
			}
			return Handle{}, resultErr
		}
		if p.mon != nil {
			p.mon.ConnectionAcquired()
			p.mon.ConnectionWait(time.Since(start))
		}
		return Handle{pool: p, pc: result}, nil
	case <-ctx.Done():
		// Wake any waiter blocked in cond.Wait so it re-checks ctx and
		// the goroutine above doesn't leak; a connection it obtained in
		// the meantime goes back to the pool since the caller gave up.
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
		<-done
		if result != nil {
			p.Release(Handle{pool: p, pc: result})
		}
		if p.mon != nil {
			p.mon.ConnectionTimeout()
		}
		return Handle{}, apperr.Wrap(apperr.KindConnectionTimeout, "dbpool: acquire timed out", ctx.Err())
	}
}

// Release returns the connection to the idle set, or discards it if
// the pool has been marked closed or the connection died.
func (p *Pool) Release(h Handle) {
	if h.pc == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mon != nil {
		p.mon.ConnectionReleased()
	}

	if !h.pc.conn.IsAlive(context.Background()) || p.closed {
		h.pc.state = stateReaped
		p.removeLocked(h.pc)
		_ = h.pc.conn.Close()
		if p.mon != nil {
			p.mon.ConnectionDestroyed()
		}
		p.cond.Signal()
		return
	}

	h.pc.state = stateIdle
	h.pc.idleSince = time.Now()
	p.cond.Signal()
}

func (p *Pool) findIdleLocked() *pooledConn {
	for _, pc := range p.conns {
		if pc.state == stateIdle {
			return pc
		}
	}
	return nil
}

func (p *Pool) liveCountLocked() int {
	n := 0
	for _, pc := range p.conns {
		if pc.state != stateReaped {
			n++
		}
	}
	return n
}

func (p *Pool) removeLocked(target *pooledConn) {
	out := p.conns[:0]
	for _, pc := range p.conns {
		if pc != target {
			out = append(out, pc)
		}
	}
	p.conns = out
}

// Stats reports the current pool composition, per spec §6's
// observability requirements.
type Stats struct {
	Total int
	Idle  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s Stats
	for _, pc := range p.conns {
		if pc.state == stateReaped {
			continue
		}
		s.Total++
		if pc.state == stateIdle {
			s.Idle++
		} else {
			s.InUse++
		}
	}
	return s
}

// runIdleReaper closes idle connections that exceed ConnMaxIdleTime or
// ConnMaxLifetime, never dropping below MinConns.
func (p *Pool) runIdleReaper(ctx context.Context) {
	if p.cfg.IdleReapInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.IdleReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for _, pc := range p.conns {
		if p.liveCountLocked() <= p.cfg.MinConns {
			return
		}
		if pc.state != stateIdle {
			continue
		}
		tooOld := p.cfg.ConnMaxLifetime > 0 && now.Sub(pc.createdAt) > p.cfg.ConnMaxLifetime
		tooIdle := p.cfg.ConnMaxIdleTime > 0 && now.Sub(pc.idleSince) > p.cfg.ConnMaxIdleTime
		if tooOld || tooIdle {
			pc.state = stateReaped
			_ = pc.conn.Close()
			if p.mon != nil {
				p.mon.ConnectionDestroyed()
			}
		}
	}
	p.conns = compact(p.conns)
}

func compact(conns []*pooledConn) []*pooledConn {
	out := conns[:0]
	for _, pc := range conns {
		if pc.state != stateReaped {
			out = append(out, pc)
		}
	}
	return out
}

// runHealthMonitor periodically pings idle connections and replaces
// dead ones, restoring MinConns.
func (p *Pool) runHealthMonitor(ctx context.Context) {
	if p.cfg.HealthCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkHealth(ctx)
		}
	}
}

func (p *Pool) checkHealth(ctx context.Context) {
	p.mu.Lock()
	var dead []*pooledConn
	for _, pc := range p.conns {
		if pc.state == stateIdle && !pc.conn.IsAlive(ctx) {
			dead = append(dead, pc)
		}
	}
	for _, pc := range dead {
		pc.state = stateReaped
		_ = pc.conn.Close()
		if p.mon != nil {
			p.mon.ConnectionDestroyed()
		}
	}
	p.conns = compact(p.conns)
	missing := p.cfg.MinConns - p.liveCountLocked()
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		c, err := p.dial(ctx)
		if err != nil {
			p.logger.Warn("dbpool: health monitor failed to restore min connections", zap.Error(err))
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, &pooledConn{conn: c, state: stateIdle, createdAt: time.Now(), idleSince: time.Now()})
		p.cond.Signal()
		p.mu.Unlock()
	}
}

// WithConn acquires a connection, runs fn, and releases it
// unconditionally — the common non-transactional call shape.
func (p *Pool) WithConn(ctx context.Context, fn func(storedriver.Conn) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(h)
	return fn(h.Conn())
}

// Tx represents a single, non-nestable transaction scope checked out
// from the pool.
type Tx struct {
	pool *Pool
	h    Handle
	done bool
}

// Begin checks out a connection and starts a transaction on it.
func (p *Pool) Begin(ctx context.Context) (*Tx, error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.Conn().Begin(ctx); err != nil {
		p.Release(h)
		return nil, apperr.Wrap(apperr.KindStorageFailure, "dbpool: begin failed", err)
	}
	return &Tx{pool: p, h: h}, nil
}

// Conn returns the transaction's underlying connection.
func (t *Tx) Conn() storedriver.Conn { return t.h.Conn() }

// Commit commits the transaction and releases the connection.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return apperr.New(apperr.KindInvariantViolation, "dbpool: transaction already closed")
	}
	t.done = true
	defer t.pool.Release(t.h)
	if err := t.h.Conn().Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, "dbpool: commit failed", err)
	}
	return nil
}

// Rollback rolls back the transaction and releases the connection.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.pool.Release(t.h)
	if err := t.h.Conn().Rollback(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, "dbpool: rollback failed", err)
	}
	return nil
}

// Close stops background loops and closes every managed connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.cond.Broadcast()

	var firstErr error
	for _, pc := range conns {
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dbpool: close connection: %w", err)
		}
	}
	return firstErr
}
