// Package executor implements C6: the single entry point application
// code calls to run a query, wiring the performance monitor, query
// cache, connection pool and load balancer together per spec §4.6's
// algorithm. Grounded on the teacher's pattern of layering a cache
// check in front of a pooled connection (redis_cache/query_cache_service.go's
// GetOrSet alongside connection_pool_service.go's GetReadDB), generalized
// to the abstract storedriver rather than a concrete sqlx.DB.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okinrev/veza-web-app/internal/apperr"
	"github.com/okinrev/veza-web-app/internal/dbpool"
	"github.com/okinrev/veza-web-app/internal/loadbalancer"
	"github.com/okinrev/veza-web-app/internal/perf"
	"github.com/okinrev/veza-web-app/internal/querycache"
)

// Fingerprint derives a stable fingerprint for a SQL statement by
// collapsing whitespace runs to single spaces, matching how the original
// performance monitor fingerprints queries for aggregation.
func Fingerprint(sql string) string {
	fields := strings.Fields(sql)
	return strings.Join(fields, " ")
}

// Request describes one query execution.
type Request struct {
	SQL    string
	Kind   querycache.QueryKind
	Table  string
	Params []string
	Args   []interface{}
	TTL    time.Duration
	// UserID, when set, is used for load-balancer affinity selection
	// instead of table-based affinity.
	UserID string
}

// Executor is C6.
type Executor struct {
	pool    *dbpool.Pool
	cache   *querycache.Cache
	monitor *perf.Monitor
	lb      *loadbalancer.Balancer

	encode func(storedriverResult) ([]byte, error)
	decode func([]byte) (storedriverResult, error)
}

// storedriverResult is the row shape the encode/decode fields operate
// on. No Option sets those fields and Execute does not call them; it
// caches rows through encodeRows/decodeRows (codec.go), since
// storedriver.Result itself is a live cursor, not a cacheable value.
type storedriverResult = []map[string]interface{}

// Option configures an Executor.
type Option func(*Executor)

// WithLoadBalancer attaches a load balancer for backend affinity
// selection. Execute records a selection on it per query (by user or
// table) and fails if no backend is healthy, but the selected name is
// not used for routing: every query runs on the sole pool.
func WithLoadBalancer(lb *loadbalancer.Balancer) Option {
	return func(e *Executor) { e.lb = lb }
}

// New constructs an Executor over pool/cache/monitor.
func New(pool *dbpool.Pool, cache *querycache.Cache, monitor *perf.Monitor, opts ...Option) *Executor {
	e := &Executor{pool: pool, cache: cache, monitor: monitor}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Row is a decoded result row, independent of the storedriver.Row
// lifetime.
type Row map[string]interface{}

// Result is Execute's return value.
type Result struct {
	Rows         []Row
	RowsAffected int64
	FromCache    bool
}

// Execute runs req, consulting the cache first for read-like kinds,
// falling back to a pooled connection on miss, and populating the
// cache on success — the C6 algorithm from spec §4.6.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	fingerprint := Fingerprint(req.SQL)

	if req.Kind == querycache.KindSelect && e.cache != nil {
		if cached, ok := e.cache.Get(fingerprint, req.Params); ok {
			rows := decodeRows(cached)
			return Result{Rows: rows, FromCache: true}, nil
		}
	}

	if e.lb != nil {
		var err error
		if req.UserID != "" {
			_, err = e.lb.SelectForUser(req.UserID)
		} else {
			_, err = e.lb.SelectForTable(req.Table)
		}
		if err != nil {
			return Result{}, apperr.Wrap(apperr.KindStorageFailure, "executor: backend selection failed", err)
		}
	}

	var handle perf.Handle
	if e.monitor != nil {
		handle = e.monitor.Begin(fingerprint, string(req.Kind), req.Table)
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		if e.monitor != nil {
			e.monitor.End(handle, false, 0, 0, string(apperr.KindOf(err)))
		}
		return Result{}, err
	}
	defer e.pool.Release(conn)

	res, execErr := conn.Conn().Exec(ctx, req.SQL, req.Args...)
	if execErr != nil {
		if e.monitor != nil {
			e.monitor.End(handle, false, 0, 0, "exec_error")
		}
		return Result{}, apperr.Wrap(apperr.KindStorageFailure, "executor: query failed", execErr)
	}
	if msg := res.ErrorMessage(); msg != "" {
		if e.monitor != nil {
			e.monitor.End(handle, false, res.RowsAffected(), 0, "exec_error")
		}
		return Result{}, apperr.New(apperr.KindStorageFailure, fmt.Sprintf("executor: %s", msg))
	}

	rows := toRows(res.Rows())
	if e.monitor != nil {
		e.monitor.End(handle, true, res.RowsAffected(), int64(len(rows)), "")
	}

	if req.Kind == querycache.KindSelect && e.cache != nil {
		e.cache.Put(fingerprint, req.Kind, req.Table, req.Params, encodeRows(rows), req.TTL)
	} else if req.Kind.IsWrite() && e.cache != nil {
		e.cache.InvalidateByTable(req.Table)
	}

	return Result{Rows: rows, RowsAffected: res.RowsAffected()}, nil
}
