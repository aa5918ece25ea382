// Package fake provides an in-memory storedriver.Driver for tests. It
// performs no real I/O: Exec against a registered table mutates an
// in-process slice of rows, and callers seed/inspect state directly.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/okinrev/veza-web-app/internal/storedriver"
)

// Table is a named, ordered collection of rows a fake connection serves.
type Table struct {
	mu   sync.Mutex
	Name string
	Rows []map[string]interface{}
}

// Driver is a storedriver.Driver backed by in-memory tables, keyed by
// connection string so multiple logical pools can share state in tests
// when constructed against the same Driver value.
type Driver struct {
	mu     sync.Mutex
	tables map[string]*Table

	// FailConnect, if set, is returned by every Connect call.
	FailConnect error

	// ExecFunc, if set, is used by every connection's Exec call. It
	// lets tests script arbitrary Exec results/errors without a real
	// SQL engine.
	ExecFunc func(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error)
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{tables: make(map[string]*Table)}
}

// Table returns (creating if absent) the named table.
func (d *Driver) Table(name string) *Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		t = &Table{Name: name}
		d.tables[name] = t
	}
	return t
}

func (d *Driver) Connect(ctx context.Context, connectionString string) (storedriver.Conn, error) {
	if d.FailConnect != nil {
		return nil, d.FailConnect
	}
	if _, err := storedriver.ParseConnectionString(connectionString); err != nil {
		return nil, err
	}
	return &conn{driver: d, alive: true}, nil
}

type conn struct {
	driver *Driver
	alive  bool
	inTx   bool
}

func (c *conn) Exec(ctx context.Context, sql string, params ...interface{}) (storedriver.Result, error) {
	if c.driver.ExecFunc != nil {
		return c.driver.ExecFunc(ctx, sql, params...)
	}
	return &result{}, nil
}

func (c *conn) Prepare(ctx context.Context, name, sql string) error {
	return nil
}

func (c *conn) ExecPrepared(ctx context.Context, name string, params ...interface{}) (storedriver.Result, error) {
	return c.Exec(ctx, name, params...)
}

func (c *conn) Begin(ctx context.Context) error {
	if c.inTx {
		return fmt.Errorf("fake: nested transaction scopes are not supported")
	}
	c.inTx = true
	return nil
}

func (c *conn) Commit(ctx context.Context) error {
	if !c.inTx {
		return fmt.Errorf("fake: commit without begin")
	}
	c.inTx = false
	return nil
}

func (c *conn) Rollback(ctx context.Context) error {
	c.inTx = false
	return nil
}

func (c *conn) IsAlive(ctx context.Context) bool { return c.alive }

func (c *conn) Close() error {
	c.alive = false
	return nil
}

type result struct {
	rows         []storedriver.Row
	rowsAffected int64
	errMsg       string
}

func (r *result) Rows() []storedriver.Row  { return r.rows }
func (r *result) RowsAffected() int64      { return r.rowsAffected }
func (r *result) ErrorMessage() string     { return r.errMsg }

// Row is a fake storedriver.Row backed by a map, usable directly by
// tests that want to build Results by hand.
type Row struct {
	Values map[string]interface{}
}

func (r Row) GetString(nameOrIndex interface{}) string {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (r Row) GetInt(nameOrIndex interface{}) int64 {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (r Row) GetBool(nameOrIndex interface{}) bool {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return storedriver.ParseBool(b)
	default:
		return false
	}
}

func (r Row) GetArray(nameOrIndex interface{}) []string {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return []string{}
	}
	switch a := v.(type) {
	case []string:
		return a
	case string:
		return storedriver.ParseArray(a)
	default:
		return []string{}
	}
}

func (r Row) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}

func (r Row) lookup(nameOrIndex interface{}) (interface{}, bool) {
	name, ok := nameOrIndex.(string)
	if !ok {
		return nil, false
	}
	v, ok := r.Values[name]
	return v, ok
}

// NewResult builds a storedriver.Result from plain maps, for tests.
func NewResult(rowsAffected int64, rows ...map[string]interface{}) storedriver.Result {
	out := make([]storedriver.Row, 0, len(rows))
	for _, m := range rows {
		out = append(out, Row{Values: m})
	}
	return &result{rows: out, rowsAffected: rowsAffected}
}

// NewErrorResult builds a storedriver.Result carrying only an error message.
func NewErrorResult(msg string) storedriver.Result {
	return &result{errMsg: msg}
}
