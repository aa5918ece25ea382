// Package postgres implements storedriver.Driver against a real
// PostgreSQL instance via sqlx and lib/pq, grounded on the teacher's
// internal/adapters/postgres/connection.go (DSN assembly, SetMaxOpenConns
// and friends) and user_repository_complete.go (row scanning into
// map[string]interface{} for column-agnostic access).
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/okinrev/veza-web-app/internal/storedriver"
)

// Driver dials PostgreSQL via database/sql + lib/pq, handing out
// sqlx-backed connections.
type Driver struct{}

// New returns a PostgreSQL storedriver.Driver.
func New() *Driver { return &Driver{} }

func (d *Driver) Connect(ctx context.Context, connectionString string) (storedriver.Conn, error) {
	parsed, err := storedriver.ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		parsed.Host, parsed.Port, parsed.User, parsed.Password, parsed.Database, parsed.SSLMode)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storedriver/postgres: connect: %w", err)
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storedriver/postgres: acquire conn: %w", err)
	}

	return &pgConn{db: db, conn: conn, prepared: make(map[string]*sqlx.Stmt)}, nil
}

// pgConn is a single storedriver.Conn backed by one sqlx.Conn checked
// out of its own single-connection *sqlx.DB, so C3's pool (not
// database/sql's) governs lifecycle and sizing.
type pgConn struct {
	db       *sqlx.DB
	conn     *sqlx.Conn
	tx       *sqlx.Tx
	prepared map[string]*sqlx.Stmt
}

func (c *pgConn) Exec(ctx context.Context, query string, params ...interface{}) (storedriver.Result, error) {
	var rows *sqlx.Rows
	var err error

	if c.tx != nil {
		rows, err = c.tx.QueryxContext(ctx, query, params...)
	} else {
		rows, err = c.conn.QueryxContext(ctx, query, params...)
	}
	if err != nil {
		return resultFromError(err), nil
	}
	defer rows.Close()

	return scanResult(rows)
}

func (c *pgConn) Prepare(ctx context.Context, name, sql string) error {
	stmt, err := c.conn.PreparexContext(ctx, sql)
	if err != nil {
		return fmt.Errorf("storedriver/postgres: prepare %s: %w", name, err)
	}
	c.prepared[name] = stmt
	return nil
}

func (c *pgConn) ExecPrepared(ctx context.Context, name string, params ...interface{}) (storedriver.Result, error) {
	stmt, ok := c.prepared[name]
	if !ok {
		return nil, fmt.Errorf("storedriver/postgres: no prepared statement %q", name)
	}
	rows, err := stmt.QueryxContext(ctx, params...)
	if err != nil {
		return resultFromError(err), nil
	}
	defer rows.Close()
	return scanResult(rows)
}

func (c *pgConn) Begin(ctx context.Context) error {
	if c.tx != nil {
		return fmt.Errorf("storedriver/postgres: nested transaction scopes are not supported")
	}
	tx, err := c.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storedriver/postgres: begin: %w", err)
	}
	c.tx = tx
	return nil
}

func (c *pgConn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return fmt.Errorf("storedriver/postgres: commit without begin")
	}
	err := c.tx.Commit()
	c.tx = nil
	return err
}

func (c *pgConn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Rollback()
	c.tx = nil
	return err
}

func (c *pgConn) IsAlive(ctx context.Context) bool {
	return c.conn.PingContext(ctx) == nil
}

func (c *pgConn) Close() error {
	for _, stmt := range c.prepared {
		stmt.Close()
	}
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

func scanResult(rows *sqlx.Rows) (storedriver.Result, error) {
	var out []storedriver.Row
	for rows.Next() {
		m := make(map[string]interface{})
		if err := rows.MapScan(m); err != nil {
			return resultFromError(err), nil
		}
		out = append(out, row{values: m})
	}
	if err := rows.Err(); err != nil {
		return resultFromError(err), nil
	}
	return &result{rows: out, rowsAffected: int64(len(out))}, nil
}

func resultFromError(err error) storedriver.Result {
	if err == sql.ErrNoRows {
		return &result{}
	}
	return &result{errMsg: err.Error()}
}

type result struct {
	rows         []storedriver.Row
	rowsAffected int64
	errMsg       string
}

func (r *result) Rows() []storedriver.Row { return r.rows }
func (r *result) RowsAffected() int64     { return r.rowsAffected }
func (r *result) ErrorMessage() string    { return r.errMsg }

// row adapts a scanned map[string]interface{} to storedriver.Row,
// tolerating both driver.Value types (int64, []byte, time.Time) and the
// occasional already-typed value from MapScan.
type row struct {
	values map[string]interface{}
}

func (r row) GetString(nameOrIndex interface{}) string {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (r row) GetInt(nameOrIndex interface{}) int64 {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case []byte:
		var n int64
		fmt.Sscanf(string(t), "%d", &n)
		return n
	default:
		return 0
	}
}

func (r row) GetBool(nameOrIndex interface{}) bool {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case []byte:
		return storedriver.ParseBool(string(t))
	case string:
		return storedriver.ParseBool(t)
	default:
		return false
	}
}

func (r row) GetArray(nameOrIndex interface{}) []string {
	v, ok := r.lookup(nameOrIndex)
	if !ok {
		return []string{}
	}
	switch t := v.(type) {
	case []string:
		return t
	case []byte:
		return storedriver.ParseArray(string(t))
	case string:
		return storedriver.ParseArray(t)
	default:
		return []string{}
	}
}

func (r row) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r row) lookup(nameOrIndex interface{}) (interface{}, bool) {
	name, ok := nameOrIndex.(string)
	if !ok {
		return nil, false
	}
	v, ok := r.values[name]
	return v, ok
}
