// Package storedriver defines the abstract row-oriented storage driver
// the substrate (C3/C6) talks to, per spec §6. Production code wires a
// concrete adapter (see storedriver/postgres); tests wire storedriver/fake.
package storedriver

import "context"

// Driver opens connections against a connection string of the form
// scheme://[user[:password]@]host[:port]/database[?sslmode=...].
type Driver interface {
	Connect(ctx context.Context, connectionString string) (Conn, error)
}

// Conn is a single live connection to the store.
type Conn interface {
	Exec(ctx context.Context, sql string, params ...interface{}) (Result, error)
	Prepare(ctx context.Context, name, sql string) error
	ExecPrepared(ctx context.Context, name string, params ...interface{}) (Result, error)
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsAlive(ctx context.Context) bool
	Close() error
}

// Result is the outcome of an Exec/ExecPrepared call.
type Result interface {
	Rows() []Row
	RowsAffected() int64
	ErrorMessage() string
}

// Row is a single result row with typed, out-of-range-safe accessors.
type Row interface {
	GetString(nameOrIndex interface{}) string
	GetInt(nameOrIndex interface{}) int64
	GetBool(nameOrIndex interface{}) bool
	GetArray(nameOrIndex interface{}) []string
	// Map snapshots the row into a plain map, for callers that need to
	// outlive the row's underlying cursor (e.g. caching a result set).
	Map() map[string]interface{}
}
