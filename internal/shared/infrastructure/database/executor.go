package database

import "context"

// Row is what pgx.Row and *sql.Row have in common.
type Row interface {
	Scan(dest ...any) error
}

// Rows is what pgx.Rows and *sql.Rows have in common, with Close made to
// return an error for both.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

type Result interface {
	RowsAffected() (int64, error)
}

// Executor runs SQL written with ? placeholders already rebound for the
// connection's Driver.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a pooled handle on one SQL backend.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Ping(ctx context.Context) error
	Close() error
	Driver() Driver
}
