package core

import (
	"context"
	"database/sql"
)

type (
	// DBExecutor is satisfied by both *sql.DB and *sql.Tx (and boil.ContextExecutor).
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	// Transactor runs fn within a single transaction.
	// Every write fn makes through exec is committed if fn returns nil and rolled back otherwise.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(exec DBExecutor) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// FirstExec returns the optional executor passed down by a service, if any.
func FirstExec(exec []DBExecutor) (DBExecutor, bool) {
	if len(exec) > 0 && exec[0] != nil {
		return exec[0], true
	}
	return nil, false
}
