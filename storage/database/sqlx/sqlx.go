// Package sqlxrepos holds the repositories written as plain SQL, built with squirrel and scanned with sqlx.
package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type executor struct {
	db *sqlx.DB
}

// ext returns the executor a query runs on: the transaction passed down by a service, if any.
func (e executor) ext(svcExec []core.DBExecutor) (sqlx.ExtContext, error) {
	exec, ok := core.FirstExec(svcExec)
	if !ok {
		return e.db, nil
	}
	if x, ok := exec.(sqlx.ExtContext); ok {
		return x, nil
	}
	return nil, errors.Errorf("sqlxrepos: unsupported executor %T", exec)
}

func (e executor) selectContext(ctx context.Context, svcExec []core.DBExecutor, dest interface{}, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	x, err := e.ext(svcExec)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, x, dest, query, args...)
}

func (e executor) getContext(ctx context.Context, svcExec []core.DBExecutor, dest interface{}, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	x, err := e.ext(svcExec)
	if err != nil {
		return err
	}
	return sqlx.GetContext(ctx, x, dest, query, args...)
}
