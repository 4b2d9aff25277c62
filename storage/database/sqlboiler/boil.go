// Package boiledrepos implements the repositories on top of the sqlboiler query runtime.
// Rows are bound to plain structs tagged with `boil`; there are no generated models.
package boiledrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/drivers"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/sqlboiler/v4/queries/qm"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/academia/core"
)

// Table names
const (
	userTable       = `"user"`
	classTable      = `"class"`
	messageTable    = `"message"`
	recipientTable  = `"message_recipient"`
	moderationTable = `"moderation_queue"`
	auditTable      = `"audit_log"`
)

const uniqueViolation = "23505"

var dialect = drivers.Dialect{
	LQ: '"',
	RQ: '"',

	UseIndexPlaceholders: true,
	UseDefaultKeyword:    true,
}

// executor holds the default executor of a repository.
type executor struct {
	exec core.DBExecutor
}

func (e executor) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if exec, ok := core.FirstExec(svcExec); ok {
		return exec
	}
	return e.exec
}

func newQuery(table string, mods ...qm.QueryMod) *queries.Query {
	q := &queries.Query{}
	queries.SetDialect(q, &dialect)
	queries.SetFrom(q, table)
	qm.Apply(q, mods...)
	return q
}

func exists(ctx context.Context, exec core.DBExecutor, table string, mods ...qm.QueryMod) (bool, error) {
	q := newQuery(table, mods...)
	queries.SetSelect(q, nil)
	queries.SetCount(q)
	queries.SetLimit(q, 1)

	var count int64
	if err := q.QueryRowContext(ctx, exec).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func insert(ctx context.Context, exec core.DBExecutor, table string, cols []string, vals ...interface{}) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(strmangle.IdentQuoteSlice(dialect.LQ, dialect.RQ, cols), ","),
		strmangle.Placeholders(dialect.UseIndexPlaceholders, len(cols), 1, 1),
	)
	_, err := queries.Raw(query, vals...).ExecContext(ctx, exec)
	return err
}

// update sets cols to vals on the row whose primary key column pkCol equals pk.
// It reports whether a row matched.
func update(ctx context.Context, exec core.DBExecutor, table, pkCol string, pk interface{}, cols []string, vals ...interface{}) (bool, error) {
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		table,
		strmangle.SetParamNames(`"`, `"`, 1, cols),
		strmangle.WhereClause(`"`, `"`, len(cols)+1, []string{pkCol}),
	)
	res, err := queries.Raw(query, append(vals, pk)...).ExecContext(ctx, exec)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// whereIn returns a `col IN (...)` mod; an empty set matches nothing.
func whereIn(col string, vals []string) qm.QueryMod {
	if len(vals) == 0 {
		return qm.Where("1 = 0")
	}
	args := make([]interface{}, 0, len(vals))
	for _, v := range vals {
		args = append(args, v)
	}
	return qm.WhereIn(col+" IN ?", args...)
}

// validUUIDs drops the ids that cannot match a UUID column.
func validUUIDs(ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	return valid
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == uniqueViolation
}

// trapNoRowsErr maps sql.ErrNoRows to notFound.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}
