// Package sqlxrepos implements the domain repositories on top of sqlx, building queries with squirrel.
// The same queries run on postgres and sqlite3.
package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/peereval/backend/core"
)

// repo holds what every repository needs: the default executor and a statement builder using
// the driver's placeholder format.
type repo struct {
	exec core.DBExecutor
	sb   sq.StatementBuilderType
}

func newRepo(exec core.DBExecutor) repo {
	var format sq.PlaceholderFormat = sq.Question
	if exec.DriverName() == "postgres" {
		format = sq.Dollar
	}
	return repo{
		exec: exec,
		sb:   sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// getExec returns the executor given by the service (a transaction) if any, the default one otherwise.
func (r repo) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return r.exec
}

// get scans a single row into dest. sql.ErrNoRows is replaced by notFound.
func (r repo) get(ctx context.Context, exec core.DBExecutor, dest interface{}, q sq.Sqlizer, notFound error) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if err = sqlx.GetContext(ctx, exec, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound
		}
		return errors.Wrap(err, "executing query")
	}
	return nil
}

// list scans all rows into dest, a pointer to a slice.
func (r repo) list(ctx context.Context, exec core.DBExecutor, dest interface{}, q sq.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return errors.Wrap(sqlx.SelectContext(ctx, exec, dest, query, args...), "executing query")
}

// run executes a statement and returns the number of affected rows.
func (r repo) run(ctx context.Context, exec core.DBExecutor, q sq.Sqlizer) (int64, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building statement")
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "executing statement")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "reading affected rows")
}
