package clients

import (
	"context"
	"database/sql"

	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Executor is the store primitive the write path is built on.
type Executor interface {
	// Execute runs one statement in its own transaction. The returned error
	// is the driver's error, unwrapped, so its text can be classified.
	Execute(ctx context.Context, stmt dialect.Statement) error
	// QueryString returns the first column of the first row. A query that
	// yields no row returns an error matching sql.ErrNoRows.
	QueryString(ctx context.Context, stmt dialect.Statement) (string, error)
}

// Conner is the subset of *sql.DB and *sql.Conn the executor needs.
type Conner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLExecutor runs statements over a database/sql pool or connection.
type SQLExecutor struct {
	conn Conner
}

// NewSQLExecutor wraps conn.
func NewSQLExecutor(conn Conner) *SQLExecutor {
	return &SQLExecutor{conn: conn}
}

// Execute commits stmt on success and rolls it back on failure.
func (e *SQLExecutor) Execute(ctx context.Context, stmt dialect.Statement) error {
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (e *SQLExecutor) QueryString(ctx context.Context, stmt dialect.Statement) (string, error) {
	rows, err := e.conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", err
		}
		return "", sinkerrors.Wrap(sql.ErrNoRows, sinkerrors.ErrorTypeQuery, "query returned no rows").
			WithDetail("sql", stmt.SQL)
	}
	var out sql.NullString
	if err := rows.Scan(&out); err != nil {
		return "", err
	}
	return out.String, rows.Close()
}
