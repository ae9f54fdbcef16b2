package session

import (
	"context"
	"database/sql"
)

// Executor is the capability the engine consumes to run parameterized SQL.
// *sql.DB and *sql.Tx both satisfy it, as does any compatible wrapper.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// DB is an executor that can also open transactions. Each unit of work opens
// exactly one transaction for its lifetime and never shares it.
type DB interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// withTransaction runs fn inside one transaction, committing on success and
// rolling back on error or context cancellation. The rollback path is
// unconditional on failure so no partially executed plan is ever committed.
func withTransaction(ctx context.Context, db DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
