// Package dbx holds the small database/sql abstractions shared by the
// repositories: the DBTX handle satisfied by both *sql.DB and *sql.Tx, a
// transaction runner and placeholder helpers for Postgres-style queries.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with it and commits when fn returns
// nil. Errors and panics roll the transaction back; panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    return m.Folders(tx).SetDeletedAt(ctx, ownerID, id, &now)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Placeholders returns n comma-separated Postgres placeholders starting at
// $start, e.g. Placeholders(3, 2) == "$3, $4".
func Placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

// Args flattens the leading fixed args and a slice of ids into one []any,
// matching a query built with Placeholders.
func Args[T any](fixed []any, ids []T) []any {
	out := make([]any, 0, len(fixed)+len(ids))
	out = append(out, fixed...)
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}
