// Package repository holds the database/sql plumbing shared by Postgres
// stores: typed row scanning, single-row writes, transactions, and driver
// error mapping.
package repository

import (
	"context"
	"database/sql"
	"errors"
)

// Conn is satisfied by both *sql.DB and *sql.Tx, so the same query code
// runs inside and outside a transaction.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Scanner is a *sql.Row or *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc reads one row into a T.
type ScanFunc[T any] func(Scanner) (T, error)

// WithTx runs fn in a transaction, committing when fn returns nil and
// rolling back otherwise. A failed rollback is joined to fn's error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			return errors.Join(err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// QueryOne scans the first row of query. No rows surfaces as sql.ErrNoRows.
func QueryOne[T any](ctx context.Context, c Conn, query string, args []any, scan ScanFunc[T]) (T, error) {
	return scan(c.QueryRowContext(ctx, query, args...))
}

// QueryMany scans every row of query. The result is empty, not nil, when
// nothing matches.
func QueryMany[T any](ctx context.Context, c Conn, query string, args []any, scan ScanFunc[T]) ([]T, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ExecExpectOne runs a write that must touch at least one row, returning
// sql.ErrNoRows when it touched none.
func ExecExpectOne(ctx context.Context, c Conn, query string, args ...any) error {
	result, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
