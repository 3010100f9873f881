package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx, so the
// same repository code runs inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TxOptions struct {
	IsoLevel pgx.TxIsoLevel
	// LockTimeout bounds every lock wait inside the transaction. Zero keeps
	// the server default.
	LockTimeout time.Duration
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise, including on context cancellation.
func InTx(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{IsoLevel: opts.IsoLevel}, func(tx pgx.Tx) error {
		if opts.LockTimeout > 0 {
			ms := opts.LockTimeout.Milliseconds()
			if ms < 1 {
				ms = 1
			}
			if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)); err != nil {
				return fmt.Errorf("set lock_timeout: %w", err)
			}
		}
		return fn(tx)
	})
}
