package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// migrationLockKey is the advisory lock id serializing concurrent Migrate
// calls from several instances starting at once.
const migrationLockKey int64 = 0x636c696e6963

// Migrate applies the embedded schema. Every statement is idempotent, so it
// is safe to run on every deploy.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return InTx(ctx, pool, TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		if _, err := tx.Exec(ctx, schemaSQL); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	})
}

// Schema returns the embedded DDL.
func Schema() string {
	return schemaSQL
}
