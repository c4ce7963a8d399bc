package migrations

import (
	"context"

	"ledger-payment-stats/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded PostgreSQL files. Each file is
// sent as one Exec, which the simple protocol runs as a multi-statement batch.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	migs, err := loadMigrations(PostgresFS, "postgres", false)
	if err != nil {
		return err
	}
	return apply(ctx, migs, func(ctx context.Context, stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}
