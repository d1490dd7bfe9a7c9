package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

// postgresTable is the sql-migrate bookkeeping table.
const postgresTable = "ledger_migrations"

// RunPostgresMigrations applies all pending embedded migrations and
// returns how many were applied.
func RunPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: PostgresFS,
		Root:       "postgres",
	}

	ms := migrate.MigrationSet{TableName: postgresTable}
	n, err := ms.Exec(db, "postgres", source, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("apply postgres migrations: %w", err)
	}
	return n, nil
}
