package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage/migrations"
)

// setupTestDB creates a PostgreSQL container for testing and applies migrations.
// Returns a cleanup function that must be called after tests complete.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")

	n, err := migrations.RunPostgresMigrations(ctx, pool.Pool)
	require.NoError(t, err, "failed to apply migrations")
	t.Logf("Applied %d migrations", n)

	cleanup := func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

// createActiveAsset inserts an active asset with the given supply.
func createActiveAsset(t *testing.T, ctx context.Context, pool *Pool, id string, supply int64) *domain.Asset {
	t.Helper()

	a := &domain.Asset{
		ID:          id,
		Owner:       "owner-" + id,
		Name:        "Farm " + id,
		AssetType:   "farmland",
		Location:    "Kenya",
		TotalSupply: supply,
		Status:      domain.AssetStatusActive,
	}
	require.NoError(t, NewAssetStore(pool).Create(ctx, a))
	return a
}
