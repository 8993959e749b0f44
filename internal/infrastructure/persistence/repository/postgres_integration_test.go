//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/garyjia/school-liquidation/internal/infrastructure/persistence/sqldb"
	"github.com/garyjia/school-liquidation/internal/testutil"
	"github.com/garyjia/school-liquidation/pkg/database"
)

var schemaSeq atomic.Int64

// TestRepositories_Postgres runs the repository suite against Postgres 16.
// TEST_PG_DSN reuses an existing server instead of starting a container.
func TestRepositories_Postgres(t *testing.T) {
	ctx := context.Background()

	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		ctr, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("liquidation"),
			postgres.WithUsername("liquidation"),
			postgres.WithPassword("secret"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

		dsn, err = ctr.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	runSuite(t, func(t *testing.T) *testutil.Store {
		return postgresStore(t, dsn)
	})
}

// postgresStore gives every subtest its own schema so fixtures do not collide
func postgresStore(t *testing.T, baseDSN string) *testutil.Store {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	schema := fmt.Sprintf("t%d", schemaSeq.Add(1))
	admin, err := database.New(ctx, database.Config{Driver: database.DriverPostgres, DSN: baseDSN}, logger)
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	db, err := database.New(ctx, database.Config{
		Driver:       database.DriverPostgres,
		DSN:          baseDSN + "&search_path=" + schema,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrations(ctx))

	s := testutil.FromDB(sqldb.NewDB(db.DB, sqldb.Postgres, logger), logger)
	s.Seed(t)
	return s
}
