package database

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// IntegrationEnv enables tests that start containers when set to "1".
const IntegrationEnv = "SYNC_ORCHESTRATOR_INTEGRATION"

type nopLogger struct{}

func (*nopLogger) Printf(_ string, _ ...any) {}

var _ tclog.Logger = (*nopLogger)(nil)

// NopLogger silences testcontainers output.
func NopLogger() tclog.Logger { return &nopLogger{} }

var (
	dbName = "testdb"
	dbUser = "testuser"
	dbPass = "testpass"
)

// RequireIntegration skips the test unless container tests are enabled.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() || os.Getenv(IntegrationEnv) != "1" {
		t.Skipf("set %s=1 to run container based tests", IntegrationEnv)
	}
}

// SetupTestDB starts a Postgres container, applies all migrations and
// returns a pool plus its connection string.
func SetupTestDB(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	RequireIntegration(t)

	ctx := context.Background()

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(NopLogger()),
	)
	tc.CleanupContainer(t, postgresContainer)
	require.NoError(t, err)

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, MigrateUp(connStr, 0))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, connStr
}
