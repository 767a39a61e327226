//go:build e2e

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// startPostgres starts a PostgreSQL testcontainer and returns a migrated Store.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("mind_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "pg connection string")

	s, err := New(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx, "../../migrations"))
	// Migrations must be re-runnable.
	require.NoError(t, s.Migrate(ctx, "../../migrations"))
	return s
}

func TestPostgresStoreContract(t *testing.T) {
	s := startPostgres(t)
	runPersistenceContract(t, func(t *testing.T) thought.Persistence {
		_, err := s.db.Exec(context.Background(),
			`TRUNCATE deferral_reports, thoughts, tasks`)
		require.NoError(t, err)
		return s
	})
}
