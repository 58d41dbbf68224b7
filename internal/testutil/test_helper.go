// Package testutil bootstraps postgres-backed tests. Tests that need a
// real database read TEST_DB_URL and skip when it is absent.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// PostgresDSN returns the test database URL, skipping the test when no
// database is configured.
func PostgresDSN(t *testing.T) string {
	t.Helper()

	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))

	dsn := os.Getenv("TEST_DB_URL")
	if dsn == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}
	return dsn
}

// ResetPostgres drops the relay tables so each test starts from a clean
// schema; the store re-applies its migrations on construction.
func ResetPostgres(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `DROP TABLE IF EXISTS messages, goose_db_version`)
	require.NoError(t, err)
}
