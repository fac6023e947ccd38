// Package pgtest connects integration tests to the PostgreSQL server named by
// the TEST_DATABASE connection string.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

const envDatabase = "TEST_DATABASE"

// Require skips t in short mode or when no test database is configured.
func Require(t testing.TB) {
	t.Helper()
	if testing.Short() || os.Getenv(envDatabase) == "" {
		t.Skipf("skipping integration test in short mode or without %s", envDatabase)
	}
}

// ParseConfig returns the test connection config with server notices routed
// to the test log.
func ParseConfig(t testing.TB) *pgx.ConnConfig {
	config, err := pgx.ParseConfig(os.Getenv(envDatabase))
	require.NoError(t, err)

	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Connect opens a connection that is closed when the test ends.
func Connect(ctx context.Context, t testing.TB) *pgx.Conn {
	conn, err := pgx.ConnectConfig(ctx, ParseConfig(t))
	require.NoError(t, err)

	t.Cleanup(func() {
		Close(t, conn)
	})
	return conn
}

// Close closes conn within a short timeout.
func Close(t testing.TB, conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
}
