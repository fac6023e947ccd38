package pglogrepl

import (
	"context"
	"testing"
	"time"

	"github.com/edgeflare/txaction/internal/testutil/pgtest"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dropReplication = `
	DROP PUBLICATION IF EXISTS txaction_test_pub;
	SELECT pg_terminate_backend(active_pid) FROM pg_replication_slots
		WHERE slot_name = 'txaction_test_slot' AND active_pid IS NOT NULL;
	SELECT pg_drop_replication_slot(slot_name) FROM pg_replication_slots
		WHERE slot_name = 'txaction_test_slot';`

func next(t *testing.T, events <-chan cdc.Event) cdc.Event {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "stream closed")
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for CDC event")
	}
	return cdc.Event{}
}

func TestStream(t *testing.T) {
	pgtest.Require(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := pgtest.Connect(ctx, t)
	_, err := conn.Exec(ctx, dropReplication+`
		DROP TABLE IF EXISTS txaction_test_user, txaction_test_profile;
		CREATE TABLE txaction_test_user (id BIGINT PRIMARY KEY, email TEXT);
		CREATE TABLE txaction_test_profile (user_id BIGINT PRIMARY KEY, username TEXT);`)
	require.NoError(t, err)

	replConfig := pgtest.ParseConfig(t)
	replConfig.RuntimeParams["replication"] = "database"
	replConn, err := pgx.ConnectConfig(ctx, replConfig)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		pgtest.Close(t, replConn)
		cleanupCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_, err := conn.Exec(cleanupCtx, dropReplication+`
			DROP TABLE IF EXISTS txaction_test_user, txaction_test_profile;`)
		assert.NoError(t, err)
	})

	events, err := Stream(ctx, replConn.PgConn(), &Config{
		Publication:           "txaction_test_pub",
		Slot:                  "txaction_test_slot",
		Tables:                []string{"txaction_test_user", "public.txaction_test_profile"},
		ReplicaIdentity:       map[string]ReplicaIdentity{"txaction_test_user": ReplicaIdentityFull},
		StandbyUpdateInterval: time.Second,
	})
	require.NoError(t, err)

	t.Run("transaction", func(t *testing.T) {
		dbtx, err := conn.Begin(ctx)
		require.NoError(t, err)
		_, err = dbtx.Exec(ctx, "INSERT INTO txaction_test_profile VALUES (1, 'Legacy')")
		require.NoError(t, err)
		_, err = dbtx.Exec(ctx, "INSERT INTO txaction_test_user VALUES (1, 'legacy@zenodo.org')")
		require.NoError(t, err)
		require.NoError(t, dbtx.Commit(ctx))

		first, second := next(t, events).Payload, next(t, events).Payload
		assert.Equal(t, "txaction_test_profile", first.Source.Table)
		assert.Equal(t, "txaction_test_user", second.Source.Table)
		assert.Equal(t, cdc.OpCreate, second.Op)
		assert.Equal(t, "legacy@zenodo.org", second.After["email"])
		assert.Nil(t, second.Before)

		require.NotNil(t, first.Transaction)
		assert.Equal(t, first.TxID(), second.TxID())
		assert.False(t, first.Transaction.Last())
		assert.True(t, second.Transaction.Last())
	})

	t.Run("update with full identity", func(t *testing.T) {
		_, err := conn.Exec(ctx, "UPDATE txaction_test_user SET email = 'new@zenodo.org' WHERE id = 1")
		require.NoError(t, err)

		event := next(t, events).Payload
		assert.Equal(t, cdc.OpUpdate, event.Op)
		assert.Equal(t, "legacy@zenodo.org", event.Before["email"])
		assert.Equal(t, "new@zenodo.org", event.After["email"])
		assert.True(t, event.Transaction.Last())
	})

	t.Run("delete and truncate", func(t *testing.T) {
		_, err := conn.Exec(ctx, "DELETE FROM txaction_test_user WHERE id = 1")
		require.NoError(t, err)
		event := next(t, events).Payload
		assert.Equal(t, cdc.OpDelete, event.Op)
		assert.NotNil(t, event.Before)
		assert.Nil(t, event.After)

		_, err = conn.Exec(ctx, "TRUNCATE txaction_test_profile")
		require.NoError(t, err)
		event = next(t, events).Payload
		assert.Equal(t, cdc.OpTruncate, event.Op)
		assert.Equal(t, "txaction_test_profile", event.Source.Table)
	})
}
