package pg

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/edgeflare/txaction/internal/testutil/pgtest"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnlyKey(t *testing.T) {
	assert.True(t, onlyKey(map[string]any{"id": 1}, []string{"id"}))
	assert.False(t, onlyKey(map[string]any{"id": 1, "email": "x"}, []string{"id"}))
}

func TestPubNotConnected(t *testing.T) {
	p := &PeerPG{}
	assert.ErrorIs(t, p.Pub(action.Result{}), errNotConnected)
	_, err := p.Sub()
	assert.ErrorIs(t, err, errNotConnected)
}

func TestPeerPGLoadsResults(t *testing.T) {
	pgtest.Require(t)
	ctx := context.Background()
	conn := pgtest.Connect(ctx, t)

	_, err := conn.Exec(ctx, `
		DROP TABLE IF EXISTS txaction_login_information, txaction_user;
		CREATE TABLE txaction_user (
			id BIGINT PRIMARY KEY,
			email TEXT NOT NULL,
			active BOOLEAN,
			profile JSONB,
			updated BIGINT
		);
		CREATE TABLE txaction_login_information (
			user_id BIGINT PRIMARY KEY,
			login_count INT
		);
	`)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), "DROP TABLE IF EXISTS txaction_login_information, txaction_user")
	})

	config, err := json.Marshal(Config{
		ConnString: os.Getenv("TEST_DATABASE"),
		Entities: map[string]Target{
			"user":              {Table: "txaction_user"},
			"login_information": {Table: "txaction_login_information", Key: []string{"user_id"}},
		},
		Upsert: true,
	})
	require.NoError(t, err)

	p := &PeerPG{}
	require.NoError(t, p.Connect(config))
	t.Cleanup(func() { _ = p.Disconnect() })
	assert.Equal(t, pipeline.ConnectorTypePubSub, p.Type())

	register := action.Result{
		TxID:   "1",
		Action: action.ActionRegisterUser,
		Kind:   tx.Insert,
		Entities: []entry.Entity{
			{Name: "user", Record: entry.Record{"id": 1, "email": "a@b.c", "active": true, "profile": map[string]any{"full_name": "A"}}},
			{Name: "login_information", Record: entry.Record{"user_id": 1, "login_count": 0}},
		},
	}
	require.NoError(t, p.Pub(register))
	require.NoError(t, p.Pub(register), "upsert makes replays idempotent")

	edit := action.Result{
		TxID:     "2",
		Action:   action.ActionEditUser,
		Kind:     tx.Update,
		Entities: []entry.Entity{{Name: "user", Record: entry.Record{"id": 1, "email": "new@b.c", "updated": 5}}},
	}
	require.NoError(t, p.Pub(edit))

	var email string
	var updated int64
	require.NoError(t, conn.QueryRow(ctx, "SELECT email, updated FROM txaction_user WHERE id = 1").Scan(&email, &updated))
	assert.Equal(t, "new@b.c", email)
	assert.Equal(t, int64(5), updated)

	missing := action.Result{
		TxID:     "3",
		Action:   action.ActionEditUser,
		Kind:     tx.Update,
		Entities: []entry.Entity{{Name: "user", Record: entry.Record{"id": 2, "email": "x@y.z"}}},
	}
	assert.Error(t, p.Pub(missing))
}
