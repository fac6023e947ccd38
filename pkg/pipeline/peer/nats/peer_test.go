package nats

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/edgeflare/txaction/internal/testutil"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.setDefaults()

	assert.Equal(t, []string{nats.DefaultURL}, c.Servers)
	assert.Equal(t, "txaction-stream", c.Stream)
	assert.Equal(t, "txaction-consumer", c.Consumer)
	assert.Equal(t, []string{"txaction.cdc.>"}, c.Subjects)
	assert.Equal(t, []string{"txaction.>"}, c.streamSubjects())
	assert.Equal(t, "txaction.action.register-user", c.actionSubject(action.ActionRegisterUser))
	assert.Equal(t, "txaction.deadletter.users", c.deadLetterSubject("users"))
}

func TestStreamSubjects(t *testing.T) {
	c := Config{SubjectPrefix: "app", Subjects: []string{"dbz.public.>", "app.cdc.>", "dbz.public.>"}}
	c.setDefaults()
	assert.Equal(t, []string{"app.>", "dbz.public.>"}, c.streamSubjects())
}

func TestStreamConfigEqual(t *testing.T) {
	a := nats.StreamConfig{Name: "s", Subjects: []string{"a.>"}, Storage: nats.FileStorage, Replicas: 1}
	b := a
	assert.True(t, streamConfigEqual(a, b))

	b.Subjects = []string{"a.>", "b.>"}
	assert.False(t, streamConfigEqual(a, b))
}

func TestNotConnected(t *testing.T) {
	p := &PeerNATS{}
	assert.ErrorIs(t, p.Pub(action.Result{}), errConnNotInitialized)
	assert.ErrorIs(t, p.PubDeadLetter(pipeline.DeadLetter{}), errConnNotInitialized)
	_, err := p.Sub()
	assert.ErrorIs(t, err, errConnNotInitialized)
	assert.NoError(t, p.Disconnect())
}

func TestPeerNATS(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if testing.Short() || url == "" {
		t.Skip("Skipping NATS integration test")
	}

	prefix := fmt.Sprintf("txaction_test_%d", time.Now().UnixNano())
	config, err := json.Marshal(map[string]any{"servers": []string{url}, "subjectPrefix": prefix})
	require.NoError(t, err)

	p := &PeerNATS{}
	require.NoError(t, p.Connect(config))
	t.Cleanup(func() {
		_ = p.js.DeleteStream(p.Config.Stream)
		assert.NoError(t, p.Disconnect())
	})

	results, err := p.nc.SubscribeSync(p.Config.actionSubject(">"))
	require.NoError(t, err)

	result := action.Result{
		TxID:     "7",
		Action:   action.ActionRegisterUser,
		Kind:     tx.Insert,
		Entities: []entry.Entity{{Name: entry.EntityUser, Record: entry.Record{"id": 1}}},
	}
	require.NoError(t, p.Pub(result))

	msg, err := results.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, p.Config.actionSubject(action.ActionRegisterUser), msg.Subject)
	assert.Equal(t, "7."+action.ActionRegisterUser, msg.Header.Get(nats.MsgIdHdr))
	assert.JSONEq(t, `{"tx_id":"7","user":{"id":1}}`, string(msg.Data))

	events, err := p.Sub()
	require.NoError(t, err)

	data, err := testutil.ReadFile("cdc.json")
	require.NoError(t, err)
	_, err = p.js.Publish(prefix+".cdc.public.users", data)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.NotEmpty(t, event.Payload.Op)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}
