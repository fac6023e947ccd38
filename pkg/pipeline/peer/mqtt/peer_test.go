package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/edgeflare/txaction/internal/testutil"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return qos }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 1 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

func TestConfigTopics(t *testing.T) {
	c := Config{TopicPrefix: "/edge/"}
	c.setDefaults()

	assert.Equal(t, "edge", c.TopicPrefix)
	assert.Equal(t, "edge/cdc/#", c.SourceTopic)
	assert.Equal(t, "edge/action/edit-user", c.actionTopic(action.ActionEditUser))
	assert.Equal(t, "edge/deadletter/users", c.deadLetterTopic("users"))
}

func TestPahoOptions(t *testing.T) {
	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{
		"servers": ["tcp://broker:1883"],
		"clientOptions": {"clientID": "txaction-test", "keepAlive": 30, "connectTimeout": "5s", "cleanSession": false}
	}`), &cfg))

	opts, err := pahoOptions(cfg.Servers, cfg.ClientOptions)
	require.NoError(t, err)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.Equal(t, "txaction-test", opts.ClientID)
	assert.Equal(t, int64(30), opts.KeepAlive)
	assert.Equal(t, 5*time.Second, opts.ConnectTimeout)
	assert.False(t, opts.CleanSession)
	assert.True(t, opts.Order)

	opts, err = pahoOptions(nil, ClientOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, opts.ClientID)
	assert.Len(t, opts.Servers, 1)
}

func TestPahoOptionsInvalid(t *testing.T) {
	var cfg Config
	assert.Error(t, json.Unmarshal([]byte(`{"clientOptions": {"connectTimeout": "soon"}}`), &cfg))

	_, err := pahoOptions(nil, ClientOptions{TLS: &TLSOptions{CACert: "not a certificate"}})
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	data, err := testutil.ReadFile("cdc.json")
	require.NoError(t, err)

	p := &PeerMQTT{}
	events := make(chan cdc.Event, 1)
	done := make(chan struct{})
	handle := p.handler(events, done)

	handle(nil, &message{topic: "txaction/cdc/public/users", payload: []byte("{oops")})
	handle(nil, &message{topic: "txaction/cdc/public/users", payload: nil})
	assert.Empty(t, events)

	handle(nil, &message{topic: "txaction/cdc/public/users", payload: data})
	require.Len(t, events, 1)
	assert.NotEmpty(t, (<-events).Payload.Op)

	// a full channel no longer blocks once the peer stops
	events <- cdc.Event{}
	close(done)
	handle(nil, &message{topic: "txaction/cdc/public/users", payload: data})
	assert.Len(t, events, 1)
}

func TestNotConnected(t *testing.T) {
	p := &PeerMQTT{}
	assert.ErrorIs(t, p.Pub(action.Result{}), errNotConnected)
	assert.ErrorIs(t, p.PubDeadLetter(pipeline.DeadLetter{}), errNotConnected)
	_, err := p.Sub()
	assert.ErrorIs(t, err, errNotConnected)
	assert.NoError(t, p.Disconnect())
	assert.Equal(t, pipeline.ConnectorTypePubSub, p.Type())
}
