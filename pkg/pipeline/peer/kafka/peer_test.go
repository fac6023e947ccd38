package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/edgeflare/txaction/internal/testutil"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPeer(t *testing.T) (*PeerKafka, *mocks.SyncProducer) {
	cfg := &Config{}
	cfg.setDefaults()
	producer := mocks.NewSyncProducer(t, nil)
	t.Cleanup(func() { _ = producer.Close() })
	return &PeerKafka{producer: producer, config: cfg, logger: zap.NewNop()}, producer
}

func header(msg *sarama.ProducerMessage, key string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestPub(t *testing.T) {
	p, producer := newTestPeer(t)

	result := action.Result{
		TxID:   "42",
		Action: action.ActionRegisterUser,
		Kind:   tx.Insert,
		Entities: []entry.Entity{
			{Name: entry.EntityUser, Record: entry.Record{"id": 1}},
		},
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "txaction."+action.ActionRegisterUser {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "42" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if header(msg, "kind") != string(tx.Insert) {
			return fmt.Errorf("unexpected kind header %q", header(msg, "kind"))
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var record map[string]any
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		if record["tx_id"] != "42" {
			return fmt.Errorf("unexpected record %s", value)
		}
		return nil
	})

	require.NoError(t, p.Pub(result))
}

func TestPubError(t *testing.T) {
	p, producer := newTestPeer(t)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := p.Pub(action.Result{TxID: "1", Action: action.ActionEditUser, Kind: tx.Update})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestPubDeadLetter(t *testing.T) {
	p, producer := newTestPeer(t)

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "txaction.deadletter" {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		if header(msg, "reason") != "no_match" {
			return fmt.Errorf("unexpected reason header %q", header(msg, "reason"))
		}
		return nil
	})

	letter := pipeline.DeadLetter{Pipeline: "users", Reason: "no_match", Transaction: tx.New("9")}
	require.NoError(t, p.PubDeadLetter(letter))
}

func TestNotConnected(t *testing.T) {
	p := &PeerKafka{}
	assert.Error(t, p.Pub(action.Result{}))
	assert.Error(t, p.PubDeadLetter(pipeline.DeadLetter{}))
	_, err := p.Sub()
	assert.Error(t, err)
	assert.NoError(t, p.Disconnect())
}

func TestSubWithoutTopics(t *testing.T) {
	p, _ := newTestPeer(t)
	_, err := p.Sub()
	assert.ErrorIs(t, err, pipeline.ErrConnectorTypeMismatch)
}

func TestToSaramaConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		check   func(t *testing.T, c *sarama.Config)
	}{
		{
			name: "defaults",
			cfg:  Config{},
			check: func(t *testing.T, c *sarama.Config) {
				assert.Equal(t, sarama.OffsetNewest, c.Consumer.Offsets.Initial)
				assert.True(t, c.Producer.Return.Successes)
				assert.False(t, c.Net.SASL.Enable)
			},
		},
		{
			name: "scram sha512 from oldest",
			cfg: Config{
				InitialOffset: "oldest",
				SASL:          &SASL{Enable: true, Username: "u", Password: "p", Algorithm: "sha512"},
			},
			check: func(t *testing.T, c *sarama.Config) {
				assert.Equal(t, sarama.OffsetOldest, c.Consumer.Offsets.Initial)
				assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), c.Net.SASL.Mechanism)
				require.NotNil(t, c.Net.SASL.SCRAMClientGeneratorFunc)
				assert.IsType(t, &XDGSCRAMClient{}, c.Net.SASL.SCRAMClientGeneratorFunc())
			},
		},
		{
			name:    "bad version",
			cfg:     Config{Version: "not-a-version"},
			wantErr: true,
		},
		{
			name:    "bad algorithm",
			cfg:     Config{SASL: &SASL{Enable: true, Algorithm: "md5"}},
			wantErr: true,
		},
		{
			name:    "bad offset",
			cfg:     Config{InitialOffset: "latest"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.setDefaults()
			c, err := tt.cfg.ToSaramaConfig()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32                        { return nil }
func (s *fakeSession) MemberID() string                                  { return "member" }
func (s *fakeSession) GenerationID() int32                               { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)           {}
func (s *fakeSession) Commit()                                           {}
func (s *fakeSession) ResetOffset(string, int32, int64, string)          {}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) { s.marked = append(s.marked, msg.Offset) }
func (s *fakeSession) Context() context.Context                          { return s.ctx }

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "dbserver1.public.users" }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaim(t *testing.T) {
	data, err := testutil.ReadFile("cdc.json")
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 3)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: data}
	claim.messages <- &sarama.ConsumerMessage{Offset: 2, Value: nil}
	claim.messages <- &sarama.ConsumerMessage{Offset: 3, Value: []byte("{not json")}
	close(claim.messages)

	events := make(chan cdc.Event, 1)
	sess := &fakeSession{ctx: context.Background()}
	c := &consumer{events: events, logger: zap.NewNop()}

	require.NoError(t, c.ConsumeClaim(sess, claim))
	assert.Equal(t, []int64{1, 2, 3}, sess.marked)

	require.Len(t, events, 1)
	event := <-events
	assert.NotEmpty(t, event.Payload.Op)
}

func TestConsumeClaimStopsOnCancel(t *testing.T) {
	data, err := testutil.ReadFile("cdc.json")
	require.NoError(t, err)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: data}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sess := &fakeSession{ctx: ctx}
	// nobody reads events, so the message is never marked
	c := &consumer{events: make(chan cdc.Event), logger: zap.NewNop()}

	require.NoError(t, c.ConsumeClaim(sess, claim))
	assert.Empty(t, sess.marked)
}
