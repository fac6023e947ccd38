package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

const deadLetterSuffix = "deadletter"

// PeerKafka implements the source and sink for Kafka
type PeerKafka struct {
	producer sarama.SyncProducer
	group    sarama.ConsumerGroup
	config   *Config
	sarama   *sarama.Config
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func (p *PeerKafka) Connect(config json.RawMessage, _ ...any) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal Kafka config: %w", err)
	}
	cfg.setDefaults()

	saramaConfig, err := cfg.ToSaramaConfig()
	if err != nil {
		return err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	p.producer = producer
	p.config = &cfg
	p.sarama = saramaConfig
	p.logger = zap.L().Named(pipeline.ConnectorKafka)

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, saramaConfig)
	if err != nil {
		producer.Close()
		return fmt.Errorf("failed to create cluster admin: %w", err)
	}
	defer admin.Close()

	if err := p.ensureTopic(admin, p.topic(deadLetterSuffix)); err != nil {
		producer.Close()
		return fmt.Errorf("failed to ensure dead letter topic: %w", err)
	}

	return nil
}

// Pub publishes the result to <prefix>.<action>, keyed by the transaction id.
func (p *PeerKafka) Pub(result action.Result, _ ...any) error {
	if p.producer == nil {
		return errors.New("kafka producer not initialized")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic(result.Action),
		Key:   sarama.StringEncoder(result.TxID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("action"), Value: []byte(result.Action)},
			{Key: []byte("kind"), Value: []byte(result.Kind)},
		},
	}
	return p.send(msg)
}

// PubDeadLetter publishes the letter to <prefix>.deadletter.
func (p *PeerKafka) PubDeadLetter(letter pipeline.DeadLetter) error {
	if p.producer == nil {
		return errors.New("kafka producer not initialized")
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic(deadLetterSuffix),
		Key:   sarama.StringEncoder(letter.Transaction.ID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("pipeline"), Value: []byte(letter.Pipeline)},
			{Key: []byte("reason"), Value: []byte(letter.Reason)},
		},
	}
	return p.send(msg)
}

func (p *PeerKafka) send(msg *sarama.ProducerMessage) error {
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.log().Debug("published message",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Sub joins the consumer group on the configured topics and streams the
// decoded Debezium events. The channel is closed on Disconnect.
func (p *PeerKafka) Sub(_ ...any) (<-chan cdc.Event, error) {
	if p.config == nil {
		return nil, errors.New("kafka peer not connected")
	}
	if len(p.config.Topics) == 0 {
		return nil, fmt.Errorf("%w: no source topics configured", pipeline.ErrConnectorTypeMismatch)
	}

	group, err := sarama.NewConsumerGroup(p.config.Brokers, p.config.GroupID, p.sarama)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	p.group = group

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	events := make(chan cdc.Event)
	handler := &consumer{events: events, logger: p.log()}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for err := range group.Errors() {
			p.log().Error("consumer group error", zap.Error(err))
		}
	}()
	go func() {
		defer p.wg.Done()
		defer close(events)
		for {
			// Consume returns on every rebalance
			if err := group.Consume(ctx, p.config.Topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				p.log().Error("consume", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return events, nil
}

func (p *PeerKafka) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePubSub
}

func (p *PeerKafka) Disconnect() error {
	var errs []error
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		errs = append(errs, p.group.Close())
	}
	p.wg.Wait()
	if p.producer != nil {
		errs = append(errs, p.producer.Close())
	}
	return errors.Join(errs...)
}

func (p *PeerKafka) topic(suffix string) string {
	return fmt.Sprintf("%s.%s", p.config.TopicPrefix, suffix)
}

func (p *PeerKafka) log() *zap.Logger {
	if p.logger == nil {
		return zap.NewNop()
	}
	return p.logger
}

func (p *PeerKafka) ensureTopic(admin sarama.ClusterAdmin, topic string) error {
	topics, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	if _, exists := topics[topic]; exists {
		return nil
	}

	topicDetail := &sarama.TopicDetail{
		NumPartitions:     p.config.Partitions,
		ReplicationFactor: p.config.Replicas,
		ConfigEntries: map[string]*string{
			"retention.ms": stringPtr(fmt.Sprintf("%d", p.config.RetentionMS)),
		},
	}
	if err := admin.CreateTopic(topic, topicDetail, false); err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}

	p.log().Info("created topic", zap.String("topic", topic))
	return nil
}

func stringPtr(s string) *string {
	return &s
}

// consumer implements sarama.ConsumerGroupHandler. Messages are marked only
// after the decoded event has been handed to the pipeline.
type consumer struct {
	events chan<- cdc.Event
	logger *zap.Logger
}

func (c *consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			event, err := cdc.Decode(msg.Value)
			if err != nil {
				// tombstones follow deletes under log compaction
				if !errors.Is(err, cdc.ErrEmptyEvent) {
					c.logger.Warn("skipping undecodable message",
						zap.String("topic", msg.Topic),
						zap.Int64("offset", msg.Offset),
						zap.Error(err))
				}
				sess.MarkMessage(msg, "")
				continue
			}
			select {
			case c.events <- event:
				sess.MarkMessage(msg, "")
			case <-sess.Context().Done():
				return nil
			}
		case <-sess.Context().Done():
			return nil
		}
	}
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorKafka, &PeerKafka{})
}
