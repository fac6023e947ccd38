package mqtt

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

const qos = 1

// PeerMQTT implements the source and sink functionality for MQTT
type PeerMQTT struct {
	*Client
	Config Config
	logger *zap.Logger
	done   chan struct{}
	stop   sync.Once
}

type Config struct {
	Servers     []string `json:"servers"`
	TopicPrefix string   `json:"topicPrefix"`
	// SourceTopic is the filter the source subscribes to; defaults to [prefix]/cdc/#
	SourceTopic   string `json:"sourceTopic,omitempty"`
	ClientOptions `json:"clientOptions"`
}

func (c *Config) setDefaults() {
	c.TopicPrefix = strings.Trim(cmp.Or(c.TopicPrefix, "txaction"), "/")
	c.SourceTopic = cmp.Or(c.SourceTopic, c.TopicPrefix+"/cdc/#")
}

func (c *Config) actionTopic(name string) string {
	return fmt.Sprintf("%s/action/%s", c.TopicPrefix, name)
}

func (c *Config) deadLetterTopic(pipelineName string) string {
	return fmt.Sprintf("%s/deadletter/%s", c.TopicPrefix, pipelineName)
}

func (p *PeerMQTT) Connect(config json.RawMessage, _ ...any) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal MQTT config: %w", err)
	}
	cfg.setDefaults()

	mqttOpts, err := pahoOptions(cfg.Servers, cfg.ClientOptions)
	if err != nil {
		return err
	}

	p.Config = cfg
	p.logger = zap.L().Named(pipeline.ConnectorMQTT)
	p.Client = NewClient(mqttOpts, p.logger)
	p.done = make(chan struct{})
	p.stop = sync.Once{}

	if err := p.Client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Pub publishes the result to [prefix]/action/[action]
func (p *PeerMQTT) Pub(result action.Result, _ ...any) error {
	if p.Client == nil {
		return errNotConnected
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return p.Client.Publish(p.Config.actionTopic(result.Action), qos, false, data)
}

// PubDeadLetter publishes the letter to [prefix]/deadletter/[pipeline]
func (p *PeerMQTT) PubDeadLetter(letter pipeline.DeadLetter) error {
	if p.Client == nil {
		return errNotConnected
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return p.Client.Publish(p.Config.deadLetterTopic(letter.Pipeline), qos, false, data)
}

func (p *PeerMQTT) Sub(_ ...any) (<-chan cdc.Event, error) {
	if p.Client == nil {
		return nil, errNotConnected
	}

	events := make(chan cdc.Event)
	if err := p.Client.Subscribe(p.Config.SourceTopic, qos, p.handler(events, p.done)); err != nil {
		return nil, fmt.Errorf("mqtt subscribe failed: %w", err)
	}
	return events, nil
}

// handler decodes Debezium messages and blocks until the pipeline takes the
// event or the peer is disconnected.
func (p *PeerMQTT) handler(events chan<- cdc.Event, done <-chan struct{}) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		event, err := cdc.Decode(msg.Payload())
		if err != nil {
			if !errors.Is(err, cdc.ErrEmptyEvent) {
				p.log().Warn("invalid payload", zap.Error(err), zap.String("topic", msg.Topic()))
			}
			return
		}

		select {
		case events <- event:
		case <-done:
		}
	}
}

func (p *PeerMQTT) log() *zap.Logger {
	if p.logger == nil {
		return zap.NewNop()
	}
	return p.logger
}

func (p *PeerMQTT) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePubSub
}

func (p *PeerMQTT) Disconnect() error {
	if p.done != nil {
		p.stop.Do(func() { close(p.done) })
	}
	if p.Client != nil {
		p.Client.Disconnect()
	}
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorMQTT, &PeerMQTT{})
}
