package nats

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const defaultSubjectPrefix = "txaction"

// PeerNATS implements the source and sink for NATS
type PeerNATS struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	Config Config
	logger *zap.Logger
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

var (
	errConnNotInitialized = errors.New("NATS connection not initialized")
)

// Config represents NATS configuration
type Config struct {
	Servers       []string `json:"servers"`
	Stream        string   `json:"stream"`
	SubjectPrefix string   `json:"subjectPrefix"`
	// Subjects carrying Debezium change events; defaults to [prefix].cdc.>
	Subjects []string `json:"subjects,omitempty"`
	// Durable consumer name of the source; defaults to [prefix]-consumer
	Consumer string `json:"consumer,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	TLS      struct {
		Enabled  bool   `json:"enabled"`
		CertFile string `json:"certFile,omitempty"`
		KeyFile  string `json:"keyFile,omitempty"`
		CAFile   string `json:"caFile,omitempty"`
	} `json:"tls,omitempty"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.SubjectPrefix = cmp.Or(c.SubjectPrefix, defaultSubjectPrefix)
	c.Stream = cmp.Or(c.Stream, fmt.Sprintf("%s-stream", c.SubjectPrefix))
	c.Consumer = cmp.Or(c.Consumer, fmt.Sprintf("%s-consumer", c.SubjectPrefix))
	if len(c.Subjects) == 0 {
		c.Subjects = []string{fmt.Sprintf("%s.cdc.>", c.SubjectPrefix)}
	}
}

// streamSubjects returns the subjects captured by the stream. Source subjects
// outside the prefix are added on their own since JetStream rejects
// overlapping subjects.
func (c *Config) streamSubjects() []string {
	prefix := c.SubjectPrefix + "."
	subjects := []string{prefix + ">"}
	for _, s := range c.Subjects {
		if !strings.HasPrefix(s, prefix) && !slices.Contains(subjects, s) {
			subjects = append(subjects, s)
		}
	}
	return subjects
}

func (c *Config) actionSubject(name string) string {
	return fmt.Sprintf("%s.action.%s", c.SubjectPrefix, name)
}

func (c *Config) deadLetterSubject(pipelineName string) string {
	return fmt.Sprintf("%s.deadletter.%s", c.SubjectPrefix, pipelineName)
}

// Connect establishes a connection to the NATS server
func (p *PeerNATS) Connect(config json.RawMessage, _ ...any) error {
	if err := json.Unmarshal(config, &p.Config); err != nil {
		return fmt.Errorf("unmarshal NATS config: %w", err)
	}
	p.Config.setDefaults()
	p.logger = zap.L().Named(pipeline.ConnectorNATS)

	opts := defaultOptions(p.Config)

	// Connect to first available server
	var err error
	for _, server := range p.Config.Servers {
		p.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if p.js, err = p.nc.JetStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := p.ensureStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}

	p.done = make(chan struct{})
	return nil
}

// Pub publishes a result to [prefix].action.[action]
func (p *PeerNATS) Pub(result action.Result, _ ...any) error {
	if p.js == nil {
		return errConnNotInitialized
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	msg := nats.NewMsg(p.Config.actionSubject(result.Action))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, result.TxID+"."+result.Action)
	msg.Header.Set("Txaction-Kind", string(result.Kind))

	if _, err := p.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PubDeadLetter publishes a dead letter to [prefix].deadletter.[pipeline]
func (p *PeerNATS) PubDeadLetter(letter pipeline.DeadLetter) error {
	if p.js == nil {
		return errConnNotInitialized
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	msg := nats.NewMsg(p.Config.deadLetterSubject(letter.Pipeline))
	msg.Data = data
	msg.Header.Set("Txaction-Reason", letter.Reason)

	if _, err := p.js.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return nil
}

// Sub subscribes to Debezium change events on the source subjects
func (p *PeerNATS) Sub(_ ...any) (<-chan cdc.Event, error) {
	if p.js == nil {
		return nil, errConnNotInitialized
	}

	consumerConfig := &nats.ConsumerConfig{
		Durable:   p.Config.Consumer,
		AckPolicy: nats.AckExplicitPolicy,
		AckWait:   time.Minute,
	}
	if len(p.Config.Subjects) == 1 {
		consumerConfig.FilterSubject = p.Config.Subjects[0]
	} else {
		consumerConfig.FilterSubjects = p.Config.Subjects
	}

	if _, err := p.js.AddConsumer(p.Config.Stream, consumerConfig); err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	sub, err := p.js.PullSubscribe("", p.Config.Consumer, nats.Bind(p.Config.Stream, p.Config.Consumer))
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	events := make(chan cdc.Event)
	p.wg.Add(1)
	go p.processMessages(sub, events, p.done)
	return events, nil
}

// processMessages hands events over one at a time so that a transaction's
// events reach the assembler in stream order.
func (p *PeerNATS) processMessages(sub *nats.Subscription, events chan<- cdc.Event, done <-chan struct{}) {
	defer p.wg.Done()
	defer close(events)
	defer sub.Unsubscribe()

	for {
		select {
		case <-done:
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			if !errors.Is(err, nats.ErrTimeout) {
				p.logger.Error("fetch messages", zap.Error(err))
			}
			continue
		}

		for _, msg := range msgs {
			event, err := cdc.Decode(msg.Data)
			if err != nil {
				if !errors.Is(err, cdc.ErrEmptyEvent) {
					p.logger.Warn("dropping undecodable message",
						zap.String("subject", msg.Subject),
						zap.Error(err))
				}
				_ = msg.Term()
				continue
			}

			select {
			case events <- event:
				_ = msg.Ack()
			case <-done:
				_ = msg.Nak()
				return
			}
		}
	}
}

// Type returns the connector type
func (p *PeerNATS) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePubSub
}

// Disconnect stops the source and closes the NATS connection
func (p *PeerNATS) Disconnect() error {
	if p.done != nil {
		p.stop.Do(func() { close(p.done) })
	}
	p.wg.Wait()
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// ensureStream creates or updates the stream
func (p *PeerNATS) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     p.Config.Stream,
		Subjects: p.Config.streamSubjects(),
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	stream, err := p.js.StreamInfo(p.Config.Stream)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = p.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			p.logger.Info("updated stream", zap.String("stream", p.Config.Stream))
		}
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := p.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	p.logger.Info("created stream", zap.String("stream", p.Config.Stream))
	return nil
}

// streamConfigEqual checks if two nats.StreamConfig are equivalent
func streamConfigEqual(a, b nats.StreamConfig) bool {
	if a.Name != b.Name || a.Storage != b.Storage || a.Replicas != b.Replicas {
		return false
	}
	return slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}

	return opts
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorNATS, &PeerNATS{})
}
