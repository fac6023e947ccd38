package kafka

import (
	"cmp"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
)

const (
	defaultBroker      = "localhost:9092"
	defaultTopicPrefix = "txaction"
	defaultVersion     = "2.1.1"
	defaultGroupID     = "txaction"
	defaultRetentionMS = 7 * 24 * 60 * 60 * 1000 // 7 days
)

// Config represents Kafka-specific configuration
type Config struct {
	Brokers []string `json:"brokers"`
	// TopicPrefix prefixes the result topics (<prefix>.<action>) and the
	// dead letter topic (<prefix>.deadletter)
	TopicPrefix string `json:"topicPrefix"`
	Version     string `json:"version,omitempty"`
	SASL        *SASL  `json:"sasl,omitempty"`
	Partitions  int32  `json:"partitions,omitempty"`
	Replicas    int16  `json:"replicas,omitempty"`
	RetentionMS int64  `json:"retentionMs,omitempty"`
	TLS         TLS    `json:"tls"`
	// Topics carrying Debezium change events, consumed when the peer is a source
	Topics []string `json:"topics,omitempty"`
	// GroupID is the consumer group of the source
	GroupID string `json:"groupId,omitempty"`
	// InitialOffset is "oldest" or "newest" (default) for groups without committed offsets
	InitialOffset string `json:"initialOffset,omitempty"`
}

// SASL represents SASL authentication configuration
type SASL struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// Algorithm is plain, sha256 or sha512
	Algorithm string `json:"algorithm"`
	Enable    bool   `json:"enable"`
}

// TLS represents TLS configuration
type TLS struct {
	CertFile   string `json:"certFile"`
	KeyFile    string `json:"keyFile"`
	CAFile     string `json:"caFile"`
	Enable     bool   `json:"enable"`
	SkipVerify bool   `json:"skipVerify"`
}

func (c *Config) setDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{defaultBroker}
	}
	c.TopicPrefix = cmp.Or(c.TopicPrefix, defaultTopicPrefix)
	c.Version = cmp.Or(c.Version, defaultVersion)
	c.GroupID = cmp.Or(c.GroupID, defaultGroupID)
	c.Partitions = cmp.Or(c.Partitions, 1)
	c.Replicas = cmp.Or(c.Replicas, 1)
	c.RetentionMS = cmp.Or(c.RetentionMS, defaultRetentionMS)
}

// ToSaramaConfig converts the Config to a sarama.Config
func (c *Config) ToSaramaConfig() (*sarama.Config, error) {
	conf := sarama.NewConfig()

	// Set Kafka version
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("error parsing Kafka version: %w", err)
	}
	conf.Version = version

	// Configure SASL
	if c.SASL != nil && c.SASL.Enable {
		conf.Net.SASL.Enable = true
		conf.Net.SASL.User = c.SASL.Username
		conf.Net.SASL.Password = c.SASL.Password
		conf.Net.SASL.Handshake = true

		switch c.SASL.Algorithm {
		case "sha512":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA512} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		case "sha256":
			conf.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient { return &XDGSCRAMClient{HashGeneratorFcn: SHA256} }
			conf.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "", "plain":
			conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			return nil, fmt.Errorf("invalid SASL algorithm: %s", c.SASL.Algorithm)
		}
	}

	// Configure TLS
	if c.TLS.Enable {
		tlsConfig, err := createTLSConfiguration(c.TLS)
		if err != nil {
			return nil, err
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	// Results are keyed by transaction id; wait for all replicas
	conf.Producer.Retry.Max = 5
	conf.Producer.Retry.Backoff = time.Second
	conf.Producer.RequiredAcks = sarama.WaitForAll
	conf.Producer.Return.Successes = true
	conf.Producer.Return.Errors = true
	conf.Producer.Partitioner = sarama.NewHashPartitioner

	switch c.InitialOffset {
	case "", "newest":
		conf.Consumer.Offsets.Initial = sarama.OffsetNewest
	case "oldest":
		conf.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		return nil, fmt.Errorf("invalid initial offset: %s", c.InitialOffset)
	}
	conf.Consumer.Return.Errors = true

	conf.ClientID = "txaction"
	conf.Metadata.Full = true

	return conf, nil
}

func createTLSConfiguration(tlsCfg TLS) (*tls.Config, error) {
	t := &tls.Config{
		InsecureSkipVerify: tlsCfg.SkipVerify,
	}

	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}

	if tlsCfg.CAFile != "" {
		caCert, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("no certificates found in CA file")
		}
		t.RootCAs = caCertPool
	}

	return t, nil
}

// GetBrokers returns the list of Kafka brokers
func (c *Config) GetBrokers() []string {
	return c.Brokers
}
