package pipeline

// Peer is a data source/destination with an associated connector (ie PostgreSQL, NATS, Kafka).
type Peer struct {
	Name          string `mapstructure:"name"`
	ConnectorName string `mapstructure:"connector"`
	// Config contains the connection config of underlying library
	// eg github.com/IBM/sarama.Config, github.com/nats-io/nats.go.Options etc
	Config map[string]any `mapstructure:"config"`
	// Extra arguments for Connect
	Args []any `mapstructure:"args"`
}

func (p *Peer) Connector() Connector {
	c, _ := LookupConnector(p.ConnectorName)
	return c
}
