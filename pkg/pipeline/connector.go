package pipeline

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"github.com/edgeflare/txaction/pkg/tx"
)

type ConnectorType int

const (
	ConnectorTypeUnknown ConnectorType = iota
	ConnectorTypePub                   // Sink / loader-only
	ConnectorTypeSub                   // Source / reader-only
	ConnectorTypePubSub                // Source and sink
)

var (
	ErrConnectorTypeMismatch = errors.New("connector type mismatch")
	ErrDeadLetterUnsupported = errors.New("connector does not accept dead letters")
)

// A Connector represents a data pipeline component.
type Connector interface {
	// Connect initializes the connector with the provided configuration.
	// The config parameter is a raw JSON message containing connector-specific settings.
	// Additional arguments can be passed via the args parameter.
	Connect(config json.RawMessage, args ...any) error

	// Pub loads the transformed record of a classified transaction into the
	// connector's destination. It returns an error if the publish operation fails.
	Pub(result action.Result, args ...any) error

	// Sub provides a channel for consuming CDC events.
	Sub(args ...any) (<-chan cdc.Event, error)

	// Type returns the type of the connector (SUB, PUB, or PUBSUB)
	Type() ConnectorType

	Disconnect() error
}

// DeadLetter is a transaction the pipeline could not turn into a result.
type DeadLetter struct {
	Pipeline    string         `json:"pipeline"`
	Reason      string         `json:"reason"`
	Error       string         `json:"error,omitempty"`
	Transaction tx.Transaction `json:"transaction"`
}

// DeadLetterPublisher is implemented by connectors that can park
// transactions for later inspection.
type DeadLetterPublisher interface {
	PubDeadLetter(letter DeadLetter) error
}

// Predefined connectors
const (
	ConnectorClickHouse = "clickhouse"
	ConnectorDebug      = "debug"
	ConnectorHTTP       = "http"
	ConnectorKafka      = "kafka"
	ConnectorMQTT       = "mqtt"
	ConnectorNATS       = "nats"
	ConnectorPostgres   = "postgres"
)

var (
	connectors   = make(map[string]Connector)
	connectorsMu sync.RWMutex
)

// RegisterConnector adds a new connector to the registry.
// The name parameter is used as a key to identify the connector type.
func RegisterConnector(name string, c Connector) {
	connectorsMu.Lock()
	defer connectorsMu.Unlock()
	connectors[name] = c
}

// LookupConnector returns the connector registered under name.
func LookupConnector(name string) (Connector, bool) {
	connectorsMu.RLock()
	defer connectorsMu.RUnlock()
	c, ok := connectors[name]
	return c, ok
}
