// Package pipeline runs the transaction classification pipelines: CDC
// events read from source `Peer`s are assembled into transactions,
// transformed, dispatched to the registered actions and the resulting
// records loaded into sink `Peer`s.
//
// Supported peer types include PostgreSQL (logical replication reader and
// row loader), Kafka, NATS JetStream, MQTT, HTTP webhooks, a ClickHouse
// result log and a debug logger.
//
// It defines a `Connector` interface that all `Peer` types must implement.
// Connectors that also implement `DeadLetterPublisher` can receive the
// transactions a pipeline could not classify or transform.
package pipeline
