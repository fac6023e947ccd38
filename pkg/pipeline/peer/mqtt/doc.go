// Package mqtt connects pipelines to an MQTT broker.
//
// Topics live under a configurable prefix (default `txaction`):
//
//	[prefix]/cdc/#                      Debezium change events read by the source
//	[prefix]/action/[action]            results, e.g. txaction/action/register_user
//	[prefix]/deadletter/[pipeline]      transactions a pipeline could not handle
//
// Payload: JSON. Change events use the Debezium envelope, with or without
// schema. Results are the flat record {"tx_id": ..., "<entity>": {...}}.
//
// Example:
//
//	mosquitto_sub -t 'txaction/action/#'
//	mosquitto_pub -t txaction/cdc/public/users -f event.json
//
// Messages are published and subscribed with QoS 1. The source blocks the
// client's delivery loop until the pipeline takes an event, which keeps the
// events of a transaction in order.
package mqtt
