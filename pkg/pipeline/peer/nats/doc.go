// Package nats connects pipelines to NATS JetStream.
//
// NATS subject (aka topic) patterns:
//   - Case-sensitive, dot-separated, no spaces
//   - Valid chars: alphanumeric, `-` or `_`
//   - Max length: 255 bytes
//
// All subjects live under a configurable prefix (default `txaction`) and are
// captured by one stream (default `[prefix]-stream`):
//
//   - [prefix].cdc.>                   Debezium change events read by the source
//   - [prefix].action.[action]         results, e.g. txaction.action.register_user
//   - [prefix].deadletter.[pipeline]   transactions a pipeline could not handle
//
// The source subjects can be overridden, e.g. to the subjects Debezium Server's
// NATS JetStream sink writes to. Results carry the transaction id and action
// in the Nats-Msg-Id header, so JetStream drops duplicates published within
// the stream's duplicate window.
//
// Payload: JSON
package nats
