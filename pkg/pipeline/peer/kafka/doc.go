// Package kafka connects pipelines to Kafka.
//
// As a source it joins a consumer group on topics carrying Debezium change
// events (JSON converter, with or without schemas). The assembler groups
// events by transaction id, so all tables of a transaction should be routed
// to one single-partition topic, e.g. with Debezium's ByLogicalTableRouter
// transformation; otherwise events of one transaction may be split.
//
// As a sink it publishes each result to `[prefix].[action]`, keyed by the
// transaction id, with the flat result JSON as value and the action and
// load kind as headers.
//
// Transactions a pipeline could not handle go to `[prefix].deadletter`,
// which is created on connect with the configured partitions, replicas and
// retention.
package kafka
