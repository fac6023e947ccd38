// Package transform provides pre-match transformations applied to assembled
// transactions before they are dispatched to actions, e.g. dropping audit
// tables a source writes alongside domain tables or renaming legacy tables.
// It's inspired by Debezium's [Single Message Transformations (SMTs)](https://docs.confluent.io/platform/current/connect/transforms/overview.html) usage.
package transform
