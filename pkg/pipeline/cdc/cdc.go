// Package cdc defines the Debezium-compatible change event envelope that readers
// (logical replication, Kafka, NATS) hand to the transaction assembler.
package cdc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Operation represents the type of change that occurred
type Operation string

const (
	OpCreate   Operation = "c"
	OpUpdate   Operation = "u"
	OpDelete   Operation = "d"
	OpRead     Operation = "r"
	OpTruncate Operation = "t"
)

var ErrEmptyEvent = errors.New("empty CDC event")

// Source contains metadata about where a change originated
type Source struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  any    `json:"snapshot"`
	Db        string `json:"db"`
	Sequence  string `json:"sequence"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	Lsn       int64  `json:"lsn"`
	Xmin      *int64 `json:"xmin,omitempty"`
}

// Transaction contains metadata about the transaction this change belongs to.
// EventCount is only known to readers that buffer a whole transaction before
// emitting it; zero means unknown.
type Transaction struct {
	ID                  string `json:"id"`
	TotalOrder          int64  `json:"total_order"`
	DataCollectionOrder int64  `json:"data_collection_order"`
	EventCount          int64  `json:"event_count,omitempty"`
}

// Last reports whether the event carrying t is the final one of its transaction.
func (t *Transaction) Last() bool {
	return t != nil && t.EventCount > 0 && t.TotalOrder >= t.EventCount
}

// Payload represents the actual change data
type Payload struct {
	Before      map[string]any `json:"before"`
	After       map[string]any `json:"after"`
	Source      Source         `json:"source"`
	Op          Operation      `json:"op"`
	TsMs        int64          `json:"ts_ms"`
	Transaction *Transaction   `json:"transaction,omitempty"`
}

// TxID returns the transaction identifier of the payload, preferring the
// transaction block over the source's txId. Empty if neither is set.
func (p *Payload) TxID() string {
	if p.Transaction != nil && p.Transaction.ID != "" {
		return p.Transaction.ID
	}
	if p.Source.TxID != 0 {
		return strconv.FormatInt(p.Source.TxID, 10)
	}
	return ""
}

// Field represents a schema field definition
type Field struct {
	Field    string  `json:"field"`
	Type     string  `json:"type"`
	Optional bool    `json:"optional"`
	Name     string  `json:"name,omitempty"`
	Fields   []Field `json:"fields,omitempty"`
}

// Schema represents the schema definition for a change event
type Schema struct {
	Type     string  `json:"type"`
	Optional bool    `json:"optional"`
	Name     string  `json:"name"`
	Fields   []Field `json:"fields"`
}

// Event represents a complete change data capture event
type Event struct {
	Schema  Schema  `json:"schema"`
	Payload Payload `json:"payload"`
}

// Decode parses a Debezium message value. Both the enveloped form
// ({"schema": ..., "payload": ...}) and the bare payload emitted with
// schemas disabled are accepted.
func Decode(data []byte) (Event, error) {
	var event Event
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		// tombstones carry no value
		return event, ErrEmptyEvent
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return event, fmt.Errorf("decode CDC event: %w", err)
	}

	if _, enveloped := probe["payload"]; enveloped {
		if err := json.Unmarshal(data, &event); err != nil {
			return event, fmt.Errorf("decode CDC envelope: %w", err)
		}
	} else if err := json.Unmarshal(data, &event.Payload); err != nil {
		return event, fmt.Errorf("decode CDC payload: %w", err)
	}

	if event.Payload.Op == "" {
		return event, ErrEmptyEvent
	}
	return event, nil
}

// DecodeAll parses a JSON array of Debezium messages.
func DecodeAll(data []byte) ([]Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode CDC events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for i, r := range raw {
		event, err := Decode(r)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// SourceBuilder helps construct Source objects with reasonable defaults
type SourceBuilder struct {
	source Source
}

func NewSourceBuilder(connector, name string) *SourceBuilder {
	return &SourceBuilder{
		source: Source{
			Version:   "1.0",
			Connector: connector,
			Name:      name,
			Snapshot:  false,
			Sequence:  "[0,0]",
		},
	}
}

func (b *SourceBuilder) WithSchema(schema string) *SourceBuilder {
	b.source.Schema = schema
	return b
}

func (b *SourceBuilder) WithTable(table string) *SourceBuilder {
	b.source.Table = table
	return b
}

func (b *SourceBuilder) WithDatabase(db string) *SourceBuilder {
	b.source.Db = db
	return b
}

func (b *SourceBuilder) WithTimestamp(ts int64) *SourceBuilder {
	b.source.TsMs = ts
	return b
}

func (b *SourceBuilder) WithTransaction(txID int64, lsn int64) *SourceBuilder {
	b.source.TxID = txID
	b.source.Lsn = lsn
	return b
}

func (b *SourceBuilder) Build() Source {
	return b.source
}

// EventBuilder helps construct complete CDC events
type EventBuilder struct {
	event Event
}

func NewEventBuilder() *EventBuilder {
	return &EventBuilder{
		event: Event{
			Schema: Schema{
				Type:     "struct",
				Optional: false,
			},
		},
	}
}

func (b *EventBuilder) WithSource(source Source) *EventBuilder {
	b.event.Payload.Source = source
	return b
}

func (b *EventBuilder) WithOperation(op Operation) *EventBuilder {
	b.event.Payload.Op = op
	return b
}

func (b *EventBuilder) WithBefore(before map[string]any) *EventBuilder {
	b.event.Payload.Before = before
	return b
}

func (b *EventBuilder) WithAfter(after map[string]any) *EventBuilder {
	b.event.Payload.After = after
	return b
}

func (b *EventBuilder) WithTimestamp(ts int64) *EventBuilder {
	b.event.Payload.TsMs = ts
	return b
}

func (b *EventBuilder) WithTransaction(tx *Transaction) *EventBuilder {
	b.event.Payload.Transaction = tx
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}
