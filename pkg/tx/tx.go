// Package tx models committed source transactions as the unit the action
// engine classifies: an ordered list of row-level operations sharing one id.
package tx

import (
	"fmt"
	"strings"

	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
)

// Kind is the row-level operation kind of a change.
type Kind string

const (
	Insert Kind = "INSERT"
	Update Kind = "UPDATE"
	Delete Kind = "DELETE"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Insert, Update, Delete:
		return true
	}
	return false
}

// ParseKind accepts kind names in any case as well as Debezium op codes.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert", "create", "c", "r":
		return Insert, nil
	case "update", "u":
		return Update, nil
	case "delete", "d":
		return Delete, nil
	}
	return "", fmt.Errorf("invalid operation kind: %q", s)
}

// KindOf maps a Debezium op to a Kind. Snapshot reads count as inserts;
// truncates are not row-level and have no Kind.
func KindOf(op cdc.Operation) (Kind, error) {
	switch op {
	case cdc.OpCreate, cdc.OpRead:
		return Insert, nil
	case cdc.OpUpdate:
		return Update, nil
	case cdc.OpDelete:
		return Delete, nil
	}
	return "", fmt.Errorf("unsupported CDC operation: %q", op)
}

// Operation is a single row-level change within a transaction.
type Operation struct {
	Schema   string         `json:"schema,omitempty"`
	Table    string         `json:"table"`
	Kind     Kind           `json:"kind"`
	Before   map[string]any `json:"before,omitempty"`
	After    map[string]any `json:"after,omitempty"`
	SourceTS int64          `json:"source_ts"`
}

// FromEvent converts a CDC event into an Operation.
func FromEvent(event cdc.Event) (Operation, error) {
	kind, err := KindOf(event.Payload.Op)
	if err != nil {
		return Operation{}, err
	}
	if event.Payload.Source.Table == "" {
		return Operation{}, fmt.Errorf("CDC event without table")
	}

	return Operation{
		Schema:   event.Payload.Source.Schema,
		Table:    event.Payload.Source.Table,
		Kind:     kind,
		Before:   event.Payload.Before,
		After:    event.Payload.After,
		SourceTS: event.Payload.Source.TsMs,
	}, nil
}

// Transaction is the set of operations committed together in the source database.
// Operations keep their stream order, which only matters for merge precedence
// and for the logical timestamp.
type Transaction struct {
	ID         string      `json:"id"`
	Operations []Operation `json:"operations"`
}

// New returns a transaction with the given operations.
func New(id string, ops ...Operation) Transaction {
	return Transaction{ID: id, Operations: ops}
}

// FromEvents builds a transaction out of the events of one source transaction.
func FromEvents(id string, events []cdc.Event) (Transaction, error) {
	t := Transaction{ID: id, Operations: make([]Operation, 0, len(events))}
	for i, event := range events {
		op, err := FromEvent(event)
		if err != nil {
			return Transaction{}, fmt.Errorf("transaction %s event %d: %w", id, i, err)
		}
		t.Operations = append(t.Operations, op)
	}
	return t, nil
}

// Timestamp returns the source timestamp of the first operation, the
// transaction's logical time.
func (t Transaction) Timestamp() (int64, bool) {
	if len(t.Operations) == 0 {
		return 0, false
	}
	return t.Operations[0].SourceTS, true
}

// Tables lists the table of every operation, in order, duplicates included.
func (t Transaction) Tables() []string {
	tables := make([]string, len(t.Operations))
	for i, op := range t.Operations {
		tables[i] = op.Table
	}
	return tables
}

func (t Transaction) String() string {
	parts := make([]string, len(t.Operations))
	for i, op := range t.Operations {
		parts[i] = fmt.Sprintf("%s:%s", op.Table, op.Kind)
	}
	return fmt.Sprintf("tx %s [%s]", t.ID, strings.Join(parts, " "))
}
