// Package action classifies CDC transactions into named domain actions and
// transforms them into target-schema records.
//
// An Action declares a RuleSet (which table operations make up the event), the
// entry.Transformer that reshapes the merged payload, and the fields stamped
// with the transaction's logical time. A Registry holds the known actions and
// dispatches each transaction to the single action whose rules it satisfies.
// New domain actions only need a new Action value; the matcher and the
// dispatcher never change.
package action

import (
	"fmt"

	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/tx"
)

// Action is a named domain event recognized from a co-occurrence pattern of
// table operations within one transaction.
type Action struct {
	Name  string
	Rules RuleSet
	Entry entry.Transformer
	// Stamp lists payload fields set to the transaction's logical time
	// before the entry transformer runs.
	Stamp []string
}

// Validate checks the action can be registered.
func (a *Action) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("action name is required")
	}
	if a.Entry == nil {
		return fmt.Errorf("action %s: entry transformer is required", a.Name)
	}
	if err := a.Rules.Validate(); err != nil {
		return fmt.Errorf("action %s: %w", a.Name, err)
	}
	return nil
}

// Matches reports whether t is an occurrence of the action.
func (a *Action) Matches(t tx.Transaction) bool {
	return a.Rules.Matches(t)
}

// Transform turns a matched transaction into a Result. Transformer failures are
// returned as *TransformError wrapping the cause.
func (a *Action) Transform(t tx.Transaction) (*Result, error) {
	payload := Merge(t)

	if ts, ok := t.Timestamp(); ok {
		// already in the target time unit
		for _, field := range a.Stamp {
			payload[field] = ts
		}
	}

	entities, err := a.Entry.Transform(payload)
	if err != nil {
		return nil, &TransformError{Action: a.Name, TxID: t.ID, Err: err}
	}

	return &Result{
		TxID:     t.ID,
		Action:   a.Name,
		Kind:     a.Rules.Kind(),
		Entities: entities,
	}, nil
}

// Merge folds the row payloads of t into one record, in operation order. Later
// operations win on key collisions. Operations without an after image (deletes)
// contribute their before image.
func Merge(t tx.Transaction) entry.Record {
	payload := entry.Record{}
	for _, op := range t.Operations {
		row := op.After
		if row == nil {
			row = op.Before
		}
		for k, v := range row {
			payload[k] = v
		}
	}
	return payload
}
