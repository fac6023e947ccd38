package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/edgeflare/txaction/pkg/tx"
)

// Result is the transformed record of one matched transaction, ready for a
// loader. Entities keep the transformer's order, primary entity first.
type Result struct {
	TxID     string
	Action   string
	Kind     tx.Kind
	Entities []entry.Entity
}

// Entity returns the record of the named entity.
func (r *Result) Entity(name string) (entry.Record, bool) {
	for _, e := range r.Entities {
		if e.Name == name {
			return e.Record, true
		}
	}
	return nil, false
}

// MarshalJSON renders the flat loader form: {"tx_id": ..., "<entity>": {...}, ...}.
func (r Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"tx_id":`)
	id, err := json.Marshal(r.TxID)
	if err != nil {
		return nil, err
	}
	buf.Write(id)

	for _, e := range r.Entities {
		if e.Name == "tx_id" {
			return nil, fmt.Errorf("entity name %q is reserved", e.Name)
		}
		name, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		rec, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("marshal entity %s: %w", e.Name, err)
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(rec)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}
