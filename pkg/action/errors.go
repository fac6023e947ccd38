package action

import (
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/txaction/pkg/entry"
)

var (
	// ErrNoMatch means no registered action recognizes the transaction. It is
	// expected control flow, not a failure.
	ErrNoMatch = errors.New("no action matches transaction")

	ErrActionExists = errors.New("action already registered")
	ErrRulesOverlap = errors.New("rule set overlaps a registered action")
)

// ValidationError is returned when a required field is missing or malformed
// after merge/transform.
type ValidationError = entry.ValidationError

// AmbiguousMatchError means several actions matched one transaction. It is a
// configuration bug and is never resolved silently.
type AmbiguousMatchError struct {
	TxID    string
	Actions []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("transaction %s matches several actions: %s", e.TxID, strings.Join(e.Actions, ", "))
}

// TransformError wraps a failed transformation with the action and transaction
// it happened in. The cause (typically a *ValidationError) stays reachable
// through errors.As.
type TransformError struct {
	Action string
	TxID   string
	Err    error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("action %s: transaction %s: %v", e.Action, e.TxID, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
