package action

import (
	"fmt"
	"sync"

	"github.com/edgeflare/txaction/pkg/tx"
)

// Registry is the ordered table of known actions.
//
// Registration rejects rule sets that could claim the same transaction as an
// already registered action, so at most one action matches any transaction.
// Dispatch still scans every action and reports an AmbiguousMatchError rather
// than picking one. A Registry is safe for concurrent Dispatch once populated.
type Registry struct {
	mu      sync.RWMutex
	actions []*Action
	byName  map[string]*Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Action)}
}

// Register appends a to the registry.
func (r *Registry) Register(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrActionExists, a.Name)
	}
	// matching is exact, so two rule sets accept a common transaction iff they are equal
	for _, other := range r.actions {
		if other.Rules.Equal(a.Rules) {
			return fmt.Errorf("%w: %s and %s both declare %s", ErrRulesOverlap, other.Name, a.Name, a.Rules)
		}
	}

	stored := a
	r.actions = append(r.actions, &stored)
	r.byName[a.Name] = &stored
	return nil
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.byName[name]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("action %s not found", name)
}

// Actions returns the registered actions in registration order.
func (r *Registry) Actions() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Action, len(r.actions))
	copy(out, r.actions)
	return out
}

// Match returns the single action whose rules accept t. It returns ErrNoMatch
// when none does and *AmbiguousMatchError when several do.
func (r *Registry) Match(t tx.Transaction) (*Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Action
	for _, a := range r.actions {
		if a.Matches(t) {
			matched = append(matched, a)
		}
	}

	switch len(matched) {
	case 0:
		return nil, ErrNoMatch
	case 1:
		return matched[0], nil
	}

	names := make([]string, len(matched))
	for i, a := range matched {
		names[i] = a.Name
	}
	return nil, &AmbiguousMatchError{TxID: t.ID, Actions: names}
}

// Dispatch classifies t and transforms it with the matching action.
func (r *Registry) Dispatch(t tx.Transaction) (*Result, error) {
	a, err := r.Match(t)
	if err != nil {
		return nil, err
	}
	return a.Transform(t)
}
