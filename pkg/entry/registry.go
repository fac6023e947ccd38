package entry

import (
	"fmt"
	"sync"
)

// Factory builds a Transformer from its raw configuration.
type Factory func(config map[string]any) (Transformer, error)

// Registry is a collection of named transformer factories.
type Registry struct {
	factories sync.Map // map[string]Factory
}

// NewRegistry creates a registry with the built-in transformers.
func NewRegistry() *Registry {
	r := &Registry{}
	r.RegisterBuiltins()
	return r
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, factory Factory) {
	r.factories.Store(name, factory)
}

// Get builds the transformer registered under name.
func (r *Registry) Get(name string, config map[string]any) (Transformer, error) {
	value, ok := r.factories.Load(name)
	if !ok {
		return nil, fmt.Errorf("entry transformer %s not found", name)
	}
	return value.(Factory)(config)
}

// RegisterBuiltins registers "user", "user-partial" and "mapping".
func (r *Registry) RegisterBuiltins() {
	r.Register("user", func(map[string]any) (Transformer, error) {
		return UserEntry{}, nil
	})
	r.Register("user-partial", func(map[string]any) (Transformer, error) {
		return UserEntry{Partial: true}, nil
	})
	r.Register("mapping", func(config map[string]any) (Transformer, error) {
		m, err := DecodeMapping(config)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}
