package transform

import (
	"fmt"
	"sync"

	"github.com/edgeflare/txaction/pkg/tx"
	"github.com/mitchellh/mapstructure"
)

// Func is the signature for all transformation functions. Returning a nil
// transaction and nil error drops the transaction.
type Func func(*tx.Transaction) (*tx.Transaction, error)

// Transformation represents a single transformation step (like Kafka SMT)
type Transformation struct {
	Config map[string]any `mapstructure:"config"`
	Type   string         `mapstructure:"type"`
}

// Config is the interface that all transformations must implement
type Config interface {
	// Validate validates the configuration
	Validate() error
	// Type returns the transformation type
	Type() string
}

// Registry is a collection of transformation factories
type Registry struct {
	transforms sync.Map // map[string]func(Config) Func
}

// Register adds a transformation to the registry
func (r *Registry) Register(name string, factory func(Config) Func) {
	r.transforms.Store(name, factory)
}

// Get returns a transformation from the registry
func (r *Registry) Get(name string) (func(Config) Func, error) {
	if value, ok := r.transforms.Load(name); ok {
		return value.(func(Config) Func), nil
	}
	return nil, fmt.Errorf("transformation %s not found", name)
}

// NewRegistry creates a new transformation registry
func NewRegistry() *Registry {
	return &Registry{}
}

type Manager struct {
	registry *Registry
}

// NewManager returns a manager with the built-in transformations registered.
func NewManager() *Manager {
	m := &Manager{registry: NewRegistry()}
	m.RegisterBuiltins()
	return m
}

func invalidConfig(name string) Func {
	return func(t *tx.Transaction) (*tx.Transaction, error) {
		return t, fmt.Errorf("invalid config type for %s transformation", name)
	}
}

// RegisterBuiltins registers all built-in transformations
func (m *Manager) RegisterBuiltins() {
	m.registry.Register("extract", func(config Config) Func {
		if c, ok := config.(*ExtractConfig); ok {
			return Extract(c)
		}
		return invalidConfig("extract")
	})

	m.registry.Register("filter", func(config Config) Func {
		if c, ok := config.(*FilterConfig); ok {
			return Filter(c)
		}
		return invalidConfig("filter")
	})

	m.registry.Register("replace", func(config Config) Func {
		if c, ok := config.(*ReplaceConfig); ok {
			return Replace(c)
		}
		return invalidConfig("replace")
	})
}

// Chain creates a transformation chain from a list of configs. An empty list
// yields the identity.
func (m *Manager) Chain(configs []Transformation) (Func, error) {
	var transforms []Func

	for _, cfg := range configs {
		factory, err := m.registry.Get(cfg.Type)
		if err != nil {
			return nil, fmt.Errorf("error getting transformation %s: %w", cfg.Type, err)
		}

		transformConfig, err := cfg.ToConfig()
		if err != nil {
			return nil, fmt.Errorf("error converting config for %s: %w", cfg.Type, err)
		}
		if err := transformConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s configuration: %w", cfg.Type, err)
		}

		transforms = append(transforms, factory(transformConfig))
	}

	return func(t *tx.Transaction) (*tx.Transaction, error) {
		current := t
		var err error
		for _, fn := range transforms {
			current, err = fn(current)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, nil // Stop processing if any transformation drops the transaction
			}
		}
		return current, nil
	}, nil
}

// ToConfig converts Transformation to the typed transform.Config
func (t *Transformation) ToConfig() (Config, error) {
	var cfg Config
	switch t.Type {
	case "extract":
		cfg = &ExtractConfig{}
	case "filter":
		cfg = &FilterConfig{}
	case "replace":
		cfg = &ReplaceConfig{}
	default:
		return nil, fmt.Errorf("unknown transformation type: %s", t.Type)
	}

	if err := mapstructure.Decode(t.Config, cfg); err != nil {
		return nil, fmt.Errorf("error decoding %s config: %w", t.Type, err)
	}
	return cfg, nil
}

// rewrite returns a copy of t whose operations are produced by fn; operations
// for which fn reports false are dropped.
func rewrite(t *tx.Transaction, fn func(tx.Operation) (tx.Operation, bool)) *tx.Transaction {
	out := &tx.Transaction{ID: t.ID, Operations: make([]tx.Operation, 0, len(t.Operations))}
	for _, op := range t.Operations {
		if next, keep := fn(op); keep {
			out.Operations = append(out.Operations, next)
		}
	}
	return out
}
