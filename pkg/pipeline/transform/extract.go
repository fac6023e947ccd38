package transform

import (
	"fmt"
	"slices"

	"github.com/edgeflare/txaction/pkg/tx"
)

// ExtractConfig holds the configuration for the extract transformation
type ExtractConfig struct {
	Fields []string `mapstructure:"fields" json:"fields"`
	// Tables limits extraction to these tables; empty means all tables
	Tables []string `mapstructure:"tables" json:"tables,omitempty"`
}

// Validate validates the ExtractConfig
func (c *ExtractConfig) Validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	return nil
}

// Type returns the type of the transformation
func (c *ExtractConfig) Type() string {
	return "extract"
}

// Extract creates a Func that keeps only the specified fields of the
// operations' before and after images.
func Extract(config *ExtractConfig) Func {
	return func(t *tx.Transaction) (*tx.Transaction, error) {
		if err := config.Validate(); err != nil {
			return t, fmt.Errorf("invalid extract configuration: %w", err)
		}
		if t == nil {
			return nil, fmt.Errorf("cannot extract from nil transaction")
		}

		return rewrite(t, func(op tx.Operation) (tx.Operation, bool) {
			if len(config.Tables) > 0 && !slices.Contains(config.Tables, op.Table) {
				return op, true
			}
			op.Before = pick(op.Before, config.Fields)
			op.After = pick(op.After, config.Fields)
			return op, true
		}), nil
	}
}

func pick(row map[string]any, fields []string) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if value, exists := row[field]; exists {
			out[field] = value
		}
	}
	return out
}
