package transform

import (
	"fmt"
	"regexp"

	"github.com/edgeflare/txaction/pkg/tx"
)

// ReplaceConfig holds the configuration for the replace transformation
type ReplaceConfig struct {
	// Schema replacements
	Schemas map[string]string `mapstructure:"schemas" json:"schemas,omitempty"`

	// Table replacements
	Tables map[string]string `mapstructure:"tables" json:"tables,omitempty"`

	// Column/field replacements, applied to before and after images
	Columns map[string]string `mapstructure:"columns" json:"columns,omitempty"`

	// Regex replacements
	Regex []RegexReplacement `mapstructure:"regex" json:"regex,omitempty"`
}

// RegexReplacement defines a regex-based replacement rule
type RegexReplacement struct {
	Type    string `mapstructure:"type" json:"type"`       // "schema" or "table"
	Pattern string `mapstructure:"pattern" json:"pattern"` // Regex pattern to match
	Replace string `mapstructure:"replace" json:"replace"` // Replacement string (can use regex groups)
}

// Validate validates the ReplaceConfig
func (c *ReplaceConfig) Validate() error {
	if len(c.Schemas) == 0 &&
		len(c.Tables) == 0 &&
		len(c.Columns) == 0 &&
		len(c.Regex) == 0 {
		return fmt.Errorf("at least one replacement configuration is required")
	}

	for _, regex := range c.Regex {
		if regex.Type != "schema" && regex.Type != "table" {
			return fmt.Errorf("invalid replacement type: %s", regex.Type)
		}
		if _, err := regexp.Compile(regex.Pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %s: %w", regex.Pattern, err)
		}
	}

	return nil
}

// Type returns the type of the transformation
func (c *ReplaceConfig) Type() string {
	return "replace"
}

// Replace creates a Func that renames schemas, tables and columns of every
// operation. The input transaction is left untouched.
func Replace(config *ReplaceConfig) Func {
	if err := config.Validate(); err != nil {
		return func(*tx.Transaction) (*tx.Transaction, error) {
			return nil, fmt.Errorf("invalid replace configuration: %w", err)
		}
	}

	type compiled struct {
		re      *regexp.Regexp
		typ     string
		replace string
	}
	regexes := make([]compiled, len(config.Regex))
	for i, r := range config.Regex {
		regexes[i] = compiled{re: regexp.MustCompile(r.Pattern), typ: r.Type, replace: r.Replace}
	}

	return func(t *tx.Transaction) (*tx.Transaction, error) {
		if t == nil {
			return nil, fmt.Errorf("cannot replace in nil transaction")
		}

		return rewrite(t, func(op tx.Operation) (tx.Operation, bool) {
			if newSchema, exists := config.Schemas[op.Schema]; exists {
				op.Schema = newSchema
			}
			if newTable, exists := config.Tables[op.Table]; exists {
				op.Table = newTable
			}

			for _, r := range regexes {
				switch r.typ {
				case "schema":
					op.Schema = r.re.ReplaceAllString(op.Schema, r.replace)
				case "table":
					op.Table = r.re.ReplaceAllString(op.Table, r.replace)
				}
			}

			if len(config.Columns) > 0 {
				op.Before = replaceMapKeys(op.Before, config.Columns)
				op.After = replaceMapKeys(op.After, config.Columns)
			}
			return op, true
		}), nil
	}
}

// replaceMapKeys creates a new map with replaced keys according to the replacements map
func replaceMapKeys(data map[string]any, replacements map[string]string) map[string]any {
	if data == nil {
		return nil
	}

	newMap := make(map[string]any, len(data))
	for k, v := range data {
		if replacement, exists := replacements[k]; exists {
			k = replacement
		}
		newMap[k] = v
	}
	return newMap
}
