package transform

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/edgeflare/txaction/pkg/tx"
)

// FilterConfig selects the operations of a transaction that reach the action
// matcher. Operations failing the filter are removed; a transaction left
// without operations is dropped.
type FilterConfig struct {
	TablePattern  string   `mapstructure:"tablePattern" json:"tablePattern,omitempty"`
	Tables        []string `mapstructure:"tables" json:"tables,omitempty"`
	ExcludeTables []string `mapstructure:"excludeTables" json:"excludeTables,omitempty"`
	Operations    []string `mapstructure:"operations" json:"operations,omitempty"`
}

func (c *FilterConfig) Validate() error {
	if len(c.Tables) == 0 && len(c.ExcludeTables) == 0 &&
		c.TablePattern == "" && len(c.Operations) == 0 {
		return fmt.Errorf("at least one filter criteria required")
	}

	if c.TablePattern != "" {
		if _, err := regexp.Compile(c.TablePattern); err != nil {
			return fmt.Errorf("invalid table pattern: %w", err)
		}
	}

	for _, op := range c.Operations {
		if _, err := tx.ParseKind(op); err != nil {
			return fmt.Errorf("invalid operation: %s", op)
		}
	}

	return nil
}

func (c *FilterConfig) Type() string {
	return "filter"
}

func Filter(config *FilterConfig) Func {
	if err := config.Validate(); err != nil {
		return func(*tx.Transaction) (*tx.Transaction, error) {
			return nil, fmt.Errorf("invalid filter configuration: %w", err)
		}
	}

	var tableRegex *regexp.Regexp
	if config.TablePattern != "" {
		tableRegex = regexp.MustCompile(config.TablePattern)
	}

	kinds := make(map[tx.Kind]struct{}, len(config.Operations))
	for _, op := range config.Operations {
		kind, _ := tx.ParseKind(op)
		kinds[kind] = struct{}{}
	}

	var includeRefs, excludeRefs []tableRef
	for _, table := range config.Tables {
		includeRefs = append(includeRefs, parseTableRef(table))
	}
	for _, table := range config.ExcludeTables {
		excludeRefs = append(excludeRefs, parseTableRef(table))
	}

	keep := func(op tx.Operation) bool {
		if len(kinds) > 0 {
			if _, ok := kinds[op.Kind]; !ok {
				return false
			}
		}

		for _, ref := range excludeRefs {
			if ref.matches(op) {
				return false
			}
		}

		if len(includeRefs) > 0 {
			included := false
			for _, ref := range includeRefs {
				if ref.matches(op) {
					included = true
					break
				}
			}
			if !included {
				return false
			}
		}

		if tableRegex != nil {
			full := fmt.Sprintf("%s.%s", op.Schema, op.Table)
			if !tableRegex.MatchString(full) && !tableRegex.MatchString(op.Table) {
				return false
			}
		}
		return true
	}

	return func(t *tx.Transaction) (*tx.Transaction, error) {
		if t == nil {
			return nil, fmt.Errorf("cannot filter nil transaction")
		}

		out := rewrite(t, func(op tx.Operation) (tx.Operation, bool) {
			return op, keep(op)
		})
		if len(out.Operations) == 0 {
			return nil, nil
		}
		return out, nil
	}
}

type tableRef struct {
	schema string
	table  string
	isGlob bool
}

func parseTableRef(ref string) tableRef {
	if ref == "*.*" {
		return tableRef{schema: "*", table: "*", isGlob: true}
	}

	if schema, table, ok := strings.Cut(ref, "."); ok {
		return tableRef{
			schema: schema,
			table:  table,
			isGlob: strings.Contains(ref, "*"),
		}
	}
	return tableRef{
		table:  ref,
		isGlob: strings.Contains(ref, "*"),
	}
}

// matches checks if an operation's table matches the reference. Operations
// from readers that do not report a schema match any schema.
func (ref tableRef) matches(op tx.Operation) bool {
	if ref.isGlob {
		schemaMatched := ref.schema == "" || ref.schema == "*" || op.Schema == ""
		if !schemaMatched {
			schemaMatched, _ = filepath.Match(ref.schema, op.Schema)
		}
		tableMatched := ref.table == "*"
		if !tableMatched {
			tableMatched, _ = filepath.Match(ref.table, op.Table)
		}
		return schemaMatched && tableMatched
	}

	if ref.schema != "" && op.Schema != "" && ref.schema != op.Schema {
		return false
	}
	return ref.table == op.Table
}
