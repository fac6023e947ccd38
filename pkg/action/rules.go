package action

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/edgeflare/txaction/pkg/tx"
)

// RuleSet declares which table operations make up an action: table name ->
// expected operation kind. A transaction matches only if it touches every
// declared table exactly once with the declared kind and touches nothing else.
type RuleSet map[string]tx.Kind

// Matches reports whether t satisfies the rule set. It never modifies r, so a
// rule set can be shared by concurrent dispatchers.
func (r RuleSet) Matches(t tx.Transaction) bool {
	if len(r) == 0 {
		return false
	}

	remaining := make(map[string]struct{}, len(r))
	for table := range r {
		remaining[table] = struct{}{}
	}

	for _, op := range t.Operations {
		// consumed tables are gone from remaining, so duplicates fail here too
		if _, ok := remaining[op.Table]; !ok {
			return false
		}
		if r[op.Table] != op.Kind {
			return false
		}
		delete(remaining, op.Table)
	}

	return len(remaining) == 0
}

// Validate checks the rule set can ever match.
func (r RuleSet) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("rule set is empty")
	}
	for table, kind := range r {
		if strings.TrimSpace(table) == "" {
			return fmt.Errorf("rule set has an empty table name")
		}
		if !kind.Valid() {
			return fmt.Errorf("table %s: invalid operation kind %q", table, kind)
		}
	}
	return nil
}

// Equal reports whether both rule sets accept exactly the same transactions.
func (r RuleSet) Equal(other RuleSet) bool {
	return maps.Equal(r, other)
}

// Kind is the load semantics of the rule set: the common kind of all rules,
// or Update when kinds are mixed.
func (r RuleSet) Kind() tx.Kind {
	var kind tx.Kind
	for _, k := range r {
		if kind == "" {
			kind = k
		} else if kind != k {
			return tx.Update
		}
	}
	return kind
}

// Tables returns the declared tables sorted by name.
func (r RuleSet) Tables() []string {
	tables := make([]string, 0, len(r))
	for table := range r {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

func (r RuleSet) String() string {
	tables := r.Tables()
	parts := make([]string, len(tables))
	for i, table := range tables {
		parts[i] = fmt.Sprintf("%s:%s", table, r[table])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ParseRules converts a table -> kind-name mapping, as found in configuration.
func ParseRules(raw map[string]string) (RuleSet, error) {
	rules := make(RuleSet, len(raw))
	for table, name := range raw {
		kind, err := tx.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		rules[table] = kind
	}
	return rules, rules.Validate()
}
