package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNoRowsAffected = errors.New("no rows were affected")
	ErrNoKey          = errors.New("no key columns provided")
)

type queryBuilder struct {
	schema    string
	table     string
	values    []any
	nextIndex int
}

func newQueryBuilder(tableName string, schema ...string) *queryBuilder {
	schemaName := "public"
	if len(schema) > 0 && schema[0] != "" {
		schemaName = schema[0]
	}
	return &queryBuilder{
		schema:    schemaName,
		table:     tableName,
		nextIndex: 1,
	}
}

// bind records value and returns its placeholder.
func (qb *queryBuilder) bind(value any) string {
	qb.values = append(qb.values, value)
	placeholder := fmt.Sprintf("$%d", qb.nextIndex)
	qb.nextIndex++
	return placeholder
}

func (qb *queryBuilder) tableIdentifier() string {
	return pgx.Identifier{qb.schema, qb.table}.Sanitize()
}

// assignments renders `"col" = $n` for the given columns of data.
func (qb *queryBuilder) assignments(data map[string]any, columns []string) []string {
	clauses := make([]string, 0, len(columns))
	for _, column := range columns {
		clauses = append(clauses, fmt.Sprintf("%s = %s", pgx.Identifier{column}.Sanitize(), qb.bind(data[column])))
	}
	return clauses
}

func sortedColumns(data map[string]any) []string {
	columns := make([]string, 0, len(data))
	for column := range data {
		columns = append(columns, column)
	}
	slices.Sort(columns)
	return columns
}

func quoteAll(columns []string) []string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = pgx.Identifier{column}.Sanitize()
	}
	return quoted
}

// BuildInsert renders an INSERT of data. Columns are sorted so the statement
// is stable for a given set of keys.
func BuildInsert(tableName string, data map[string]any, schema ...string) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, fmt.Errorf("no columns to insert into %s", tableName)
	}
	qb := newQueryBuilder(tableName, schema...)

	columns := sortedColumns(data)
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		placeholders[i] = qb.bind(data[column])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		qb.tableIdentifier(),
		strings.Join(quoteAll(columns), ", "),
		strings.Join(placeholders, ", "),
	)
	return query, qb.values, nil
}

// BuildUpsert renders an INSERT that updates the non-key columns when a row
// with the same key exists.
func BuildUpsert(tableName string, data map[string]any, key []string, schema ...string) (string, []any, error) {
	if len(key) == 0 {
		return "", nil, ErrNoKey
	}
	query, args, err := BuildInsert(tableName, data, schema...)
	if err != nil {
		return "", nil, err
	}

	var updates []string
	for _, column := range sortedColumns(data) {
		if slices.Contains(key, column) {
			continue
		}
		quoted := pgx.Identifier{column}.Sanitize()
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted, quoted))
	}

	conflict := strings.Join(quoteAll(key), ", ")
	if len(updates) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", query, conflict), args, nil
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", query, conflict, strings.Join(updates, ", ")), args, nil
}

// BuildUpdate renders an UPDATE of the non-key columns of data for the row
// identified by the key columns of data.
func BuildUpdate(tableName string, data map[string]any, key []string, schema ...string) (string, []any, error) {
	if len(key) == 0 {
		return "", nil, ErrNoKey
	}
	for _, column := range key {
		if _, ok := data[column]; !ok {
			return "", nil, fmt.Errorf("key column %s missing from %s row", column, tableName)
		}
	}

	var set []string
	for _, column := range sortedColumns(data) {
		if !slices.Contains(key, column) {
			set = append(set, column)
		}
	}
	if len(set) == 0 {
		return "", nil, fmt.Errorf("no columns to update in %s", tableName)
	}

	qb := newQueryBuilder(tableName, schema...)
	setClauses := qb.assignments(data, set)
	whereClauses := qb.assignments(data, key)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		qb.tableIdentifier(),
		strings.Join(setClauses, ", "),
		strings.Join(whereClauses, " AND "),
	)
	return query, qb.values, nil
}

// BuildDelete renders a DELETE of the row identified by the key columns of data.
func BuildDelete(tableName string, data map[string]any, key []string, schema ...string) (string, []any, error) {
	if len(key) == 0 {
		return "", nil, ErrNoKey
	}
	for _, column := range key {
		if _, ok := data[column]; !ok {
			return "", nil, fmt.Errorf("key column %s missing from %s row", column, tableName)
		}
	}

	qb := newQueryBuilder(tableName, schema...)
	whereClauses := qb.assignments(data, key)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", qb.tableIdentifier(), strings.Join(whereClauses, " AND "))
	return query, qb.values, nil
}

// InsertRow inserts a new record into the specified table using the provided data.
func InsertRow(ctx context.Context, conn Execer, tableName string, data map[string]any, schema ...string) error {
	query, args, err := BuildInsert(tableName, data, schema...)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// UpsertRow inserts data or updates the existing row with the same key.
func UpsertRow(ctx context.Context, conn Execer, tableName string, data map[string]any, key []string, schema ...string) error {
	query, args, err := BuildUpsert(tableName, data, key, schema...)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// UpdateRow updates the row identified by key with the other columns of data.
func UpdateRow(ctx context.Context, conn Execer, tableName string, data map[string]any, key []string, schema ...string) error {
	query, args, err := BuildUpdate(tableName, data, key, schema...)
	if err != nil {
		return err
	}

	result, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", tableName, ErrNoRowsAffected)
	}
	return nil
}

// DeleteRow deletes the row identified by key.
func DeleteRow(ctx context.Context, conn Execer, tableName string, data map[string]any, key []string, schema ...string) error {
	query, args, err := BuildDelete(tableName, data, key, schema...)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// PrimaryKeys returns the primary key columns of a table in key order.
func PrimaryKeys(ctx context.Context, conn Querier, schema, table string) ([]string, error) {
	rows, err := conn.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return nil, err
		}
		keys = append(keys, column)
	}
	return keys, rows.Err()
}
