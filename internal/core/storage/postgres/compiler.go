package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/tidemark-io/tidemark/internal/core/query"
)

// compiled is a query translated into one SQL statement.
type compiled struct {
	SQL  string
	Args []any
}

// tableName returns the quoted per-data-set table. Data set ids are validated
// upstream but quoted anyway.
func tableName(id string) string {
	return pq.QuoteIdentifier("ds_" + id)
}

// compileQuery translates a Query into SQL against a data set's table.
// Grouped queries become GROUP BY + jsonb_agg per collect field; rows missing
// any active group key are excluded so nothing groups under a missing key.
func compileQuery(id string, q query.Query) (compiled, error) {
	where, args, err := compileFilters(q)
	if err != nil {
		return compiled{}, err
	}

	if q.IsGrouped() {
		return compileGrouped(id, q, where, args)
	}
	return compileUngrouped(id, q, where, args)
}

func compileFilters(q query.Query) ([]string, []any, error) {
	var where []string
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.StartAt != nil {
		where = append(where, "ts >= "+next(q.StartAt.UTC()))
	}
	if q.EndAt != nil {
		op := "<"
		if q.InclusiveEnd {
			op = "<="
		}
		where = append(where, fmt.Sprintf("ts %s %s", op, next(q.EndAt.UTC())))
	}

	for _, f := range q.FilterBy {
		// Exact filters compile to jsonb containment so value types are
		// honored.
		doc, err := json.Marshal(map[string]any{f.Key: f.Value})
		if err != nil {
			return nil, nil, fmt.Errorf("encoding filter %q: %w", f.Key, err)
		}
		where = append(where, "record @> "+next(string(doc))+"::jsonb")
	}

	for _, f := range q.FilterPrefix {
		placeholder := next(fmt.Sprintf("%v%%", f.Value))
		where = append(where, fmt.Sprintf("record->>%s LIKE %s", quoteLiteral(f.Key), placeholder))
	}

	return where, args, nil
}

func compileGrouped(id string, q query.Query, where []string, args []any) (compiled, error) {
	keys := q.GroupKeys()

	var cols []string
	for _, k := range keys {
		cols = append(cols, "record->"+quoteLiteral(k))
		// Missing group keys exclude the row entirely.
		where = append(where, "record ? "+quoteLiteral(k))
		where = append(where, "record->>"+quoteLiteral(k)+" IS NOT NULL")
	}
	cols = append(cols, "count(*)")
	for _, c := range q.Collect {
		field := quoteLiteral(c.Field)
		cols = append(cols, fmt.Sprintf("jsonb_agg(record->%s) FILTER (WHERE record ? %s)", field, field))
	}

	var groupBy []string
	for i := range keys {
		groupBy = append(groupBy, fmt.Sprintf("%d", i+1))
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), tableName(id))
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " GROUP BY " + strings.Join(groupBy, ", ")
	return compiled{SQL: sql, Args: args}, nil
}

func compileUngrouped(id string, q query.Query, where []string, args []any) (compiled, error) {
	sql := "SELECT record FROM " + tableName(id)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if q.SortBy != nil {
		dir := "ASC"
		if q.SortBy.Direction == query.Descending {
			dir = "DESC"
		}
		sql += " ORDER BY " + sortExpr(q.SortBy.Field, dir)
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return compiled{SQL: sql, Args: args}, nil
}

// sortExpr orders a jsonb field by an explicit type rank (null, boolean,
// number, string) and then by the typed value. Raw jsonb comparison ranks
// booleans above numbers and strings, which does not match the order the
// grouping merger applies, so mixed-type fields would sort differently per
// backend.
func sortExpr(field, dir string) string {
	doc := "record->" + quoteLiteral(field)
	text := "record->>" + quoteLiteral(field)
	return fmt.Sprintf(
		"CASE jsonb_typeof(%[1]s) WHEN 'boolean' THEN 1 WHEN 'number' THEN 2 WHEN 'string' THEN 3 ELSE 0 END %[3]s, "+
			"CASE WHEN jsonb_typeof(%[1]s) = 'number' THEN (%[2]s)::numeric END %[3]s, "+
			"CASE WHEN jsonb_typeof(%[1]s) IN ('string', 'boolean') THEN %[2]s END COLLATE \"C\" %[3]s",
		doc, text, dir)
}

// quoteLiteral quotes a JSON key for use as a SQL string literal. Keys are
// validated identifiers upstream but quoted anyway.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
