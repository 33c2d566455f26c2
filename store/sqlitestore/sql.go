package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dhamidi/skillswap/store"
)

// timeLayout is fixed width so that text order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by other tools may carry an offset.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

// encode converts a Go value into the driver value stored for c.
func encode(c column, v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return formatTime(t), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return formatTime(*t), nil
	case string:
		if c.kind == kindTime || c.kind == kindNullTime {
			if _, err := parseTime(t); err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
		}
		return t, nil
	case *string:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	}
	return nil, fmt.Errorf("column %s: unsupported value type %T", c.name, v)
}

// decode converts a scanned column into the Go value exposed in a store.Row.
func decode(c column, ns sql.NullString) (any, error) {
	switch c.kind {
	case kindText:
		return ns.String, nil
	case kindNullText:
		if !ns.Valid {
			return nil, nil
		}
		return ns.String, nil
	case kindTime:
		if !ns.Valid {
			return time.Time{}, nil
		}
		return parseTime(ns.String)
	case kindNullTime:
		if !ns.Valid {
			return (*time.Time)(nil), nil
		}
		t, err := parseTime(ns.String)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, fmt.Errorf("column %s: unknown kind %d", c.name, c.kind)
}

func whereClause(def tableDef, filters []store.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		expr, fargs, err := filterExpr(def, f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, fargs...)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func filterExpr(def tableDef, f store.Filter) (string, []any, error) {
	if f.Op == store.OpAny {
		if len(f.Any) == 0 {
			return "0", nil, nil
		}
		parts := make([]string, 0, len(f.Any))
		var args []any
		for _, sub := range f.Any {
			expr, sargs, err := filterExpr(def, sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, expr)
			args = append(args, sargs...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	c, ok := def.column(f.Column)
	if !ok {
		return "", nil, fmt.Errorf("sqlitestore: unknown column %s.%s", def.name, f.Column)
	}
	switch f.Op {
	case store.OpIsNull:
		return c.name + " IS NULL", nil, nil
	case store.OpEq, store.OpNeq:
		v, err := encode(c, f.Value)
		if err != nil {
			return "", nil, err
		}
		if f.Op == store.OpEq {
			return c.name + " = ?", []any{v}, nil
		}
		return c.name + " <> ?", []any{v}, nil
	}
	return "", nil, fmt.Errorf("sqlitestore: unsupported filter %s on %s", f.Op, f.Column)
}

func orderClause(def tableDef, order []store.OrderBy) (string, error) {
	if len(order) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(order))
	for _, o := range order {
		c, ok := def.column(o.Column)
		if !ok {
			return "", fmt.Errorf("sqlitestore: unknown order column %s.%s", def.name, o.Column)
		}
		dir := "ASC"
		if o.Descending {
			dir = "DESC"
		}
		parts = append(parts, c.name+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func selectRows(ctx context.Context, q querier, def tableDef, where string, args []any, suffix string) ([]store.Row, error) {
	query := "SELECT " + strings.Join(def.columnNames(), ", ") + " FROM " + def.name + where + suffix
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", def.name, translate(err))
	}
	defer rows.Close()

	var result []store.Row
	for rows.Next() {
		raw := make([]sql.NullString, len(def.columns))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", def.name, err)
		}
		row := make(store.Row, len(def.columns))
		for i, c := range def.columns {
			v, err := decode(c, raw[i])
			if err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", def.name, c.name, err)
			}
			row[c.name] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", def.name, err)
	}
	return result, nil
}
