package store

import (
	"fmt"
	"time"
)

// Row is a single table row keyed by column name.
// Time columns hold time.Time; nullable time columns hold *time.Time or nil.
type Row map[string]any

// String returns the string value of column, or "" if absent.
func (r Row) String(column string) string {
	s, _ := r[column].(string)
	return s
}

// Time returns the time value of column, or the zero time.
func (r Row) Time(column string) time.Time {
	switch v := r[column].(type) {
	case time.Time:
		return v
	case *time.Time:
		if v != nil {
			return *v
		}
	}
	return time.Time{}
}

// NullTime returns the time value of column, or nil when the column is NULL.
func (r Row) NullTime(column string) *time.Time {
	switch v := r[column].(type) {
	case time.Time:
		return &v
	case *time.Time:
		return v
	}
	return nil
}

// Op is a filter operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpIsNull
	OpAny
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpNeq:
		return "neq"
	case OpIsNull:
		return "is_null"
	case OpAny:
		return "any"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Filter restricts the rows a query, update, delete or subscription applies to.
// Filters in a slice are combined with AND; an OpAny filter is an OR group.
type Filter struct {
	Column string   `json:"column,omitempty"`
	Op     Op       `json:"op"`
	Value  any      `json:"value,omitempty"`
	Any    []Filter `json:"any,omitempty"`
}

// Eq matches rows where column equals value.
func Eq(column string, value any) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Neq matches rows where column is not NULL and differs from value.
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }

// IsNull matches rows where column is NULL.
func IsNull(column string) Filter { return Filter{Column: column, Op: OpIsNull} }

// AnyOf matches rows satisfying at least one of filters.
func AnyOf(filters ...Filter) Filter { return Filter{Op: OpAny, Any: filters} }

// OrderBy sorts query results by a column.
type OrderBy struct {
	Column     string
	Descending bool
}

// Asc orders by column ascending.
func Asc(column string) OrderBy { return OrderBy{Column: column} }

// Desc orders by column descending.
func Desc(column string) OrderBy { return OrderBy{Column: column, Descending: true} }

// Query selects rows from a table. A zero Limit means no limit.
type Query struct {
	Table   string
	Filters []Filter
	Order   []OrderBy
	Limit   int
}

// Match reports whether row satisfies all filters, with the same semantics
// SQL gives them: comparisons against NULL never match.
func Match(filters []Filter, row Row) bool {
	for _, f := range filters {
		if !matchOne(f, row) {
			return false
		}
	}
	return true
}

func matchOne(f Filter, row Row) bool {
	switch f.Op {
	case OpAny:
		for _, sub := range f.Any {
			if matchOne(sub, row) {
				return true
			}
		}
		return false
	case OpIsNull:
		return isNull(row[f.Column])
	case OpEq:
		v := row[f.Column]
		return !isNull(v) && equalValues(v, f.Value)
	case OpNeq:
		v := row[f.Column]
		return !isNull(v) && !equalValues(v, f.Value)
	}
	return false
}

func isNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *time.Time:
		return t == nil
	}
	return false
}

func equalValues(a, b any) bool {
	ta, aok := asTime(a)
	tb, bok := asTime(b)
	if aok && bok {
		return ta.Equal(tb)
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t != nil {
			return *t, true
		}
	}
	return time.Time{}, false
}
