package store

import (
	"fmt"
	"reflect"
	"strings"
)

// WhereBuilder assembles a parameterised WHERE clause. Conditions are
// AND-composed and placeholders are numbered in the order they are added.
type WhereBuilder struct {
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder returns an empty builder whose first placeholder is $1.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{argIndex: 1}
}

// Add appends "col = $n". Nil pointers and empty strings are skipped so
// optional filters can be passed straight through; pointers are dereferenced.
func (wb *WhereBuilder) Add(col string, val any) *WhereBuilder {
	v, ok := present(val)
	if !ok {
		return wb
	}
	return wb.AddCond(col+" = $%d", v)
}

// AddAny appends "col = ANY($n)" for a non-empty slice.
func (wb *WhereBuilder) AddAny(col string, vals []string) *WhereBuilder {
	if len(vals) == 0 {
		return wb
	}
	return wb.AddCond(col+" = ANY($%d)", vals)
}

// AddCond appends a condition whose single %d verb becomes the next
// placeholder.
func (wb *WhereBuilder) AddCond(format string, val any) *WhereBuilder {
	wb.conditions = append(wb.conditions, fmt.Sprintf(format, wb.argIndex))
	wb.args = append(wb.args, val)
	wb.argIndex++
	return wb
}

// Build returns the clause with a leading space, or "" and nil args when no
// condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex is the placeholder number the next argument will take, for
// appending LIMIT/OFFSET after the clause.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}

func present(val any) (any, bool) {
	if val == nil {
		return nil, false
	}
	if s, ok := val.(string); ok {
		return s, s != ""
	}
	rv := reflect.ValueOf(val)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		return present(rv.Elem().Interface())
	}
	return val, true
}
