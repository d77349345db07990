// Package query builds parameterized Postgres SELECT statements from a
// mapping of view names to table columns.
package query

import "strings"

// ProjectionMap binds view names, the Go-side field names callers filter and
// sort by, to alias-qualified columns of one table.
type ProjectionMap struct {
	table   string
	alias   string
	columns map[string]string
	order   []string
}

// NewProjectionMap maps columns of schema.table under alias.
func NewProjectionMap(schema, table, alias string) *ProjectionMap {
	return &ProjectionMap{
		table:   schema + "." + table,
		alias:   alias,
		columns: make(map[string]string),
	}
}

// Project maps column to viewName and appends it to the select list.
func (p *ProjectionMap) Project(column, viewName string) *ProjectionMap {
	qualified := p.alias + "." + column
	p.columns[viewName] = qualified
	p.order = append(p.order, qualified)
	return p
}

func (p *ProjectionMap) Alias() string {
	return p.alias
}

// Table is the aliased table reference, "schema.table alias".
func (p *ProjectionMap) Table() string {
	return p.table + " " + p.alias
}

func (p *ProjectionMap) From() string {
	return p.Table()
}

// Column resolves viewName. Unmapped names pass through unchanged so raw
// expressions can be used as fields.
func (p *ProjectionMap) Column(viewName string) string {
	if col, ok := p.columns[viewName]; ok {
		return col
	}
	return viewName
}

// Columns is the select list in projection order.
func (p *ProjectionMap) Columns() string {
	return strings.Join(p.order, ", ")
}
