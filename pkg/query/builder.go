package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SortField is one ORDER BY term. Field is a view name resolved through the
// builder's ProjectionMap.
type SortField struct {
	Field      string
	Descending bool
}

// ParseSortFields parses "name,-publish_at" into sort terms. A leading "-"
// sorts descending. Empty input yields nil.
func ParseSortFields(s string) []SortField {
	if s == "" {
		return nil
	}

	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, desc := strings.CutPrefix(part, "-")
		fields = append(fields, SortField{Field: name, Descending: desc})
	}
	return fields
}

// condition is one WHERE term. Each ? in clause binds the next arg and is
// rewritten to a numbered Postgres parameter when the query is rendered.
type condition struct {
	clause string
	args   []any
}

// Builder composes SELECT statements over a ProjectionMap. Conditions are
// joined with AND in the order they were added.
type Builder struct {
	projection  *ProjectionMap
	conditions  []condition
	orderBy     []SortField
	defaultSort []SortField
	limit       int
}

// NewBuilder starts a query over projection. defaultSort applies when
// OrderByFields is not called.
func NewBuilder(projection *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{
		projection:  projection,
		defaultSort: defaultSort,
	}
}

// Where adds a raw condition. Each ? in clause binds the next arg.
func (b *Builder) Where(clause string, args ...any) *Builder {
	b.conditions = append(b.conditions, condition{clause: clause, args: args})
	return b
}

// WhereEquals adds field = value. Nil values are skipped.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	return b.Where(b.projection.Column(field)+" = ?", value)
}

// WhereNullable adds field = value, or field IS NULL when value is nil.
func (b *Builder) WhereNullable(field string, value any) *Builder {
	if isNil(value) {
		return b.Where(b.projection.Column(field) + " IS NULL")
	}
	return b.Where(b.projection.Column(field)+" = ?", value)
}

// WhereAnyNull matches rows where at least one of fields is NULL.
func (b *Builder) WhereAnyNull(fields ...string) *Builder {
	if len(fields) == 0 {
		return b
	}
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = b.projection.Column(f) + " IS NULL"
	}
	return b.Where("(" + strings.Join(terms, " OR ") + ")")
}

// WhereIn adds field IN (values...). An empty list is skipped.
func (b *Builder) WhereIn(field string, values []any) *Builder {
	if len(values) == 0 {
		return b
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
	return b.Where(fmt.Sprintf("%s IN (%s)", b.projection.Column(field), marks), values...)
}

// WhereContains adds a case-insensitive substring match. Nil or empty
// values are skipped.
func (b *Builder) WhereContains(field string, value *string) *Builder {
	return b.WhereSearch(value, field)
}

// WhereSearch matches search as a case-insensitive substring of any of
// fields. LIKE wildcards in search match literally.
func (b *Builder) WhereSearch(search *string, fields ...string) *Builder {
	if search == nil || *search == "" || len(fields) == 0 {
		return b
	}

	pattern := "%" + escapeLike(*search) + "%"
	terms := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		terms[i] = b.projection.Column(f) + " ILIKE ?"
		args[i] = pattern
	}

	clause := terms[0]
	if len(terms) > 1 {
		clause = "(" + strings.Join(terms, " OR ") + ")"
	}
	return b.Where(clause, args...)
}

// OrderByFields replaces the default sort.
func (b *Builder) OrderByFields(fields []SortField) *Builder {
	b.orderBy = fields
	return b
}

// Limit caps the rows Build returns. Zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build renders the SELECT with conditions, ordering, and limit.
func (b *Builder) Build() (string, []any) {
	where, args := b.where()
	sql := b.selectFrom() + where + b.order()
	if b.limit > 0 {
		sql += " LIMIT " + strconv.Itoa(b.limit)
	}
	return sql, args
}

// BuildPage renders one page of the ordered result. page is 1-based.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	where, args := b.where()
	offset := max(page-1, 0) * pageSize
	sql := fmt.Sprintf("%s%s%s LIMIT %d OFFSET %d", b.selectFrom(), where, b.order(), pageSize, offset)
	return sql, args
}

// BuildSingle selects the row whose idField equals id, ignoring other conditions.
func (b *Builder) BuildSingle(idField string, id any) (string, []any) {
	return b.selectFrom() + " WHERE " + b.projection.Column(idField) + " = $1", []any{id}
}

// BuildSingleOrNull selects at most one row matching the conditions.
func (b *Builder) BuildSingleOrNull() (string, []any) {
	where, args := b.where()
	return b.selectFrom() + where + " LIMIT 1", args
}

// BuildCount counts the rows matching the conditions.
func (b *Builder) BuildCount() (string, []any) {
	where, args := b.where()
	return "SELECT COUNT(*) FROM " + b.projection.From() + where, args
}

// BuildExists reports whether any row matches the conditions.
func (b *Builder) BuildExists() (string, []any) {
	where, args := b.where()
	return "SELECT EXISTS (SELECT 1 FROM " + b.projection.From() + where + ")", args
}

func (b *Builder) selectFrom() string {
	return "SELECT " + b.projection.Columns() + " FROM " + b.projection.From()
}

func (b *Builder) order() string {
	fields := b.orderBy
	if len(fields) == 0 {
		fields = b.defaultSort
	}
	if len(fields) == 0 {
		return ""
	}

	terms := make([]string, len(fields))
	for i, f := range fields {
		dir := "ASC"
		if f.Descending {
			dir = "DESC"
		}
		terms[i] = b.projection.Column(f.Field) + " " + dir
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func (b *Builder) where() (string, []any) {
	if len(b.conditions) == 0 {
		return "", nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(" WHERE ")
	for i, c := range b.conditions {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		next := 0
		for _, r := range c.clause {
			if r == '?' && next < len(c.args) {
				args = append(args, c.args[next])
				next++
				sb.WriteString("$" + strconv.Itoa(len(args)))
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String(), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
