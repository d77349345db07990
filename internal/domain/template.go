package domain

import (
	"cmp"
	"slices"
	"time"

	"github.com/JaimeStill/tally/internal/validation"
)

// Field is one named column of a template.
type Field struct {
	Name  string          `json:"name"`
	Order int             `json:"order"`
	Rule  validation.Rule `json:"rule"`
}

// Template is an ordered set of fields a task collects.
type Template struct {
	ID        TemplateID `json:"id"`
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields"`
	CreatedAt time.Time  `json:"created_at"`
}

// Ordered returns the fields sorted by Order, ties broken by name.
func (t *Template) Ordered() []Field {
	fields := slices.Clone(t.Fields)
	slices.SortStableFunc(fields, func(a, b Field) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return fields
}

// Headers returns the ordered field names.
func (t *Template) Headers() []string {
	fields := t.Ordered()
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f.Name
	}
	return headers
}

// Teacher is a recipient of collection tasks.
type Teacher struct {
	ID         TeacherID `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Department string    `json:"department,omitempty"`
}
