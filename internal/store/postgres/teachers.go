package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/pkg/query"
	"github.com/JaimeStill/tally/pkg/repository"
)

func (q *queries) FindTeacher(ctx context.Context, id domain.TeacherID) (*domain.Teacher, error) {
	sql, args := query.NewBuilder(teacherProjection).BuildSingle("ID", int64(id))

	t, err := repository.QueryOne(ctx, q.conn, sql, args, scanTeacher)
	if err != nil {
		return nil, mapError(err, "teacher "+id.String())
	}
	return &t, nil
}

func (q *queries) FindTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error) {
	sql, args := query.
		NewBuilder(teacherProjection).
		Where("lower(th.email) = lower(?)", strings.TrimSpace(email)).
		BuildSingleOrNull()

	t, err := repository.QueryOne(ctx, q.conn, sql, args, scanTeacher)
	if err != nil {
		return nil, mapError(err, "teacher "+email)
	}
	return &t, nil
}

func (q *queries) ListTeachers(ctx context.Context) ([]domain.Teacher, error) {
	sql, args := query.NewBuilder(teacherProjection, query.SortField{Field: "ID"}).Build()

	teachers, err := repository.QueryMany(ctx, q.conn, sql, args, scanTeacher)
	if err != nil {
		return nil, mapError(err, "list teachers")
	}
	return teachers, nil
}

func (q *queries) SaveTeacher(ctx context.Context, t *domain.Teacher) error {
	const stmt = `
		INSERT INTO public.teachers (id, name, email, department)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, department = EXCLUDED.department`

	_, err := q.conn.ExecContext(ctx, stmt, int64(t.ID), t.Name, strings.TrimSpace(t.Email), t.Department)
	return mapError(err, "save teacher "+t.ID.String())
}

func (q *queries) FindTemplate(ctx context.Context, id domain.TemplateID) (*domain.Template, error) {
	sql, args := query.NewBuilder(templateProjection).BuildSingle("ID", id.UUID)

	t, err := repository.QueryOne(ctx, q.conn, sql, args, scanTemplate)
	if err != nil {
		return nil, mapError(err, "template "+id.String())
	}
	return &t, nil
}

// SaveTemplate inserts or replaces a template. Replacing fails with
// ErrTemplateLocked once any task using the template has left DRAFT.
func (q *queries) SaveTemplate(ctx context.Context, t *domain.Template) error {
	if t.ID.UUID == uuid.Nil {
		t.ID = domain.NewTemplateID()
	} else {
		sql, args := query.
			NewBuilder(taskProjection).
			WhereEquals("TemplateID", t.ID.UUID).
			Where("t.status <> ?", string(domain.StatusDraft)).
			BuildExists()

		var locked bool
		if err := q.conn.QueryRowContext(ctx, sql, args...).Scan(&locked); err != nil {
			return mapError(err, "template "+t.ID.String())
		}
		if locked {
			return mapError(domain.ErrTemplateLocked, "template "+t.ID.String())
		}
	}

	fields, err := encode(t.Fields, "[]")
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO public.templates (id, name, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, fields = EXCLUDED.fields
		RETURNING created_at`

	if err := q.conn.QueryRowContext(ctx, stmt, t.ID.UUID, t.Name, fields).Scan(&t.CreatedAt); err != nil {
		return mapError(err, "save template "+t.ID.String())
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return nil
}
