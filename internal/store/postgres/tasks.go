package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/query"
	"github.com/JaimeStill/tally/pkg/repository"
)

var taskSort = []query.SortField{
	{Field: "PublishAt"},
	{Field: "ID"},
}

func (q *queries) FindTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	stmt, args := query.NewBuilder(taskProjection).BuildSingle("ID", id.UUID)

	t, err := repository.QueryOne(ctx, q.conn, stmt, args, scanTask)
	if err != nil {
		return nil, mapError(err, "task "+id.String())
	}
	return &t, nil
}

func (q *queries) ListTasks(ctx context.Context, filter store.TaskFilter) ([]domain.Task, error) {
	statuses := make([]any, len(filter.Statuses))
	for i, s := range filter.Statuses {
		statuses[i] = string(s)
	}
	search := strings.TrimSpace(filter.Search)

	stmt, args := query.
		NewBuilder(taskProjection, taskSort...).
		WhereIn("Status", statuses).
		WhereSearch(&search, "Name").
		Build()

	tasks, err := repository.QueryMany(ctx, q.conn, stmt, args, scanTask)
	if err != nil {
		return nil, mapError(err, "list tasks")
	}
	return tasks, nil
}

func (q *queries) CreateTask(ctx context.Context, t *domain.Task) error {
	if t.Status == "" {
		t.Status = domain.StatusDraft
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if err := q.requireTemplate(ctx, t.TemplateID); err != nil {
		return err
	}

	if t.ID.UUID == uuid.Nil {
		t.ID = domain.NewTaskID()
	}
	targets, err := encode(t.Targets, "[]")
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO public.tasks (
			id, name, description, template_id, publish_at, deadline, status,
			targets, mail_subject, mail_body, created_by, attention)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err = q.conn.QueryRowContext(ctx, stmt,
		t.ID.UUID,
		t.Name,
		t.Description,
		t.TemplateID.UUID,
		t.PublishAt,
		timeArg(t.Deadline),
		string(t.Status),
		targets,
		t.Mail.Subject,
		t.Mail.Body,
		t.CreatedBy,
		t.Attention,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return mapError(err, fmt.Sprintf("task name %q", t.Name))
	}

	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	q.logger.Info("task created", "id", t.ID, "name", t.Name, "status", t.Status)
	return nil
}

func (q *queries) requireTemplate(ctx context.Context, id domain.TemplateID) error {
	exists, args := query.NewBuilder(templateProjection).WhereEquals("ID", id.UUID).BuildExists()
	var found bool
	if err := q.conn.QueryRowContext(ctx, exists, args...).Scan(&found); err != nil {
		return mapError(err, "template "+id.String())
	}
	if !found {
		return fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// UpdateTask rewrites the content columns while the status still matches.
func (q *queries) UpdateTask(ctx context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := q.requireTemplate(ctx, t.TemplateID); err != nil {
		return err
	}
	targets, err := encode(t.Targets, "[]")
	if err != nil {
		return err
	}

	const stmt = `
		UPDATE public.tasks SET
			name = $3, description = $4, template_id = $5, publish_at = $6,
			deadline = $7, targets = $8, mail_subject = $9, mail_body = $10,
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING created_at, updated_at, created_by, attention`

	err = q.conn.QueryRowContext(ctx, stmt,
		t.ID.UUID,
		string(t.Status),
		t.Name,
		t.Description,
		t.TemplateID.UUID,
		t.PublishAt,
		timeArg(t.Deadline),
		targets,
		t.Mail.Subject,
		t.Mail.Body,
	).Scan(&t.CreatedAt, &t.UpdatedAt, &t.CreatedBy, &t.Attention)
	if errors.Is(err, sql.ErrNoRows) {
		current, ferr := q.FindTask(ctx, t.ID)
		if ferr != nil {
			return ferr
		}
		return fmt.Errorf("task %s is %s, expected %s: %w", t.ID, current.Status, t.Status, domain.ErrConflict)
	}
	if err != nil {
		return mapError(err, fmt.Sprintf("task name %q", t.Name))
	}

	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	q.logger.Info("task updated", "id", t.ID, "name", t.Name, "status", t.Status)
	return nil
}

// SetTaskStatus is a compare-and-swap on the status column. When no row
// changes, a follow-up read distinguishes a missing task from a stale from.
func (q *queries) SetTaskStatus(ctx context.Context, id domain.TaskID, from, to domain.Status) error {
	err := repository.ExecExpectOne(ctx, q.conn,
		"UPDATE public.tasks SET status = $3, updated_at = now() WHERE id = $1 AND status = $2",
		id.UUID, string(from), string(to),
	)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return mapError(err, "task "+id.String())
	}

	var current string
	err = q.conn.QueryRowContext(ctx, "SELECT status FROM public.tasks WHERE id = $1", id.UUID).Scan(&current)
	if err != nil {
		return mapError(err, "task "+id.String())
	}
	return fmt.Errorf("task %s is %s, expected %s: %w", id, current, from, domain.ErrConflict)
}

func (q *queries) FlagTask(ctx context.Context, id domain.TaskID, reason string) error {
	err := repository.ExecExpectOne(ctx, q.conn,
		"UPDATE public.tasks SET attention = $2, updated_at = now() WHERE id = $1",
		id.UUID, reason,
	)
	return mapError(err, "task "+id.String())
}
