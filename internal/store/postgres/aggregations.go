package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/pkg/query"
	"github.com/JaimeStill/tally/pkg/repository"
)

func (q *queries) InsertAggregation(ctx context.Context, a *domain.Aggregation) error {
	if a.ID.UUID == uuid.Nil {
		a.ID = domain.NewAggregationID()
	}

	errs, err := encode(a.Errors, "{}")
	if err != nil {
		return err
	}
	warnings, err := encode(a.Warnings, "[]")
	if err != nil {
		return err
	}
	messages, err := encode(a.Messages, "[]")
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO public.aggregations (
			id, task_id, triggered_by, triggered_at, record_count,
			has_validation_issues, errors, warnings, artifact_key, messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = q.conn.ExecContext(ctx, stmt,
		a.ID.UUID,
		a.TaskID.UUID,
		a.TriggeredBy,
		a.TriggeredAt,
		a.RecordCount,
		a.HasValidationIssues,
		errs,
		warnings,
		a.ArtifactKey,
		messages,
	)
	return mapError(err, "aggregation "+a.ID.String())
}

func (q *queries) FindAggregation(ctx context.Context, id domain.AggregationID) (*domain.Aggregation, error) {
	stmt, args := query.NewBuilder(aggregationProjection).BuildSingle("ID", id.UUID)

	a, err := repository.QueryOne(ctx, q.conn, stmt, args, scanAggregation)
	if err != nil {
		return nil, mapError(err, "aggregation "+id.String())
	}
	return &a, nil
}

func (q *queries) ListAggregations(ctx context.Context, task domain.TaskID) ([]domain.Aggregation, error) {
	stmt, args := query.
		NewBuilder(aggregationProjection, query.SortField{Field: "TriggeredAt"}).
		WhereEquals("TaskID", task.UUID).
		Build()

	list, err := repository.QueryMany(ctx, q.conn, stmt, args, scanAggregation)
	if err != nil {
		return nil, mapError(err, "list aggregations "+task.String())
	}
	return list, nil
}

// Cursor returns the zero time for a cursor that was never set.
func (q *queries) Cursor(ctx context.Context, name string) (time.Time, error) {
	var at time.Time
	err := q.conn.QueryRowContext(ctx, "SELECT at FROM public.cursors WHERE name = $1", name).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, mapError(err, "cursor "+name)
	}
	return at.UTC(), nil
}

func (q *queries) SetCursor(ctx context.Context, name string, at time.Time) error {
	const stmt = `
		INSERT INTO public.cursors (name, at) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET at = EXCLUDED.at`

	_, err := q.conn.ExecContext(ctx, stmt, name, at)
	return mapError(err, "cursor "+name)
}
