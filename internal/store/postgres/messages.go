package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/query"
	"github.com/JaimeStill/tally/pkg/repository"
)

func (q *queries) InsertInbound(ctx context.Context, m *domain.InboundMessage) error {
	if m.ID.UUID == uuid.Nil {
		m.ID = domain.NewMessageID()
	}
	attachments, err := encode(m.Attachments, "[]")
	if err != nil {
		return err
	}

	var (
		task    uuid.NullUUID
		teacher sql.NullInt64
	)
	if m.TaskID != nil {
		task = uuid.NullUUID{UUID: m.TaskID.UUID, Valid: true}
	}
	if m.TeacherID != nil {
		teacher = sql.NullInt64{Int64: int64(*m.TeacherID), Valid: true}
	}

	const stmt = `
		INSERT INTO public.inbound_messages (
			id, task_id, teacher_id, sender, subject, body, header_id,
			received_at, attachments, aggregated, match_note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	err = q.conn.QueryRowContext(ctx, stmt,
		m.ID.UUID,
		task,
		teacher,
		m.Sender,
		m.Subject,
		m.Body,
		sql.NullString{String: m.HeaderID, Valid: m.HeaderID != ""},
		m.ReceivedAt,
		attachments,
		m.Aggregated,
		m.MatchNote,
	).Scan(&m.CreatedAt)
	if err != nil {
		return mapError(err, "inbound "+m.HeaderID)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return nil
}

func (q *queries) FindInboundByHeader(ctx context.Context, headerID string) (*domain.InboundMessage, error) {
	if headerID == "" {
		return nil, fmt.Errorf("inbound without header: %w", domain.ErrNotFound)
	}
	stmt, args := query.
		NewBuilder(inboundProjection).
		WhereEquals("HeaderID", headerID).
		BuildSingleOrNull()

	m, err := repository.QueryOne(ctx, q.conn, stmt, args, scanInbound)
	if err != nil {
		return nil, mapError(err, "inbound "+headerID)
	}
	return &m, nil
}

func (q *queries) ListInbound(ctx context.Context, filter store.InboundFilter) ([]domain.InboundMessage, error) {
	qb := query.NewBuilder(inboundProjection, query.SortField{Field: "ReceivedAt"}, query.SortField{Field: "CreatedAt"})
	if filter.TaskID != nil {
		qb.WhereEquals("TaskID", filter.TaskID.UUID)
	}
	if filter.Unmatched {
		qb.WhereAnyNull("TaskID", "TeacherID")
	}
	stmt, args := qb.Build()

	messages, err := repository.QueryMany(ctx, q.conn, stmt, args, scanInbound)
	if err != nil {
		return nil, mapError(err, "list inbound")
	}
	return messages, nil
}

func (q *queries) CountUnaggregated(ctx context.Context, task domain.TaskID) (int, error) {
	stmt, args := query.
		NewBuilder(inboundProjection).
		WhereEquals("TaskID", task.UUID).
		WhereEquals("Aggregated", false).
		BuildCount()

	var n int
	if err := q.conn.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, mapError(err, "count unaggregated "+task.String())
	}
	return n, nil
}

func (q *queries) MarkAggregated(ctx context.Context, ids []domain.MessageID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	result, err := q.conn.ExecContext(ctx,
		"UPDATE public.inbound_messages SET aggregated = true WHERE id = ANY($1::uuid[]) AND aggregated = false",
		keys,
	)
	if err != nil {
		return 0, mapError(err, "mark aggregated")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, mapError(err, "mark aggregated")
	}
	return int(n), nil
}

func (q *queries) InsertOutbound(ctx context.Context, m *domain.OutboundMessage) error {
	if m.ID.UUID == uuid.Nil {
		m.ID = domain.NewMessageID()
	}
	if m.Status == "" {
		m.Status = domain.DeliveryQueued
	}

	const stmt = `
		INSERT INTO public.outbound_messages (
			id, task_id, teacher_id, recipient, status, retry_count, last_error, header_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := q.conn.QueryRowContext(ctx, stmt,
		m.ID.UUID,
		m.TaskID.UUID,
		int64(m.TeacherID),
		m.Recipient,
		string(m.Status),
		m.RetryCount,
		m.LastError,
		m.HeaderID,
		timeArg(m.SentAt),
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapError(err, "outbound "+m.ID.String())
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}

func (q *queries) ListOutbound(ctx context.Context, filter store.OutboundFilter) ([]domain.OutboundMessage, error) {
	qb := query.NewBuilder(outboundProjection, query.SortField{Field: "CreatedAt"}, query.SortField{Field: "ID"})
	if filter.TaskID != nil {
		qb.WhereEquals("TaskID", filter.TaskID.UUID)
	}
	if filter.Pending {
		qb.Where("o.status <> ?", string(domain.DeliverySent))
		if filter.MaxRetries > 0 {
			qb.Where("(o.status <> ? OR o.retry_count < ?)", string(domain.DeliveryFailed), filter.MaxRetries)
		}
	}
	stmt, args := qb.Build()

	messages, err := repository.QueryMany(ctx, q.conn, stmt, args, scanOutbound)
	if err != nil {
		return nil, mapError(err, "list outbound")
	}
	return messages, nil
}

func (q *queries) UpdateOutbound(ctx context.Context, m *domain.OutboundMessage) error {
	const stmt = `
		UPDATE public.outbound_messages
		SET status = $2, retry_count = $3, last_error = $4, header_id = $5, sent_at = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := q.conn.QueryRowContext(ctx, stmt,
		m.ID.UUID,
		string(m.Status),
		m.RetryCount,
		m.LastError,
		m.HeaderID,
		timeArg(m.SentAt),
	).Scan(&m.UpdatedAt)
	if err != nil {
		return mapError(err, "outbound "+m.ID.String())
	}
	m.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}
