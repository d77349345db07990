// Package store defines the persistence surface the collection engine depends on.
// Implementations must make every call atomic, return domain.ErrNotFound for
// missing rows, and domain.ErrConflict when a compare-and-swap loses.
package store

import (
	"context"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
)

// Queries is the set of reads and writes available inside and outside a transaction.
type Queries interface {
	FindTeacher(ctx context.Context, id domain.TeacherID) (*domain.Teacher, error)
	FindTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error)
	ListTeachers(ctx context.Context) ([]domain.Teacher, error)
	SaveTeacher(ctx context.Context, t *domain.Teacher) error

	FindTemplate(ctx context.Context, id domain.TemplateID) (*domain.Template, error)
	SaveTemplate(ctx context.Context, t *domain.Template) error

	FindTask(ctx context.Context, id domain.TaskID) (*domain.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error)
	CreateTask(ctx context.Context, t *domain.Task) error
	// UpdateTask replaces the task's editable content. It fails with
	// ErrConflict when the stored status no longer equals t.Status.
	UpdateTask(ctx context.Context, t *domain.Task) error
	// SetTaskStatus moves the task to `to` only if its current status is `from`.
	SetTaskStatus(ctx context.Context, id domain.TaskID, from, to domain.Status) error
	// FlagTask records a reason for secretary attention. An empty reason clears it.
	FlagTask(ctx context.Context, id domain.TaskID, reason string) error

	InsertInbound(ctx context.Context, m *domain.InboundMessage) error
	FindInboundByHeader(ctx context.Context, headerID string) (*domain.InboundMessage, error)
	ListInbound(ctx context.Context, filter InboundFilter) ([]domain.InboundMessage, error)
	CountUnaggregated(ctx context.Context, task domain.TaskID) (int, error)
	// MarkAggregated flips ids that are not yet aggregated and returns how
	// many it flipped.
	MarkAggregated(ctx context.Context, ids []domain.MessageID) (int, error)

	InsertOutbound(ctx context.Context, m *domain.OutboundMessage) error
	ListOutbound(ctx context.Context, filter OutboundFilter) ([]domain.OutboundMessage, error)
	UpdateOutbound(ctx context.Context, m *domain.OutboundMessage) error

	InsertAggregation(ctx context.Context, a *domain.Aggregation) error
	FindAggregation(ctx context.Context, id domain.AggregationID) (*domain.Aggregation, error)
	ListAggregations(ctx context.Context, task domain.TaskID) ([]domain.Aggregation, error)

	Cursor(ctx context.Context, name string) (time.Time, error)
	SetCursor(ctx context.Context, name string, at time.Time) error
}

// Store is a Queries handle that can open transactions.
type Store interface {
	Queries
	// WithinTx runs fn against a transactional Queries. fn's writes commit
	// together when it returns nil and are discarded otherwise.
	WithinTx(ctx context.Context, fn func(q Queries) error) error
}

// TaskFilter selects tasks. Empty fields match everything.
type TaskFilter struct {
	Statuses []domain.Status
	Search   string
}

// InboundFilter selects inbound messages.
type InboundFilter struct {
	TaskID    *domain.TaskID
	Unmatched bool
}

// OutboundFilter selects outbound messages. MaxRetries limits FAILED rows
// to those with fewer attempts; zero disables the limit.
type OutboundFilter struct {
	TaskID     *domain.TaskID
	Pending    bool
	MaxRetries int
}

// CursorInbox names the mail fetch cursor.
const CursorInbox = "mail.inbox"
