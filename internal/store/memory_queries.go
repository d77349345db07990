package store

import (
	"context"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
)

func (m *Memory) FindTeacher(ctx context.Context, id domain.TeacherID) (*domain.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindTeacher(ctx, id)
}

func (m *Memory) FindTeacherByEmail(ctx context.Context, email string) (*domain.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindTeacherByEmail(ctx, email)
}

func (m *Memory) ListTeachers(ctx context.Context) ([]domain.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListTeachers(ctx)
}

func (m *Memory) SaveTeacher(ctx context.Context, t *domain.Teacher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveTeacher(ctx, t)
}

func (m *Memory) FindTemplate(ctx context.Context, id domain.TemplateID) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindTemplate(ctx, id)
}

func (m *Memory) SaveTemplate(ctx context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveTemplate(ctx, t)
}

func (m *Memory) FindTask(ctx context.Context, id domain.TaskID) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindTask(ctx, id)
}

func (m *Memory) ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListTasks(ctx, filter)
}

func (m *Memory) CreateTask(ctx context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CreateTask(ctx, t)
}

func (m *Memory) UpdateTask(ctx context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateTask(ctx, t)
}

func (m *Memory) SetTaskStatus(ctx context.Context, id domain.TaskID, from, to domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetTaskStatus(ctx, id, from, to)
}

func (m *Memory) FlagTask(ctx context.Context, id domain.TaskID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FlagTask(ctx, id, reason)
}

func (m *Memory) InsertInbound(ctx context.Context, msg *domain.InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertInbound(ctx, msg)
}

func (m *Memory) FindInboundByHeader(ctx context.Context, headerID string) (*domain.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindInboundByHeader(ctx, headerID)
}

func (m *Memory) ListInbound(ctx context.Context, filter InboundFilter) ([]domain.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListInbound(ctx, filter)
}

func (m *Memory) CountUnaggregated(ctx context.Context, task domain.TaskID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.CountUnaggregated(ctx, task)
}

func (m *Memory) MarkAggregated(ctx context.Context, ids []domain.MessageID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.MarkAggregated(ctx, ids)
}

func (m *Memory) InsertOutbound(ctx context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertOutbound(ctx, msg)
}

func (m *Memory) ListOutbound(ctx context.Context, filter OutboundFilter) ([]domain.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListOutbound(ctx, filter)
}

func (m *Memory) UpdateOutbound(ctx context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateOutbound(ctx, msg)
}

func (m *Memory) InsertAggregation(ctx context.Context, a *domain.Aggregation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertAggregation(ctx, a)
}

func (m *Memory) FindAggregation(ctx context.Context, id domain.AggregationID) (*domain.Aggregation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.FindAggregation(ctx, id)
}

func (m *Memory) ListAggregations(ctx context.Context, task domain.TaskID) ([]domain.Aggregation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ListAggregations(ctx, task)
}

func (m *Memory) Cursor(ctx context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Cursor(ctx, name)
}

func (m *Memory) SetCursor(ctx context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SetCursor(ctx, name, at)
}
