package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/tally/internal/domain"
)

var (
	_ Store   = (*Memory)(nil)
	_ Queries = (*data)(nil)
)

// Memory is an in-process Store. Transactions run against a copy of the
// data set and replace it on success, serialized by a single mutex.
type Memory struct {
	mu   sync.Mutex
	data *data
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newData()}
}

func (m *Memory) WithinTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := m.data.clone()
	if err := fn(work); err != nil {
		return err
	}

	m.data = work
	return nil
}

type data struct {
	teachers     map[domain.TeacherID]domain.Teacher
	templates    map[domain.TemplateID]domain.Template
	tasks        map[domain.TaskID]domain.Task
	inbound      []domain.InboundMessage
	outbound     []domain.OutboundMessage
	aggregations []domain.Aggregation
	cursors      map[string]time.Time
}

func newData() *data {
	return &data{
		teachers:  make(map[domain.TeacherID]domain.Teacher),
		templates: make(map[domain.TemplateID]domain.Template),
		tasks:     make(map[domain.TaskID]domain.Task),
		cursors:   make(map[string]time.Time),
	}
}

// clone copies the containers. Stored values are copied on every read and
// write, so entities themselves can be shared between generations.
func (d *data) clone() *data {
	return &data{
		teachers:     maps.Clone(d.teachers),
		templates:    maps.Clone(d.templates),
		tasks:        maps.Clone(d.tasks),
		inbound:      slices.Clone(d.inbound),
		outbound:     slices.Clone(d.outbound),
		aggregations: slices.Clone(d.aggregations),
		cursors:      maps.Clone(d.cursors),
	}
}

func now() time.Time {
	return time.Now().UTC()
}

func (d *data) FindTeacher(_ context.Context, id domain.TeacherID) (*domain.Teacher, error) {
	t, ok := d.teachers[id]
	if !ok {
		return nil, fmt.Errorf("teacher %s: %w", id, domain.ErrNotFound)
	}
	return &t, nil
}

func (d *data) FindTeacherByEmail(_ context.Context, email string) (*domain.Teacher, error) {
	email = normalizeEmail(email)
	for _, t := range d.teachers {
		if normalizeEmail(t.Email) == email {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("teacher %s: %w", email, domain.ErrNotFound)
}

func (d *data) ListTeachers(_ context.Context) ([]domain.Teacher, error) {
	teachers := slices.Collect(maps.Values(d.teachers))
	slices.SortFunc(teachers, func(a, b domain.Teacher) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return teachers, nil
}

func (d *data) SaveTeacher(_ context.Context, t *domain.Teacher) error {
	email := normalizeEmail(t.Email)
	for _, existing := range d.teachers {
		if existing.ID != t.ID && normalizeEmail(existing.Email) == email {
			return fmt.Errorf("teacher email %s: %w", t.Email, domain.ErrDuplicate)
		}
	}
	d.teachers[t.ID] = *t
	return nil
}

func (d *data) FindTemplate(_ context.Context, id domain.TemplateID) (*domain.Template, error) {
	t, ok := d.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	t.Fields = slices.Clone(t.Fields)
	return &t, nil
}

func (d *data) SaveTemplate(_ context.Context, t *domain.Template) error {
	if _, exists := d.templates[t.ID]; exists {
		for _, task := range d.tasks {
			if task.TemplateID == t.ID && task.Status != domain.StatusDraft {
				return fmt.Errorf("template %s: %w", t.ID, domain.ErrTemplateLocked)
			}
		}
	}
	if t.ID.UUID == uuid.Nil {
		t.ID = domain.NewTemplateID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now()
	}
	stored := *t
	stored.Fields = slices.Clone(t.Fields)
	d.templates[t.ID] = stored
	return nil
}

func (d *data) FindTask(_ context.Context, id domain.TaskID) (*domain.Task, error) {
	t, ok := d.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return copyTask(t), nil
}

func (d *data) ListTasks(_ context.Context, filter TaskFilter) ([]domain.Task, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	tasks := make([]domain.Task, 0)
	for _, t := range d.tasks {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) {
			continue
		}
		tasks = append(tasks, *copyTask(t))
	}
	slices.SortFunc(tasks, func(a, b domain.Task) int {
		if c := a.PublishAt.Compare(b.PublishAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return tasks, nil
}

func (d *data) CreateTask(_ context.Context, t *domain.Task) error {
	if t.Status == "" {
		t.Status = domain.StatusDraft
	}
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := d.templates[t.TemplateID]; !ok {
		return fmt.Errorf("template %s: %w", t.TemplateID, domain.ErrNotFound)
	}
	for _, existing := range d.tasks {
		if strings.EqualFold(existing.Name, t.Name) {
			return fmt.Errorf("task name %q: %w", t.Name, domain.ErrDuplicate)
		}
	}
	if t.ID.UUID == uuid.Nil {
		t.ID = domain.NewTaskID()
	}
	ts := now()
	t.CreatedAt, t.UpdatedAt = ts, ts
	d.tasks[t.ID] = *copyTask(*t)
	return nil
}

func (d *data) UpdateTask(_ context.Context, t *domain.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	stored, ok := d.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	if stored.Status != t.Status {
		return fmt.Errorf("task %s is %s, expected %s: %w", t.ID, stored.Status, t.Status, domain.ErrConflict)
	}
	if _, ok := d.templates[t.TemplateID]; !ok {
		return fmt.Errorf("template %s: %w", t.TemplateID, domain.ErrNotFound)
	}
	for id, existing := range d.tasks {
		if id != t.ID && strings.EqualFold(existing.Name, t.Name) {
			return fmt.Errorf("task name %q: %w", t.Name, domain.ErrDuplicate)
		}
	}

	stored.Name = t.Name
	stored.Description = t.Description
	stored.TemplateID = t.TemplateID
	stored.PublishAt = t.PublishAt
	stored.Deadline = t.Deadline
	stored.Targets = t.Targets
	stored.Mail = t.Mail
	stored.UpdatedAt = now()
	d.tasks[t.ID] = *copyTask(stored)

	*t = *copyTask(stored)
	return nil
}

func (d *data) SetTaskStatus(_ context.Context, id domain.TaskID, from, to domain.Status) error {
	t, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status != from {
		return fmt.Errorf("task %s is %s, expected %s: %w", id, t.Status, from, domain.ErrConflict)
	}
	t.Status = to
	t.UpdatedAt = now()
	d.tasks[id] = t
	return nil
}

func (d *data) FlagTask(_ context.Context, id domain.TaskID, reason string) error {
	t, ok := d.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	t.Attention = reason
	t.UpdatedAt = now()
	d.tasks[id] = t
	return nil
}

func (d *data) InsertInbound(_ context.Context, m *domain.InboundMessage) error {
	if m.HeaderID != "" {
		for _, existing := range d.inbound {
			if existing.HeaderID == m.HeaderID {
				return fmt.Errorf("inbound %s: %w", m.HeaderID, domain.ErrDuplicate)
			}
		}
	}
	if m.ID.UUID == uuid.Nil {
		m.ID = domain.NewMessageID()
	}
	m.CreatedAt = now()
	stored := *m
	stored.Attachments = slices.Clone(m.Attachments)
	d.inbound = append(d.inbound, stored)
	return nil
}

func (d *data) FindInboundByHeader(_ context.Context, headerID string) (*domain.InboundMessage, error) {
	for _, m := range d.inbound {
		if headerID != "" && m.HeaderID == headerID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("inbound %s: %w", headerID, domain.ErrNotFound)
}

func (d *data) ListInbound(_ context.Context, filter InboundFilter) ([]domain.InboundMessage, error) {
	messages := make([]domain.InboundMessage, 0)
	for _, m := range d.inbound {
		if filter.TaskID != nil && (m.TaskID == nil || *m.TaskID != *filter.TaskID) {
			continue
		}
		if filter.Unmatched && m.Matched() {
			continue
		}
		m.Attachments = slices.Clone(m.Attachments)
		messages = append(messages, m)
	}
	slices.SortStableFunc(messages, func(a, b domain.InboundMessage) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return messages, nil
}

func (d *data) CountUnaggregated(_ context.Context, task domain.TaskID) (int, error) {
	count := 0
	for _, m := range d.inbound {
		if m.TaskID != nil && *m.TaskID == task && !m.Aggregated {
			count++
		}
	}
	return count, nil
}

func (d *data) MarkAggregated(_ context.Context, ids []domain.MessageID) (int, error) {
	flipped := 0
	for _, id := range ids {
		i := slices.IndexFunc(d.inbound, func(m domain.InboundMessage) bool {
			return m.ID == id
		})
		if i < 0 {
			return flipped, fmt.Errorf("inbound %s: %w", id, domain.ErrNotFound)
		}
		if !d.inbound[i].Aggregated {
			d.inbound[i].Aggregated = true
			flipped++
		}
	}
	return flipped, nil
}

func (d *data) InsertOutbound(_ context.Context, m *domain.OutboundMessage) error {
	if m.ID.UUID == uuid.Nil {
		m.ID = domain.NewMessageID()
	}
	if m.Status == "" {
		m.Status = domain.DeliveryQueued
	}
	ts := now()
	m.CreatedAt, m.UpdatedAt = ts, ts
	d.outbound = append(d.outbound, *m)
	return nil
}

func (d *data) ListOutbound(_ context.Context, filter OutboundFilter) ([]domain.OutboundMessage, error) {
	messages := make([]domain.OutboundMessage, 0)
	for _, m := range d.outbound {
		if filter.TaskID != nil && m.TaskID != *filter.TaskID {
			continue
		}
		if filter.Pending {
			if m.Status == domain.DeliverySent {
				continue
			}
			if m.Status == domain.DeliveryFailed && filter.MaxRetries > 0 && m.RetryCount >= filter.MaxRetries {
				continue
			}
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (d *data) UpdateOutbound(_ context.Context, m *domain.OutboundMessage) error {
	i := slices.IndexFunc(d.outbound, func(o domain.OutboundMessage) bool {
		return o.ID == m.ID
	})
	if i < 0 {
		return fmt.Errorf("outbound %s: %w", m.ID, domain.ErrNotFound)
	}
	m.UpdatedAt = now()
	d.outbound[i] = *m
	return nil
}

func (d *data) InsertAggregation(_ context.Context, a *domain.Aggregation) error {
	if a.ID.UUID == uuid.Nil {
		a.ID = domain.NewAggregationID()
	}
	stored := *a
	stored.Errors = maps.Clone(a.Errors)
	stored.Messages = slices.Clone(a.Messages)
	stored.Warnings = slices.Clone(a.Warnings)
	d.aggregations = append(d.aggregations, stored)
	return nil
}

func (d *data) FindAggregation(_ context.Context, id domain.AggregationID) (*domain.Aggregation, error) {
	for _, a := range d.aggregations {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("aggregation %s: %w", id, domain.ErrNotFound)
}

func (d *data) ListAggregations(_ context.Context, task domain.TaskID) ([]domain.Aggregation, error) {
	result := make([]domain.Aggregation, 0)
	for _, a := range d.aggregations {
		if a.TaskID == task {
			result = append(result, a)
		}
	}
	return result, nil
}

func (d *data) Cursor(_ context.Context, name string) (time.Time, error) {
	return d.cursors[name], nil
}

func (d *data) SetCursor(_ context.Context, name string, at time.Time) error {
	d.cursors[name] = at
	return nil
}

func copyTask(t domain.Task) *domain.Task {
	t.Targets = slices.Clone(t.Targets)
	if t.Deadline != nil {
		deadline := *t.Deadline
		t.Deadline = &deadline
	}
	return &t
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
