package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
)

// Patch carries the task fields to change. Nil fields keep their value.
type Patch struct {
	Name        *string
	Description *string
	TemplateID  *domain.TemplateID
	PublishAt   *time.Time
	Deadline    *time.Time
	Targets     []domain.TeacherID
	Mail        *domain.MailContent
}

// Edit applies patch to a DRAFT or ACTIVE task under the task's lock. Once a
// task is ACTIVE its invitations are out, so only the description and the
// deadline may change.
func (m *Machine) Edit(ctx context.Context, id domain.TaskID, patch Patch) (*domain.Task, error) {
	release, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	task, err := m.store.FindTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.Status.Editable() {
		return nil, fmt.Errorf("%w: %s task %s cannot be edited", domain.ErrConflict, task.Status, id)
	}
	if err := patch.apply(task); err != nil {
		return nil, err
	}
	if err := m.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	m.logger.Info("task edited", "task", task.ID, "status", task.Status)
	return task, nil
}

func (p Patch) apply(t *domain.Task) error {
	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
	}

	if t.Status != domain.StatusDraft {
		switch {
		case p.TemplateID != nil && *p.TemplateID != t.TemplateID:
			return fmt.Errorf("task %s: %w", t.ID, domain.ErrTemplateLocked)
		case p.Name != nil && name != t.Name,
			p.PublishAt != nil && !p.PublishAt.Equal(t.PublishAt),
			p.Targets != nil && !slices.Equal(p.Targets, t.Targets),
			p.Mail != nil && *p.Mail != t.Mail:
			return fmt.Errorf("%w: only description and deadline change on a %s task", domain.ErrConflict, t.Status)
		}
	}

	if p.Name != nil {
		t.Name = name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.TemplateID != nil {
		t.TemplateID = *p.TemplateID
	}
	if p.PublishAt != nil {
		t.PublishAt = p.PublishAt.UTC()
	}
	if p.Deadline != nil {
		deadline := p.Deadline.UTC()
		t.Deadline = &deadline
	}
	if p.Targets != nil {
		t.Targets = slices.Clone(p.Targets)
	}
	if p.Mail != nil {
		t.Mail = *p.Mail
	}
	return nil
}
