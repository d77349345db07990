package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusDraft              Status = "DRAFT"
	StatusActive             Status = "ACTIVE"
	StatusClosed             Status = "CLOSED"
	StatusAggregated         Status = "AGGREGATED"
	StatusNeedsReaggregation Status = "NEEDS_REAGGREGATION"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDraft,
	StatusActive,
	StatusClosed,
	StatusAggregated,
	StatusNeedsReaggregation,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// Editable reports whether task content may still be changed in this status.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusActive
}

// MailContent is the subject and body sent to every target teacher.
type MailContent struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Task is one data-collection campaign bound to a template and a teacher set.
type Task struct {
	ID          TaskID      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	TemplateID  TemplateID  `json:"template_id"`
	PublishAt   time.Time   `json:"publish_at"`
	Deadline    *time.Time  `json:"deadline,omitempty"`
	Status      Status      `json:"status"`
	Targets     []TeacherID `json:"targets"`
	Mail        MailContent `json:"mail"`
	CreatedBy   string      `json:"created_by"`
	Attention   string      `json:"attention,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks the invariants every persisted task must satisfy.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: task name required", ErrInvariant)
	}
	if t.PublishAt.IsZero() {
		return fmt.Errorf("%w: publish time required", ErrInvariant)
	}
	if t.Deadline != nil && !t.Deadline.After(t.PublishAt) {
		return ErrDeadlineBeforePublish
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariant, t.Status)
	}
	return nil
}

// Targeting reports whether teacher is among the task's target set.
func (t *Task) Targeting(teacher TeacherID) bool {
	return slices.Contains(t.Targets, teacher)
}

// Subject returns the outbound subject, guaranteed to contain the task name
// so that replies can be matched back to the task.
func (t *Task) Subject() string {
	subject := strings.TrimSpace(t.Mail.Subject)
	if subject == "" {
		return t.Name
	}
	if !strings.Contains(strings.ToLower(subject), strings.ToLower(t.Name)) {
		return fmt.Sprintf("%s - %s", t.Name, subject)
	}
	return subject
}
