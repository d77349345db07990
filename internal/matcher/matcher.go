// Package matcher binds an inbound reply to the task and teacher it answers.
package matcher

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
)

// Outcome is the result category of a match attempt.
type Outcome string

const (
	OutcomeMatched       Outcome = "matched"
	OutcomeUnknownSender Outcome = "unknown_sender"
	OutcomeNoTask        Outcome = "no_task"
	OutcomeNotTarget     Outcome = "not_target"
)

// Message is the part of an inbound message the matcher inspects.
// Sheet is the first spreadsheet attachment, if any.
type Message struct {
	Sender  string
	Subject string
	Sheet   *sheet.Table
}

// Result is the binding decision. TaskID and TeacherID are set only for
// OutcomeMatched; TeacherID is also set when the sender is known but no
// task could be chosen.
type Result struct {
	Outcome   Outcome
	TaskID    *domain.TaskID
	TeacherID *domain.TeacherID
	Note      string
}

// Matcher resolves inbound messages against persisted teachers and tasks.
type Matcher struct {
	q      store.Queries
	logger *slog.Logger
}

func New(q store.Queries, logger *slog.Logger) *Matcher {
	return &Matcher{
		q:      q,
		logger: logger.With("system", "matcher"),
	}
}

// Match never fails for data problems: an unknown sender or an unrelated
// subject yields an unmatched Result. Only persistence errors are returned.
func (m *Matcher) Match(ctx context.Context, msg Message) (Result, error) {
	teacher, err := m.q.FindTeacherByEmail(ctx, msg.Sender)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Result{
				Outcome: OutcomeUnknownSender,
				Note:    fmt.Sprintf("sender %s is not a known teacher", msg.Sender),
			}, nil
		}
		return Result{}, fmt.Errorf("resolve sender: %w", err)
	}
	teacherID := teacher.ID

	tasks, err := m.q.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return Result{}, fmt.Errorf("list tasks: %w", err)
	}

	subject := NormalizeSubject(msg.Subject)
	named := bySubject(tasks, subject)

	if len(named) == 0 {
		if msg.Sheet != nil {
			fallback, err := m.byHeaders(ctx, tasks, teacherID, msg.Sheet)
			if err != nil {
				return Result{}, err
			}
			if len(fallback) > 0 {
				return choose(fallback, teacherID, "matched by attachment headers"), nil
			}
		}
		return Result{
			Outcome:   OutcomeNoTask,
			TeacherID: &teacherID,
			Note:      fmt.Sprintf("no task named in subject %q", subject),
		}, nil
	}

	targeting := make([]domain.Task, 0, len(named))
	for _, t := range named {
		if t.Targeting(teacherID) {
			targeting = append(targeting, t)
		}
	}

	if len(targeting) == 0 {
		return Result{
			Outcome:   OutcomeNotTarget,
			TeacherID: &teacherID,
			Note:      fmt.Sprintf("teacher %s is not a target of %s", teacherID, names(named)),
		}, nil
	}

	return choose(targeting, teacherID, "matched by subject"), nil
}

func (m *Matcher) byHeaders(ctx context.Context, tasks []domain.Task, teacher domain.TeacherID, table *sheet.Table) ([]domain.Task, error) {
	var found []domain.Task
	for _, t := range tasks {
		if !t.Targeting(teacher) {
			continue
		}

		tmpl, err := m.q.FindTemplate(ctx, t.TemplateID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				m.logger.Warn("task template missing", "task", t.ID, "template", t.TemplateID)
				continue
			}
			return nil, fmt.Errorf("load template %s: %w", t.TemplateID, err)
		}

		if table.HasHeaders(tmpl.Headers()) {
			found = append(found, t)
		}
	}
	return found, nil
}

// choose applies the tie-break to candidates that all target the teacher:
// ACTIVE first, then the latest publish time, then the lowest task id.
func choose(candidates []domain.Task, teacher domain.TeacherID, how string) Result {
	slices.SortFunc(candidates, func(a, b domain.Task) int {
		aActive, bActive := a.Status == domain.StatusActive, b.Status == domain.StatusActive
		if aActive != bActive {
			if aActive {
				return -1
			}
			return 1
		}
		if c := b.PublishAt.Compare(a.PublishAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	chosen := candidates[0]
	note := fmt.Sprintf("%s: %s", how, label(chosen))
	if len(candidates) > 1 {
		note += fmt.Sprintf("; rejected %s", names(candidates[1:]))
	}

	return Result{
		Outcome:   OutcomeMatched,
		TaskID:    &chosen.ID,
		TeacherID: &teacher,
		Note:      note,
	}
}

// bySubject returns the tasks whose name appears in the normalized subject.
// A name contained in a longer matching name is dropped in favour of it.
func bySubject(tasks []domain.Task, subject string) []domain.Task {
	lower := strings.ToLower(subject)

	var named []domain.Task
	for _, t := range tasks {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name != "" && strings.Contains(lower, name) {
			named = append(named, t)
		}
	}

	return slices.DeleteFunc(slices.Clone(named), func(t domain.Task) bool {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		for _, o := range named {
			other := strings.ToLower(strings.TrimSpace(o.Name))
			if len(other) > len(name) && strings.Contains(other, name) {
				return true
			}
		}
		return false
	})
}

var prefixPattern = regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd|fw|aw|sv|回复|答复|转发)\s*[:：]|\[[^\]]*\])\s*`)

// NormalizeSubject strips repeated reply and forward prefixes and bracketed
// tags from the front of subject and collapses whitespace.
func NormalizeSubject(subject string) string {
	for {
		stripped := prefixPattern.ReplaceAllString(subject, "")
		if stripped == subject {
			break
		}
		subject = stripped
	}
	return strings.Join(strings.Fields(subject), " ")
}

func label(t domain.Task) string {
	return fmt.Sprintf("%s (%s, %s)", t.Name, t.ID, t.Status)
}

func names(tasks []domain.Task) string {
	labels := make([]string, len(tasks))
	for i, t := range tasks {
		labels[i] = label(t)
	}
	return strings.Join(labels, ", ")
}
