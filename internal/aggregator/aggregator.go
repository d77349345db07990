// Package aggregator merges the latest reply of every teacher into one
// validated workbook and records the run.
package aggregator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/validation"
	"github.com/JaimeStill/tally/pkg/formatting"
	"github.com/JaimeStill/tally/pkg/storage"
)

// Failure reasons recorded for a teacher whose reply yields no row.
const (
	IssueAttachmentMissing    = "attachment missing"
	IssueAttachmentUnreadable = "attachment unreadable"
	IssueNoTemplateFields     = "no template fields"
)

// Plan describes one run.
type Plan struct {
	TriggeredBy string
	Now         time.Time
	// Path is the status sequence the task walks in the commit transaction,
	// e.g. ACTIVE, CLOSED, AGGREGATED. The first entry is the expected
	// current status.
	Path []domain.Status
}

// Aggregator builds aggregation artifacts and commits aggregation records.
type Aggregator struct {
	store   store.Store
	storage storage.System
	logger  *slog.Logger
}

func New(s store.Store, blobs storage.System, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:   s,
		storage: blobs,
		logger:  logger.With("system", "aggregator"),
	}
}

// Run merges every message bound to task, writes the artifact, and commits
// the status path together with the Aggregation record. Nothing is recorded
// when the artifact cannot be written, and the artifact is removed when the
// commit fails.
func (a *Aggregator) Run(ctx context.Context, task *domain.Task, plan Plan) (*domain.Aggregation, error) {
	if len(plan.Path) < 2 {
		return nil, fmt.Errorf("%w: aggregation needs a status path", domain.ErrInvariant)
	}

	tmpl, err := a.store.FindTemplate(ctx, task.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", task.TemplateID, err)
	}

	fields := tmpl.Ordered()
	for _, f := range fields {
		if err := f.Rule.Check(); err != nil {
			return nil, fmt.Errorf("template %s field %s: %w", tmpl.ID, f.Name, err)
		}
	}

	messages, err := a.store.ListInbound(ctx, store.InboundFilter{TaskID: &task.ID})
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}

	latest, considered := authoritative(messages)

	agg := &domain.Aggregation{
		ID:          domain.NewAggregationID(),
		TaskID:      task.ID,
		TriggeredBy: plan.TriggeredBy,
		TriggeredAt: plan.Now,
		Errors:      make(domain.ErrorMap),
		Messages:    considered,
	}

	summary, err := a.merge(ctx, fields, latest, agg)
	if err != nil {
		return nil, err
	}
	agg.RecordCount = len(summary.Rows)
	agg.HasValidationIssues = len(agg.Errors) > 0

	data, err := summary.Bytes()
	if err != nil {
		return nil, fmt.Errorf("render artifact: %w", err)
	}

	key := ArtifactKey(task, agg.ID)
	if _, err := storage.Put(ctx, a.storage, key, data, sheet.ContentType); err != nil {
		return nil, domain.Transient("store artifact", err)
	}
	agg.ArtifactKey = key

	// A re-run keeps the status unchanged, so only the reply flags can tell
	// a concurrent run of the same task apart.
	rerun := plan.Path[0] == plan.Path[len(plan.Path)-1]

	err = a.store.WithinTx(ctx, func(q store.Queries) error {
		for i := 1; i < len(plan.Path); i++ {
			if err := q.SetTaskStatus(ctx, task.ID, plan.Path[i-1], plan.Path[i]); err != nil {
				return err
			}
		}
		if err := q.InsertAggregation(ctx, agg); err != nil {
			return err
		}
		flipped, err := q.MarkAggregated(ctx, agg.Messages)
		if err != nil {
			return err
		}
		if rerun && flipped == 0 {
			return fmt.Errorf("%w: replies already aggregated by a concurrent run", domain.ErrConflict)
		}
		return q.FlagTask(ctx, task.ID, "")
	})
	if err != nil {
		a.discard(ctx, key)
		return nil, fmt.Errorf("commit aggregation: %w", err)
	}

	task.Status = plan.Path[len(plan.Path)-1]
	task.Attention = ""

	a.logger.Info(
		"aggregation recorded",
		"task", task.ID,
		"aggregation", agg.ID,
		"records", agg.RecordCount,
		"issues", agg.HasValidationIssues,
		"size", formatting.FormatBytes(int64(len(data)), 1),
	)

	return agg, nil
}

func (a *Aggregator) merge(ctx context.Context, fields []domain.Field, latest []domain.InboundMessage, agg *domain.Aggregation) (sheet.Summary, error) {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	summary := sheet.Summary{Fields: names}

	for _, msg := range latest {
		teacherID := *msg.TeacherID
		teacherName, err := a.teacherName(ctx, teacherID)
		if err != nil {
			return summary, err
		}

		issue := func(message string) {
			agg.Errors.Add(teacherID, message)
			summary.Issues = append(summary.Issues, sheet.Issue{
				TeacherID:   teacherID.String(),
				TeacherName: teacherName,
				Message:     message,
			})
		}

		att, ok := msg.Workbook()
		if !ok {
			issue(IssueAttachmentMissing)
			continue
		}

		raw, err := storage.Get(ctx, a.storage, att.StorageKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				issue(IssueAttachmentMissing)
				continue
			}
			return summary, domain.Transient("read attachment", err)
		}

		table, err := sheet.Read(raw)
		if err != nil {
			a.logger.Warn("attachment unreadable", "message", msg.ID, "file", att.Filename, "error", err)
			issue(IssueAttachmentUnreadable)
			continue
		}

		rec := table.Extract(names)
		if rec.Matched == 0 {
			issue(IssueNoTemplateFields)
			continue
		}
		if len(table.Rows) > 1 {
			agg.Warnings = append(agg.Warnings, fmt.Sprintf(
				"teacher %s: %s has %d data rows, only the first was used",
				teacherID, att.Filename, len(table.Rows),
			))
		}

		row := sheet.Row{
			TeacherID:   teacherID.String(),
			TeacherName: teacherName,
			Values:      make([]string, len(fields)),
		}
		for i, f := range fields {
			value := rec.Values[f.Name]
			row.Values[i] = value

			verdict := validation.Validate(value, f.Rule)
			if !verdict.OK {
				issue(f.Name + " " + verdict.Reason)
				row.Flagged = true
			}
		}
		summary.Rows = append(summary.Rows, row)
	}

	return summary, nil
}

func (a *Aggregator) teacherName(ctx context.Context, id domain.TeacherID) (string, error) {
	t, err := a.store.FindTeacher(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("load teacher %s: %w", id, err)
	}
	return t.Name, nil
}

func (a *Aggregator) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := a.storage.Delete(ctx, key); err != nil {
		a.logger.Error("failed to remove orphaned artifact", "key", key, "error", err)
	}
}

// ArtifactKey is the storage key of an aggregation's workbook.
func ArtifactKey(task *domain.Task, id domain.AggregationID) string {
	return fmt.Sprintf("aggregations/%s/%s/%s_summary.xlsx", task.ID, id, formatting.SafeFilename(task.Name))
}

// authoritative picks the latest bound message per teacher, ordered by
// teacher id, and returns the ids of every bound message.
func authoritative(messages []domain.InboundMessage) ([]domain.InboundMessage, []domain.MessageID) {
	latest := make(map[domain.TeacherID]domain.InboundMessage)
	considered := make([]domain.MessageID, 0, len(messages))

	for _, m := range messages {
		if m.TeacherID == nil {
			continue
		}
		considered = append(considered, m.ID)

		current, ok := latest[*m.TeacherID]
		if !ok || newer(m, current) {
			latest[*m.TeacherID] = m
		}
	}

	ids := slices.Sorted(maps.Keys(latest))
	result := make([]domain.InboundMessage, len(ids))
	for i, id := range ids {
		result[i] = latest[id]
	}
	return result, considered
}

func newer(a, b domain.InboundMessage) bool {
	if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
		return c > 0
	}
	return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano()) >= 0
}
