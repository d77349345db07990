package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/store/postgres"
	"github.com/JaimeStill/tally/internal/store/storetest"
	"github.com/JaimeStill/tally/internal/validation"
)

// open connects to the database named by TALLY_TEST_DB_DSN and resets the
// schema. Tests are skipped when the variable is unset.
func open(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("TALLY_TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TALLY_TEST_DB_DSN not set")
	}

	m, err := postgres.Migrator(dsn)
	if err != nil {
		t.Fatalf("Migrator: %v", err)
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("Down: %v", err)
	}
	m.Close()

	logger := slog.New(slog.DiscardHandler)
	if err := postgres.Migrate(dsn, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return postgres.New(db, logger)
}

func seed(t *testing.T, s store.Queries) domain.Task {
	t.Helper()
	storetest.Teacher(t, s, 1000000001, "Ada")
	tmpl := storetest.Template(t, s, storetest.Field("NAME", validation.KindText, true))
	return storetest.Task(t, s, "Fall2025-Workload", tmpl.ID, domain.StatusDraft, 1000000001)
}

func TestTasks(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	task := seed(t, s)

	found, err := s.FindTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindTask: %v", err)
	}
	if found.Name != task.Name || len(found.Targets) != 1 || found.Deadline == nil {
		t.Errorf("FindTask = %+v", found)
	}

	dup := *found
	dup.ID = domain.TaskID{}
	dup.Name = "FALL2025-WORKLOAD"
	if err := s.CreateTask(ctx, &dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate name error = %v, want ErrDuplicate", err)
	}

	edit := *found
	edit.Description = "revised"
	if err := s.UpdateTask(ctx, &edit); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if edit.CreatedBy != task.CreatedBy || edit.UpdatedAt.Before(edit.CreatedAt) {
		t.Errorf("UpdateTask = %+v", edit)
	}

	if err := s.SetTaskStatus(ctx, task.ID, domain.StatusDraft, domain.StatusActive); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := s.UpdateTask(ctx, &edit); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale update error = %v, want ErrConflict", err)
	}
	if err := s.SetTaskStatus(ctx, task.ID, domain.StatusDraft, domain.StatusActive); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("stale swap error = %v, want ErrConflict", err)
	}
	if err := s.SetTaskStatus(ctx, domain.NewTaskID(), domain.StatusDraft, domain.StatusActive); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing task error = %v, want ErrNotFound", err)
	}

	tmpl, err := s.FindTemplate(ctx, task.TemplateID)
	if err != nil {
		t.Fatalf("FindTemplate: %v", err)
	}
	if err := s.SaveTemplate(ctx, tmpl); !errors.Is(err, domain.ErrTemplateLocked) {
		t.Errorf("SaveTemplate error = %v, want ErrTemplateLocked", err)
	}

	active, err := s.ListTasks(ctx, store.TaskFilter{Statuses: []domain.Status{domain.StatusActive}, Search: "fall"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("ListTasks = %d, want 1", len(active))
	}
}

func TestWithinTxRollback(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	task := seed(t, s)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(q store.Queries) error {
		if err := q.FlagTask(ctx, task.ID, "inside"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx = %v, want boom", err)
	}

	found, err := s.FindTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindTask: %v", err)
	}
	if found.Attention != "" {
		t.Errorf("Attention = %q, want rollback", found.Attention)
	}
}

func TestMessages(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	task := seed(t, s)

	reply := storetest.Reply(t, s, task.ID, 1000000001, storetest.Epoch.Add(time.Hour))
	dup := reply
	dup.ID = domain.MessageID{}
	if err := s.InsertInbound(ctx, &dup); !errors.Is(err, domain.ErrDuplicate) {
		t.Errorf("duplicate header error = %v, want ErrDuplicate", err)
	}

	if n, _ := s.CountUnaggregated(ctx, task.ID); n != 1 {
		t.Errorf("unaggregated = %d, want 1", n)
	}
	if n, err := s.MarkAggregated(ctx, []domain.MessageID{reply.ID}); err != nil || n != 1 {
		t.Fatalf("MarkAggregated = %d, %v, want 1 flipped", n, err)
	}
	if n, err := s.MarkAggregated(ctx, []domain.MessageID{reply.ID}); err != nil || n != 0 {
		t.Errorf("second MarkAggregated = %d, %v, want 0 flipped", n, err)
	}
	if n, _ := s.CountUnaggregated(ctx, task.ID); n != 0 {
		t.Errorf("unaggregated = %d, want 0", n)
	}

	out := domain.OutboundMessage{TaskID: task.ID, TeacherID: 1000000001, Recipient: storetest.Email(1000000001)}
	if err := s.InsertOutbound(ctx, &out); err != nil {
		t.Fatalf("InsertOutbound: %v", err)
	}
	out.Status = domain.DeliveryFailed
	out.RetryCount = 3
	if err := s.UpdateOutbound(ctx, &out); err != nil {
		t.Fatalf("UpdateOutbound: %v", err)
	}
	pending, err := s.ListOutbound(ctx, store.OutboundFilter{Pending: true, MaxRetries: 3})
	if err != nil {
		t.Fatalf("ListOutbound: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want exhausted message excluded", len(pending))
	}

	if at, _ := s.Cursor(ctx, store.CursorInbox); !at.IsZero() {
		t.Errorf("cursor = %v, want zero", at)
	}
	if err := s.SetCursor(ctx, store.CursorInbox, storetest.Epoch); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	if at, _ := s.Cursor(ctx, store.CursorInbox); !at.Equal(storetest.Epoch) {
		t.Errorf("cursor = %v, want %v", at, storetest.Epoch)
	}
}

func TestAggregations(t *testing.T) {
	s := open(t)
	ctx := context.Background()
	task := seed(t, s)

	errs := domain.ErrorMap{}
	errs.Add(1000000001, "NAME required")
	agg := domain.Aggregation{
		TaskID:              task.ID,
		TriggeredBy:         "scheduler",
		TriggeredAt:         storetest.Epoch,
		HasValidationIssues: true,
		Errors:              errs,
		ArtifactKey:         "aggregations/x.xlsx",
		Messages:            []domain.MessageID{domain.NewMessageID()},
	}
	if err := s.InsertAggregation(ctx, &agg); err != nil {
		t.Fatalf("InsertAggregation: %v", err)
	}

	found, err := s.FindAggregation(ctx, agg.ID)
	if err != nil {
		t.Fatalf("FindAggregation: %v", err)
	}
	if len(found.Errors[1000000001]) != 1 || len(found.Messages) != 1 || found.Messages[0] != agg.Messages[0] {
		t.Errorf("FindAggregation = %+v", found)
	}

	list, err := s.ListAggregations(ctx, task.ID)
	if err != nil {
		t.Fatalf("ListAggregations: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ListAggregations = %d, want 1", len(list))
	}
}
