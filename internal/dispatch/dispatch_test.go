package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/JaimeStill/tally/internal/dispatch"
	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/mail/mailtest"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/store/storetest"
	"github.com/JaimeStill/tally/internal/validation"
)

func setup(t *testing.T) (*store.Memory, domain.Task) {
	t.Helper()

	s := store.NewMemory()
	storetest.Teacher(t, s, 1000000001, "Ada")
	storetest.Teacher(t, s, 1000000002, "Bob")
	tmpl := storetest.Template(t, s,
		storetest.Field("NAME", validation.KindText, true),
		storetest.Field("PHONE", validation.KindPhone, true),
	)
	task := storetest.Task(t, s, "Fall2025-Workload", tmpl.ID, domain.StatusActive, 1000000001, 1000000002, 1000000009)
	return s, task
}

func TestQueue(t *testing.T) {
	s, task := setup(t)
	ctx := context.Background()

	missing, err := dispatch.Queue(ctx, s, &task)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if !slices.Equal(missing, []domain.TeacherID{1000000009}) {
		t.Errorf("missing = %v, want [1000000009]", missing)
	}

	queued, err := s.ListOutbound(ctx, store.OutboundFilter{TaskID: &task.ID})
	if err != nil {
		t.Fatalf("ListOutbound: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("queued = %d, want 2", len(queued))
	}
	for _, m := range queued {
		if m.Status != domain.DeliveryQueued {
			t.Errorf("status = %s, want QUEUED", m.Status)
		}
		if m.Recipient != storetest.Email(m.TeacherID) {
			t.Errorf("recipient = %s", m.Recipient)
		}
	}
}

func TestFlush(t *testing.T) {
	s, task := setup(t)
	ctx := context.Background()

	if _, err := dispatch.Queue(ctx, s, &task); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	transport := mailtest.New(t.TempDir())
	d := dispatch.New(s, transport, dispatch.Config{MaxRetries: 3, Attempts: 1}, slog.New(slog.DiscardHandler))

	report, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if report.Sent != 2 || report.Failed != 0 {
		t.Errorf("report = %+v, want 2 sent", report)
	}

	sent := transport.Sent()
	if len(sent) != 2 {
		t.Fatalf("transport sent %d, want 2", len(sent))
	}
	for _, m := range sent {
		if !strings.Contains(m.Subject, task.Name) {
			t.Errorf("subject %q lacks task name", m.Subject)
		}
		if len(m.Attachments) != 1 {
			t.Fatalf("attachments = %d, want 1", len(m.Attachments))
		}
		table, err := sheet.Read(m.Attachments[0].Data)
		if err != nil {
			t.Fatalf("template attachment unreadable: %v", err)
		}
		if !slices.Equal(table.Headers, []string{"NAME", "PHONE"}) {
			t.Errorf("template headers = %v", table.Headers)
		}
	}

	messages, _ := s.ListOutbound(ctx, store.OutboundFilter{TaskID: &task.ID})
	for _, m := range messages {
		if m.Status != domain.DeliverySent || m.HeaderID == "" || m.SentAt == nil {
			t.Errorf("message not recorded as sent: %+v", m)
		}
	}

	report, err = d.Flush(ctx)
	if err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	if report.Sent != 0 || len(transport.Sent()) != 2 {
		t.Errorf("second flush resent messages: %+v", report)
	}
}

func TestFlushRetriesUntilExhausted(t *testing.T) {
	s, task := setup(t)
	ctx := context.Background()

	if _, err := dispatch.Queue(ctx, s, &task); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	transport := mailtest.New(t.TempDir())
	transport.Fail(errors.New("connection refused"), nil)
	d := dispatch.New(s, transport, dispatch.Config{MaxRetries: 2, Attempts: 2}, slog.New(slog.DiscardHandler))

	for i := range 3 {
		if _, err := d.Flush(ctx); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
	}

	messages, _ := s.ListOutbound(ctx, store.OutboundFilter{TaskID: &task.ID})
	for _, m := range messages {
		if m.Status != domain.DeliveryFailed {
			t.Errorf("status = %s, want FAILED", m.Status)
		}
		if m.RetryCount != 2 {
			t.Errorf("RetryCount = %d, want 2 (abandoned after max retries)", m.RetryCount)
		}
		if !strings.Contains(m.LastError, "attempt 2") {
			t.Errorf("LastError = %q, want both attempts recorded", m.LastError)
		}
	}

	transport.Fail(nil, nil)
	report, err := d.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("abandoned messages were resent: %+v", report)
	}
}
