package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/ingest"
	"github.com/JaimeStill/tally/internal/mail"
	"github.com/JaimeStill/tally/internal/mail/mailtest"
	"github.com/JaimeStill/tally/internal/matcher"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/store/storetest"
	"github.com/JaimeStill/tally/internal/validation"
	"github.com/JaimeStill/tally/pkg/storage"
)

type fixture struct {
	store     *store.Memory
	blobs     storage.System
	transport *mailtest.Transport
	poller    *ingest.Poller
	task      domain.Task
}

func setup(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	s := store.NewMemory()
	blobs := storage.NewLocal(t.TempDir(), logger)
	transport := mailtest.New(t.TempDir())

	storetest.Teacher(t, s, 1000000001, "Ada")
	tmpl := storetest.Template(t, s,
		storetest.Field("NAME", validation.KindText, true),
		storetest.Field("PHONE", validation.KindPhone, true),
	)
	task := storetest.Task(t, s, "Fall2025-Workload", tmpl.ID, domain.StatusActive, 1000000001)

	return &fixture{
		store:     s,
		blobs:     blobs,
		transport: transport,
		poller:    ingest.New(s, transport, matcher.New(s, logger), blobs, mail.Filter{}, logger),
		task:      task,
	}
}

func workbook(t *testing.T) []byte {
	t.Helper()
	data, err := sheet.Workbook([]string{"NAME", "PHONE"}, []string{"Ada", "13800138000"})
	if err != nil {
		t.Fatalf("Workbook: %v", err)
	}
	return data
}

func TestPoll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	at := storetest.Epoch.Add(time.Hour)

	deliveries := []struct {
		msg   mail.Parsed
		files map[string][]byte
	}{
		{
			msg:   mail.Parsed{MessageID: "<a@school.test>", From: storetest.Email(1000000001), Subject: "Re: Fall2025-Workload", Date: at},
			files: map[string][]byte{"reply.xlsx": workbook(t)},
		},
		{
			msg: mail.Parsed{MessageID: "<b@elsewhere.test>", From: "stranger@elsewhere.test", Subject: "Re: Fall2025-Workload", Date: at.Add(time.Minute)},
		},
		{
			msg: mail.Parsed{From: storetest.Email(1000000001), Subject: "hello", Date: at.Add(2 * time.Minute)},
		},
	}
	for _, d := range deliveries {
		if err := f.transport.Deliver(d.msg, d.files); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	report, err := f.poller.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if report.Fetched != 3 || report.Stored != 3 || report.Unmatched != 2 {
		t.Errorf("report = %+v, want 3 stored, 2 unmatched", report)
	}

	bound, err := f.store.ListInbound(ctx, store.InboundFilter{TaskID: &f.task.ID})
	if err != nil {
		t.Fatalf("ListInbound: %v", err)
	}
	if len(bound) != 1 {
		t.Fatalf("bound = %d, want 1", len(bound))
	}
	reply := bound[0]
	if reply.TeacherID == nil || *reply.TeacherID != 1000000001 || reply.Aggregated {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(reply.Attachments))
	}
	key := reply.Attachments[0].StorageKey
	if !strings.HasPrefix(key, "inbound/"+f.task.ID.String()+"/"+reply.ID.String()+"/") {
		t.Errorf("StorageKey = %s", key)
	}
	if ok, _ := f.blobs.Exists(ctx, key); !ok {
		t.Errorf("attachment %s not stored", key)
	}

	unmatched, err := f.store.ListInbound(ctx, store.InboundFilter{Unmatched: true})
	if err != nil {
		t.Fatalf("ListInbound: %v", err)
	}
	if len(unmatched) != 2 {
		t.Fatalf("unmatched = %d, want 2", len(unmatched))
	}
	stranger := unmatched[0]
	if stranger.TaskID != nil || stranger.TeacherID != nil {
		t.Errorf("unknown sender bound: %+v", stranger)
	}
	if unmatched[1].HeaderID == "" {
		t.Error("message without Message-ID has no synthesized header id")
	}

	cursor, _ := f.store.Cursor(ctx, store.CursorInbox)
	if !cursor.Equal(at.Add(2 * time.Minute)) {
		t.Errorf("cursor = %v, want latest receipt time", cursor)
	}

	report, err = f.poller.Poll(ctx)
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if report.Stored != 0 {
		t.Errorf("second poll stored %d, want 0", report.Stored)
	}
	if report.Duplicates != 1 {
		t.Errorf("second poll duplicates = %d, want 1 (messages at the cursor are refetched)", report.Duplicates)
	}
}

func TestPollFetchFailure(t *testing.T) {
	f := setup(t)
	f.transport.Fail(nil, domain.Transient("imap connect", errors.New("refused")))

	_, err := f.poller.Poll(context.Background())
	if domain.Classify(err) != domain.ClassTransient {
		t.Errorf("Poll error = %v, want transient", err)
	}
}

func TestPollCapsAfterCursor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)
	poller := ingest.New(f.store, f.transport, matcher.New(f.store, logger), f.blobs, mail.Filter{MaxMessages: 2}, logger)
	at := storetest.Epoch.Add(time.Hour)

	deliver := func(offsets ...int) {
		for _, m := range offsets {
			msg := mail.Parsed{
				MessageID: fmt.Sprintf("<m%d@elsewhere.test>", m),
				From:      "stranger@elsewhere.test",
				Subject:   "hello",
				Date:      at.Add(time.Duration(m) * time.Minute),
			}
			if err := f.transport.Deliver(msg, nil); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
		}
	}
	drain := func() int {
		stored := 0
		for range 10 {
			report, err := poller.Poll(ctx)
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if report.Stored == 0 {
				return stored
			}
			stored += report.Stored
		}
		t.Fatal("poll did not settle")
		return stored
	}

	deliver(0, 1, 2)
	if got := drain(); got != 3 {
		t.Fatalf("first drain stored %d, want 3", got)
	}

	deliver(30, 31)
	if got := drain(); got != 2 {
		t.Errorf("second drain stored %d, want 2 (same-day messages behind the cursor must not fill the cap)", got)
	}

	rows, err := f.store.ListInbound(ctx, store.InboundFilter{Unmatched: true})
	if err != nil {
		t.Fatalf("ListInbound: %v", err)
	}
	if len(rows) != 5 {
		t.Errorf("stored = %d, want 5", len(rows))
	}
	cursor, _ := f.store.Cursor(ctx, store.CursorInbox)
	if !cursor.Equal(at.Add(31 * time.Minute)) {
		t.Errorf("cursor = %v, want latest receipt time", cursor)
	}
}

func TestPollMatchesByWorkbookHeaders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	msg := mail.Parsed{
		MessageID: "<c@school.test>",
		From:      storetest.Email(1000000001),
		Subject:   "my form",
		Date:      storetest.Epoch.Add(time.Hour),
	}
	if err := f.transport.Deliver(msg, map[string][]byte{"form.xlsx": workbook(t)}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if _, err := f.poller.Poll(ctx); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	bound, err := f.store.ListInbound(ctx, store.InboundFilter{TaskID: &f.task.ID})
	if err != nil {
		t.Fatalf("ListInbound: %v", err)
	}
	if len(bound) != 1 || !strings.Contains(bound[0].MatchNote, "headers") {
		t.Errorf("bound = %+v, want the reply matched by its header row", bound)
	}
}
