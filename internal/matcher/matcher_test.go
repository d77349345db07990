package matcher_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/matcher"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/store/storetest"
	"github.com/JaimeStill/tally/internal/validation"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Fall2025-Workload", "Fall2025-Workload"},
		{"Re: Fall2025-Workload", "Fall2025-Workload"},
		{"RE:  FW: fwd:Fall2025-Workload", "Fall2025-Workload"},
		{"回复：Fall2025-Workload", "Fall2025-Workload"},
		{"答复: 转发: Fall2025-Workload  reply", "Fall2025-Workload reply"},
		{"[External] Re: AW: SV: Fall2025-Workload", "Fall2025-Workload"},
		{"Regarding Fall2025", "Regarding Fall2025"},
		{"  spaced   out  ", "spaced out"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := matcher.NormalizeSubject(tt.in); got != tt.want {
				t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fixture struct {
	store   *store.Memory
	matcher *matcher.Matcher
	tmpl    domain.Template
}

func setup(t *testing.T) fixture {
	t.Helper()

	s := store.NewMemory()
	storetest.Teacher(t, s, 1000000001, "Ada")
	storetest.Teacher(t, s, 1000000002, "Bob")
	storetest.Teacher(t, s, 1000000003, "Cy")

	tmpl := storetest.Template(t, s,
		storetest.Field("NAME", validation.KindText, true),
		storetest.Field("PHONE", validation.KindPhone, true),
	)

	return fixture{
		store:   s,
		matcher: matcher.New(s, slog.New(slog.DiscardHandler)),
		tmpl:    tmpl,
	}
}

func TestMatchOutcomes(t *testing.T) {
	f := setup(t)
	task := storetest.Task(t, f.store, "Fall2025-Workload", f.tmpl.ID, domain.StatusActive, 1000000001, 1000000002)

	tests := []struct {
		name    string
		msg     matcher.Message
		outcome matcher.Outcome
		task    bool
		teacher bool
	}{
		{
			name:    "matched",
			msg:     matcher.Message{Sender: "T1000000001@School.test", Subject: "Re: fall2025-workload"},
			outcome: matcher.OutcomeMatched,
			task:    true,
			teacher: true,
		},
		{
			name:    "unknown sender",
			msg:     matcher.Message{Sender: "stranger@example.com", Subject: "Re: Fall2025-Workload"},
			outcome: matcher.OutcomeUnknownSender,
		},
		{
			name:    "no task",
			msg:     matcher.Message{Sender: storetest.Email(1000000001), Subject: "Lunch?"},
			outcome: matcher.OutcomeNoTask,
			teacher: true,
		},
		{
			name:    "not a target",
			msg:     matcher.Message{Sender: storetest.Email(1000000003), Subject: "Re: Fall2025-Workload"},
			outcome: matcher.OutcomeNotTarget,
			teacher: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.matcher.Match(context.Background(), tt.msg)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}

			if res.Outcome != tt.outcome {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.outcome)
			}
			if (res.TaskID != nil) != tt.task {
				t.Errorf("TaskID set = %v, want %v", res.TaskID != nil, tt.task)
			}
			if tt.task && *res.TaskID != task.ID {
				t.Errorf("TaskID = %s, want %s", res.TaskID, task.ID)
			}
			if (res.TeacherID != nil) != tt.teacher {
				t.Errorf("TeacherID set = %v, want %v", res.TeacherID != nil, tt.teacher)
			}
			if res.Note == "" {
				t.Error("Note is empty")
			}
		})
	}
}

func TestMatchTieBreak(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	storetest.Task(t, f.store, "Survey", f.tmpl.ID, domain.StatusAggregated, 1000000001)
	active := storetest.Task(t, f.store, "Survey Spring", f.tmpl.ID, domain.StatusActive, 1000000001)

	res, err := f.matcher.Match(ctx, matcher.Message{
		Sender:  storetest.Email(1000000001),
		Subject: "Re: Survey Spring",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if res.Outcome != matcher.OutcomeMatched || *res.TaskID != active.ID {
		t.Fatalf("longer name not preferred: %+v", res)
	}

	// Two unrelated names in one subject: ACTIVE wins, then latest publish.
	later := storetest.Epoch.Add(24 * time.Hour)
	closed := domain.Task{
		Name: "Budget", TemplateID: f.tmpl.ID, PublishAt: later,
		Status: domain.StatusClosed, Targets: []domain.TeacherID{1000000001},
	}
	if err := f.store.CreateTask(ctx, &closed); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	res, err = f.matcher.Match(ctx, matcher.Message{
		Sender:  storetest.Email(1000000001),
		Subject: "Budget and Survey Spring",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if *res.TaskID != active.ID {
		t.Errorf("TaskID = %s, want ACTIVE task %s", res.TaskID, active.ID)
	}
	if !strings.Contains(res.Note, "rejected") || !strings.Contains(res.Note, "Budget") {
		t.Errorf("Note = %q, want rejected candidates listed", res.Note)
	}

	if err := f.store.SetTaskStatus(ctx, active.ID, domain.StatusActive, domain.StatusClosed); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	res, err = f.matcher.Match(ctx, matcher.Message{
		Sender:  storetest.Email(1000000001),
		Subject: "Budget and Survey Spring",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if *res.TaskID != closed.ID {
		t.Errorf("TaskID = %s, want latest published task %s", res.TaskID, closed.ID)
	}
}

func TestMatchHeaderFallback(t *testing.T) {
	f := setup(t)
	task := storetest.Task(t, f.store, "Fall2025-Workload", f.tmpl.ID, domain.StatusActive, 1000000001)

	tests := []struct {
		name    string
		headers []string
		outcome matcher.Outcome
	}{
		{"superset", []string{"NAME", "PHONE", "NOTES"}, matcher.OutcomeMatched},
		{"missing field", []string{"NAME"}, matcher.OutcomeNoTask},
		{"empty header row", []string{}, matcher.OutcomeNoTask},
		{"no workbook", nil, matcher.OutcomeNoTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := matcher.Message{Sender: storetest.Email(1000000001), Subject: "see attached"}
			if tt.headers != nil {
				msg.Sheet = &sheet.Table{Headers: tt.headers}
			}
			res, err := f.matcher.Match(context.Background(), msg)
			if err != nil {
				t.Fatalf("Match: %v", err)
			}
			if res.Outcome != tt.outcome {
				t.Fatalf("Outcome = %s, want %s", res.Outcome, tt.outcome)
			}
			if tt.outcome == matcher.OutcomeMatched && *res.TaskID != task.ID {
				t.Errorf("TaskID = %s, want %s", res.TaskID, task.ID)
			}
		})
	}
}
