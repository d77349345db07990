package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/tally/internal/api"
	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store/storetest"
	"github.com/JaimeStill/tally/pkg/module"
	"github.com/JaimeStill/tally/pkg/pagination"
	"github.com/JaimeStill/tally/pkg/storage"
)

type fixture struct {
	infra  *infrastructure.Infrastructure
	router *module.Router
}

func setup(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Store.Driver = config.DriverMemory
	cfg.Storage.Provider = storage.ProviderLocal
	cfg.Storage.Root = t.TempDir()
	cfg.Scheduler.LockBackend = config.LockLocal
	cfg.API.BasePath = "/api"
	cfg.API.MaxBodySize = "64KB"
	cfg.API.Pagination = pagination.Config{DefaultPageSize: 20, MaxPageSize: 100}

	infra, err := infrastructure.NewWithLogger(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("infrastructure: %v", err)
	}

	m, err := api.NewModule(cfg, infra, api.NewDomain(cfg, infra))
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}

	router := module.NewRouter()
	router.Mount(m)

	storetest.Teacher(t, infra.Store, 1000000001, "Ada")
	return &fixture{infra: infra, router: router}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (f *fixture) template(t *testing.T) domain.Template {
	t.Helper()
	rec := f.do(t, "POST", "/api/templates", map[string]any{
		"name": "workload",
		"fields": []map[string]any{
			{"name": "NAME", "order": 0, "rule": map[string]any{"kind": "TEXT", "required": true}},
			{"name": "PHONE", "order": 1, "rule": map[string]any{"kind": "PHONE"}},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create template status = %d: %s", rec.Code, rec.Body)
	}
	return decode[domain.Template](t, rec)
}

func taskBody(name string, tmpl domain.TemplateID, deadline time.Time) api.CreateTaskRequest {
	return api.CreateTaskRequest{
		Name:       name,
		TemplateID: tmpl,
		PublishAt:  storetest.Epoch,
		Deadline:   &deadline,
		Targets:    []domain.TeacherID{1000000001},
		Mail:       domain.MailContent{Subject: "Workload", Body: "Please reply."},
		CreatedBy:  "secretary",
	}
}

func TestCreateTask(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	week := storetest.Epoch.Add(7 * 24 * time.Hour)

	rec := f.do(t, "POST", "/api/tasks", taskBody("Fall2025-Workload", tmpl.ID, week))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	task := decode[domain.Task](t, rec)
	if task.Status != domain.StatusDraft {
		t.Errorf("status = %s, want DRAFT", task.Status)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate name", taskBody("fall2025-workload", tmpl.ID, week), http.StatusConflict},
		{"deadline before publish", taskBody("Early", tmpl.ID, storetest.Epoch.Add(-time.Hour)), http.StatusUnprocessableEntity},
		{"unknown template", taskBody("Orphan", domain.NewTemplateID(), week), http.StatusNotFound},
		{"unknown field", map[string]any{"name": "x", "color": "red"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "POST", "/api/tasks", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestListTasks(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusDraft, 1000000001)
	storetest.Task(t, f.infra.Store, "Spring2026-Survey", tmpl.ID, domain.StatusActive, 1000000001)
	storetest.Task(t, f.infra.Store, "Summer2026-Leave", tmpl.ID, domain.StatusClosed, 1000000001)

	tests := []struct {
		name   string
		query  string
		status int
		total  int
		first  string
	}{
		{"all", "", http.StatusOK, 3, ""},
		{"one status", "?status=ACTIVE", http.StatusOK, 1, "Spring2026-Survey"},
		{"comma separated", "?status=draft,closed", http.StatusOK, 2, ""},
		{"repeated", "?status=DRAFT&status=ACTIVE", http.StatusOK, 2, ""},
		{"search", "?search=survey", http.StatusOK, 1, "Spring2026-Survey"},
		{"sorted descending", "?sort=-name", http.StatusOK, 3, "Summer2026-Leave"},
		{"unknown status", "?status=OPEN", http.StatusBadRequest, 0, ""},
		{"unknown sort", "?sort=priority", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "GET", "/api/tasks"+tt.query, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body)
			}
			if tt.status != http.StatusOK {
				return
			}
			page := decode[pagination.PageResult[domain.Task]](t, rec)
			if page.Total != tt.total {
				t.Errorf("total = %d, want %d", page.Total, tt.total)
			}
			if tt.first != "" && (len(page.Data) == 0 || page.Data[0].Name != tt.first) {
				t.Errorf("first = %v, want %s", page.Data, tt.first)
			}
		})
	}
}

func TestFindTask(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	task := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusDraft, 1000000001)

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"found", task.ID.String(), http.StatusOK},
		{"missing", domain.NewTaskID().String(), http.StatusNotFound},
		{"malformed", "not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "GET", "/api/tasks/"+tt.id, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestUpdateTask(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	draft := storetest.Task(t, f.infra.Store, "Spring2026-Survey", tmpl.ID, domain.StatusDraft, 1000000001)
	active := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusActive, 1000000001)
	closed := storetest.Task(t, f.infra.Store, "Summer2026-Leave", tmpl.ID, domain.StatusClosed, 1000000001)
	later := storetest.Epoch.Add(10 * 24 * time.Hour)

	tests := []struct {
		name string
		id   string
		body string
		want int
	}{
		{"draft rename", draft.ID.String(), `{"name":"Spring2026-Leave"}`, http.StatusOK},
		{"active deadline", active.ID.String(), fmt.Sprintf(`{"deadline":%q}`, later.Format(time.RFC3339)), http.StatusOK},
		{"active rename", active.ID.String(), `{"name":"Renamed"}`, http.StatusConflict},
		{"closed", closed.ID.String(), `{"description":"late"}`, http.StatusConflict},
		{"duplicate name", draft.ID.String(), `{"name":"fall2025-workload"}`, http.StatusConflict},
		{"deadline before publish", draft.ID.String(), `{"deadline":"2020-01-01T00:00:00Z"}`, http.StatusUnprocessableEntity},
		{"missing", domain.NewTaskID().String(), `{"description":"x"}`, http.StatusNotFound},
		{"malformed id", "not-a-uuid", `{}`, http.StatusBadRequest},
		{"malformed body", draft.ID.String(), `{"name":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("PATCH", "/api/tasks/"+tt.id, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			f.router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}

	got, err := f.infra.Store.FindTask(context.Background(), active.ID)
	if err != nil {
		t.Fatalf("FindTask: %v", err)
	}
	if got.Name != "Fall2025-Workload" || !got.Deadline.Equal(later) {
		t.Errorf("active task = %+v, want original name with the new deadline", got)
	}
}

func TestTaskOutbound(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	task := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusActive, 1000000001)
	other := storetest.Task(t, f.infra.Store, "Spring2026-Survey", tmpl.ID, domain.StatusActive, 1000000001)

	ctx := context.Background()
	for _, id := range []domain.TaskID{task.ID, other.ID} {
		msg := domain.OutboundMessage{TaskID: id, TeacherID: 1000000001, Recipient: storetest.Email(1000000001)}
		if err := f.infra.Store.InsertOutbound(ctx, &msg); err != nil {
			t.Fatalf("InsertOutbound: %v", err)
		}
	}

	tests := []struct {
		name  string
		id    string
		want  int
		count int
	}{
		{"listed", task.ID.String(), http.StatusOK, 1},
		{"missing", domain.NewTaskID().String(), http.StatusNotFound, 0},
		{"malformed", "not-a-uuid", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "GET", "/api/tasks/"+tt.id+"/outbound", nil)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			list := decode[[]domain.OutboundMessage](t, rec)
			if len(list) != tt.count || list[0].TaskID != task.ID || list[0].Status != domain.DeliveryQueued {
				t.Errorf("outbound = %+v", list)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	draft := storetest.Task(t, f.infra.Store, "Spring2026-Survey", tmpl.ID, domain.StatusDraft, 1000000001)
	closed := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusClosed, 1000000001)

	rec := f.do(t, "POST", fmt.Sprintf("/api/tasks/%s/aggregate", draft.ID), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("draft aggregate status = %d, want 422", rec.Code)
	}

	rec = f.do(t, "POST", fmt.Sprintf("/api/tasks/%s/aggregate", closed.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("aggregate status = %d: %s", rec.Code, rec.Body)
	}
	result := decode[api.AggregateResponse](t, rec)
	if result.From != domain.StatusClosed || result.To != domain.StatusAggregated {
		t.Errorf("step = %s to %s, want CLOSED to AGGREGATED", result.From, result.To)
	}
	if result.Aggregation == nil || result.Aggregation.TriggeredBy != api.TriggerManual {
		t.Fatalf("aggregation = %+v", result.Aggregation)
	}

	rec = f.do(t, "GET", fmt.Sprintf("/api/tasks/%s/aggregations", closed.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("aggregations status = %d", rec.Code)
	}
	if list := decode[[]domain.Aggregation](t, rec); len(list) != 1 {
		t.Errorf("aggregations = %d, want 1", len(list))
	}

	rec = f.do(t, "GET", fmt.Sprintf("/api/aggregations/%s/artifact", result.Aggregation.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("artifact status = %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != sheet.ContentType {
		t.Errorf("Content-Type = %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "summary.xlsx") {
		t.Errorf("Content-Disposition = %s", cd)
	}
	if rec.Body.Len() == 0 {
		t.Error("artifact body empty")
	}

	rec = f.do(t, "POST", fmt.Sprintf("/api/tasks/%s/aggregate", closed.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat aggregate status = %d", rec.Code)
	}
	if repeat := decode[api.AggregateResponse](t, rec); !repeat.Skipped {
		t.Error("repeat aggregate with no new replies was not skipped")
	}

	if rec := f.do(t, "GET", "/api/aggregations/"+domain.NewAggregationID().String()+"/artifact", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing aggregation status = %d, want 404", rec.Code)
	}
}

func TestTemplateLocked(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	task := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusDraft, 1000000001)

	body := map[string]any{"name": "workload v2", "fields": tmpl.Fields}
	if rec := f.do(t, "PUT", "/api/templates/"+tmpl.ID.String(), body); rec.Code != http.StatusOK {
		t.Fatalf("update draft template status = %d: %s", rec.Code, rec.Body)
	}

	if err := f.infra.Store.SetTaskStatus(context.Background(), task.ID, domain.StatusDraft, domain.StatusActive); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if rec := f.do(t, "PUT", "/api/templates/"+tmpl.ID.String(), body); rec.Code != http.StatusConflict {
		t.Errorf("update published template status = %d, want 409", rec.Code)
	}
}

func TestListInbound(t *testing.T) {
	f := setup(t)
	tmpl := f.template(t)
	task := storetest.Task(t, f.infra.Store, "Fall2025-Workload", tmpl.ID, domain.StatusActive, 1000000001)
	storetest.Reply(t, f.infra.Store, task.ID, 1000000001, storetest.Epoch.Add(time.Hour))

	stray := domain.InboundMessage{Sender: "who@elsewhere.test", HeaderID: "<stray@elsewhere.test>", ReceivedAt: storetest.Epoch}
	if err := f.infra.Store.InsertInbound(context.Background(), &stray); err != nil {
		t.Fatalf("InsertInbound: %v", err)
	}

	tests := []struct {
		name   string
		query  string
		status int
		total  int
	}{
		{"all", "", http.StatusOK, 2},
		{"unmatched", "?unmatched=true", http.StatusOK, 1},
		{"by task", "?task=" + task.ID.String(), http.StatusOK, 1},
		{"bad task", "?task=x", http.StatusBadRequest, 0},
		{"bad flag", "?unmatched=maybe", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "GET", "/api/inbound"+tt.query, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			if page := decode[pagination.PageResult[domain.InboundMessage]](t, rec); page.Total != tt.total {
				t.Errorf("total = %d, want %d", page.Total, tt.total)
			}
		})
	}
}

func TestTeachers(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "PUT", "/api/teachers/1000000002", map[string]any{
		"name":  "Bob",
		"email": "bob@school.test",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rec.Code, rec.Body)
	}

	rec = f.do(t, "GET", "/api/teachers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if list := decode[[]domain.Teacher](t, rec); len(list) != 2 {
		t.Errorf("teachers = %d, want 2", len(list))
	}

	if rec := f.do(t, "GET", "/api/teachers/1000000002", nil); rec.Code != http.StatusOK {
		t.Errorf("find status = %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/teachers/abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	f := setup(t)

	body := map[string]any{"name": strings.Repeat("x", 128<<10)}
	if rec := f.do(t, "POST", "/api/templates", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	f := setup(t)

	rec := f.do(t, "GET", "/api/teachers", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("response missing X-Request-ID")
	}
}
