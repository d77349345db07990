package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/internal/tasks"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/pagination"
	"github.com/JaimeStill/tally/pkg/routes"
)

// TriggerManual marks aggregations requested through the API.
const TriggerManual = "api"

// CreateTaskRequest is the body of POST /tasks. New tasks start as drafts.
type CreateTaskRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	TemplateID  domain.TemplateID  `json:"template_id"`
	PublishAt   time.Time          `json:"publish_at"`
	Deadline    *time.Time         `json:"deadline,omitempty"`
	Targets     []domain.TeacherID `json:"targets"`
	Mail        domain.MailContent `json:"mail"`
	CreatedBy   string             `json:"created_by"`
}

// UpdateTaskRequest is the body of PATCH /tasks/{id}. Omitted fields keep
// their value; a published task accepts only description and deadline.
type UpdateTaskRequest struct {
	Name        *string             `json:"name,omitempty"`
	Description *string             `json:"description,omitempty"`
	TemplateID  *domain.TemplateID  `json:"template_id,omitempty"`
	PublishAt   *time.Time          `json:"publish_at,omitempty"`
	Deadline    *time.Time          `json:"deadline,omitempty"`
	Targets     []domain.TeacherID  `json:"targets,omitempty"`
	Mail        *domain.MailContent `json:"mail,omitempty"`
}

// AggregateResponse reports the outcome of a manual aggregation.
type AggregateResponse struct {
	From        domain.Status       `json:"from"`
	To          domain.Status       `json:"to"`
	Skipped     bool                `json:"skipped"`
	Aggregation *domain.Aggregation `json:"aggregation,omitempty"`
}

type tasksHandler struct {
	store      store.Store
	machine    *tasks.Machine
	logger     *slog.Logger
	pagination pagination.Config
	now        func() time.Time
}

func newTasksHandler(runtime *Runtime, machine *tasks.Machine) *tasksHandler {
	return &tasksHandler{
		store:      runtime.Store,
		machine:    machine,
		logger:     runtime.Logger.With("handler", "tasks"),
		pagination: runtime.Pagination,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *tasksHandler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/tasks",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.list},
			{Method: "POST", Pattern: "", Handler: h.create},
			{Method: "GET", Pattern: "/{id}", Handler: h.find},
			{Method: "PATCH", Pattern: "/{id}", Handler: h.update},
			{Method: "GET", Pattern: "/{id}/outbound", Handler: h.outbound},
			{Method: "POST", Pattern: "/{id}/aggregate", Handler: h.aggregate},
			{Method: "GET", Pattern: "/{id}/aggregations", Handler: h.aggregations},
		},
	}
}

// list pages through tasks. Repeated or comma-separated status parameters
// restrict the statuses returned; search matches the task name; sort takes
// "name,-publish_at" style terms.
func (h *tasksHandler) list(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page := pagination.PageRequestFromQuery(values, h.pagination)

	statuses, err := parseStatuses(values["status"])
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	filter := store.TaskFilter{Statuses: statuses}
	if page.Search != nil {
		filter.Search = *page.Search
	}

	list, err := h.store.ListTasks(r.Context(), filter)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	if err := pagination.Sort(list, page.Sort, taskSorts); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, pagination.Slice(list, page))
}

func (h *tasksHandler) find(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTaskID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	task, err := h.store.FindTask(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, task)
}

func (h *tasksHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, handlers.DecodeStatus(err), err)
		return
	}

	task := domain.Task{
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		TemplateID:  req.TemplateID,
		PublishAt:   req.PublishAt.UTC(),
		Status:      domain.StatusDraft,
		Targets:     req.Targets,
		Mail:        req.Mail,
		CreatedBy:   req.CreatedBy,
	}
	if req.Deadline != nil {
		deadline := req.Deadline.UTC()
		task.Deadline = &deadline
	}

	if err := h.store.CreateTask(r.Context(), &task); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, task)
}

// aggregate runs aggregation on demand. Closed and aggregated tasks are
// accepted; a run already holding the task's lock yields 409.
func (h *tasksHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTaskID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var req UpdateTaskRequest
	if err := handlers.DecodeJSON(r, &req); err != nil {
		handlers.RespondError(w, h.logger, handlers.DecodeStatus(err), err)
		return
	}

	task, err := h.machine.Edit(r.Context(), id, tasks.Patch{
		Name:        req.Name,
		Description: req.Description,
		TemplateID:  req.TemplateID,
		PublishAt:   req.PublishAt,
		Deadline:    req.Deadline,
		Targets:     req.Targets,
		Mail:        req.Mail,
	})
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, task)
}

// outbound lists the invitations queued for a task with their delivery state.
func (h *tasksHandler) outbound(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTaskID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	if _, err := h.store.FindTask(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	list, err := h.store.ListOutbound(r.Context(), store.OutboundFilter{TaskID: &id})
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	if list == nil {
		list = []domain.OutboundMessage{}
	}

	handlers.RespondJSON(w, http.StatusOK, list)
}

func (h *tasksHandler) aggregate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTaskID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	step, err := h.machine.Aggregate(r.Context(), id, TriggerManual, h.now())
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, AggregateResponse{
		From:        step.From,
		To:          step.To,
		Skipped:     step.Skipped,
		Aggregation: step.Aggregation,
	})
}

func (h *tasksHandler) aggregations(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTaskID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	if _, err := h.store.FindTask(r.Context(), id); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	list, err := h.store.ListAggregations(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	if list == nil {
		list = []domain.Aggregation{}
	}

	handlers.RespondJSON(w, http.StatusOK, list)
}

func parseStatuses(values []string) ([]domain.Status, error) {
	var statuses []domain.Status
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			s := domain.Status(strings.ToUpper(strings.TrimSpace(part)))
			if s == "" {
				continue
			}
			if !s.Valid() {
				return nil, fmt.Errorf("unknown status %q", part)
			}
			statuses = append(statuses, s)
		}
	}
	return statuses, nil
}

func statusOf(err error) int {
	if errors.Is(err, tasks.ErrRunInProgress) {
		return http.StatusConflict
	}
	return domain.MapHTTPStatus(err)
}
