package api

import (
	"log/slog"
	"net/http"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/routes"
)

type teachersHandler struct {
	store  store.Store
	logger *slog.Logger
}

func newTeachersHandler(runtime *Runtime) *teachersHandler {
	return &teachersHandler{
		store:  runtime.Store,
		logger: runtime.Logger.With("handler", "teachers"),
	}
}

func (h *teachersHandler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/teachers",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.list},
			{Method: "GET", Pattern: "/{id}", Handler: h.find},
			{Method: "PUT", Pattern: "/{id}", Handler: h.save},
		},
	}
}

func (h *teachersHandler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListTeachers(r.Context())
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	if list == nil {
		list = []domain.Teacher{}
	}
	handlers.RespondJSON(w, http.StatusOK, list)
}

func (h *teachersHandler) find(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTeacherID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	teacher, err := h.store.FindTeacher(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, teacher)
}

// save creates or replaces the roster entry at the path id.
func (h *teachersHandler) save(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTeacherID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var teacher domain.Teacher
	if err := handlers.DecodeJSON(r, &teacher); err != nil {
		handlers.RespondError(w, h.logger, handlers.DecodeStatus(err), err)
		return
	}
	teacher.ID = id

	if err := h.store.SaveTeacher(r.Context(), &teacher); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, teacher)
}
