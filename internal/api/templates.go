package api

import (
	"log/slog"
	"net/http"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/routes"
)

type templatesHandler struct {
	store  store.Store
	logger *slog.Logger
}

func newTemplatesHandler(runtime *Runtime) *templatesHandler {
	return &templatesHandler{
		store:  runtime.Store,
		logger: runtime.Logger.With("handler", "templates"),
	}
}

func (h *templatesHandler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/templates",
		Routes: []routes.Route{
			{Method: "POST", Pattern: "", Handler: h.create},
			{Method: "GET", Pattern: "/{id}", Handler: h.find},
			{Method: "PUT", Pattern: "/{id}", Handler: h.update},
		},
	}
}

func (h *templatesHandler) create(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := h.decode(w, r)
	if !ok {
		return
	}
	tmpl.ID = domain.TemplateID{}

	if err := h.store.SaveTemplate(r.Context(), tmpl); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusCreated, tmpl)
}

func (h *templatesHandler) find(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTemplateID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	tmpl, err := h.store.FindTemplate(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, tmpl)
}

// update replaces a template's fields. Templates referenced by a published
// task are locked and yield 409.
func (h *templatesHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseTemplateID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	existing, err := h.store.FindTemplate(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	tmpl, ok := h.decode(w, r)
	if !ok {
		return
	}
	tmpl.ID = id
	tmpl.CreatedAt = existing.CreatedAt

	if err := h.store.SaveTemplate(r.Context(), tmpl); err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}
	handlers.RespondJSON(w, http.StatusOK, tmpl)
}

func (h *templatesHandler) decode(w http.ResponseWriter, r *http.Request) (*domain.Template, bool) {
	var tmpl domain.Template
	if err := handlers.DecodeJSON(r, &tmpl); err != nil {
		handlers.RespondError(w, h.logger, handlers.DecodeStatus(err), err)
		return nil, false
	}
	return &tmpl, true
}
