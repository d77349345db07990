package api

import (
	"log/slog"
	"net/http"
	"path"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/sheet"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/routes"
	"github.com/JaimeStill/tally/pkg/storage"
)

type aggregationsHandler struct {
	store   store.Store
	storage storage.System
	logger  *slog.Logger
}

func newAggregationsHandler(runtime *Runtime) *aggregationsHandler {
	return &aggregationsHandler{
		store:   runtime.Store,
		storage: runtime.Storage,
		logger:  runtime.Logger.With("handler", "aggregations"),
	}
}

func (h *aggregationsHandler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/aggregations",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "/{id}", Handler: h.find},
			{Method: "GET", Pattern: "/{id}/artifact", Handler: h.artifact},
		},
	}
}

func (h *aggregationsHandler) find(w http.ResponseWriter, r *http.Request) {
	agg, ok := h.lookup(w, r)
	if !ok {
		return
	}
	handlers.RespondJSON(w, http.StatusOK, agg)
}

// artifact downloads the workbook produced by an aggregation.
func (h *aggregationsHandler) artifact(w http.ResponseWriter, r *http.Request) {
	agg, ok := h.lookup(w, r)
	if !ok {
		return
	}

	data, err := storage.Get(r.Context(), h.storage, agg.ArtifactKey)
	if err != nil {
		handlers.RespondError(w, h.logger, storage.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondFile(w, path.Base(agg.ArtifactKey), sheet.ContentType, data)
}

func (h *aggregationsHandler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Aggregation, bool) {
	id, err := domain.ParseAggregationID(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return nil, false
	}

	agg, err := h.store.FindAggregation(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return nil, false
	}
	return agg, true
}
