package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/JaimeStill/tally/internal/domain"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/pagination"
	"github.com/JaimeStill/tally/pkg/routes"
)

type inboundHandler struct {
	store      store.Store
	logger     *slog.Logger
	pagination pagination.Config
}

func newInboundHandler(runtime *Runtime) *inboundHandler {
	return &inboundHandler{
		store:      runtime.Store,
		logger:     runtime.Logger.With("handler", "inbound"),
		pagination: runtime.Pagination,
	}
}

func (h *inboundHandler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/inbound",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: h.list},
		},
	}
}

// list pages through received mail. task restricts to one task's replies;
// unmatched=true returns only messages awaiting manual review.
func (h *inboundHandler) list(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page := pagination.PageRequestFromQuery(values, h.pagination)

	var filter store.InboundFilter
	if v := values.Get("task"); v != "" {
		id, err := domain.ParseTaskID(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
			return
		}
		filter.TaskID = &id
	}
	if v := values.Get("unmatched"); v != "" {
		unmatched, err := strconv.ParseBool(v)
		if err != nil {
			handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
			return
		}
		filter.Unmatched = unmatched
	}

	list, err := h.store.ListInbound(r.Context(), filter)
	if err != nil {
		handlers.RespondError(w, h.logger, statusOf(err), err)
		return
	}

	if err := pagination.Sort(list, page.Sort, inboundSorts); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, pagination.Slice(list, page))
}
