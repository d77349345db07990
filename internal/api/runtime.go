package api

import (
	"log/slog"

	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/internal/store"
	"github.com/JaimeStill/tally/pkg/pagination"
	"github.com/JaimeStill/tally/pkg/storage"
)

// Runtime narrows Infrastructure to what the handlers use, with a module-scoped logger.
type Runtime struct {
	Store      store.Store
	Storage    storage.System
	Logger     *slog.Logger
	Pagination pagination.Config
}

// NewRuntime creates an API runtime from the shared infrastructure.
func NewRuntime(cfg *config.Config, infra *infrastructure.Infrastructure) *Runtime {
	return &Runtime{
		Store:      infra.Store,
		Storage:    infra.Storage,
		Logger:     infra.Logger.With("module", "api"),
		Pagination: cfg.API.Pagination,
	}
}
