package main

import (
	"net/http"

	"github.com/JaimeStill/tally/internal/api"
	"github.com/JaimeStill/tally/internal/config"
	"github.com/JaimeStill/tally/internal/infrastructure"
	"github.com/JaimeStill/tally/pkg/handlers"
	"github.com/JaimeStill/tally/pkg/module"
)

// Modules are the prefixed HTTP surfaces mounted on the router.
type Modules struct {
	API *module.Module
}

func NewModules(infra *infrastructure.Infrastructure, cfg *config.Config, domain *api.Domain) (*Modules, error) {
	apiModule, err := api.NewModule(cfg, infra, domain)
	if err != nil {
		return nil, err
	}
	return &Modules{API: apiModule}, nil
}

func (m *Modules) Mount(router *module.Router) {
	router.Mount(m.API)
}

type health struct {
	Status     string          `json:"status"`
	Version    string          `json:"version,omitempty"`
	Subsystems map[string]bool `json:"subsystems,omitempty"`
}

// buildRouter serves the liveness and readiness checks outside any module.
// /readyz answers 503 with the per-subsystem breakdown until all are up.
func buildRouter(infra *infrastructure.Infrastructure, version string) *module.Router {
	router := module.NewRouter()

	router.HandleNative("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, health{Status: "ok", Version: version})
	})

	router.HandleNative("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		status := infra.Status()
		for _, ok := range status {
			if !ok {
				handlers.RespondJSON(w, http.StatusServiceUnavailable, health{Status: "not ready", Subsystems: status})
				return
			}
		}
		handlers.RespondJSON(w, http.StatusOK, health{Status: "ready", Subsystems: status})
	})

	return router
}
