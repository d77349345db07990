package api

import (
	"net/http"

	"github.com/JaimeStill/tally/pkg/routes"
)

func registerRoutes(mux *http.ServeMux, runtime *Runtime, domain *Domain) {
	routes.Register(
		mux,
		newTasksHandler(runtime, domain.Machine).Routes(),
		newAggregationsHandler(runtime).Routes(),
		newInboundHandler(runtime).Routes(),
		newTeachersHandler(runtime).Routes(),
		newTemplatesHandler(runtime).Routes(),
	)
}
