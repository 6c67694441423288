package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/snowmigrate/snowmigrate-api/internal/authz"
	"github.com/snowmigrate/snowmigrate-api/internal/handlers"
)

// NewRouter sets up the API routes.
func NewRouter(
	jobs *handlers.JobHandler,
	conns *handlers.ConnectionHandler,
	stats *handlers.StatsHandler,
	events *handlers.EventsHandler,
	tokenSecret string,
) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(authz.RequireToken(tokenSecret))

	// Job lifecycle
	api.HandleFunc("/jobs", jobs.Submit).Methods(http.MethodPost)
	api.HandleFunc("/jobs", jobs.List).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.Get).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", jobs.Remove).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{jobID}/cancel", jobs.Cancel).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/pause", jobs.Pause).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/resume", jobs.Resume).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}/logs", jobs.Logs).Methods(http.MethodGet)

	// Orchestrator controls
	api.HandleFunc("/orchestrator/ceiling", jobs.GetCeiling).Methods(http.MethodGet)
	api.HandleFunc("/orchestrator/ceiling", jobs.SetCeiling).Methods(http.MethodPut)

	// Connection registry
	api.HandleFunc("/connections/sources", conns.CreateSource).Methods(http.MethodPost)
	api.HandleFunc("/connections/sources", conns.ListSources).Methods(http.MethodGet)
	api.HandleFunc("/connections/sources/{connID}", conns.DeleteSource).Methods(http.MethodDelete)
	api.HandleFunc("/connections/targets", conns.CreateTarget).Methods(http.MethodPost)
	api.HandleFunc("/connections/targets", conns.ListTargets).Methods(http.MethodGet)
	api.HandleFunc("/connections/targets/{connID}", conns.DeleteTarget).Methods(http.MethodDelete)
	api.HandleFunc("/staging", conns.ListStagingAreas).Methods(http.MethodGet)

	// Dashboard
	api.HandleFunc("/stats", stats.GetStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/refresh", stats.RefreshStats).Methods(http.MethodPost)

	// Live event stream
	api.HandleFunc("/events", events.Serve).Methods(http.MethodGet)

	return router
}
