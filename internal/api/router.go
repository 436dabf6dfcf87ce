package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"

	"github.com/opsforge/engine/internal/api/handlers"
	mw "github.com/opsforge/engine/internal/api/middleware"
)

type Dependencies struct {
	DeploymentsHandler *handlers.DeploymentsHandler
	OperationsHandler  *handlers.OperationsHandler
	DriftHandler       *handlers.DriftHandler
	ResourcesHandler   *handlers.ResourcesHandler
	WSHandler          *handlers.WSHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.NewRateLimiter(10, 20).Middleware)
	r.Use(chimid.Compress(5))

	// Health endpoints
	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	// Realtime endpoint; the hub owns the connection after upgrade.
	r.Get("/ws", dep.WSHandler.Serve)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/deployments", func(dr chi.Router) {
			dr.Get("/", dep.DeploymentsHandler.List)
			dr.Post("/", dep.DeploymentsHandler.Create)
			dr.Get("/{name}", dep.DeploymentsHandler.Get)

			dr.Post("/{name}/plan", dep.OperationsHandler.Plan)
			dr.Post("/{name}/apply", dep.OperationsHandler.Apply)
			dr.Post("/{name}/destroy", dep.OperationsHandler.Destroy)
			dr.Get("/{name}/operations", dep.OperationsHandler.ListByDeployment)

			dr.Post("/{name}/drift", dep.DriftHandler.Check)
			dr.Get("/{name}/drift", dep.DriftHandler.Latest)
			dr.Get("/{name}/drift/history", dep.DriftHandler.List)

			dr.Get("/{name}/state", dep.ResourcesHandler.State)
			dr.Get("/{name}/planfile", dep.ResourcesHandler.Plan)
			dr.Post("/{name}/resources/import", dep.ResourcesHandler.Import)
			dr.Post("/{name}/resources/taint", dep.ResourcesHandler.Taint)
			dr.Post("/{name}/resources/untaint", dep.ResourcesHandler.Untaint)
		})

		api.Route("/operations", func(or chi.Router) {
			or.Get("/{id}", dep.OperationsHandler.Get)
			or.Get("/{id}/logs", dep.OperationsHandler.Logs)
		})
	})

	return r
}
