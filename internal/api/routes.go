package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{name}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("PUT /api/v1/pipelines/{name}", chain(http.HandlerFunc(h.UpdatePipeline)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/launch", chain(http.HandlerFunc(h.LaunchRun)))
	mux.Handle("GET /api/v1/runs/{id}/termination", chain(http.HandlerFunc(h.GetTermination)))
	mux.Handle("POST /api/v1/runs/{id}/terminate", chain(http.HandlerFunc(h.TerminateRun)))
}
