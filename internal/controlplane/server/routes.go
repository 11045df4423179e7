package server

import (
	"net/http"

	"github.com/windlass-io/windlass/internal/controlplane/metrics"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health + version
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)

	// Metrics
	mux.Handle("GET /metrics", metrics.Handler())

	// Event ingest + stream
	mux.HandleFunc("POST /api/v1/events", s.handleCreateEvents)
	mux.HandleFunc("GET /api/v1/events/in", s.hub.HandleEventsIn)
	mux.HandleFunc("GET /api/v1/events/out", s.hub.HandleEventsOut)

	// Event queries
	mux.HandleFunc("POST /api/v1/events/filter", s.handleFilterEvents)
	mux.HandleFunc("GET /api/v1/events/filter/next", s.handleFilterEventsNext)
	mux.HandleFunc("POST /api/v1/events/count", s.handleCountEvents)

	// Automations
	mux.HandleFunc("POST /api/v1/automations", s.handleCreateAutomation)
	mux.HandleFunc("GET /api/v1/automations", s.handleListAutomations)
	mux.HandleFunc("GET /api/v1/automations/{id}", s.handleGetAutomation)
	mux.HandleFunc("PUT /api/v1/automations/{id}", s.handleUpdateAutomation)
	mux.HandleFunc("DELETE /api/v1/automations/{id}", s.handleDeleteAutomation)
	mux.HandleFunc("POST /api/v1/automations/{id}/enable", s.handleEnableAutomation)
	mux.HandleFunc("POST /api/v1/automations/{id}/disable", s.handleDisableAutomation)

	// Flow runs + deployments
	mux.HandleFunc("GET /api/v1/flow-runs", s.handleListFlowRuns)
	mux.HandleFunc("GET /api/v1/flow-runs/{id}", s.handleGetFlowRun)
	mux.HandleFunc("POST /api/v1/flow-runs", s.handleCreateFlowRun)
	mux.HandleFunc("POST /api/v1/flow-runs/{id}/set-state", s.handleSetFlowRunState)
	mux.HandleFunc("POST /api/v1/deployments", s.handleRegisterDeployment)
	mux.HandleFunc("POST /api/v1/deployments/{id}/create-flow-run", s.handleCreateFlowRunFromDeployment)

	// Webhooks
	mux.HandleFunc("GET /api/v1/webhooks", s.handleListWebhooks)
	mux.HandleFunc("POST /api/v1/webhooks", s.handleRegisterWebhook)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", s.handleRemoveWebhook)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.Connected(),
		"windows":     s.engine.WindowCount(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	})
}
