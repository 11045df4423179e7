package server

import (
	"encoding/json"
	"net/http"

	"github.com/windlass-io/windlass/internal/controlplane/notifications"
	"github.com/windlass-io/windlass/internal/controlplane/runs"
)

func (s *Server) handleListFlowRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runManager.List())
}

func (s *Server) handleGetFlowRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.runManager.Get(r.PathValue("id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found", "flow run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type createFlowRunRequest struct {
	Name         string         `json:"name"`
	DeploymentID string         `json:"deployment_id,omitempty"`
	State        runs.StateType `json:"state,omitempty"`
}

func (s *Server) handleCreateFlowRun(w http.ResponseWriter, r *http.Request) {
	var req createFlowRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	run, err := s.runManager.Create(req.Name, req.DeploymentID, req.State)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

type setStateRequest struct {
	State runs.StateType `json:"state"`
}

// handleSetFlowRunState reports the orchestrator's decision in the status
// code: 201 when the state changed, 200 when it was already there.
func (s *Server) handleSetFlowRunState(w http.ResponseWriter, r *http.Request) {
	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.State == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "state required")
		return
	}
	code, err := s.runManager.SetState(r.PathValue("id"), req.State)
	if err != nil {
		writeJSONError(w, code, "set_state_failed", err.Error())
		return
	}
	run, _ := s.runManager.Get(r.PathValue("id"))
	writeJSON(w, code, run)
}

func (s *Server) handleRegisterDeployment(w http.ResponseWriter, r *http.Request) {
	var d runs.Deployment
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "deployment name required")
		return
	}
	writeJSON(w, http.StatusCreated, s.runManager.RegisterDeployment(d))
}

func (s *Server) handleCreateFlowRunFromDeployment(w http.ResponseWriter, r *http.Request) {
	run, code, err := s.runManager.CreateFromDeployment(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, code, "create_failed", err.Error())
		return
	}
	writeJSON(w, code, run)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.webhookStore.List())
}

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var cfg notifications.WebhookConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil || cfg.URL == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "webhook url required")
		return
	}
	registered, err := s.webhookStore.Register(cfg)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "register_failed", "could not persist webhook")
		return
	}
	writeJSON(w, http.StatusCreated, registered)
}

func (s *Server) handleRemoveWebhook(w http.ResponseWriter, r *http.Request) {
	s.webhookStore.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}
