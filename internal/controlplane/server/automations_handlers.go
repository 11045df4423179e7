package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/automations"
)

func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var a automations.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	a.ID = ""
	created, err := s.automationStore.Create(a)
	if err != nil {
		if errors.Is(err, automations.ErrInvalidAutomation) {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_automation", err.Error())
			return
		}
		s.logger.Error("creating automation", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "create_failed", "could not create automation")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.automationStore.List())
}

func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	a, err := s.automationStore.Get(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "automation not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var a automations.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	a.ID = r.PathValue("id")
	updated, err := s.automationStore.Update(a)
	if err != nil {
		switch {
		case errors.Is(err, automations.ErrNotFound):
			writeJSONError(w, http.StatusNotFound, "not_found", "automation not found")
		case errors.Is(err, automations.ErrInvalidAutomation):
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_automation", err.Error())
		default:
			s.logger.Error("updating automation", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "update_failed", "could not update automation")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if err := s.automationStore.Delete(r.PathValue("id")); err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "automation not found")
			return
		}
		s.logger.Error("deleting automation", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "delete_failed", "could not delete automation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, true)
}

func (s *Server) handleDisableAutomation(w http.ResponseWriter, r *http.Request) {
	s.setAutomationEnabled(w, r, false)
}

func (s *Server) setAutomationEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	a, err := s.automationStore.SetEnabled(r.PathValue("id"), enabled)
	if err != nil {
		if errors.Is(err, automations.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "not_found", "automation not found")
			return
		}
		s.logger.Error("toggling automation", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "update_failed", "could not update automation")
		return
	}
	writeJSON(w, http.StatusOK, a)
}
