package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/windlass-io/windlass/internal/controlplane/events"
	"github.com/windlass-io/windlass/internal/controlplane/metrics"
)

// handleCreateEvents accepts a batch of events (or a single event) and
// returns 204 once they are persisted and evaluated.
func (s *Server) handleCreateEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "could not read request body")
		return
	}
	var batch []events.Event
	if err := json.Unmarshal(body, &batch); err != nil {
		var single events.Event
		if err := json.Unmarshal(body, &single); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_body", "expected an event or an array of events")
			return
		}
		batch = []events.Event{single}
	}
	for i := range batch {
		batch[i] = batch[i].Receive()
		if err := batch[i].Validate(); err != nil {
			metrics.EventsRejectedTotal.Inc()
			writeJSONError(w, http.StatusBadRequest, "invalid_event", err.Error())
			return
		}
	}
	if err := s.ingestEvents(r.Context(), batch, "http"); err != nil {
		s.logger.Error("ingesting events", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "ingest_failed", "could not accept events")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type filterRequest struct {
	Filter events.Filter `json:"filter"`
	Limit  int           `json:"limit"`
}

// handleFilterEvents runs a historical query and returns the first page
// with an opaque token for the rest.
func (s *Server) handleFilterEvents(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "invalid filter request")
		return
	}
	if req.Limit <= 0 || req.Limit > events.InteractivePageSize {
		req.Limit = events.InteractivePageSize
	}
	page, err := s.eventStore.Query(r.Context(), req.Filter, req.Limit)
	if err != nil {
		s.logger.Error("querying events", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "could not query events")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleFilterEventsNext continues a paged query. An invalid or tampered
// token is forbidden, not merely malformed.
func (s *Server) handleFilterEventsNext(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("page-token")
	page, err := s.eventStore.QueryNextPage(r.Context(), token)
	if err != nil {
		if errors.Is(err, events.ErrInvalidToken) {
			writeJSONError(w, http.StatusForbidden, "invalid_page_token", "forbidden")
			return
		}
		s.logger.Error("querying next page", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "query_failed", "could not query events")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type countRequest struct {
	Filter    events.Filter    `json:"filter"`
	Countable events.Countable `json:"countable"`
	Unit      events.TimeUnit  `json:"unit"`
	Interval  float64          `json:"interval"`
}

// handleCountEvents aggregates matching events into labelled buckets.
func (s *Server) handleCountEvents(w http.ResponseWriter, r *http.Request) {
	var req countRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_body", "invalid count request")
		return
	}
	buckets, err := s.eventStore.Count(r.Context(), req.Filter, req.Countable, req.Unit, req.Interval)
	if err != nil {
		if errors.Is(err, events.ErrInvalidCountParameters) {
			writeJSONError(w, http.StatusUnprocessableEntity, "invalid_count_parameters", err.Error())
			return
		}
		s.logger.Error("counting events", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "count_failed", "could not count events")
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
