package handler

import (
	"net/http"

	"infrapulse/internal/domain"
	"infrapulse/internal/service"
)

func (s *Server) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var in service.EndpointInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ep, err := s.endpoints.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.endpoints.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if eps == nil {
		eps = []*domain.Endpoint{}
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) getEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, err := s.endpoints.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) updateEndpoint(w http.ResponseWriter, r *http.Request) {
	var in service.EndpointInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ep, err := s.endpoints.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.endpoints.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	if s.syncer != nil {
		s.syncer.Forget(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateEndpoint runs a collection against caller-supplied details
// without registering anything.
func (s *Server) validateEndpoint(w http.ResponseWriter, r *http.Request) {
	var in service.EndpointInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	summary, err := s.endpoints.Validate(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) testEndpoint(w http.ResponseWriter, r *http.Request) {
	summary, err := s.endpoints.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type syncResponse struct {
	Endpoint *domain.Endpoint    `json:"endpoint"`
	Summary  *domain.PollSummary `json:"summary"`
}

// syncEndpoint runs one immediate poll cycle and returns the endpoint
// with its refreshed health next to the cycle summary.
func (s *Server) syncEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := s.syncer.Sync(r.Context(), id)
	if err != nil {
		summary = &domain.PollSummary{Reachable: false, Message: err.Error()}
	}
	ep, gerr := s.endpoints.Get(r.Context(), id)
	if gerr != nil {
		writeServiceError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Endpoint: ep, Summary: summary})
}
