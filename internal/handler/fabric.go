package handler

import (
	"net/http"
	"strconv"
	"strings"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
	"infrapulse/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) listFabricNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.FabricNodeFilter{
		EndpointID: q.Get("endpoint_id"),
		Role:       q.Get("role"),
		Search:     q.Get("search"),
		Page:       intQuery(q.Get("page"), 1),
		PageSize:   intQuery(q.Get("page_size"), defaultPageSize),
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}

	page, err := s.repo.ListFabricNodes(r.Context(), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getFabricNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.repo.GetFabricNode(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) listFabricInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.repo.ListFabricInterfaces(r.Context(), entityFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ifaces == nil {
		ifaces = []*domain.FabricInterface{}
	}
	writeJSON(w, http.StatusOK, ifaces)
}

func (s *Server) fabricSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.fabric.Summary(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) fabricSummaryDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	details, err := s.fabric.SummaryDetails(r.Context(), service.DetailsFilter{
		EndpointID: q.Get("fabric"),
		Roles:      csvQuery(q.Get("roles")),
		Models:     csvQuery(q.Get("models")),
		Versions:   csvQuery(q.Get("versions")),
		States:     csvQuery(q.Get("states")),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func csvQuery(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
