package handler

import (
	"net/http"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

func entityFilter(r *http.Request) repository.EntityFilter {
	q := r.URL.Query()
	return repository.EntityFilter{
		EndpointID: q.Get("endpoint_id"),
		HostID:     q.Get("host_id"),
		NodeID:     q.Get("node_id"),
	}
}

// hostView decorates a host row with the utilization figure derived at
// read time; it is never stored.
type hostView struct {
	*domain.Host
	MemoryUtilizationPct *float64 `json:"memory_utilization_pct"`
}

// datastoreView decorates a datastore row with its derived usage.
type datastoreView struct {
	*domain.Datastore
	UsedPct *float64 `json:"used_pct"`
}

func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.repo.ListHosts(r.Context(), entityFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		views = append(views, hostView{Host: h, MemoryUtilizationPct: h.MemoryUtilizationPct()})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listVirtualMachines(w http.ResponseWriter, r *http.Request) {
	vms, err := s.repo.ListVirtualMachines(r.Context(), entityFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if vms == nil {
		vms = []*domain.VirtualMachine{}
	}
	writeJSON(w, http.StatusOK, vms)
}

func (s *Server) listDatastores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.repo.ListDatastores(r.Context(), entityFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]datastoreView, 0, len(stores))
	for _, ds := range stores {
		views = append(views, datastoreView{Datastore: ds, UsedPct: ds.UsedPct()})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) listNetworks(w http.ResponseWriter, r *http.Request) {
	nets, err := s.repo.ListNetworks(r.Context(), entityFilter(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if nets == nil {
		nets = []*domain.Network{}
	}
	writeJSON(w, http.StatusOK, nets)
}
