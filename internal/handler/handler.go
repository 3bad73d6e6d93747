// Package handler exposes the registry and query API over HTTP.
//
// All write routes require the admin role, read routes the viewer
// role. Endpoint responses never carry credentials or vault handles;
// the handler layer holds no vault reference at all.
package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
	"infrapulse/internal/metrics"
	"infrapulse/internal/repository"
	"infrapulse/internal/service"
)

// Syncer is the scheduler surface the API needs: run one immediate
// cycle, and drop a deleted endpoint's schedule state.
type Syncer interface {
	Sync(ctx context.Context, id string) (*domain.PollSummary, error)
	Forget(id string)
}

// Server bundles the API dependencies.
type Server struct {
	endpoints *service.Endpoints
	fabric    *service.Fabric
	repo      repository.Repository
	syncer    Syncer
	metrics   *metrics.Metrics
	roles     roleSet
	log       zerolog.Logger
}

// Config carries the Server's auth seam.
type Config struct {
	AdminToken  string
	ViewerToken string
}

// New builds the API server.
func New(endpoints *service.Endpoints, fabric *service.Fabric, repo repository.Repository, syncer Syncer, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Server {
	return &Server{
		endpoints: endpoints,
		fabric:    fabric,
		repo:      repo,
		syncer:    syncer,
		metrics:   m,
		roles:     roleSet{admin: cfg.AdminToken, viewer: cfg.ViewerToken},
		log:       log.With().Str("component", "http").Logger(),
	}
}

// Routes registers every route and wraps the mux in the middleware
// chain.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/endpoints", s.roles.requireAdmin(s.createEndpoint))
	mux.HandleFunc("GET /api/endpoints", s.roles.requireViewer(s.listEndpoints))
	mux.HandleFunc("GET /api/endpoints/{id}", s.roles.requireViewer(s.getEndpoint))
	mux.HandleFunc("PATCH /api/endpoints/{id}", s.roles.requireAdmin(s.updateEndpoint))
	mux.HandleFunc("DELETE /api/endpoints/{id}", s.roles.requireAdmin(s.deleteEndpoint))
	mux.HandleFunc("POST /api/endpoints/validate", s.roles.requireAdmin(s.validateEndpoint))
	mux.HandleFunc("POST /api/endpoints/{id}/test", s.roles.requireAdmin(s.testEndpoint))
	mux.HandleFunc("POST /api/endpoints/{id}/sync", s.roles.requireAdmin(s.syncEndpoint))

	mux.HandleFunc("GET /api/hosts", s.roles.requireViewer(s.listHosts))
	mux.HandleFunc("GET /api/virtual-machines", s.roles.requireViewer(s.listVirtualMachines))
	mux.HandleFunc("GET /api/datastores", s.roles.requireViewer(s.listDatastores))
	mux.HandleFunc("GET /api/networks", s.roles.requireViewer(s.listNetworks))

	mux.HandleFunc("GET /api/fabric/nodes", s.roles.requireViewer(s.listFabricNodes))
	mux.HandleFunc("GET /api/fabric/nodes/{id}", s.roles.requireViewer(s.getFabricNode))
	mux.HandleFunc("GET /api/fabric/interfaces", s.roles.requireViewer(s.listFabricInterfaces))
	mux.HandleFunc("GET /api/fabric/summary", s.roles.requireViewer(s.fabricSummary))
	mux.HandleFunc("GET /api/fabric/summary/details", s.roles.requireViewer(s.fabricSummaryDetails))

	mux.HandleFunc("GET /healthz", s.healthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return Chain(mux,
		Recover(s.log),
		CORS(),
		RequestLog(s.log, s.metrics),
	)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
