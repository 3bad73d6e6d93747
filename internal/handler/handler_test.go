package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrapulse/internal/adapter"
	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
	"infrapulse/internal/repository/sqlite"
	"infrapulse/internal/service"
	"infrapulse/internal/vault"
)

// stubSyncer stands in for the scheduler.
type stubSyncer struct {
	summary   *domain.PollSummary
	err       error
	forgotten []string
}

func (s *stubSyncer) Sync(ctx context.Context, id string) (*domain.PollSummary, error) {
	return s.summary, s.err
}

func (s *stubSyncer) Forget(id string) { s.forgotten = append(s.forgotten, id) }

// stubAdapter lets API tests exercise validate without a live source.
type stubAdapter struct {
	family domain.SourceFamily
	snap   *adapter.RawSnapshot
}

func (s *stubAdapter) Family() domain.SourceFamily { return s.family }

func (s *stubAdapter) TestConnection(ctx context.Context, p adapter.Params, c adapter.Credentials) error {
	return nil
}

func (s *stubAdapter) FetchInventory(ctx context.Context, p adapter.Params, c adapter.Credentials) (*adapter.RawSnapshot, error) {
	return s.snap, nil
}

type apiHarness struct {
	repo    repository.Repository
	syncer  *stubSyncer
	handler http.Handler
}

func newAPI(t *testing.T, cfg Config, stubs ...adapter.Adapter) *apiHarness {
	t.Helper()
	repo, err := sqlite.New(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	v, err := vault.New(make([]byte, 32), repo)
	require.NoError(t, err)
	registry := adapter.NewRegistry(zerolog.Nop())
	for _, a := range stubs {
		registry.Register(a)
	}

	endpoints := service.NewEndpoints(repo, v, registry, zerolog.Nop())
	fabric := service.NewFabric(repo, zerolog.Nop())
	syncer := &stubSyncer{}
	srv := New(endpoints, fabric, repo, syncer, nil, cfg, zerolog.Nop())
	return &apiHarness{repo: repo, syncer: syncer, handler: srv.Routes()}
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func endpointBody() map[string]interface{} {
	return map[string]interface{}{
		"name":          "vcenter-lab",
		"address":       "10.0.0.10",
		"source_family": "virtualization",
		"username":      "svc-inventory",
		"password":      "hunter2-classified",
		"tags":          []string{" lab ", "", "prod"},
	}
}

func TestEndpointLifecycleOverAPI(t *testing.T) {
	h := newAPI(t, Config{})

	rec := h.do(t, http.MethodPost, "/api/endpoints", "", endpointBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Endpoint](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, []string{"lab", "prod"}, created.Tags)
	assert.True(t, created.HasCredentials)
	assert.Equal(t, domain.PollStatusNever, created.LastPollStatus)

	rec = h.do(t, http.MethodGet, "/api/endpoints", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]domain.Endpoint](t, rec)
	require.Len(t, list, 1)

	// Tags survive the registry round trip exactly as normalized.
	rec = h.do(t, http.MethodGet, "/api/endpoints/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[domain.Endpoint](t, rec)
	assert.Equal(t, []string{"lab", "prod"}, got.Tags)

	rec = h.do(t, http.MethodPatch, "/api/endpoints/"+created.ID, "",
		map[string]interface{}{"description": "lab vcenter"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "lab vcenter", decode[domain.Endpoint](t, rec).Description)

	rec = h.do(t, http.MethodDelete, "/api/endpoints/"+created.ID, "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{created.ID}, h.syncer.forgotten)

	rec = h.do(t, http.MethodGet, "/api/endpoints/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndpointResponsesNeverLeakSecrets(t *testing.T) {
	h := newAPI(t, Config{})

	rec := h.do(t, http.MethodPost, "/api/endpoints", "", endpointBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2-classified")
	assert.NotContains(t, rec.Body.String(), "secret_handle")

	rec = h.do(t, http.MethodGet, "/api/endpoints", "", nil)
	assert.NotContains(t, rec.Body.String(), "hunter2-classified")
}

func TestEndpointValidationErrors(t *testing.T) {
	h := newAPI(t, Config{})

	rec := h.do(t, http.MethodPost, "/api/endpoints", "", map[string]interface{}{
		"name": "x", "address": "10.0.0.1", "source_family": "openstack",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/endpoints", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
}

func TestValidateRouteDoesNotPersist(t *testing.T) {
	stub := &stubAdapter{
		family: domain.SourceVirtualization,
		snap: &adapter.RawSnapshot{
			Family:      domain.SourceVirtualization,
			CollectedAt: time.Now().UTC(),
			Virt: &adapter.VirtInventory{
				Hosts: []adapter.VirtHost{{Name: "esx01", PowerState: "POWERED_ON"}},
			},
		},
	}
	h := newAPI(t, Config{}, stub)

	rec := h.do(t, http.MethodPost, "/api/endpoints/validate", "", endpointBody())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.PollSummary](t, rec)
	assert.True(t, summary.Reachable)
	assert.Equal(t, 1, summary.HostCount)

	rec = h.do(t, http.MethodGet, "/api/endpoints", "", nil)
	remaining := decode[[]domain.Endpoint](t, rec)
	assert.Empty(t, remaining)
}

func TestSyncRouteReturnsEndpointAndSummary(t *testing.T) {
	h := newAPI(t, Config{})
	rec := h.do(t, http.MethodPost, "/api/endpoints", "", endpointBody())
	created := decode[domain.Endpoint](t, rec)

	collected := time.Now().UTC()
	h.syncer.summary = &domain.PollSummary{Reachable: true, HostCount: 3, CollectedAt: &collected}

	rec = h.do(t, http.MethodPost, "/api/endpoints/"+created.ID+"/sync", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Endpoint domain.Endpoint    `json:"endpoint"`
		Summary  domain.PollSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID, resp.Endpoint.ID)
	assert.Equal(t, 3, resp.Summary.HostCount)
}

func TestRoleGating(t *testing.T) {
	h := newAPI(t, Config{AdminToken: "admin-token", ViewerToken: "viewer-token"})

	rec := h.do(t, http.MethodGet, "/api/endpoints", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/endpoints", "viewer-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/endpoints", "viewer-token", endpointBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/endpoints", "admin-token", endpointBody())
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Admin implies viewer.
	rec = h.do(t, http.MethodGet, "/api/endpoints", "admin-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec = h.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFabricNodeQueryOverAPI(t *testing.T) {
	h := newAPI(t, Config{})

	rec := h.do(t, http.MethodPost, "/api/endpoints", "", map[string]interface{}{
		"name": "apic-lab", "address": "10.0.0.20", "source_family": "aci-fabric",
		"username": "admin", "password": "x",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	ep := decode[domain.Endpoint](t, rec)

	var nodes []*domain.FabricNode
	for i := 0; i < 235; i++ {
		nodes = append(nodes, &domain.FabricNode{
			ID:         uuid.NewString(),
			EndpointID: ep.ID,
			NaturalKey: fmt.Sprintf("topology/pod-1/node-%d", 101+i),
			Name:       fmt.Sprintf("leaf-%03d", i),
			Role:       domain.NodeRoleLeaf,
			LastSeenAt: time.Now().UTC(),
		})
	}
	require.NoError(t, h.repo.UpsertFabricNodes(context.Background(), nodes))

	rec = h.do(t, http.MethodGet, "/api/fabric/nodes?page=3&page_size=50", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[domain.Page[domain.FabricNode]](t, rec)
	assert.Equal(t, 235, page.Total)
	assert.Equal(t, 3, page.Page)
	assert.Len(t, page.Items, 50)
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)

	// Overflowing page clamps instead of going empty.
	rec = h.do(t, http.MethodGet, "/api/fabric/nodes?page=42&page_size=50", "", nil)
	page = decode[domain.Page[domain.FabricNode]](t, rec)
	assert.Equal(t, 5, page.Page)
	assert.Len(t, page.Items, 35)

	rec = h.do(t, http.MethodGet, "/api/fabric/nodes/"+nodes[0].ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/fabric/nodes/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/fabric/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[domain.FabricSummary](t, rec)
	assert.Equal(t, 235, sum.Total)
	assert.Equal(t, 235, sum.LeafCount)
}

func TestInventoryUtilizationDerivedAtRead(t *testing.T) {
	h := newAPI(t, Config{})
	rec := h.do(t, http.MethodPost, "/api/endpoints", "", endpointBody())
	ep := decode[domain.Endpoint](t, rec)
	ctx := context.Background()

	total, used := int64(65536), int64(16384)
	require.NoError(t, h.repo.UpsertHosts(ctx, []*domain.Host{
		{ID: uuid.NewString(), EndpointID: ep.ID, Name: "esx01",
			MemoryTotalMB: &total, MemoryUsageMB: &used, LastSeenAt: time.Now().UTC()},
		{ID: uuid.NewString(), EndpointID: ep.ID, Name: "esx02",
			LastSeenAt: time.Now().UTC()},
	}))

	capacity, free := 2048.0, 512.0
	overCap, overFree := 100.0, -10.0
	require.NoError(t, h.repo.UpsertDatastores(ctx, []*domain.Datastore{
		{ID: uuid.NewString(), EndpointID: ep.ID, Name: "overcommit",
			CapacityGB: &overCap, FreeGB: &overFree, LastSeenAt: time.Now().UTC()},
		{ID: uuid.NewString(), EndpointID: ep.ID, Name: "vsan",
			CapacityGB: &capacity, FreeGB: &free, LastSeenAt: time.Now().UTC()},
	}))

	rec = h.do(t, http.MethodGet, "/api/hosts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hosts []struct {
		Name                 string   `json:"name"`
		MemoryUtilizationPct *float64 `json:"memory_utilization_pct"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hosts))
	require.Len(t, hosts, 2)
	require.NotNil(t, hosts[0].MemoryUtilizationPct)
	assert.InDelta(t, 25.0, *hosts[0].MemoryUtilizationPct, 0.001)
	assert.Nil(t, hosts[1].MemoryUtilizationPct, "unknown denominator yields null, not zero")

	rec = h.do(t, http.MethodGet, "/api/datastores", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stores []struct {
		Name    string   `json:"name"`
		UsedPct *float64 `json:"used_pct"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stores))
	require.Len(t, stores, 2)
	require.NotNil(t, stores[0].UsedPct)
	assert.Equal(t, 100.0, *stores[0].UsedPct, "overcommitted usage clamps")
	require.NotNil(t, stores[1].UsedPct)
	assert.InDelta(t, 75.0, *stores[1].UsedPct, 0.001)
}

func TestInventoryFilters(t *testing.T) {
	h := newAPI(t, Config{})

	rec := h.do(t, http.MethodPost, "/api/endpoints", "", endpointBody())
	ep := decode[domain.Endpoint](t, rec)

	hostID := uuid.NewString()
	require.NoError(t, h.repo.UpsertHosts(context.Background(), []*domain.Host{
		{ID: hostID, EndpointID: ep.ID, Name: "esx01", LastSeenAt: time.Now().UTC()},
	}))
	require.NoError(t, h.repo.UpsertVirtualMachines(context.Background(), []*domain.VirtualMachine{
		{ID: uuid.NewString(), EndpointID: ep.ID, HostID: &hostID, Name: "web-01"},
		{ID: uuid.NewString(), EndpointID: ep.ID, Name: "orphan-01"},
	}))

	rec = h.do(t, http.MethodGet, "/api/hosts?endpoint_id="+ep.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Host](t, rec), 1)

	rec = h.do(t, http.MethodGet, "/api/virtual-machines?host_id="+hostID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vms := decode[[]domain.VirtualMachine](t, rec)
	require.Len(t, vms, 1)
	assert.Equal(t, "web-01", vms[0].Name)

	rec = h.do(t, http.MethodGet, "/api/virtual-machines", "", nil)
	assert.Len(t, decode[[]domain.VirtualMachine](t, rec), 2)
}
