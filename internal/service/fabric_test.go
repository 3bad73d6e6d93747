package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

func seedFabric(t *testing.T, repo repository.Repository, ep *domain.Endpoint, nodes []*domain.FabricNode) {
	t.Helper()
	for _, n := range nodes {
		n.ID = uuid.NewString()
		n.EndpointID = ep.ID
		if n.LastSeenAt.IsZero() {
			n.LastSeenAt = time.Now().UTC()
		}
	}
	require.NoError(t, repo.UpsertFabricNodes(context.Background(), nodes))
}

func fabricNode(key, name string, role domain.NodeRole, version, state string) *domain.FabricNode {
	n := &domain.FabricNode{
		NaturalKey: key,
		Name:       name,
		Role:       role,
		Version:    &version,
	}
	if state != "" {
		n.FabricState = &state
	}
	return n
}

func TestFabricSummaryExcludesStale(t *testing.T) {
	repo := newTestRepo(t)
	ep := seedEndpoint(t, repo, domain.SourceACIFabric)
	svc := NewFabric(repo, zerolog.Nop())
	ctx := context.Background()

	leaf1 := fabricNode("node-101", "leaf-101", domain.NodeRoleLeaf, "15.2(3e)", "active")
	leaf1.DelayedHeartbeat = true
	leaf2 := fabricNode("node-102", "leaf-102", domain.NodeRoleLeaf, "15.2(3e)", "active")
	spine := fabricNode("node-201", "spine-201", domain.NodeRoleSpine, "15.2(3e)", "active")
	apic := fabricNode("node-1", "apic1", domain.NodeRoleController, "5.2(4d)", "active")
	dead := fabricNode("node-999", "leaf-999", domain.NodeRoleLeaf, "14.1(1a)", "inactive")
	dead.Stale = true
	seedFabric(t, repo, ep, []*domain.FabricNode{leaf1, leaf2, spine, apic, dead})

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Total, "stale rows excluded")
	assert.Equal(t, 2, sum.LeafCount)
	assert.Equal(t, 1, sum.SpineCount)
	assert.Equal(t, 1, sum.ControllerCount)
	assert.Equal(t, 1, sum.DelayedHeartbeat)
	assert.Equal(t, 4, sum.ByFabricState["active"])
	assert.Equal(t, 3, sum.ByVersion["15.2(3e)"])
}

func TestFabricSummaryDetailsGroupsPerEndpoint(t *testing.T) {
	repo := newTestRepo(t)
	epA := seedEndpoint(t, repo, domain.SourceACIFabric)
	epB := seedEndpoint(t, repo, domain.SourceNXOSFabric)
	svc := NewFabric(repo, zerolog.Nop())
	ctx := context.Background()

	seedFabric(t, repo, epA, []*domain.FabricNode{
		fabricNode("node-101", "leaf-101", domain.NodeRoleLeaf, "15.2(3e)", "active"),
		fabricNode("node-201", "spine-201", domain.NodeRoleSpine, "15.2(3e)", "active"),
	})
	seedFabric(t, repo, epB, []*domain.FabricNode{
		fabricNode("Chassis", "n9k-leaf-01", domain.NodeRoleUnspecified, "9.3(9)", ""),
	})

	details, err := svc.SummaryDetails(ctx, DetailsFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, details.TotalNodes)
	assert.Equal(t, 2, details.TotalFabrics)
	assert.ElementsMatch(t, []string{"leaf", "spine", "unspecified"}, details.AvailableRoles)
	assert.Contains(t, details.AvailableVersions, "9.3(9)")

	for _, g := range details.Fabrics {
		if g.EndpointID == epA.ID {
			assert.Equal(t, epA.Name, g.FabricName)
			assert.Equal(t, 2, g.TotalNodes)
			assert.Equal(t, 1, g.ByRole["leaf"])
		}
	}
}

func TestFabricSummaryDetailsFacetFilters(t *testing.T) {
	repo := newTestRepo(t)
	ep := seedEndpoint(t, repo, domain.SourceACIFabric)
	svc := NewFabric(repo, zerolog.Nop())
	ctx := context.Background()

	seedFabric(t, repo, ep, []*domain.FabricNode{
		fabricNode("node-101", "leaf-101", domain.NodeRoleLeaf, "15.2(3e)", "active"),
		fabricNode("node-201", "spine-201", domain.NodeRoleSpine, "15.2(3e)", "active"),
		fabricNode("node-202", "spine-202", domain.NodeRoleSpine, "16.0(1g)", "inactive"),
	})

	details, err := svc.SummaryDetails(ctx, DetailsFilter{Roles: []string{"spine"}})
	require.NoError(t, err)
	assert.Equal(t, 2, details.TotalNodes)
	// Facets still advertise the full current set.
	assert.ElementsMatch(t, []string{"leaf", "spine"}, details.AvailableRoles)

	details, err = svc.SummaryDetails(ctx, DetailsFilter{Roles: []string{"spine"}, States: []string{"active"}})
	require.NoError(t, err)
	assert.Equal(t, 1, details.TotalNodes)

	details, err = svc.SummaryDetails(ctx, DetailsFilter{Versions: []string{"99.9"}})
	require.NoError(t, err)
	assert.Equal(t, 0, details.TotalNodes)
	assert.Empty(t, details.Fabrics)
}
