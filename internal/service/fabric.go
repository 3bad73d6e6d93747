package service

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

// Fabric aggregates fabric node rows into the summary shapes. Nothing
// here is stored; every call recomputes from current rows.
type Fabric struct {
	repo repository.Repository
	log  zerolog.Logger
}

// NewFabric builds the fabric aggregation service.
func NewFabric(repo repository.Repository, log zerolog.Logger) *Fabric {
	return &Fabric{repo: repo, log: log.With().Str("component", "fabric").Logger()}
}

// DetailsFilter narrows the per-fabric breakdown. Empty slices mean no
// filtering on that facet.
type DetailsFilter struct {
	EndpointID string
	Roles      []string
	Models     []string
	Versions   []string
	States     []string
}

// Summary counts current (non-stale) fabric nodes across every
// endpoint.
func (s *Fabric) Summary(ctx context.Context) (*domain.FabricSummary, error) {
	nodes, err := s.repo.AllFabricNodes(ctx, "")
	if err != nil {
		return nil, err
	}

	sum := &domain.FabricSummary{
		ByFabricState: map[string]int{},
		ByVersion:     map[string]int{},
	}
	for _, n := range nodes {
		if n.Stale {
			continue
		}
		sum.Total++
		switch n.Role {
		case domain.NodeRoleLeaf:
			sum.LeafCount++
		case domain.NodeRoleSpine:
			sum.SpineCount++
		case domain.NodeRoleController:
			sum.ControllerCount++
		default:
			sum.UnspecifiedCount++
		}
		if n.DelayedHeartbeat {
			sum.DelayedHeartbeat++
		}
		if n.FabricState != nil {
			sum.ByFabricState[*n.FabricState]++
		}
		if n.Version != nil {
			sum.ByVersion[*n.Version]++
		}
	}
	return sum, nil
}

// SummaryDetails breaks current nodes down per fabric endpoint, after
// applying facet filters, and reports which facet values remain
// available for further narrowing.
func (s *Fabric) SummaryDetails(ctx context.Context, f DetailsFilter) (*domain.FabricSummaryDetails, error) {
	nodes, err := s.repo.AllFabricNodes(ctx, f.EndpointID)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.repo.ListEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byID[ep.ID] = ep
	}

	details := &domain.FabricSummaryDetails{Fabrics: []domain.FabricGroup{}}
	groups := make(map[string]*domain.FabricGroup)
	roles := map[string]bool{}
	models := map[string]bool{}
	versions := map[string]bool{}
	states := map[string]bool{}

	for _, n := range nodes {
		if n.Stale {
			continue
		}
		// Facet values come from the unfiltered current set so the
		// caller can widen a narrow filter again.
		roles[string(n.Role)] = true
		if n.Model != nil {
			models[*n.Model] = true
		}
		if n.Version != nil {
			versions[*n.Version] = true
		}
		if n.FabricState != nil {
			states[*n.FabricState] = true
		}

		if !matchFacet(f.Roles, string(n.Role)) ||
			!matchFacet(f.Models, deref(n.Model)) ||
			!matchFacet(f.Versions, deref(n.Version)) ||
			!matchFacet(f.States, deref(n.FabricState)) {
			continue
		}

		g, ok := groups[n.EndpointID]
		if !ok {
			g = &domain.FabricGroup{
				EndpointID:    n.EndpointID,
				ByRole:        map[string]int{},
				ByModel:       map[string]int{},
				ByVersion:     map[string]int{},
				ByFabricState: map[string]int{},
			}
			if ep := byID[n.EndpointID]; ep != nil {
				g.FabricName = ep.Name
				g.FabricAddress = ep.Address
				g.LastPolledAt = ep.LastPolledAt
			}
			groups[n.EndpointID] = g
		}

		g.TotalNodes++
		details.TotalNodes++
		if n.DelayedHeartbeat {
			g.DelayedHeartbeat++
		}
		g.ByRole[string(n.Role)]++
		if n.Model != nil {
			g.ByModel[*n.Model]++
		}
		if n.Version != nil {
			g.ByVersion[*n.Version]++
		}
		if n.FabricState != nil {
			g.ByFabricState[*n.FabricState]++
		}
	}

	for _, g := range groups {
		details.Fabrics = append(details.Fabrics, *g)
	}
	sort.Slice(details.Fabrics, func(i, j int) bool {
		return details.Fabrics[i].FabricName < details.Fabrics[j].FabricName
	})
	details.TotalFabrics = len(details.Fabrics)
	details.AvailableRoles = sortedKeys(roles)
	details.AvailableModels = sortedKeys(models)
	details.AvailableVersions = sortedKeys(versions)
	details.AvailableStates = sortedKeys(states)
	return details, nil
}

func matchFacet(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, value) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
