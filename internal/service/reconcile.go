package service

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"infrapulse/internal/adapter"
	"infrapulse/internal/domain"
	"infrapulse/internal/repository"
)

// Reconciler folds raw snapshots into the canonical store.
//
// Entities are keyed by natural key within their endpoint. An unchanged
// entity only gets its last-seen watermark bumped; a changed one is
// rewritten with a fresh updated_at. Entities missing from the snapshot
// are left alone until the watermark ages past the grace window, then
// marked stale. Rows are never deleted by a poll cycle.
type Reconciler struct {
	repo       repository.Repository
	log        zerolog.Logger
	staleAfter time.Duration

	now func() time.Time
}

// NewReconciler builds a reconciler with the given staleness grace
// window.
func NewReconciler(repo repository.Repository, staleAfter time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		repo:       repo,
		log:        log.With().Str("component", "reconcile").Logger(),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Summarize counts a snapshot's contents without touching the store.
// Validate and test share this shape with real cycles.
func Summarize(snap *adapter.RawSnapshot) *domain.PollSummary {
	collected := snap.CollectedAt
	s := &domain.PollSummary{
		Reachable:    true,
		PartialKinds: snap.Partial,
		CollectedAt:  &collected,
	}
	if snap.Virt != nil {
		s.HostCount = len(snap.Virt.Hosts)
		s.VirtualMachineCount = len(snap.Virt.VirtualMachines)
		s.DatastoreCount = len(snap.Virt.Datastores)
		s.NetworkCount = len(snap.Virt.Networks)
	}
	if snap.Fabric != nil {
		s.FabricNodeCount = len(snap.Fabric.Nodes)
		s.FabricInterfaceCount = len(snap.Fabric.Interfaces)
	}
	return s
}

// Reconcile commits one snapshot for one endpoint and returns its
// summary.
func (r *Reconciler) Reconcile(ctx context.Context, ep *domain.Endpoint, snap *adapter.RawSnapshot) (*domain.PollSummary, error) {
	partial := make(map[string]bool, len(snap.Partial))
	for _, kind := range snap.Partial {
		partial[kind] = true
	}

	switch {
	case snap.Virt != nil:
		if err := r.reconcileVirt(ctx, ep, snap.Virt, partial); err != nil {
			return nil, err
		}
	case snap.Fabric != nil:
		if err := r.reconcileFabric(ctx, ep, snap.Fabric, partial); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("snapshot for %s carries no inventory", ep.ID)
	}
	return Summarize(snap), nil
}

func (r *Reconciler) reconcileVirt(ctx context.Context, ep *domain.Endpoint, inv *adapter.VirtInventory, partial map[string]bool) error {
	now := r.now().UTC()

	hostRows, hostIDs, err := r.reconcileHosts(ctx, ep, inv.Hosts, now)
	if err != nil {
		return err
	}
	if err := r.repo.UpsertHosts(ctx, hostRows); err != nil {
		return fmt.Errorf("persisting hosts: %w", err)
	}

	if !partial["virtual_machines"] || len(inv.VirtualMachines) > 0 {
		vmRows, err := r.reconcileVMs(ctx, ep, inv.VirtualMachines, hostIDs, now, partial["virtual_machines"])
		if err != nil {
			return err
		}
		if err := r.repo.UpsertVirtualMachines(ctx, vmRows); err != nil {
			return fmt.Errorf("persisting virtual machines: %w", err)
		}
	}

	if !partial["datastores"] {
		dsRows, err := r.reconcileDatastores(ctx, ep, inv.Datastores, now)
		if err != nil {
			return err
		}
		if err := r.repo.UpsertDatastores(ctx, dsRows); err != nil {
			return fmt.Errorf("persisting datastores: %w", err)
		}
	}

	if !partial["networks"] {
		netRows, err := r.reconcileNetworks(ctx, ep, inv.Networks, now)
		if err != nil {
			return err
		}
		if err := r.repo.UpsertNetworks(ctx, netRows); err != nil {
			return fmt.Errorf("persisting networks: %w", err)
		}
	}
	return nil
}

// reconcileHosts returns the rows to write plus the name-to-ID map used
// to resolve VM placement. The map covers stale rows too, so a VM can
// keep pointing at a host that just left the snapshot.
func (r *Reconciler) reconcileHosts(ctx context.Context, ep *domain.Endpoint, raw []adapter.VirtHost, now time.Time) ([]*domain.Host, map[string]string, error) {
	existing, err := r.repo.HostsByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading hosts: %w", err)
	}
	byKey := make(map[string]*domain.Host, len(existing))
	ids := make(map[string]string, len(existing))
	for _, h := range existing {
		byKey[h.Name] = h
		ids[h.Name] = h.ID
	}

	var writes []*domain.Host
	seen := make(map[string]bool, len(raw))
	for _, rh := range raw {
		if rh.Name == "" || seen[rh.Name] {
			continue
		}
		seen[rh.Name] = true

		candidate := mapHost(ep.ID, rh)
		old, ok := byKey[rh.Name]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.LastSeenAt = now
			ids[rh.Name] = candidate.ID
			writes = append(writes, candidate)
			continue
		}
		writes = append(writes, mergeRow(old, candidate, now, func(h *domain.Host) *rowStamps {
			return &rowStamps{id: &h.ID, created: &h.CreatedAt, updated: &h.UpdatedAt, seen: &h.LastSeenAt, stale: &h.Stale}
		}))
	}

	writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(h *domain.Host) (string, time.Time, *bool) {
		return h.Name, h.LastSeenAt, &h.Stale
	})...)
	return writes, ids, nil
}

func (r *Reconciler) reconcileVMs(ctx context.Context, ep *domain.Endpoint, raw []adapter.VirtVM, hostIDs map[string]string, now time.Time, partial bool) ([]*domain.VirtualMachine, error) {
	existing, err := r.repo.VirtualMachinesByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, fmt.Errorf("loading virtual machines: %w", err)
	}
	byKey := make(map[string]*domain.VirtualMachine, len(existing))
	for _, vm := range existing {
		byKey[vm.Name] = vm
	}

	var writes []*domain.VirtualMachine
	seen := make(map[string]bool, len(raw))
	for _, rv := range raw {
		if rv.Name == "" || seen[rv.Name] {
			continue
		}
		seen[rv.Name] = true

		candidate := mapVM(ep.ID, rv)
		if id, ok := hostIDs[rv.HostName]; ok {
			candidate.HostID = &id
		}
		old, ok := byKey[rv.Name]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.LastSeenAt = now
			writes = append(writes, candidate)
			continue
		}
		writes = append(writes, mergeRow(old, candidate, now, func(vm *domain.VirtualMachine) *rowStamps {
			return &rowStamps{id: &vm.ID, created: &vm.CreatedAt, updated: &vm.UpdatedAt, seen: &vm.LastSeenAt, stale: &vm.Stale}
		}))
	}

	// A partial VM list cannot distinguish "gone" from "not fetched",
	// so the stale sweep is skipped for this cycle.
	if !partial {
		writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(vm *domain.VirtualMachine) (string, time.Time, *bool) {
			return vm.Name, vm.LastSeenAt, &vm.Stale
		})...)
	}
	return writes, nil
}

func (r *Reconciler) reconcileDatastores(ctx context.Context, ep *domain.Endpoint, raw []adapter.VirtDatastore, now time.Time) ([]*domain.Datastore, error) {
	existing, err := r.repo.DatastoresByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, fmt.Errorf("loading datastores: %w", err)
	}
	byKey := make(map[string]*domain.Datastore, len(existing))
	for _, d := range existing {
		byKey[d.Name] = d
	}

	var writes []*domain.Datastore
	seen := make(map[string]bool, len(raw))
	for _, rd := range raw {
		if rd.Name == "" || seen[rd.Name] {
			continue
		}
		seen[rd.Name] = true

		candidate := mapDatastore(ep.ID, rd)
		old, ok := byKey[rd.Name]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.LastSeenAt = now
			writes = append(writes, candidate)
			continue
		}
		writes = append(writes, mergeRow(old, candidate, now, func(d *domain.Datastore) *rowStamps {
			return &rowStamps{id: &d.ID, created: &d.CreatedAt, updated: &d.UpdatedAt, seen: &d.LastSeenAt, stale: &d.Stale}
		}))
	}

	writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(d *domain.Datastore) (string, time.Time, *bool) {
		return d.Name, d.LastSeenAt, &d.Stale
	})...)
	return writes, nil
}

func (r *Reconciler) reconcileNetworks(ctx context.Context, ep *domain.Endpoint, raw []string, now time.Time) ([]*domain.Network, error) {
	existing, err := r.repo.NetworksByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, fmt.Errorf("loading networks: %w", err)
	}
	byKey := make(map[string]*domain.Network, len(existing))
	for _, n := range existing {
		byKey[n.Name] = n
	}

	var writes []*domain.Network
	seen := make(map[string]bool, len(raw))
	for _, name := range raw {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		old, ok := byKey[name]
		if !ok {
			writes = append(writes, &domain.Network{
				ID:         uuid.NewString(),
				EndpointID: ep.ID,
				Name:       name,
				CreatedAt:  now,
				UpdatedAt:  now,
				LastSeenAt: now,
			})
			continue
		}
		old.LastSeenAt = now
		old.Stale = false
		writes = append(writes, old)
	}

	writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(n *domain.Network) (string, time.Time, *bool) {
		return n.Name, n.LastSeenAt, &n.Stale
	})...)
	return writes, nil
}

func (r *Reconciler) reconcileFabric(ctx context.Context, ep *domain.Endpoint, inv *adapter.FabricInventory, partial map[string]bool) error {
	now := r.now().UTC()

	nodeRows, nodeIDs, err := r.reconcileFabricNodes(ctx, ep, inv.Nodes, now)
	if err != nil {
		return err
	}
	if err := r.repo.UpsertFabricNodes(ctx, nodeRows); err != nil {
		return fmt.Errorf("persisting fabric nodes: %w", err)
	}

	if !partial["fabric_interfaces"] {
		ifRows, err := r.reconcileFabricInterfaces(ctx, ep, inv.Interfaces, nodeIDs, now)
		if err != nil {
			return err
		}
		if err := r.repo.UpsertFabricInterfaces(ctx, ifRows); err != nil {
			return fmt.Errorf("persisting fabric interfaces: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileFabricNodes(ctx context.Context, ep *domain.Endpoint, raw []adapter.FabricNode, now time.Time) ([]*domain.FabricNode, map[string]string, error) {
	existing, err := r.repo.FabricNodesByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading fabric nodes: %w", err)
	}
	byKey := make(map[string]*domain.FabricNode, len(existing))
	ids := make(map[string]string, len(existing))
	for _, n := range existing {
		byKey[n.NaturalKey] = n
		ids[n.NaturalKey] = n.ID
	}

	var writes []*domain.FabricNode
	seen := make(map[string]bool, len(raw))
	for _, rn := range raw {
		if rn.Key == "" || seen[rn.Key] {
			continue
		}
		seen[rn.Key] = true

		candidate := mapFabricNode(ep.ID, rn)
		old, ok := byKey[rn.Key]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.LastSeenAt = now
			ids[rn.Key] = candidate.ID
			writes = append(writes, candidate)
			continue
		}
		writes = append(writes, mergeRow(old, candidate, now, func(n *domain.FabricNode) *rowStamps {
			return &rowStamps{id: &n.ID, created: &n.CreatedAt, updated: &n.UpdatedAt, seen: &n.LastSeenAt, stale: &n.Stale}
		}))
	}

	writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(n *domain.FabricNode) (string, time.Time, *bool) {
		return n.NaturalKey, n.LastSeenAt, &n.Stale
	})...)
	return writes, ids, nil
}

func (r *Reconciler) reconcileFabricInterfaces(ctx context.Context, ep *domain.Endpoint, raw []adapter.FabricInterface, nodeIDs map[string]string, now time.Time) ([]*domain.FabricInterface, error) {
	existing, err := r.repo.FabricInterfacesByEndpoint(ctx, ep.ID)
	if err != nil {
		return nil, fmt.Errorf("loading fabric interfaces: %w", err)
	}
	byKey := make(map[string]*domain.FabricInterface, len(existing))
	for _, i := range existing {
		byKey[i.NaturalKey] = i
	}

	var writes []*domain.FabricInterface
	seen := make(map[string]bool, len(raw))
	for _, ri := range raw {
		if ri.Key == "" || seen[ri.Key] {
			continue
		}
		seen[ri.Key] = true

		candidate := mapFabricInterface(ep.ID, ri)
		if id, ok := nodeIDs[ri.NodeKey]; ok {
			candidate.NodeID = &id
		}
		old, ok := byKey[ri.Key]
		if !ok {
			candidate.ID = uuid.NewString()
			candidate.CreatedAt = now
			candidate.UpdatedAt = now
			candidate.LastSeenAt = now
			writes = append(writes, candidate)
			continue
		}
		writes = append(writes, mergeRow(old, candidate, now, func(i *domain.FabricInterface) *rowStamps {
			return &rowStamps{id: &i.ID, created: &i.CreatedAt, updated: &i.UpdatedAt, seen: &i.LastSeenAt, stale: &i.Stale}
		}))
	}

	writes = append(writes, staleSweep(existing, seen, now, r.staleAfter, func(i *domain.FabricInterface) (string, time.Time, *bool) {
		return i.NaturalKey, i.LastSeenAt, &i.Stale
	})...)
	return writes, nil
}

// rowStamps points at the bookkeeping fields shared by every canonical
// entity.
type rowStamps struct {
	id      *string
	created *time.Time
	updated *time.Time
	seen    *time.Time
	stale   *bool
}

// mergeRow decides between "unchanged, bump watermark" and "changed,
// rewrite". The candidate inherits the old row's identity and stamps
// before comparison so only payload fields can differ.
func mergeRow[T any](old, candidate *T, now time.Time, stamps func(*T) *rowStamps) *T {
	os := stamps(old)
	cs := stamps(candidate)
	*cs.id = *os.id
	*cs.created = *os.created
	*cs.updated = *os.updated
	*cs.seen = *os.seen
	*cs.stale = *os.stale

	if reflect.DeepEqual(old, candidate) {
		*os.seen = now
		*os.stale = false
		return old
	}
	*cs.updated = now
	*cs.seen = now
	*cs.stale = false
	return candidate
}

// staleSweep marks rows absent from the snapshot whose watermark has
// aged past the grace window. Rows still within grace are left alone.
func staleSweep[T any](existing []*T, seen map[string]bool, now time.Time, grace time.Duration, fields func(*T) (string, time.Time, *bool)) []*T {
	var writes []*T
	for _, row := range existing {
		key, lastSeen, stale := fields(row)
		if seen[key] || *stale {
			continue
		}
		if now.Sub(lastSeen) > grace {
			*stale = true
			writes = append(writes, row)
		}
	}
	return writes
}

func mapHost(endpointID string, raw adapter.VirtHost) *domain.Host {
	return &domain.Host{
		EndpointID:       endpointID,
		Name:             raw.Name,
		Cluster:          optStr(raw.Cluster),
		HardwareModel:    optStr(raw.HardwareModel),
		Connection:       domain.MapConnectionState(raw.ConnectionState),
		Power:            domain.MapPowerState(raw.PowerState),
		CPUCores:         raw.CPUCores,
		CPUUsageMHz:      raw.CPUUsageMHz,
		MemoryTotalMB:    raw.MemoryTotalMB,
		MemoryUsageMB:    raw.MemoryUsageMB,
		UptimeSeconds:    raw.UptimeSeconds,
		DatastoreTotalGB: raw.DatastoreTotalGB,
		DatastoreFreeGB:  raw.DatastoreFreeGB,
	}
}

func mapVM(endpointID string, raw adapter.VirtVM) *domain.VirtualMachine {
	return &domain.VirtualMachine{
		EndpointID:           endpointID,
		Name:                 raw.Name,
		GuestOS:              optStr(raw.GuestOS),
		Power:                domain.MapPowerState(raw.PowerState),
		CPUCount:             raw.CPUCount,
		MemoryMB:             raw.MemoryMB,
		CPUUsageMHz:          raw.CPUUsageMHz,
		MemoryUsageMB:        raw.MemoryUsageMB,
		ProvisionedStorageGB: raw.ProvisionedStorageGB,
		UsedStorageGB:        raw.UsedStorageGB,
		IPAddress:            optStr(raw.IPAddress),
		Datastores:           raw.Datastores,
		Networks:             raw.Networks,
		ToolsStatus:          optStr(raw.ToolsStatus),
	}
}

func mapDatastore(endpointID string, raw adapter.VirtDatastore) *domain.Datastore {
	return &domain.Datastore{
		EndpointID: endpointID,
		Name:       raw.Name,
		Type:       optStr(raw.Type),
		CapacityGB: raw.CapacityGB,
		FreeGB:     raw.FreeGB,
	}
}

func mapFabricNode(endpointID string, raw adapter.FabricNode) *domain.FabricNode {
	return &domain.FabricNode{
		EndpointID:       endpointID,
		NaturalKey:       raw.Key,
		Name:             raw.Name,
		Role:             domain.MapNodeRole(raw.Role),
		NodeID:           optStr(raw.NodeID),
		Address:          optStr(raw.Address),
		Serial:           optStr(raw.Serial),
		Model:            optStr(raw.Model),
		Version:          optStr(raw.Version),
		Vendor:           optStr(raw.Vendor),
		Pod:              optStr(raw.Pod),
		FabricState:      optStr(raw.FabricState),
		AdminState:       optStr(raw.AdminState),
		DelayedHeartbeat: raw.DelayedHeartbeat,
	}
}

func mapFabricInterface(endpointID string, raw adapter.FabricInterface) *domain.FabricInterface {
	return &domain.FabricInterface{
		EndpointID: endpointID,
		NaturalKey: raw.Key,
		Name:       raw.Name,
		NodeKey:    raw.NodeKey,
		AdminState: optStr(raw.AdminState),
		OperState:  optStr(raw.OperState),
		Speed:      optStr(raw.Speed),
		Usage:      optStr(raw.Usage),
		Descr:      optStr(raw.Descr),
	}
}

// optStr maps empty vendor strings to nil.
func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
