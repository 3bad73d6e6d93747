package repository

import (
	"context"
	"errors"
	"time"

	"infrapulse/internal/domain"
)

// ErrNotFound is returned when a row does not exist. Handlers map it
// to 404, the scheduler treats it as a deregistered endpoint.
var ErrNotFound = errors.New("not found")

// EntityFilter narrows inventory list queries. Zero values mean no
// filtering on that field.
type EntityFilter struct {
	EndpointID string
	// HostID only applies to virtual machines.
	HostID string
	// NodeID only applies to fabric interfaces.
	NodeID string
}

// FabricNodeFilter narrows and paginates the fabric node query.
type FabricNodeFilter struct {
	EndpointID string
	Role       string
	// Search matches name, serial, model and natural key, case
	// insensitively.
	Search   string
	Page     int
	PageSize int
}

// Repository is the persistence surface. The sqlite package implements
// it; everything above it only sees this interface.
type Repository interface {
	// Endpoint registry
	CreateEndpoint(ctx context.Context, ep *domain.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*domain.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *domain.Endpoint) error
	// UpdateEndpointHealth writes only the poll health fields, so a
	// cycle-end write cannot overwrite a concurrent settings change.
	UpdateEndpointHealth(ctx context.Context, id string, status domain.PollStatus, message string, polledAt time.Time) error
	// DeleteEndpoint removes the endpoint, its secret and every scoped
	// entity in one transaction.
	DeleteEndpoint(ctx context.Context, id string) error

	// Secret storage, consumed through the vault. Ciphertext is opaque.
	CreateSecret(ctx context.Context, handle string, ciphertext []byte) error
	GetSecret(ctx context.Context, handle string) ([]byte, error)
	UpdateSecret(ctx context.Context, handle string, ciphertext []byte) error
	DeleteSecret(ctx context.Context, handle string) error

	// Query API reads
	ListHosts(ctx context.Context, f EntityFilter) ([]*domain.Host, error)
	ListVirtualMachines(ctx context.Context, f EntityFilter) ([]*domain.VirtualMachine, error)
	ListDatastores(ctx context.Context, f EntityFilter) ([]*domain.Datastore, error)
	ListNetworks(ctx context.Context, f EntityFilter) ([]*domain.Network, error)
	ListFabricNodes(ctx context.Context, f FabricNodeFilter) (*domain.Page[*domain.FabricNode], error)
	GetFabricNode(ctx context.Context, id string) (*domain.FabricNode, error)
	ListFabricInterfaces(ctx context.Context, f EntityFilter) ([]*domain.FabricInterface, error)
	// AllFabricNodes returns every node row for summary aggregation,
	// unpaginated. Empty endpointID means all endpoints.
	AllFabricNodes(ctx context.Context, endpointID string) ([]*domain.FabricNode, error)

	// Reconcile surface: full per-endpoint row sets including stale
	// rows, and batched upserts keyed by row ID.
	HostsByEndpoint(ctx context.Context, endpointID string) ([]*domain.Host, error)
	VirtualMachinesByEndpoint(ctx context.Context, endpointID string) ([]*domain.VirtualMachine, error)
	DatastoresByEndpoint(ctx context.Context, endpointID string) ([]*domain.Datastore, error)
	NetworksByEndpoint(ctx context.Context, endpointID string) ([]*domain.Network, error)
	FabricNodesByEndpoint(ctx context.Context, endpointID string) ([]*domain.FabricNode, error)
	FabricInterfacesByEndpoint(ctx context.Context, endpointID string) ([]*domain.FabricInterface, error)

	UpsertHosts(ctx context.Context, rows []*domain.Host) error
	UpsertVirtualMachines(ctx context.Context, rows []*domain.VirtualMachine) error
	UpsertDatastores(ctx context.Context, rows []*domain.Datastore) error
	UpsertNetworks(ctx context.Context, rows []*domain.Network) error
	UpsertFabricNodes(ctx context.Context, rows []*domain.FabricNode) error
	UpsertFabricInterfaces(ctx context.Context, rows []*domain.FabricInterface) error

	Close() error
}
