package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
)

// Params are the connection details an adapter needs for one call.
// They carry no secret; credentials are passed separately so the vault
// boundary stays visible in every signature.
type Params struct {
	Address   string
	Port      int
	VerifyTLS bool
	// Transport selects the wire protocol for families that support
	// more than one (NX-OS: nxapi-https, nxapi-http, ssh).
	Transport string
	// Timeout bounds every individual network call. The cycle-wide
	// deadline comes from the caller's context.
	Timeout time.Duration
}

// Credentials is the decrypted secret for one adapter invocation. It
// lives on the stack for the duration of the call and is never logged.
type Credentials struct {
	Username string
	Password string
}

func (p Params) timeout() time.Duration {
	if p.Timeout <= 0 {
		return 30 * time.Second
	}
	return p.Timeout
}

// Adapter is the capability interface one source family implements.
// The scheduler and normalizer only ever see this interface and the
// closed RawSnapshot shape; vendor protocol knowledge ends here.
type Adapter interface {
	Family() domain.SourceFamily

	// TestConnection authenticates against the endpoint and returns
	// nil on success. It fetches nothing beyond the login exchange.
	TestConnection(ctx context.Context, p Params, c Credentials) error

	// FetchInventory drains the endpoint's inventory into one snapshot.
	// Paginated vendor APIs are fully drained within the call. When a
	// sub-query fails after the main fetch succeeded, the returned
	// snapshot carries the fetched portion and names the failed kinds
	// in Partial.
	FetchInventory(ctx context.Context, p Params, c Credentials) (*RawSnapshot, error)
}

// RawSnapshot is the family-specific intermediate shape handed to the
// normalizer. Exactly one of Virt or Fabric is set.
type RawSnapshot struct {
	Family      domain.SourceFamily
	CollectedAt time.Time

	Virt   *VirtInventory
	Fabric *FabricInventory

	// Partial lists entity kinds whose sub-fetch failed. The normalizer
	// leaves those kinds untouched instead of staling them.
	Partial []string
}

// VirtInventory is the closed shape for the virtualization family.
type VirtInventory struct {
	Hosts           []VirtHost
	VirtualMachines []VirtVM
	Datastores      []VirtDatastore
	Networks        []string
}

type VirtHost struct {
	Name            string
	Cluster         string
	HardwareModel   string
	ConnectionState string
	PowerState      string

	CPUCores         *int
	CPUUsageMHz      *int
	MemoryTotalMB    *int64
	MemoryUsageMB    *int64
	UptimeSeconds    *int64
	DatastoreTotalGB *float64
	DatastoreFreeGB  *float64
}

type VirtVM struct {
	Name        string
	HostName    string
	GuestOS     string
	PowerState  string
	IPAddress   string
	ToolsStatus string

	CPUCount             *int
	MemoryMB             *int64
	CPUUsageMHz          *int
	MemoryUsageMB        *int64
	ProvisionedStorageGB *float64
	UsedStorageGB        *float64

	Datastores []string
	Networks   []string
}

type VirtDatastore struct {
	Name       string
	Type       string
	CapacityGB *float64
	FreeGB     *float64
}

// FabricInventory is the closed shape for both fabric families.
type FabricInventory struct {
	Nodes      []FabricNode
	Interfaces []FabricInterface
}

type FabricNode struct {
	// Key is the vendor-assigned stable identifier (ACI distinguished
	// name, NX-OS inventory slot name).
	Key string

	Name             string
	Role             string
	NodeID           string
	Address          string
	Serial           string
	Model            string
	Version          string
	Vendor           string
	Pod              string
	FabricState      string
	AdminState       string
	DelayedHeartbeat bool
}

type FabricInterface struct {
	Key     string
	NodeKey string
	Name    string

	AdminState string
	OperState  string
	Speed      string
	Usage      string
	Descr      string
}

// Registry selects the adapter for an endpoint's source family.
type Registry struct {
	adapters map[domain.SourceFamily]Adapter
}

// NewRegistry builds the registry with one adapter per family.
func NewRegistry(log zerolog.Logger) *Registry {
	r := &Registry{adapters: make(map[domain.SourceFamily]Adapter)}
	r.Register(NewVSphereAdapter(log))
	r.Register(NewACIAdapter(log))
	r.Register(NewNXOSAdapter(log))
	return r
}

// Register installs an adapter, replacing any previous one for the
// same family.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Family()] = a
}

// ForFamily returns the adapter handling a source family.
func (r *Registry) ForFamily(family domain.SourceFamily) (Adapter, error) {
	a, ok := r.adapters[family]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source family %q", family)
	}
	return a, nil
}
