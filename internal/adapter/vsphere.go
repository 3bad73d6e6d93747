package adapter

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
)

// VSphereAdapter speaks the vCenter/ESXi REST automation API.
//
// One fetch drains clusters, hosts, per-host VM placement with per-VM
// detail (guest identity, tools state, disks, nics), datastores and
// networks into a VirtInventory. Datastore, network and per-host VM
// sub-queries degrade to a partial snapshot when they fail after the
// host list succeeded.
type VSphereAdapter struct {
	log zerolog.Logger
}

// NewVSphereAdapter creates the virtualization-family adapter.
func NewVSphereAdapter(log zerolog.Logger) *VSphereAdapter {
	return &VSphereAdapter{log: log.With().Str("adapter", "vsphere").Logger()}
}

func (a *VSphereAdapter) Family() domain.SourceFamily { return domain.SourceVirtualization }

// TestConnection opens and immediately closes an API session.
func (a *VSphereAdapter) TestConnection(ctx context.Context, p Params, c Credentials) error {
	client := newHTTPClient(p)
	session, err := a.login(ctx, client, p, c)
	if err != nil {
		return err
	}
	a.logout(ctx, client, p, session)
	return nil
}

// FetchInventory drains the endpoint into one VirtInventory snapshot.
func (a *VSphereAdapter) FetchInventory(ctx context.Context, p Params, c Credentials) (*RawSnapshot, error) {
	client := newHTTPClient(p)
	session, err := a.login(ctx, client, p, c)
	if err != nil {
		return nil, err
	}
	defer a.logout(ctx, client, p, session)

	inv := &VirtInventory{}
	var partial []string

	clusters, err := a.listClusters(ctx, client, p, session)
	if err != nil {
		// Standalone ESXi hosts have no cluster API; treat as empty.
		a.log.Debug().Err(err).Msg("cluster listing unavailable")
		clusters = nil
	}

	hostCluster := make(map[string]string)
	for _, cl := range clusters {
		members, err := a.listHosts(ctx, client, p, session, cl.Cluster)
		if err != nil {
			continue
		}
		for _, h := range members {
			hostCluster[h.Host] = cl.Name
		}
	}

	hosts, err := a.listHosts(ctx, client, p, session, "")
	if err != nil {
		return nil, err
	}

	// Networks come first: per-VM detail resolves nic backings through
	// the id to name map.
	netNames := make(map[string]string)
	networks, err := a.listNetworks(ctx, client, p, session)
	if err != nil {
		a.log.Warn().Err(err).Msg("network listing failed")
		partial = append(partial, "networks")
	}
	for _, n := range networks {
		netNames[n.Network] = n.Name
		inv.Networks = append(inv.Networks, n.Name)
	}

	datastores, err := a.listDatastores(ctx, client, p, session, "")
	if err != nil {
		a.log.Warn().Err(err).Msg("datastore listing failed")
		partial = append(partial, "datastores")
	}
	for _, ds := range datastores {
		inv.Datastores = append(inv.Datastores, VirtDatastore{
			Name:       ds.Name,
			Type:       ds.Type,
			CapacityGB: bytesToGB(ds.Capacity),
			FreeGB:     bytesToGB(ds.FreeSpace),
		})
	}

	vmPartial := false
	for _, h := range hosts {
		host := VirtHost{
			Name:            h.Name,
			Cluster:         hostCluster[h.Host],
			ConnectionState: h.ConnectionState,
			PowerState:      h.PowerState,
		}
		total, free, err := a.hostDatastoreRollup(ctx, client, p, session, h.Host)
		if err != nil {
			a.log.Debug().Err(err).Str("host", h.Name).Msg("host datastore rollup failed")
		} else {
			host.DatastoreTotalGB = total
			host.DatastoreFreeGB = free
		}
		inv.Hosts = append(inv.Hosts, host)

		vms, err := a.listVMs(ctx, client, p, session, h.Host)
		if err != nil {
			a.log.Warn().Err(err).Str("host", h.Name).Msg("vm listing failed")
			vmPartial = true
			continue
		}
		for _, vm := range vms {
			entry := VirtVM{
				Name:       vm.Name,
				HostName:   h.Name,
				PowerState: vm.PowerState,
			}
			if vm.CPUCount > 0 {
				count := vm.CPUCount
				entry.CPUCount = &count
			}
			if vm.MemorySizeMiB > 0 {
				mem := vm.MemorySizeMiB
				entry.MemoryMB = &mem
			}
			a.fillVMDetail(ctx, client, p, session, vm.VM, &entry, netNames)
			inv.VirtualMachines = append(inv.VirtualMachines, entry)
		}
	}
	if vmPartial {
		partial = append(partial, "virtual_machines")
	}

	return &RawSnapshot{
		Family:      domain.SourceVirtualization,
		CollectedAt: now().UTC(),
		Virt:        inv,
		Partial:     partial,
	}, nil
}

const sessionHeader = "vmware-api-session-id"

func (a *VSphereAdapter) login(ctx context.Context, client *http.Client, p Params, c Credentials) (string, error) {
	req, err := jsonRequest(http.MethodPost, baseURL("https", p.Address, p.Port)+"/api/session", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.Username, c.Password)

	var session string
	if err := doJSON(ctx, client, req, &session); err != nil {
		return "", classifyStatus(err)
	}
	if session == "" {
		return "", Malformed("empty session token", nil)
	}
	return session, nil
}

func (a *VSphereAdapter) logout(ctx context.Context, client *http.Client, p Params, session string) {
	req, err := jsonRequest(http.MethodDelete, baseURL("https", p.Address, p.Port)+"/api/session", nil)
	if err != nil {
		return
	}
	req.Header.Set(sessionHeader, session)
	if err := doJSON(ctx, client, req, nil); err != nil {
		a.log.Debug().Err(err).Msg("session logout failed")
	}
}

type vsphereCluster struct {
	Cluster string `json:"cluster"`
	Name    string `json:"name"`
}

type vsphereHost struct {
	Host            string `json:"host"`
	Name            string `json:"name"`
	ConnectionState string `json:"connection_state"`
	PowerState      string `json:"power_state"`
}

type vsphereVM struct {
	VM            string `json:"vm"`
	Name          string `json:"name"`
	PowerState    string `json:"power_state"`
	CPUCount      int    `json:"cpu_count"`
	MemorySizeMiB int64  `json:"memory_size_MiB"`
}

// vsphereVMDetail is the per-VM detail document. Disks and nics render
// as objects keyed by device id.
type vsphereVMDetail struct {
	GuestOS string `json:"guest_OS"`
	CPU     struct {
		Count int `json:"count"`
	} `json:"cpu"`
	Memory struct {
		SizeMiB int64 `json:"size_MiB"`
	} `json:"memory"`
	Disks map[string]struct {
		Capacity *int64 `json:"capacity"`
		Backing  struct {
			VMDKFile string `json:"vmdk_file"`
		} `json:"backing"`
	} `json:"disks"`
	NICs map[string]struct {
		Backing struct {
			Network string `json:"network"`
		} `json:"backing"`
	} `json:"nics"`
}

type vsphereGuestIdentity struct {
	IPAddress string `json:"ip_address"`
}

type vsphereTools struct {
	RunState string `json:"run_state"`
}

type vsphereDatastore struct {
	Datastore string `json:"datastore"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Capacity  *int64 `json:"capacity"`
	FreeSpace *int64 `json:"free_space"`
}

type vsphereNetwork struct {
	Network string `json:"network"`
	Name    string `json:"name"`
	Type    string `json:"type"`
}

func (a *VSphereAdapter) listClusters(ctx context.Context, client *http.Client, p Params, session string) ([]vsphereCluster, error) {
	var out []vsphereCluster
	err := a.get(ctx, client, p, session, "/api/vcenter/cluster", &out)
	return out, err
}

func (a *VSphereAdapter) listHosts(ctx context.Context, client *http.Client, p Params, session, cluster string) ([]vsphereHost, error) {
	path := "/api/vcenter/host"
	if cluster != "" {
		path += "?clusters=" + url.QueryEscape(cluster)
	}
	var out []vsphereHost
	err := a.get(ctx, client, p, session, path, &out)
	return out, err
}

func (a *VSphereAdapter) listVMs(ctx context.Context, client *http.Client, p Params, session, host string) ([]vsphereVM, error) {
	var out []vsphereVM
	err := a.get(ctx, client, p, session, "/api/vcenter/vm?hosts="+url.QueryEscape(host), &out)
	return out, err
}

func (a *VSphereAdapter) listDatastores(ctx context.Context, client *http.Client, p Params, session, host string) ([]vsphereDatastore, error) {
	path := "/api/vcenter/datastore"
	if host != "" {
		path += "?hosts=" + url.QueryEscape(host)
	}
	var out []vsphereDatastore
	err := a.get(ctx, client, p, session, path, &out)
	return out, err
}

// hostDatastoreRollup sums the capacity of every datastore mounted on
// one host.
func (a *VSphereAdapter) hostDatastoreRollup(ctx context.Context, client *http.Client, p Params, session, host string) (total, free *float64, err error) {
	datastores, err := a.listDatastores(ctx, client, p, session, host)
	if err != nil {
		return nil, nil, err
	}
	if len(datastores) == 0 {
		return nil, nil, nil
	}
	var totalBytes, freeBytes int64
	for _, ds := range datastores {
		if ds.Capacity != nil {
			totalBytes += *ds.Capacity
		}
		if ds.FreeSpace != nil {
			freeBytes += *ds.FreeSpace
		}
	}
	return bytesToGB(&totalBytes), bytesToGB(&freeBytes), nil
}

// fillVMDetail drains the per-VM detail, guest identity and tools
// sub-resources. A detail failure keeps the placement-list fields;
// identity and tools answer 503 until the guest agent reports in, so
// both are best effort.
func (a *VSphereAdapter) fillVMDetail(ctx context.Context, client *http.Client, p Params, session, vm string, entry *VirtVM, netNames map[string]string) {
	var detail vsphereVMDetail
	if err := a.get(ctx, client, p, session, "/api/vcenter/vm/"+url.PathEscape(vm), &detail); err != nil {
		a.log.Debug().Err(err).Str("vm", entry.Name).Msg("vm detail fetch failed")
		return
	}

	entry.GuestOS = detail.GuestOS
	if detail.CPU.Count > 0 {
		count := detail.CPU.Count
		entry.CPUCount = &count
	}
	if detail.Memory.SizeMiB > 0 {
		mem := detail.Memory.SizeMiB
		entry.MemoryMB = &mem
	}

	var provisioned int64
	seen := make(map[string]bool)
	for _, disk := range detail.Disks {
		if disk.Capacity != nil {
			provisioned += *disk.Capacity
		}
		if name := datastoreFromVMDK(disk.Backing.VMDKFile); name != "" && !seen[name] {
			seen[name] = true
			entry.Datastores = append(entry.Datastores, name)
		}
	}
	if provisioned > 0 {
		entry.ProvisionedStorageGB = bytesToGB(&provisioned)
	}
	sort.Strings(entry.Datastores)

	for _, nic := range detail.NICs {
		network := nic.Backing.Network
		if name, ok := netNames[network]; ok {
			network = name
		}
		if network != "" {
			entry.Networks = append(entry.Networks, network)
		}
	}
	sort.Strings(entry.Networks)

	var identity vsphereGuestIdentity
	if err := a.get(ctx, client, p, session, "/api/vcenter/vm/"+url.PathEscape(vm)+"/guest/identity", &identity); err == nil {
		entry.IPAddress = identity.IPAddress
	}
	var tools vsphereTools
	if err := a.get(ctx, client, p, session, "/api/vcenter/vm/"+url.PathEscape(vm)+"/tools", &tools); err == nil {
		entry.ToolsStatus = tools.RunState
	}
}

// datastoreFromVMDK extracts the datastore name from a
// "[datastore] path/to.vmdk" backing file path.
func datastoreFromVMDK(path string) string {
	if !strings.HasPrefix(path, "[") {
		return ""
	}
	end := strings.IndexByte(path, ']')
	if end <= 1 {
		return ""
	}
	return path[1:end]
}

func (a *VSphereAdapter) listNetworks(ctx context.Context, client *http.Client, p Params, session string) ([]vsphereNetwork, error) {
	var out []vsphereNetwork
	err := a.get(ctx, client, p, session, "/api/vcenter/network", &out)
	return out, err
}

func (a *VSphereAdapter) get(ctx context.Context, client *http.Client, p Params, session, path string, out interface{}) error {
	req, err := jsonRequest(http.MethodGet, baseURL("https", p.Address, p.Port)+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set(sessionHeader, session)
	if err := doJSON(ctx, client, req, out); err != nil {
		return classifyStatus(err)
	}
	return nil
}

// bytesToGB converts a byte count to gigabytes rounded to two decimals,
// nil in and nil out.
func bytesToGB(v *int64) *float64 {
	if v == nil {
		return nil
	}
	gb := math.Round(float64(*v)/(1<<30)*100) / 100
	return &gb
}

var _ Adapter = (*VSphereAdapter)(nil)
