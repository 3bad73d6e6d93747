package domain

import (
	"strings"
	"time"
)

// PowerState is the vendor-neutral power state for hosts and VMs.
type PowerState string

const (
	PowerStateOn        PowerState = "powered_on"
	PowerStateOff       PowerState = "powered_off"
	PowerStateSuspended PowerState = "suspended"
	PowerStateUnknown   PowerState = "unknown"
)

// powerStateMap is the total mapping from vendor power strings.
// Anything not listed maps to PowerStateUnknown, never an error.
var powerStateMap = map[string]PowerState{
	"poweron":     PowerStateOn,
	"poweredon":   PowerStateOn,
	"powered_on":  PowerStateOn,
	"poweroff":    PowerStateOff,
	"poweredoff":  PowerStateOff,
	"powered_off": PowerStateOff,
	"suspended":   PowerStateSuspended,
}

// MapPowerState normalizes a raw vendor power state.
func MapPowerState(raw string) PowerState {
	if raw == "" {
		return PowerStateUnknown
	}
	key := strings.ToLower(strings.ReplaceAll(raw, " ", ""))
	if state, ok := powerStateMap[key]; ok {
		return state
	}
	return PowerStateUnknown
}

// ConnectionState is the vendor-neutral host connection state.
type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateMaintenance  ConnectionState = "maintenance"
)

var connectionStateMap = map[string]ConnectionState{
	"connected":     ConnectionStateConnected,
	"disconnected":  ConnectionStateDisconnected,
	"notresponding": ConnectionStateDisconnected,
	"maintenance":   ConnectionStateMaintenance,
}

// MapConnectionState normalizes a raw vendor connection state.
// Unknown values map to connected, matching how management APIs report
// hosts they can still enumerate.
func MapConnectionState(raw string) ConnectionState {
	if raw == "" {
		return ConnectionStateConnected
	}
	if state, ok := connectionStateMap[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return state
	}
	return ConnectionStateConnected
}

// Host is a canonical hypervisor host, scoped to one endpoint.
// Name is the natural key within the endpoint.
type Host struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	Name       string `json:"name"`

	Cluster       *string         `json:"cluster"`
	HardwareModel *string         `json:"hardware_model"`
	Connection    ConnectionState `json:"connection_state"`
	Power         PowerState      `json:"power_state"`

	CPUCores         *int     `json:"cpu_cores"`
	CPUUsageMHz      *int     `json:"cpu_usage_mhz"`
	MemoryTotalMB    *int64   `json:"memory_total_mb"`
	MemoryUsageMB    *int64   `json:"memory_usage_mb"`
	UptimeSeconds    *int64   `json:"uptime_seconds"`
	DatastoreTotalGB *float64 `json:"datastore_total_gb"`
	DatastoreFreeGB  *float64 `json:"datastore_free_gb"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// MemoryUtilizationPct derives host memory utilization, nil when the
// denominator is unknown or zero.
func (h *Host) MemoryUtilizationPct() *float64 {
	if h.MemoryTotalMB == nil || h.MemoryUsageMB == nil {
		return nil
	}
	return UtilizationPct(float64(*h.MemoryUsageMB), float64(*h.MemoryTotalMB))
}

// VirtualMachine is a canonical VM, scoped to one endpoint.
// Name is the natural key within the endpoint. HostID may dangle:
// it keeps pointing at a staled host row until the VM itself goes stale.
type VirtualMachine struct {
	ID         string  `json:"id"`
	EndpointID string  `json:"endpoint_id"`
	HostID     *string `json:"host_id"`
	Name       string  `json:"name"`

	GuestOS *string    `json:"guest_os"`
	Power   PowerState `json:"power_state"`

	CPUCount             *int     `json:"cpu_count"`
	MemoryMB             *int64   `json:"memory_mb"`
	CPUUsageMHz          *int     `json:"cpu_usage_mhz"`
	MemoryUsageMB        *int64   `json:"memory_usage_mb"`
	ProvisionedStorageGB *float64 `json:"provisioned_storage_gb"`
	UsedStorageGB        *float64 `json:"used_storage_gb"`

	IPAddress   *string  `json:"ip_address"`
	Datastores  []string `json:"datastores"`
	Networks    []string `json:"networks"`
	ToolsStatus *string  `json:"tools_status"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// Datastore is a canonical storage volume, scoped to one endpoint.
type Datastore struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	Name       string `json:"name"`

	Type       *string  `json:"type"`
	CapacityGB *float64 `json:"capacity_gb"`
	FreeGB     *float64 `json:"free_gb"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// UsedPct derives datastore usage, nil when capacity is unknown or zero.
func (d *Datastore) UsedPct() *float64 {
	if d.CapacityGB == nil || d.FreeGB == nil {
		return nil
	}
	return UtilizationPct(*d.CapacityGB-*d.FreeGB, *d.CapacityGB)
}

// Network is a canonical network (port group, VLAN segment), scoped to
// one endpoint.
type Network struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	Name       string `json:"name"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// UtilizationPct divides used by total, clamps to [0, 100] and returns
// nil when the denominator is zero or either side is not a number.
func UtilizationPct(used, total float64) *float64 {
	if total <= 0 {
		return nil
	}
	pct := used / total * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return &pct
}
