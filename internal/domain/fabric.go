package domain

import (
	"strings"
	"time"
)

// NodeRole classifies a fabric node.
type NodeRole string

const (
	NodeRoleLeaf        NodeRole = "leaf"
	NodeRoleSpine       NodeRole = "spine"
	NodeRoleController  NodeRole = "controller"
	NodeRoleUnspecified NodeRole = "unspecified"
)

// MapNodeRole normalizes a raw vendor role string. Unknown roles map to
// unspecified, never an error.
func MapNodeRole(raw string) NodeRole {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "leaf", "tier-2-leaf":
		return NodeRoleLeaf
	case "spine":
		return NodeRoleSpine
	case "controller", "apic", "supervisor":
		return NodeRoleController
	}
	return NodeRoleUnspecified
}

// FabricNode is a canonical switch, controller or line card in a network
// fabric, scoped to one endpoint. NaturalKey is the vendor-assigned
// identifier: the distinguished name on ACI, the inventory slot name on
// NX-OS.
type FabricNode struct {
	ID         string `json:"id"`
	EndpointID string `json:"endpoint_id"`
	NaturalKey string `json:"natural_key"`

	Name    string   `json:"name"`
	Role    NodeRole `json:"role"`
	NodeID  *string  `json:"node_id"`
	Address *string  `json:"address"`
	Serial  *string  `json:"serial"`
	Model   *string  `json:"model"`
	Version *string  `json:"version"`
	Vendor  *string  `json:"vendor"`
	Pod     *string  `json:"pod"`

	FabricState      *string `json:"fabric_state"`
	AdminState       *string `json:"admin_state"`
	DelayedHeartbeat bool    `json:"delayed_heartbeat"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// FabricInterface is a canonical physical interface, scoped to one
// endpoint. NodeID references the owning FabricNode row, resolved by
// natural key at reconcile time; it may dangle while the node is stale.
type FabricInterface struct {
	ID         string  `json:"id"`
	EndpointID string  `json:"endpoint_id"`
	NodeID     *string `json:"node_id"`
	NaturalKey string  `json:"natural_key"`

	Name       string  `json:"name"`
	NodeKey    string  `json:"node_key"`
	AdminState *string `json:"admin_state"`
	OperState  *string `json:"oper_state"`
	Speed      *string `json:"speed"`
	Usage      *string `json:"usage"`
	Descr      *string `json:"description"`

	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Stale      bool      `json:"stale"`
}

// FabricSummary aggregates current fabric nodes across all endpoints.
// It is computed per request, never stored.
type FabricSummary struct {
	Total            int            `json:"total"`
	LeafCount        int            `json:"leaf_count"`
	SpineCount       int            `json:"spine_count"`
	ControllerCount  int            `json:"controller_count"`
	UnspecifiedCount int            `json:"unspecified_count"`
	DelayedHeartbeat int            `json:"delayed_heartbeat"`
	ByFabricState    map[string]int `json:"by_fabric_state"`
	ByVersion        map[string]int `json:"by_version"`
}

// FabricGroup is one endpoint's slice of the detailed fabric summary.
type FabricGroup struct {
	EndpointID       string         `json:"endpoint_id"`
	FabricName       string         `json:"fabric_name"`
	FabricAddress    string         `json:"fabric_address,omitempty"`
	TotalNodes       int            `json:"total_nodes"`
	DelayedHeartbeat int            `json:"delayed_heartbeat"`
	ByRole           map[string]int `json:"by_role"`
	ByModel          map[string]int `json:"by_model"`
	ByVersion        map[string]int `json:"by_version"`
	ByFabricState    map[string]int `json:"by_fabric_state"`
	LastPolledAt     *time.Time     `json:"last_polled_at"`
}

// FabricSummaryDetails is the filtered, per-fabric breakdown plus the
// facet values available for further filtering.
type FabricSummaryDetails struct {
	TotalNodes        int           `json:"total_nodes"`
	TotalFabrics      int           `json:"total_fabrics"`
	Fabrics           []FabricGroup `json:"fabrics"`
	AvailableRoles    []string      `json:"available_roles"`
	AvailableModels   []string      `json:"available_models"`
	AvailableVersions []string      `json:"available_versions"`
	AvailableStates   []string      `json:"available_fabric_states"`
}
