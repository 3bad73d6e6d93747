package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
)

// aciPageSize is how many managed objects one class query returns.
// The fetch drains pages until the APIC reports fewer than a page.
const aciPageSize = 100

// ACIAdapter speaks the Cisco APIC REST API: aaaLogin, then paginated
// class queries for fabricNode and l1PhysIf.
type ACIAdapter struct {
	log zerolog.Logger
}

// NewACIAdapter creates the aci-fabric-family adapter.
func NewACIAdapter(log zerolog.Logger) *ACIAdapter {
	return &ACIAdapter{log: log.With().Str("adapter", "aci").Logger()}
}

func (a *ACIAdapter) Family() domain.SourceFamily { return domain.SourceACIFabric }

// TestConnection performs the aaaLogin exchange only.
func (a *ACIAdapter) TestConnection(ctx context.Context, p Params, c Credentials) error {
	client := newHTTPClient(p)
	_, err := a.login(ctx, client, p, c)
	return err
}

// FetchInventory drains fabric nodes and physical interfaces. A node
// fetch failure fails the cycle; an interface fetch failure after the
// nodes arrived yields a partial snapshot.
func (a *ACIAdapter) FetchInventory(ctx context.Context, p Params, c Credentials) (*RawSnapshot, error) {
	client := newHTTPClient(p)
	token, err := a.login(ctx, client, p, c)
	if err != nil {
		return nil, err
	}

	inv := &FabricInventory{}
	var partial []string

	nodeItems, err := a.drainClass(ctx, client, p, token, "fabricNode")
	if err != nil {
		return nil, err
	}
	for _, item := range nodeItems {
		node, ok := parseACINode(item)
		if !ok {
			continue
		}
		inv.Nodes = append(inv.Nodes, node)
	}

	ifItems, err := a.drainClass(ctx, client, p, token, "l1PhysIf")
	if err != nil {
		a.log.Warn().Err(err).Msg("interface query failed, keeping node snapshot")
		partial = append(partial, "fabric_interfaces")
	}
	for _, item := range ifItems {
		iface, ok := parseACIInterface(item)
		if !ok {
			continue
		}
		inv.Interfaces = append(inv.Interfaces, iface)
	}

	return &RawSnapshot{
		Family:      domain.SourceACIFabric,
		CollectedAt: now().UTC(),
		Fabric:      inv,
		Partial:     partial,
	}, nil
}

type aciEnvelope struct {
	TotalCount string                    `json:"totalCount"`
	IMData     []map[string]aciClassBody `json:"imdata"`
}

type aciClassBody struct {
	Attributes map[string]string `json:"attributes"`
}

func (a *ACIAdapter) login(ctx context.Context, client *http.Client, p Params, c Credentials) (string, error) {
	payload := map[string]interface{}{
		"aaaUser": map[string]interface{}{
			"attributes": map[string]string{"name": c.Username, "pwd": c.Password},
		},
	}
	req, err := jsonRequest(http.MethodPost, baseURL("https", p.Address, p.Port)+"/api/aaaLogin.json", payload)
	if err != nil {
		return "", err
	}

	var env aciEnvelope
	if err := doJSON(ctx, client, req, &env); err != nil {
		return "", classifyStatus(err)
	}

	if len(env.IMData) == 0 {
		return "", Malformed("login response carried no imdata", nil)
	}
	body, ok := env.IMData[0]["aaaLogin"]
	if !ok {
		return "", Malformed("login response missing aaaLogin object", nil)
	}
	token := body.Attributes["token"]
	if token == "" {
		return "", Malformed("login response missing token", nil)
	}
	return token, nil
}

// drainClass pages through one class query until the APIC returns a
// short page, concatenating every managed object's attribute map.
func (a *ACIAdapter) drainClass(ctx context.Context, client *http.Client, p Params, token, class string) ([]map[string]string, error) {
	var all []map[string]string
	for page := 0; ; page++ {
		url := fmt.Sprintf("%s/api/class/%s.json?page=%d&page-size=%d",
			baseURL("https", p.Address, p.Port), class, page, aciPageSize)
		req, err := jsonRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Cookie", "APIC-cookie="+token)

		var env aciEnvelope
		if err := doJSON(ctx, client, req, &env); err != nil {
			return nil, classifyStatus(err)
		}

		for _, item := range env.IMData {
			body, ok := item[class]
			if !ok {
				return nil, Malformed(fmt.Sprintf("imdata entry missing %s object", class), nil)
			}
			all = append(all, body.Attributes)
		}

		if len(env.IMData) < aciPageSize {
			return all, nil
		}
	}
}

func parseACINode(attrs map[string]string) (FabricNode, bool) {
	dn := attrs["dn"]
	if dn == "" {
		return FabricNode{}, false
	}
	name := attrs["name"]
	if name == "" {
		name = dn[strings.LastIndex(dn, "/")+1:]
	}
	delayed := attrs["delayedHeartbeat"]
	return FabricNode{
		Key:              dn,
		Name:             name,
		Role:             attrs["role"],
		NodeID:           attrs["id"],
		Address:          attrs["address"],
		Serial:           attrs["serial"],
		Model:            attrs["model"],
		Version:          attrs["version"],
		Vendor:           attrs["vendor"],
		Pod:              podFromDN(dn),
		FabricState:      attrs["fabricSt"],
		AdminState:       attrs["adSt"],
		DelayedHeartbeat: delayed == "yes" || delayed == "true" || delayed == "1",
	}, true
}

func parseACIInterface(attrs map[string]string) (FabricInterface, bool) {
	dn := attrs["dn"]
	if dn == "" {
		return FabricInterface{}, false
	}
	return FabricInterface{
		Key:        dn,
		NodeKey:    nodeKeyFromInterfaceDN(dn),
		Name:       attrs["id"],
		AdminState: attrs["adminSt"],
		OperState:  attrs["operSt"],
		Speed:      attrs["speed"],
		Usage:      attrs["usage"],
		Descr:      attrs["descr"],
	}, true
}

// podFromDN extracts "pod-1" from a DN like "topology/pod-1/node-120".
func podFromDN(dn string) string {
	for _, part := range strings.Split(dn, "/") {
		if strings.HasPrefix(part, "pod-") {
			return part
		}
	}
	return ""
}

// nodeKeyFromInterfaceDN maps an interface DN like
// "topology/pod-1/node-101/sys/phys-[eth1/1]" back to its node's DN.
func nodeKeyFromInterfaceDN(dn string) string {
	idx := strings.Index(dn, "/sys/")
	if idx < 0 {
		return ""
	}
	return dn[:idx]
}

var _ Adapter = (*ACIAdapter)(nil)
