package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"infrapulse/internal/domain"
)

const (
	nxosCmdInventory  = "show inventory"
	nxosCmdVersion    = "show version"
	nxosCmdInterfaces = "show interface status"
)

// NXOSAdapter collects inventory from NX-OS devices, either through
// the NX-API JSON-RPC endpoint or over SSH with `| json` output. The
// two transports produce the same command bodies, so parsing is shared.
type NXOSAdapter struct {
	log zerolog.Logger
}

// NewNXOSAdapter creates the nxos-fabric-family adapter.
func NewNXOSAdapter(log zerolog.Logger) *NXOSAdapter {
	return &NXOSAdapter{log: log.With().Str("adapter", "nxos").Logger()}
}

func (a *NXOSAdapter) Family() domain.SourceFamily { return domain.SourceNXOSFabric }

// TestConnection runs the cheapest command the transport supports.
func (a *NXOSAdapter) TestConnection(ctx context.Context, p Params, c Credentials) error {
	runner, closer, err := a.runner(ctx, p, c)
	if err != nil {
		return err
	}
	defer closer()
	_, err = runner(ctx, nxosCmdVersion)
	return err
}

// FetchInventory runs the inventory, version and interface commands and
// folds them into a FabricInventory. Interface failure after a
// successful inventory yields a partial snapshot.
func (a *NXOSAdapter) FetchInventory(ctx context.Context, p Params, c Credentials) (*RawSnapshot, error) {
	runner, closer, err := a.runner(ctx, p, c)
	if err != nil {
		return nil, err
	}
	defer closer()

	invBody, err := runner(ctx, nxosCmdInventory)
	if err != nil {
		return nil, err
	}
	nodes, err := parseNXOSInventory(invBody)
	if err != nil {
		return nil, err
	}

	if verBody, err := runner(ctx, nxosCmdVersion); err == nil {
		applyNXOSVersion(nodes, verBody)
	} else {
		a.log.Debug().Err(err).Msg("version command failed")
	}

	inv := &FabricInventory{Nodes: nodes}
	var partial []string

	ifBody, err := runner(ctx, nxosCmdInterfaces)
	if err != nil {
		a.log.Warn().Err(err).Msg("interface command failed, keeping inventory")
		partial = append(partial, "fabric_interfaces")
	} else {
		ifaces, err := parseNXOSInterfaces(ifBody, chassisKey(nodes))
		if err != nil {
			partial = append(partial, "fabric_interfaces")
		} else {
			inv.Interfaces = ifaces
		}
	}

	return &RawSnapshot{
		Family:      domain.SourceNXOSFabric,
		CollectedAt: now().UTC(),
		Fabric:      inv,
		Partial:     partial,
	}, nil
}

// commandRunner executes one CLI command and returns its JSON body.
type commandRunner func(ctx context.Context, cmd string) (json.RawMessage, error)

func (a *NXOSAdapter) runner(ctx context.Context, p Params, c Credentials) (commandRunner, func(), error) {
	transport := strings.ToLower(p.Transport)
	if transport == "" {
		transport = domain.TransportNXAPIHTTPS
	}

	switch transport {
	case domain.TransportSSH:
		return a.sshRunner(ctx, p, c)
	case domain.TransportNXAPIHTTP, domain.TransportNXAPIHTTPS:
		scheme := "https"
		if transport == domain.TransportNXAPIHTTP {
			scheme = "http"
		}
		client := newHTTPClient(p)
		run := func(ctx context.Context, cmd string) (json.RawMessage, error) {
			return a.nxapiRun(ctx, client, p, c, scheme, cmd)
		}
		return run, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown nxos transport %q", p.Transport)
	}
}

type nxapiResponse struct {
	InsAPI struct {
		Outputs struct {
			Output json.RawMessage `json:"output"`
		} `json:"outputs"`
	} `json:"ins_api"`
}

type nxapiOutput struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Body json.RawMessage `json:"body"`
}

func (a *NXOSAdapter) nxapiRun(ctx context.Context, client *http.Client, p Params, c Credentials, scheme, cmd string) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"ins_api": map[string]interface{}{
			"version":       "1.0",
			"type":          "cli_show",
			"chunk":         "0",
			"sid":           "1",
			"input":         cmd,
			"output_format": "json",
		},
	}
	req, err := jsonRequest(http.MethodPost, baseURL(scheme, p.Address, p.Port)+"/ins", payload)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.Username, c.Password)

	var resp nxapiResponse
	if err := doJSON(ctx, client, req, &resp); err != nil {
		return nil, classifyStatus(err)
	}

	outputs := rawObjects(resp.InsAPI.Outputs.Output)
	if len(outputs) == 0 {
		return nil, Malformed("nx-api response carried no outputs", nil)
	}

	var out nxapiOutput
	if err := json.Unmarshal(outputs[0], &out); err != nil {
		return nil, Malformed("decoding nx-api output", err)
	}
	if out.Code != "" && out.Code != "200" {
		return nil, Malformed(fmt.Sprintf("command %q failed: %s %s", cmd, out.Code, out.Msg), nil)
	}
	if len(out.Body) == 0 {
		return nil, Malformed(fmt.Sprintf("command %q returned no body", cmd), nil)
	}
	return out.Body, nil
}

type nxosInvRow struct {
	Name      string `json:"name"`
	Descr     string `json:"desc"`
	ProductID string `json:"productid"`
	VendorID  string `json:"vendorid"`
	Serial    string `json:"serialnum"`
}

func parseNXOSInventory(body json.RawMessage) ([]FabricNode, error) {
	var table struct {
		TableInv struct {
			RowInv json.RawMessage `json:"ROW_inv"`
		} `json:"TABLE_inv"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, Malformed("decoding inventory table", err)
	}
	rows := rawObjects(table.TableInv.RowInv)
	if rows == nil {
		return nil, Malformed("inventory body missing TABLE_inv", nil)
	}

	var nodes []FabricNode
	for _, raw := range rows {
		var row nxosInvRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		if row.Name == "" {
			continue
		}
		role := ""
		if strings.Contains(strings.ToLower(row.Descr), "supervisor") {
			role = "supervisor"
		}
		nodes = append(nodes, FabricNode{
			Key:    strings.Trim(row.Name, `"`),
			Name:   strings.Trim(row.Name, `"`),
			Role:   role,
			Serial: row.Serial,
			Model:  row.ProductID,
			Vendor: row.VendorID,
		})
	}
	return nodes, nil
}

// applyNXOSVersion stamps the chassis row with the running version and
// hostname from `show version`.
func applyNXOSVersion(nodes []FabricNode, body json.RawMessage) {
	var ver struct {
		HostName  string `json:"host_name"`
		NXOSVer   string `json:"nxos_ver_str"`
		SysVer    string `json:"sys_ver_str"`
		ChassisID string `json:"chassis_id"`
	}
	if err := json.Unmarshal(body, &ver); err != nil {
		return
	}
	version := ver.NXOSVer
	if version == "" {
		version = ver.SysVer
	}
	for i := range nodes {
		if strings.EqualFold(nodes[i].Key, "chassis") {
			nodes[i].Version = version
			if ver.HostName != "" {
				nodes[i].Name = ver.HostName
			}
		}
	}
}

type nxosIfRow struct {
	Interface string `json:"interface"`
	State     string `json:"state"`
	Speed     string `json:"speed"`
	Type      string `json:"type"`
	Name      string `json:"name"`
}

// chassisKey returns the inventory key of the chassis row under the
// device's own spelling, so interface rows resolve against the node
// exactly as stored. Falls back to the first row.
func chassisKey(nodes []FabricNode) string {
	for _, n := range nodes {
		if strings.EqualFold(n.Key, "chassis") {
			return n.Key
		}
	}
	if len(nodes) > 0 {
		return nodes[0].Key
	}
	return "Chassis"
}

func parseNXOSInterfaces(body json.RawMessage, nodeKey string) ([]FabricInterface, error) {
	var table struct {
		TableIf struct {
			RowIf json.RawMessage `json:"ROW_interface"`
		} `json:"TABLE_interface"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, Malformed("decoding interface table", err)
	}
	rows := rawObjects(table.TableIf.RowIf)
	if rows == nil {
		return nil, Malformed("interface body missing TABLE_interface", nil)
	}

	var ifaces []FabricInterface
	for _, raw := range rows {
		var row nxosIfRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		if row.Interface == "" {
			continue
		}
		ifaces = append(ifaces, FabricInterface{
			Key:       row.Interface,
			NodeKey:   nodeKey,
			Name:      row.Interface,
			OperState: row.State,
			Speed:     row.Speed,
			Usage:     row.Type,
			Descr:     row.Name,
		})
	}
	return ifaces, nil
}

// rawObjects flattens a JSON value that NX-OS renders as an object for
// single rows and an array for multiple. Returns nil for absent input.
func rawObjects(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil
		}
		return list
	}
	return []json.RawMessage{trimmed}
}

var _ Adapter = (*NXOSAdapter)(nil)
