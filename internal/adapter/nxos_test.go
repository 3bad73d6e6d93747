package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrapulse/internal/domain"
)

const nxosInventoryBody = `{"TABLE_inv":{"ROW_inv":[
	{"name":"Chassis","desc":"Nexus9000 C9336C-FX2 Chassis","productid":"N9K-C9336C-FX2","vendorid":"V01","serialnum":"FDO24150ABC"},
	{"name":"Slot 27","desc":"Supervisor Module","productid":"N9K-C9336C-FX2","vendorid":"V01","serialnum":"FDO24150DEF"},
	{"name":"Power Supply 1","desc":"Nexus9000 C9336C-FX2 Chassis Power Supply","productid":"NXA-PAC-1100W-PE2","vendorid":"V01","serialnum":"DTM241200GH"}]}}`

const nxosVersionBody = `{"host_name":"n9k-leaf-01","nxos_ver_str":"9.3(9)","chassis_id":"Nexus9000 C9336C-FX2 chassis"}`

const nxosInterfacesBody = `{"TABLE_interface":{"ROW_interface":[
	{"interface":"Eth1/1","state":"connected","vlan":"routed","duplex":"full","speed":"100G","type":"QSFP-100G-AOC3M","name":"to-spine-01"},
	{"interface":"Eth1/2","state":"notconnect","vlan":"1","duplex":"auto","speed":"auto","type":"--"}]}}`

func nxapiReply(body string) string {
	return fmt.Sprintf(`{"ins_api":{"outputs":{"output":{"input":"x","msg":"Success","code":"200","body":%s}}}}`, body)
}

func newNXAPIServer(t *testing.T, tls bool) *httptest.Server {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ins", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var payload struct {
			InsAPI struct {
				Type  string `json:"type"`
				Input string `json:"input"`
			} `json:"ins_api"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "cli_show", payload.InsAPI.Type)

		switch payload.InsAPI.Input {
		case nxosCmdInventory:
			fmt.Fprint(w, nxapiReply(nxosInventoryBody))
		case nxosCmdVersion:
			fmt.Fprint(w, nxapiReply(nxosVersionBody))
		case nxosCmdInterfaces:
			fmt.Fprint(w, nxapiReply(nxosInterfacesBody))
		default:
			t.Errorf("unexpected command %q", payload.InsAPI.Input)
		}
	})
	if tls {
		return httptest.NewTLSServer(handler)
	}
	return httptest.NewServer(handler)
}

func nxosCreds() Credentials {
	return Credentials{Username: "admin", Password: "secret"}
}

func TestNXOSFetchInventoryOverNXAPI(t *testing.T) {
	srv := newNXAPIServer(t, false)
	defer srv.Close()

	p := testParams(t, srv)
	p.Transport = domain.TransportNXAPIHTTP

	a := NewNXOSAdapter(testLogger())
	snap, err := a.FetchInventory(context.Background(), p, nxosCreds())
	require.NoError(t, err)
	require.NotNil(t, snap.Fabric)
	require.Empty(t, snap.Partial)

	require.Len(t, snap.Fabric.Nodes, 3)
	chassis := snap.Fabric.Nodes[0]
	assert.Equal(t, "Chassis", chassis.Key)
	assert.Equal(t, "n9k-leaf-01", chassis.Name)
	assert.Equal(t, "9.3(9)", chassis.Version)
	assert.Equal(t, "N9K-C9336C-FX2", chassis.Model)
	assert.Equal(t, "FDO24150ABC", chassis.Serial)

	assert.Equal(t, "supervisor", snap.Fabric.Nodes[1].Role)
	assert.Equal(t, "", snap.Fabric.Nodes[2].Role)

	require.Len(t, snap.Fabric.Interfaces, 2)
	eth1 := snap.Fabric.Interfaces[0]
	assert.Equal(t, "Eth1/1", eth1.Key)
	assert.Equal(t, "Chassis", eth1.NodeKey)
	assert.Equal(t, "connected", eth1.OperState)
	assert.Equal(t, "100G", eth1.Speed)
	assert.Equal(t, "to-spine-01", eth1.Descr)
}

func TestNXOSDefaultTransportIsHTTPS(t *testing.T) {
	srv := newNXAPIServer(t, true)
	defer srv.Close()

	a := NewNXOSAdapter(testLogger())
	require.NoError(t, a.TestConnection(context.Background(), testParams(t, srv), nxosCreds()))
}

func TestNXOSSingleRowObject(t *testing.T) {
	// A one-row table renders as an object, not a one-element array.
	body := `{"TABLE_inv":{"ROW_inv":{"name":"Chassis","desc":"Nexus3000 C3548P Chassis","productid":"N3K-C3548P-10G","serialnum":"FOC1928ABCD"}}}`
	nodes, err := parseNXOSInventory(json.RawMessage(body))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Chassis", nodes[0].Key)
	assert.Equal(t, "N3K-C3548P-10G", nodes[0].Model)
}

func TestNXOSInterfaceNodeKeyFollowsChassisSpelling(t *testing.T) {
	// Some platforms report the chassis row in lowercase; interfaces
	// must reference the node under that exact spelling or the
	// reconcile lookup never links them.
	body := `{"TABLE_inv":{"ROW_inv":{"name":"chassis","desc":"Nexus3000 C3548P Chassis","productid":"N3K-C3548P-10G","serialnum":"FOC1928ABCD"}}}`
	nodes, err := parseNXOSInventory(json.RawMessage(body))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "chassis", nodes[0].Key)

	ifaces, err := parseNXOSInterfaces(json.RawMessage(nxosInterfacesBody), chassisKey(nodes))
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
	for _, iface := range ifaces {
		assert.Equal(t, nodes[0].Key, iface.NodeKey)
	}
}

func TestNXOSBadCredentialsIsUnreachable(t *testing.T) {
	srv := newNXAPIServer(t, false)
	defer srv.Close()

	p := testParams(t, srv)
	p.Transport = domain.TransportNXAPIHTTP

	a := NewNXOSAdapter(testLogger())
	err := a.TestConnection(context.Background(), p, Credentials{Username: "admin", Password: "nope"})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err), "got %v", err)
}

func TestNXOSFailedCommandIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ins_api":{"outputs":{"output":{"input":"show inventory","msg":"Input CLI command error","code":"400"}}}}`)
	}))
	defer srv.Close()

	p := testParams(t, srv)
	p.Transport = domain.TransportNXAPIHTTP

	a := NewNXOSAdapter(testLogger())
	_, err := a.FetchInventory(context.Background(), p, nxosCreds())
	require.Error(t, err)
	assert.True(t, IsMalformed(err), "got %v", err)
}

func TestNXOSInterfaceFailureYieldsPartialSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			InsAPI struct {
				Input string `json:"input"`
			} `json:"ins_api"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		switch payload.InsAPI.Input {
		case nxosCmdInventory:
			fmt.Fprint(w, nxapiReply(nxosInventoryBody))
		case nxosCmdVersion:
			fmt.Fprint(w, nxapiReply(nxosVersionBody))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := testParams(t, srv)
	p.Transport = domain.TransportNXAPIHTTP

	a := NewNXOSAdapter(testLogger())
	snap, err := a.FetchInventory(context.Background(), p, nxosCreds())
	require.NoError(t, err)
	assert.Len(t, snap.Fabric.Nodes, 3)
	assert.Equal(t, []string{"fabric_interfaces"}, snap.Partial)
}

func TestNXOSUnknownTransport(t *testing.T) {
	a := NewNXOSAdapter(testLogger())
	err := a.TestConnection(context.Background(), Params{Address: "10.0.0.1", Transport: "telnet"}, nxosCreds())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telnet")
}

func TestRawObjects(t *testing.T) {
	assert.Nil(t, rawObjects(nil))
	assert.Nil(t, rawObjects(json.RawMessage(`null`)))
	assert.Len(t, rawObjects(json.RawMessage(`{"a":1}`)), 1)
	assert.Len(t, rawObjects(json.RawMessage(`[{"a":1},{"b":2}]`)), 2)
}
