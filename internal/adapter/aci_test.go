package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aciLoginBody = `{"totalCount":"1","imdata":[{"aaaLogin":{"attributes":{"token":"apic-token-1"}}}]}`

func aciNodeJSON(id int) string {
	return fmt.Sprintf(`{"fabricNode":{"attributes":{
		"dn":"topology/pod-1/node-%d",
		"name":"leaf-%d",
		"id":"%d",
		"role":"leaf",
		"address":"10.0.0.%d",
		"serial":"FDO2201%04d",
		"model":"N9K-C93180YC-EX",
		"version":"n9000-15.2(3e)",
		"vendor":"Cisco Systems, Inc",
		"fabricSt":"active",
		"adSt":"on",
		"delayedHeartbeat":"no"
	}}}`, id, id, id, id%250, id)
}

func aciEnvelopeJSON(items []string) string {
	return fmt.Sprintf(`{"totalCount":"%d","imdata":[%s]}`,
		len(items), strings.Join(items, ","))
}

// newACIServer paginates nodeCount fabricNode objects the way an APIC
// does and serves a fixed interface page.
func newACIServer(t *testing.T, nodeCount int) *httptest.Server {
	t.Helper()
	return httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/aaaLogin.json":
			require.Equal(t, http.MethodPost, r.Method)
			var payload struct {
				AAAUser struct {
					Attributes map[string]string `json:"attributes"`
				} `json:"aaaUser"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			if payload.AAAUser.Attributes["pwd"] != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, aciLoginBody)

		case r.URL.Path == "/api/class/fabricNode.json":
			require.Equal(t, "APIC-cookie=apic-token-1", r.Header.Get("Cookie"))
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			start := page * aciPageSize
			end := start + aciPageSize
			if end > nodeCount {
				end = nodeCount
			}
			var items []string
			for i := start; i < end; i++ {
				items = append(items, aciNodeJSON(101+i))
			}
			fmt.Fprint(w, aciEnvelopeJSON(items))

		case r.URL.Path == "/api/class/l1PhysIf.json":
			fmt.Fprint(w, aciEnvelopeJSON([]string{
				`{"l1PhysIf":{"attributes":{
					"dn":"topology/pod-1/node-101/sys/phys-[eth1/1]",
					"id":"eth1/1","adminSt":"up","operSt":"up",
					"speed":"inherit","usage":"fabric","descr":"to-spine-201"}}}`,
				`{"l1PhysIf":{"attributes":{
					"dn":"topology/pod-1/node-101/sys/phys-[eth1/2]",
					"id":"eth1/2","adminSt":"up","operSt":"down",
					"speed":"inherit","usage":"discovery","descr":""}}}`,
			}))

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestACIFetchDrainsPages(t *testing.T) {
	srv := newACIServer(t, 135)
	defer srv.Close()

	a := NewACIAdapter(testLogger())
	snap, err := a.FetchInventory(context.Background(), testParams(t, srv),
		Credentials{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	require.NotNil(t, snap.Fabric)
	require.Empty(t, snap.Partial)

	assert.Len(t, snap.Fabric.Nodes, 135)

	first := snap.Fabric.Nodes[0]
	assert.Equal(t, "topology/pod-1/node-101", first.Key)
	assert.Equal(t, "leaf-101", first.Name)
	assert.Equal(t, "leaf", first.Role)
	assert.Equal(t, "pod-1", first.Pod)
	assert.Equal(t, "active", first.FabricState)
	assert.False(t, first.DelayedHeartbeat)

	require.Len(t, snap.Fabric.Interfaces, 2)
	assert.Equal(t, "topology/pod-1/node-101", snap.Fabric.Interfaces[0].NodeKey)
	assert.Equal(t, "eth1/1", snap.Fabric.Interfaces[0].Name)
}

func TestACIRejectedLoginIsUnreachable(t *testing.T) {
	srv := newACIServer(t, 1)
	defer srv.Close()

	a := NewACIAdapter(testLogger())
	err := a.TestConnection(context.Background(), testParams(t, srv),
		Credentials{Username: "admin", Password: "wrong"})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err), "auth rejection should classify as unreachable, got %v", err)
}

func TestACIMissingTokenIsMalformed(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalCount":"1","imdata":[{"aaaLogin":{"attributes":{}}}]}`)
	}))
	defer srv.Close()

	a := NewACIAdapter(testLogger())
	err := a.TestConnection(context.Background(), testParams(t, srv), Credentials{})
	require.Error(t, err)
	assert.True(t, IsMalformed(err), "got %v", err)
}

func TestACIInterfaceFailureYieldsPartialSnapshot(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/aaaLogin.json":
			fmt.Fprint(w, aciLoginBody)
		case "/api/class/fabricNode.json":
			fmt.Fprint(w, aciEnvelopeJSON([]string{aciNodeJSON(101)}))
		case "/api/class/l1PhysIf.json":
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a := NewACIAdapter(testLogger())
	snap, err := a.FetchInventory(context.Background(), testParams(t, srv), Credentials{})
	require.NoError(t, err)
	assert.Len(t, snap.Fabric.Nodes, 1)
	assert.Empty(t, snap.Fabric.Interfaces)
	assert.Equal(t, []string{"fabric_interfaces"}, snap.Partial)
}

func TestACIConnectionRefusedIsUnreachable(t *testing.T) {
	srv := newACIServer(t, 1)
	params := testParams(t, srv)
	srv.Close()

	a := NewACIAdapter(testLogger())
	err := a.TestConnection(context.Background(), params, Credentials{})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err), "got %v", err)
}

func TestPodFromDN(t *testing.T) {
	assert.Equal(t, "pod-2", podFromDN("topology/pod-2/node-120"))
	assert.Equal(t, "", podFromDN("uni/tn-common"))
}

func TestNodeKeyFromInterfaceDN(t *testing.T) {
	assert.Equal(t, "topology/pod-1/node-101",
		nodeKeyFromInterfaceDN("topology/pod-1/node-101/sys/phys-[eth1/1]"))
	assert.Equal(t, "", nodeKeyFromInterfaceDN("uni/tn-common"))
}
