package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagent-gateway/tenantgw/internal/authz"
	"github.com/cagent-gateway/tenantgw/internal/pairing"
	"github.com/cagent-gateway/tenantgw/internal/ptymgr"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/rpc"
	"github.com/cagent-gateway/tenantgw/internal/scheduler"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/cagent-gateway/tenantgw/internal/tenantconfig"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(data []byte) error {
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeSender) PendingWriteBytes() int { return 0 }

func (f *fakeSender) lastResponse(t *testing.T) rpc.Response {
	t.Helper()
	require.NotEmpty(t, f.sent)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal(f.sent[len(f.sent)-1], &resp))
	return resp
}

type noopSpawner struct{}

func (noopSpawner) Spawn(opts ptymgr.SpawnOptions) (ptymgr.Process, error) {
	return nil, assert.AnError
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(event string, payload any, dropIfSlow bool) {}

func newTestGateway(t *testing.T) (*Gateway, *tenant.Registry) {
	t.Helper()
	dir := t.TempDir()
	tenants, err := tenant.NewRegistry(dir)
	require.NoError(t, err)
	ledger := quota.NewLedger(dir)
	sched := scheduler.New(dir, func(string, scheduler.Job, string) error { return nil }, noopBroadcaster{}, false)

	gw := New(Config{AdminToken: "super-secret", PairingIssuer: pairing.NewIssuer([]byte("pairing-secret"))},
		tenants, ledger, sched, noopSpawner{}, tenantconfig.NewStore())
	return gw, tenants
}

func TestAuthenticateAdminToken(t *testing.T) {
	gw, _ := newTestGateway(t)

	conn, tenantID, err := gw.authenticate("super-secret")
	require.NoError(t, err)
	assert.Equal(t, "", tenantID)
	assert.True(t, conn.Scopes[authz.ScopeAdmin])
}

func TestAuthenticateTenantToken(t *testing.T) {
	gw, tenants := newTestGateway(t)

	token, err := tenants.Create("acme", tenant.CreateOpts{DisplayName: "Acme"})
	require.NoError(t, err)

	conn, tenantID, err := gw.authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenantID)
	assert.Equal(t, "acme", conn.TenantID)
}

func TestAuthenticateNodePairingToken(t *testing.T) {
	gw, _ := newTestGateway(t)

	token, err := gw.cfg.PairingIssuer.Issue("acme", pairing.KindNode, time.Minute)
	require.NoError(t, err)

	conn, tenantID, err := gw.authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenantID)
	assert.Equal(t, "acme", conn.TenantID)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	gw, _ := newTestGateway(t)

	_, _, err := gw.authenticate("not-a-real-token")
	assert.Error(t, err)
}

func TestAuthenticateRejectsDevicePairingTokenAsNode(t *testing.T) {
	gw, _ := newTestGateway(t)

	token, err := gw.cfg.PairingIssuer.Issue("acme", pairing.KindDevice, time.Minute)
	require.NoError(t, err)

	_, _, err = gw.authenticate(token)
	assert.Error(t, err)
}

func TestHandleFrameHealth(t *testing.T) {
	gw, _ := newTestGateway(t)
	sender := &fakeSender{}
	client := &rpc.Client{ConnID: "c1", Sender: sender, Auth: authz.Connection{
		Role:   authz.RoleOperator,
		Scopes: map[authz.Scope]bool{authz.ScopeOperatorRead: true},
	}}

	gw.handleFrame([]byte(`{"id":"1","method":"health"}`), client)

	resp := sender.lastResponse(t)
	assert.True(t, resp.OK)
}

func TestHandleFrameMemoryAppendAndLoadRoundTrip(t *testing.T) {
	gw, tenants := newTestGateway(t)
	token, err := tenants.Create("acme", tenant.CreateOpts{DisplayName: "Acme"})
	require.NoError(t, err)
	auth, tenantID, err := gw.authenticate(token)
	require.NoError(t, err)

	sender := &fakeSender{}
	client := &rpc.Client{ConnID: "c1", TenantID: tenantID, Sender: sender, Auth: auth}

	appendFrame := rpc.Frame{
		ID:     "1",
		Method: "memory.append",
		Params: json.RawMessage(`{"agentId":"default","sessionKey":"sess-1","role":"user","content":"hello"}`),
	}
	data, err := json.Marshal(appendFrame)
	require.NoError(t, err)
	gw.handleFrame(data, client)
	require.True(t, sender.lastResponse(t).OK)

	loadFrame := rpc.Frame{
		ID:     "2",
		Method: "memory.load",
		Params: json.RawMessage(`{"agentId":"default","sessionKey":"sess-1"}`),
	}
	data, err = json.Marshal(loadFrame)
	require.NoError(t, err)
	gw.handleFrame(data, client)

	resp := sender.lastResponse(t)
	require.True(t, resp.OK)
	payload, ok := resp.Payload.(map[string]any)
	require.True(t, ok)
	entries, ok := payload["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 1)
}
