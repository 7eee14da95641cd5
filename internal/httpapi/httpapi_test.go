package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cagent-gateway/tenantgw/internal/metrics"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

func newTestServer(t *testing.T) (*Server, *tenant.Registry, string) {
	t.Helper()
	dir := t.TempDir()

	tenants, err := tenant.NewRegistry(dir)
	require.NoError(t, err)

	token, err := tenants.Create("acme", tenant.CreateOpts{DisplayName: "Acme"})
	require.NoError(t, err)

	ledger := quota.NewLedger(dir)
	ring := metrics.NewRing(16)

	s := New(tenants, ledger, nil, nil, ring, "control-secret")
	return s, tenants, token
}

func TestControlPlaneRejectsMissingToken(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/status", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestControlPlaneAcceptsValidToken(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/status", nil)
	req.Header.Set("X-Control-Plane-Token", "control-secret")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestControlPlaneEmptyConfiguredTokenDeniesAll(t *testing.T) {
	dir := t.TempDir()
	tenants, err := tenant.NewRegistry(dir)
	require.NoError(t, err)
	ledger := quota.NewLedger(dir)
	ring := metrics.NewRing(16)

	s := New(tenants, ledger, nil, nil, ring, "")

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/status", nil)
	req.Header.Set("X-Control-Plane-Token", "")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetTenantNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/tenants/nosuch", nil)
	req.Header.Set("X-Control-Plane-Token", "control-secret")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTenantFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/internal/v1/tenants/acme", nil)
	req.Header.Set("X-Control-Plane-Token", "control-secret")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatCompletionsRejectsMissingBearer(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatCompletionsAcceptsValidBearer(t *testing.T) {
	s, _, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-test","messages":[]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestChatCompletionsRejectsCrossTenantSessionKey(t *testing.T) {
	s, tenants, token := newTestServer(t)

	_, err := tenants.Create("other", tenant.CreateOpts{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"sessionKey":"tenant:other:agent:main:thread1","messages":[]}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestToolsInvokeRejectsTenantToken(t *testing.T) {
	s, _, token := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tools/invoke", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
