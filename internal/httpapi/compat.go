package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cagent-gateway/tenantgw/internal/sessionkey"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

type chatCompletionsRequest struct {
	SessionKey string `json:"sessionKey,omitempty"`
	Model      string `json:"model"`
	Messages   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func (s *Server) tenantContext(c echo.Context) (tenant.Context, bool) {
	v := c.Get(tenantContextKey)
	ctx, ok := v.(tenant.Context)
	return ctx, ok
}

// scopedSessionKeyContextKey holds the tenant-scoped session key computed
// from the request body, so a delegated handler can read it without
// re-binding (and thereby re-consuming) the request body itself.
const scopedSessionKeyContextKey = "scopedSessionKey"

// ScopedSessionKey returns the session key a compat handler scoped to the
// caller's tenant, if the request carried one.
func ScopedSessionKey(c echo.Context) (string, bool) {
	v, ok := c.Get(scopedSessionKeyContextKey).(string)
	return v, ok
}

// handleChatCompletions implements POST /v1/chat/completions. Any
// client-supplied session key is passed through scopeSessionKeyToTenant; a
// mismatched tenant prefix produces 403.
func (s *Server) handleChatCompletions(c echo.Context) error {
	var req chatCompletionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tenantCtx, _ := s.tenantContext(c)

	if req.SessionKey != "" {
		scoped, err := sessionkey.ScopeSessionKeyToTenant(req.SessionKey, tenantCtx.TenantID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
		req.SessionKey = scoped
		c.Set(scopedSessionKeyContextKey, scoped)
	}

	if s.chatCompletions != nil {
		return s.chatCompletions(c)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":      "chatcmpl-stub",
		"object":  "chat.completion",
		"model":   req.Model,
		"choices": []any{},
	})
}

func (s *Server) handleResponses(c echo.Context) error {
	var req chatCompletionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tenantCtx, _ := s.tenantContext(c)

	if req.SessionKey != "" {
		scoped, err := sessionkey.ScopeSessionKeyToTenant(req.SessionKey, tenantCtx.TenantID)
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "forbidden")
		}
		req.SessionKey = scoped
	}

	return c.JSON(http.StatusOK, map[string]any{
		"id":     "resp-stub",
		"object": "response",
		"model":  req.Model,
	})
}

// handleToolsInvoke MUST reject tenant tokens outright.
func (s *Server) handleToolsInvoke(c echo.Context) error {
	tenantCtx, _ := s.tenantContext(c)
	if tenantCtx.TenantID != "" {
		return echo.NewHTTPError(http.StatusForbidden, "tools invocation is not available to tenant tokens")
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}
