// Package httpapi implements the two HTTP compat surfaces (C9): the
// OpenAI-compatible chat/responses endpoints and the internal
// control-plane API. Each authenticates with its own middleware; neither
// goes through the RPC authorizer, the quota checker, or the dispatcher.
package httpapi

import (
	"context"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cagent-gateway/tenantgw/internal/backup"
	"github.com/cagent-gateway/tenantgw/internal/metrics"
	"github.com/cagent-gateway/tenantgw/internal/ptymgr"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

// Server hosts both HTTP surfaces behind one echo.Echo instance.
type Server struct {
	e *echo.Echo

	tenants           *tenant.Registry
	ledger            *quota.Ledger
	ptys              *ptymgr.Manager
	backups           *backup.Orchestrator
	metricsRing       *metrics.Ring
	controlPlaneToken string
	chatCompletions   echo.HandlerFunc
}

// Opt configures a Server at construction time.
type Opt func(*Server)

func WithChatCompletionsHandler(h echo.HandlerFunc) Opt {
	return func(s *Server) { s.chatCompletions = h }
}

// New builds the Server and registers every route.
func New(
	tenants *tenant.Registry,
	ledger *quota.Ledger,
	ptys *ptymgr.Manager,
	backups *backup.Orchestrator,
	metricsRing *metrics.Ring,
	controlPlaneToken string,
	opts ...Opt,
) *Server {
	e := echo.New()
	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.BodyLimit("64K"))

	s := &Server{
		e:                 e,
		tenants:           tenants,
		ledger:            ledger,
		ptys:              ptys,
		backups:           backups,
		metricsRing:       metricsRing,
		controlPlaneToken: controlPlaneToken,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerCompatRoutes()
	s.registerControlPlaneRoutes()

	return s
}

func (s *Server) registerCompatRoutes() {
	s.e.POST("/v1/chat/completions", s.handleChatCompletions, s.bearerAuthMiddleware)
	s.e.POST("/v1/responses", s.handleResponses, s.bearerAuthMiddleware)
	s.e.POST("/v1/tools/invoke", s.handleToolsInvoke, s.bearerAuthMiddleware)
}

func (s *Server) registerControlPlaneRoutes() {
	g := s.e.Group("/internal/v1", s.controlPlaneAuthMiddleware)

	g.GET("/status", s.handleStatus)
	g.GET("/metrics", s.handleMetrics)

	g.GET("/tenants/:tenantId", s.handleGetTenant)
	g.POST("/tenants/:tenantId", s.handleCreateTenant)
	g.DELETE("/tenants/:tenantId", s.handleDeleteTenant)

	g.POST("/tenants/:tenantId/backup", s.handleBackup)
	g.POST("/tenants/:tenantId/restore", s.handleRestore)
	g.GET("/tenants/:tenantId/backups", s.handleListBackups)
	// Backup keys embed a "/" (prefix/tenantId/tenantId-timestamp.tar.gz),
	// so the key has to be captured as a wildcard segment, not a :param.
	g.DELETE("/tenants/:tenantId/backups/*", s.handleDeleteBackup)

	// Unrecognized paths under the prefix and disallowed methods fall
	// through to echo's default 404/405 handling.
}

// Serve runs the HTTP server on ln until the context is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{Handler: s.e}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Echo exposes the underlying echo instance, primarily for tests that want
// to drive requests directly against the handler chain.
func (s *Server) Echo() *echo.Echo { return s.e }
