// Package gateway wires the session-key algebra, tenant registry, quota
// ledger, method authorizer, RPC dispatcher, connection registry,
// scheduler supervisor, and PTY manager into one WebSocket entry point:
// C6's "opens a connection" step through C5's "dispatcher calls a handler".
package gateway

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cagent-gateway/tenantgw/internal/authz"
	"github.com/cagent-gateway/tenantgw/internal/connreg"
	"github.com/cagent-gateway/tenantgw/internal/memorystore"
	"github.com/cagent-gateway/tenantgw/internal/pairing"
	"github.com/cagent-gateway/tenantgw/internal/ptymgr"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/rpc"
	"github.com/cagent-gateway/tenantgw/internal/scheduler"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/cagent-gateway/tenantgw/internal/tenantconfig"
)

// Config is the static admin/node credential material checked at
// handshake time, distinct from per-tenant bearer tokens.
type Config struct {
	// AdminToken grants RoleOperator with the admin scope when presented
	// as the bearer token. Empty disables admin connections entirely.
	AdminToken string
	// PairingIssuer validates node pairing tokens presented at handshake.
	// No RPC method registered by this package issues them.
	PairingIssuer *pairing.Issuer
}

// Gateway owns every live connection and the handler table behind it.
type Gateway struct {
	cfg Config

	tenants    *tenant.Registry
	ledger     *quota.Ledger
	conns      *connreg.Registry
	dispatcher *rpc.Dispatcher
	scheduler  *scheduler.Supervisor
	ptys       *ptymgr.Manager
	config     *tenantconfig.Store
	memory     *memorystore.Store
	diskUsage  *quota.DiskUsageRefresher

	upgrader websocket.Upgrader
}

func New(
	cfg Config,
	tenants *tenant.Registry,
	ledger *quota.Ledger,
	sched *scheduler.Supervisor,
	spawner ptymgr.Spawner,
	cfgStore *tenantconfig.Store,
) *Gateway {
	conns := connreg.New()

	gw := &Gateway{
		cfg:        cfg,
		tenants:    tenants,
		ledger:     ledger,
		conns:      conns,
		dispatcher: rpc.NewDispatcher(ledger, tenants),
		scheduler:  sched,
		ptys:       ptymgr.New(spawner, sink{conns: conns}),
		config:     cfgStore,
		memory:     memorystore.New(tenants.StateDir()),
		diskUsage:  quota.NewDiskUsageRefresher(tenants.StateDir()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	gw.registerHandlers()
	return gw
}

// Broadcast fans event out to every live connection, satisfying
// scheduler.Broadcaster.
func (gw *Gateway) Broadcast(event string, payload any, dropIfSlow bool) {
	rpc.Broadcast(gw.conns, event, payload, dropIfSlow)
}

// authenticate resolves the handshake's bearer token into an authz
// connection. Exactly one of a tenant bearer token, the configured admin
// token, or a signed node pairing token is accepted.
func (gw *Gateway) authenticate(token string) (authz.Connection, string, error) {
	if gw.cfg.AdminToken != "" && constantTimeEqual(token, gw.cfg.AdminToken) {
		return authz.Connection{
			Role:   authz.RoleOperator,
			Scopes: map[authz.Scope]bool{authz.ScopeAdmin: true},
		}, "", nil
	}

	if gw.cfg.PairingIssuer != nil {
		if claims, err := gw.cfg.PairingIssuer.Validate(token, pairing.KindNode); err == nil {
			return authz.Connection{Role: authz.RoleNode, TenantID: claims.TenantID}, claims.TenantID, nil
		}
	}

	if strings.HasPrefix(token, "tenant:") {
		ctx, err := gw.tenants.ValidateToken(token)
		if err != nil {
			return authz.Connection{}, "", err
		}
		return authz.Connection{
			Role:     authz.RoleOperator,
			TenantID: ctx.TenantID,
			Scopes: map[authz.Scope]bool{
				authz.ScopeOperatorRead:  true,
				authz.ScopeOperatorWrite: true,
			},
		}, ctx.TenantID, nil
	}

	return authz.Connection{}, "", tenant.ErrInvalidToken
}

// HandleUpgrade authenticates and upgrades an inbound HTTP request to a
// WebSocket RPC connection, then runs its read loop until the connection
// closes.
func (gw *Gateway) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	authConn, tenantID, err := gw.authenticate(token)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	sender := newWSSender(conn)
	client := &rpc.Client{
		ConnID:   uuid.NewString(),
		TenantID: tenantID,
		SourceIP: sourceIP(r),
		Auth:     authConn,
		Sender:   sender,
	}

	gw.conns.AddClient(client)
	defer gw.conns.RemoveClient(client.ConnID)

	gw.runConnection(conn, sender, client)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	token := strings.TrimPrefix(h, "Bearer ")
	if token == h {
		return ""
	}
	return token
}

func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}

func (gw *Gateway) runConnection(conn *websocket.Conn, sender *wsSender, client *rpc.Client) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	stop := make(chan struct{})
	go gw.pingLoop(sender, stop)
	defer close(stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gw.handleFrame(data, client)
	}
}

func (gw *Gateway) pingLoop(sender *wsSender, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				return
			}
		}
	}
}
