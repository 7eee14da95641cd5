// Package connreg implements the connection registry (C6): the set of live
// WebSocket connections, keyed by connection id, with lookups by source IP
// and bulk eviction when a tenant is disabled or removed.
package connreg

import (
	"github.com/cagent-gateway/tenantgw/internal/rpc"
	"github.com/cagent-gateway/tenantgw/pkg/concurrent"
)

// Registry tracks every live connection. It is safe for concurrent use;
// connections are added at handshake and removed on close, never shared
// across processes.
type Registry struct {
	clients concurrent.Map[string, *rpc.Client]
}

func New() *Registry {
	return &Registry{}
}

// AddClient registers a newly handshaked connection.
func (r *Registry) AddClient(c *rpc.Client) {
	r.clients.Store(c.ConnID, c)
}

// RemoveClient removes a connection on close. A no-op if already removed.
func (r *Registry) RemoveClient(connID string) {
	r.clients.Delete(connID)
}

// Get returns the client for connID, if still connected.
func (r *Registry) Get(connID string) (*rpc.Client, bool) {
	return r.clients.Load(connID)
}

// ForEachClient iterates every live connection. fn must not mutate the
// registry.
func (r *Registry) ForEachClient(fn func(*rpc.Client)) {
	r.clients.Range(func(_ string, c *rpc.Client) bool {
		fn(c)
		return true
	})
}

// ClientsByIP returns every connection whose SourceIP matches ip.
func (r *Registry) ClientsByIP(ip string) []*rpc.Client {
	var matched []*rpc.Client
	r.clients.Range(func(_ string, c *rpc.Client) bool {
		if c.SourceIP == ip {
			matched = append(matched, c)
		}
		return true
	})
	return matched
}

// HasAuthorizedClientForIP reports whether any connection from ip was
// registered with a role, whether or not it belongs to a tenant.
func (r *Registry) HasAuthorizedClientForIP(ip string) bool {
	found := false
	r.clients.Range(func(_ string, c *rpc.Client) bool {
		if c.SourceIP == ip && c.Auth.Role != "" {
			found = true
			return false
		}
		return true
	})
	return found
}

// EvictTenant closes (by removal from the registry) every connection
// belonging to tenantID. The caller is responsible for actually closing
// the underlying transport via the returned client list.
func (r *Registry) EvictTenant(tenantID string) []*rpc.Client {
	var evicted []*rpc.Client
	r.clients.Range(func(id string, c *rpc.Client) bool {
		if c.TenantID == tenantID {
			evicted = append(evicted, c)
		}
		return true
	})
	for _, c := range evicted {
		r.clients.Delete(c.ConnID)
	}
	return evicted
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	return r.clients.Length()
}
