package connreg

import (
	"testing"

	"github.com/cagent-gateway/tenantgw/internal/authz"
	"github.com/cagent-gateway/tenantgw/internal/rpc"
	"github.com/stretchr/testify/assert"
)

type noopSender struct{}

func (noopSender) Send(data []byte) error  { return nil }
func (noopSender) PendingWriteBytes() int  { return 0 }

func TestRegistryAddGetRemove(t *testing.T) {
	r := New()
	c := &rpc.Client{ConnID: "c1", Sender: noopSender{}}

	r.AddClient(c)
	got, ok := r.Get("c1")
	assert.True(t, ok)
	assert.Same(t, c, got)

	r.RemoveClient("c1")
	_, ok = r.Get("c1")
	assert.False(t, ok)
}

func TestRegistryClientsByIP(t *testing.T) {
	r := New()
	r.AddClient(&rpc.Client{ConnID: "c1", SourceIP: "1.2.3.4", Sender: noopSender{}})
	r.AddClient(&rpc.Client{ConnID: "c2", SourceIP: "1.2.3.4", Sender: noopSender{}})
	r.AddClient(&rpc.Client{ConnID: "c3", SourceIP: "5.6.7.8", Sender: noopSender{}})

	matched := r.ClientsByIP("1.2.3.4")
	assert.Len(t, matched, 2)
}

func TestRegistryEvictTenant(t *testing.T) {
	r := New()
	r.AddClient(&rpc.Client{ConnID: "c1", TenantID: "acme", Sender: noopSender{}})
	r.AddClient(&rpc.Client{ConnID: "c2", TenantID: "acme", Sender: noopSender{}})
	r.AddClient(&rpc.Client{ConnID: "c3", TenantID: "other", Sender: noopSender{}})

	evicted := r.EvictTenant("acme")
	assert.Len(t, evicted, 2)
	assert.Equal(t, 1, r.Count())

	_, ok := r.Get("c1")
	assert.False(t, ok)
	_, ok = r.Get("c3")
	assert.True(t, ok)
}

func TestHasAuthorizedClientForIP(t *testing.T) {
	r := New()
	assert.False(t, r.HasAuthorizedClientForIP("1.2.3.4"))

	r.AddClient(&rpc.Client{
		ConnID:   "c1",
		SourceIP: "1.2.3.4",
		Auth:     authz.Connection{Role: authz.RoleOperator},
		Sender:   noopSender{},
	})
	assert.True(t, r.HasAuthorizedClientForIP("1.2.3.4"))
}
