package quota

import (
	"testing"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int     { return &v }
func i64Ptr(v int64) *int64 { return &v }

func TestLoadUsageBootstrapsEmptySnapshot(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	snap, err := l.LoadUsage("acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalTokens())
	assert.NotEmpty(t, snap.Period)
}

func TestUpdateTokenUsageAccumulatesAndTotalInvariant(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.UpdateTokenUsage("acme", 10, 20, 5, 2, 100))
	require.NoError(t, l.UpdateTokenUsage("acme", 1, 1, 1, 1, 10))

	snap, err := l.LoadUsage("acme")
	require.NoError(t, err)
	assert.Equal(t, int64(11), snap.InputTokens)
	assert.Equal(t, int64(21), snap.OutputTokens)
	assert.Equal(t, int64(6), snap.CacheReadTokens)
	assert.Equal(t, int64(3), snap.CacheWriteTokens)
	assert.Equal(t, snap.InputTokens+snap.OutputTokens+snap.CacheReadTokens+snap.CacheWriteTokens, snap.TotalTokens())
}

func TestUpdateSessionCountClampsAtZero(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.UpdateSessionCount("acme", 1))
	require.NoError(t, l.UpdateSessionCount("acme", -5))

	snap, err := l.LoadUsage("acme")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.ActiveSessions)
}

func TestCheckAndRecordRequestEnforcesMinuteWindow(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)
	quotas := &tenant.Quotas{RequestsPerMinute: intPtr(2)}

	r1, err := l.CheckAndRecordRequest("acme", quotas)
	require.NoError(t, err)
	assert.True(t, r1.Allowed)

	r2, err := l.CheckAndRecordRequest("acme", quotas)
	require.NoError(t, err)
	assert.True(t, r2.Allowed)

	r3, err := l.CheckAndRecordRequest("acme", quotas)
	require.NoError(t, err)
	assert.False(t, r3.Allowed)
	assert.Equal(t, ReasonRateLimited, r3.Reason)
	assert.Greater(t, r3.RetryAfterMs, int64(0))
}

func TestCheckQuotaBeforeRequestPriorityTokensBeforeDisk(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.UpdateTokenUsage("acme", 100, 0, 0, 0, 0))

	quotas := &tenant.Quotas{
		MonthlyTokensHard: i64Ptr(50),
		DiskBytes:         i64Ptr(1),
	}

	decision, err := l.CheckQuotaBeforeRequest("acme", quotas)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonQuotaExceeded, decision.Reason)
}

func TestCheckQuotaBeforeRequestSoftLimitWarns(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.UpdateTokenUsage("acme", 60, 0, 0, 0, 0))

	quotas := &tenant.Quotas{
		MonthlyTokensSoft: i64Ptr(50),
		MonthlyTokensHard: i64Ptr(1000),
	}

	decision, err := l.CheckQuotaBeforeRequest("acme", quotas)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NotEmpty(t, decision.Warning)
}

func TestCheckQuotaBeforeRequestSessionsExceeded(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	require.NoError(t, l.UpdateSessionCount("acme", 3))

	quotas := &tenant.Quotas{ConcurrentSessions: intPtr(2)}

	decision, err := l.CheckQuotaBeforeRequest("acme", quotas)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonSessionsExceeded, decision.Reason)
}

func TestCheckQuotaBeforeRequestNilQuotasAlwaysAllowed(t *testing.T) {
	dir := t.TempDir()
	l := NewLedger(dir)

	decision, err := l.CheckQuotaBeforeRequest("acme", nil)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
