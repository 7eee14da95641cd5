// Package quota implements the per-tenant usage ledger (C3): monthly usage
// snapshots, sliding rate-limit windows, and cumulative quota checks.
package quota

import (
	"time"
)

// UsageSnapshot is a tenant's counters for a single YYYY-MM period.
type UsageSnapshot struct {
	Period string `json:"period"`

	InputTokens     int64 `json:"inputTokens"`
	OutputTokens    int64 `json:"outputTokens"`
	CacheReadTokens int64 `json:"cacheReadTokens"`
	CacheWriteTokens int64 `json:"cacheWriteTokens"`
	CostCents       int64 `json:"costCents"`

	DiskTotalBytes     int64 `json:"diskTotalBytes"`
	DiskWorkspaceBytes int64 `json:"diskWorkspaceBytes"`
	DiskAgentBytes     int64 `json:"diskAgentBytes"`
	DiskMemoryBytes    int64 `json:"diskMemoryBytes"`
	DiskComputedAt     time.Time `json:"diskComputedAt,omitempty"`

	ActiveSessions int `json:"activeSessions"`
	MessageCount   int64 `json:"messageCount"`

	RequestsLifetime   int64 `json:"requestsLifetime"`
	RequestsThisMinute int   `json:"requestsThisMinute"`
	RequestsThisHour   int   `json:"requestsThisHour"`

	SandboxCPUSeconds   float64 `json:"sandboxCpuSeconds"`
	SandboxPeakMemBytes int64   `json:"sandboxPeakMemoryBytes"`
}

// TotalTokens returns the sum invariant: total = input + output + cacheRead + cacheWrite.
func (s UsageSnapshot) TotalTokens() int64 {
	return s.InputTokens + s.OutputTokens + s.CacheReadTokens + s.CacheWriteTokens
}

// rateLimitState is the persisted sliding-window timestamp log.
type rateLimitState struct {
	MinuteTimestamps []int64 `json:"minuteTimestamps"`
	HourTimestamps   []int64 `json:"hourTimestamps"`
}

// DenialReason enumerates why checkQuotaBeforeRequest rejected a request.
type DenialReason string

const (
	ReasonQuotaExceeded   DenialReason = "quota_exceeded"
	ReasonRateLimited     DenialReason = "rate_limited"
	ReasonDiskFull        DenialReason = "disk_full"
	ReasonSessionsExceeded DenialReason = "sessions_exceeded"
)

// Decision is the outcome of checkQuotaBeforeRequest.
type Decision struct {
	Allowed      bool
	Warning      string
	Reason       DenialReason
	Message      string
	RetryAfterMs int64
}

// RequestResult is the outcome of checkAndRecordRequest.
type RequestResult struct {
	Allowed      bool
	Reason       DenialReason
	RetryAfterMs int64
}

// DiskUsage is the result of a (slow, on-demand) recursive disk scan.
type DiskUsage struct {
	TotalBytes     int64
	WorkspaceBytes int64
	AgentBytes     int64
	MemoryBytes    int64
}
