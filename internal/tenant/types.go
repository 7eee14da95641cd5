// Package tenant implements the tenant registry (C2): persistence of tenant
// records in a single JSON document, token issuance/validation, and the
// on-disk state-directory tree each tenant owns.
package tenant

import (
	"regexp"
	"time"
)

// IDPattern is the pattern every tenantId must satisfy.
var IDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,31}$`)

// ValidID reports whether id satisfies the tenant ID pattern.
func ValidID(id string) bool {
	return IDPattern.MatchString(id)
}

// Quotas holds per-tenant resource caps. A nil field means "unlimited" for
// that dimension; a non-nil field is a cap, and a cap of zero is enforced
// as zero rather than treated as unlimited.
type Quotas struct {
	MonthlyTokensHard  *int64 `json:"monthlyTokensHard,omitempty"`
	MonthlyTokensSoft  *int64 `json:"monthlyTokensSoft,omitempty"`
	MonthlyCostHard    *int64 `json:"monthlyCostCentsHard,omitempty"`
	MonthlyCostSoft    *int64 `json:"monthlyCostCentsSoft,omitempty"`
	DiskBytes          *int64 `json:"diskBytes,omitempty"`
	ConcurrentSessions *int   `json:"concurrentSessions,omitempty"`
	RequestsPerMinute  *int   `json:"requestsPerMinute,omitempty"`
	RequestsPerHour    *int   `json:"requestsPerHour,omitempty"`
	SandboxCPUPercent  *int   `json:"sandboxCpuPercent,omitempty"`
	SandboxMemoryBytes *int64 `json:"sandboxMemoryBytes,omitempty"`
	SandboxDiskBytes   *int64 `json:"sandboxDiskBytes,omitempty"`
	SandboxPIDs        *int   `json:"sandboxPids,omitempty"`
}

// Entry is a single tenant's persisted record.
type Entry struct {
	TenantID    string    `json:"tenantId"`
	TokenHash   string    `json:"tokenHash"` // hex-encoded SHA-256 of the secret
	DisplayName string    `json:"displayName,omitempty"`
	Disabled    bool      `json:"disabled"`
	Quotas      *Quotas   `json:"quotas,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastSeenAt  time.Time `json:"lastSeenAt,omitempty"`
}

// document is the on-disk shape of tenants.json.
type document struct {
	Version int              `json:"version"`
	Tenants map[string]Entry `json:"tenants"`
}

const documentVersion = 1

// Context is the result of successfully validating a tenant token.
type Context struct {
	TenantID string
	StateDir string
}

// CreateOpts are the optional fields accepted by Create.
type CreateOpts struct {
	DisplayName string
}

// UpdateOpts are the selectively-applied fields accepted by Update. Nil
// fields are left untouched.
type UpdateOpts struct {
	DisplayName *string
	Disabled    *bool
	Quotas      *Quotas
}

// RemoveOpts controls Remove's data-deletion behavior.
type RemoveOpts struct {
	DeleteData bool
}
