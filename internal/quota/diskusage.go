package quota

import (
	"os"
	"path/filepath"
	"time"

	cache "github.com/patrickmn/go-cache"
)

const diskUsageCacheTTL = 30 * time.Second

// DiskUsageRefresher computes recursive directory sizes and caches the
// result for diskUsageCacheTTL, so an admin-triggered refresh never does a
// full filesystem walk more than once per window. Disk usage is never
// recomputed on a request's hot path — only on explicit refresh.
type DiskUsageRefresher struct {
	stateDir string
	cache    *cache.Cache
}

func NewDiskUsageRefresher(stateDir string) *DiskUsageRefresher {
	return &DiskUsageRefresher{
		stateDir: stateDir,
		cache:    cache.New(diskUsageCacheTTL, 2*diskUsageCacheTTL),
	}
}

// Refresh returns the cached disk usage for tenantID if still fresh,
// otherwise walks the tenant's workspace/, agents/, and memory/ subtrees
// (plus the tenant root for "total") and caches the result.
func (d *DiskUsageRefresher) Refresh(tenantID, tenantRoot string) (DiskUsage, error) {
	if cached, ok := d.cache.Get(tenantID); ok {
		return cached.(DiskUsage), nil
	}

	total, err := dirSize(tenantRoot)
	if err != nil {
		return DiskUsage{}, err
	}
	workspace, err := dirSize(filepath.Join(tenantRoot, "workspace"))
	if err != nil {
		return DiskUsage{}, err
	}
	agents, err := dirSize(filepath.Join(tenantRoot, "agents"))
	if err != nil {
		return DiskUsage{}, err
	}
	memory, err := dirSize(filepath.Join(tenantRoot, "memory"))
	if err != nil {
		return DiskUsage{}, err
	}

	usage := DiskUsage{
		TotalBytes:     total,
		WorkspaceBytes: workspace,
		AgentBytes:     agents,
		MemoryBytes:    memory,
	}
	d.cache.Set(tenantID, usage, cache.DefaultExpiration)
	return usage, nil
}

// dirSize returns the recursive byte size of root. A missing directory
// contributes zero rather than erroring, since not every tenant subtree is
// guaranteed to exist yet.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

// ApplyDiskUsage writes a freshly computed DiskUsage into the tenant's
// current usage snapshot.
func (l *Ledger) ApplyDiskUsage(tenantID string, usage DiskUsage) error {
	return l.mutate(tenantID, func(s UsageSnapshot) UsageSnapshot {
		s.DiskTotalBytes = usage.TotalBytes
		s.DiskWorkspaceBytes = usage.WorkspaceBytes
		s.DiskAgentBytes = usage.AgentBytes
		s.DiskMemoryBytes = usage.MemoryBytes
		s.DiskComputedAt = time.Now().UTC()
		return s
	})
}
