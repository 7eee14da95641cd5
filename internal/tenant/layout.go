package tenant

import "path/filepath"

// Layout resolves the on-disk paths for a single tenant's state subtree,
// rooted at <stateDir>/tenants/{tenantId}/ as specified by the persisted
// state layout.
type Layout struct {
	Root string
}

func NewLayout(stateDir, tenantID string) Layout {
	return Layout{Root: filepath.Join(stateDir, "tenants", tenantID)}
}

func (l Layout) ConfigOverlay() string   { return filepath.Join(l.Root, "openclaw.json") }
func (l Layout) Workspace() string       { return filepath.Join(l.Root, "workspace") }
func (l Layout) AgentsDir() string       { return filepath.Join(l.Root, "agents") }
func (l Layout) AgentSessions(agentID string) string {
	return filepath.Join(l.AgentsDir(), agentID, "sessions")
}
func (l Layout) AgentMemoryDB(agentID string) string {
	return filepath.Join(l.Root, "memory", agentID+".sqlite")
}
func (l Layout) MemoryDir() string      { return filepath.Join(l.Root, "memory") }
func (l Layout) PluginsDir() string     { return filepath.Join(l.Root, "plugins") }
func (l Layout) SandboxesDir() string   { return filepath.Join(l.Root, "sandboxes") }
func (l Layout) CredentialsDir() string { return filepath.Join(l.Root, "credentials") }
func (l Layout) CronJobsFile() string   { return filepath.Join(l.Root, "cron", "jobs.json") }
func (l Layout) CronRunLogFile(jobID string) string {
	return filepath.Join(l.Root, "cron", "runlog", jobID+".log")
}
func (l Layout) UsageCurrentFile() string { return filepath.Join(l.Root, "usage", "current.json") }
func (l Layout) UsagePeriodFile(period string) string {
	return filepath.Join(l.Root, "usage", period+".json")
}
func (l Layout) RateLimitsFile() string { return filepath.Join(l.Root, "usage", "rate-limits.json") }

// bootstrapDirs lists the directories created for every new tenant (§3:
// "initialize the tenant's state directory tree").
func (l Layout) bootstrapDirs() []string {
	return []string{
		l.Workspace(),
		l.AgentsDir(),
		l.MemoryDir(),
		l.PluginsDir(),
		l.SandboxesDir(),
		l.CredentialsDir(),
		filepath.Join(l.Root, "cron", "runlog"),
		filepath.Join(l.Root, "usage"),
	}
}
