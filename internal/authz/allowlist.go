package authz

// TenantAllowList is the fixed enumerated set of methods a tenant-scoped
// connection may invoke. Any method outside this set is rejected for
// tenant-authenticated callers even if they would otherwise have
// sufficient scope — this is the single most important safety rail of the
// core.
var TenantAllowList = buildTenantAllowList()

func buildTenantAllowList() map[string]bool {
	methods := []string{
		// Health check.
		"health",

		// Terminal verbs, full set.
		"terminal.spawn",
		"terminal.write",
		"terminal.resize",
		"terminal.close",
		"terminal.list",

		// Tenant self-management subset.
		"get",
		"rotate",
		"backup",
		"backups.list",
		"restore",
		"delete",
		"usage",
		"quota.status",
		"usage.history",

		// Config read/write/patch/schema.
		"config.get",
		"config.set",
		"config.patch",
		"config.schema",

		// Per-agent conversation memory.
		"memory.append",
		"memory.load",

		// Agent CRUD, full.
		"agents.create",
		"agents.get",
		"agents.list",
		"agents.update",
		"agents.remove",

		// Session list/preview only — no session mutation.
		"sessions.list",
		"sessions.preview",

		// Cron CRUD plus run.
		"cron.create",
		"cron.get",
		"cron.list",
		"cron.update",
		"cron.remove",
		"cron.run",

		// Skills CRUD.
		"skills.create",
		"skills.get",
		"skills.list",
		"skills.update",
		"skills.remove",

		// Channel lifecycle.
		"channels.start",
		"channels.stop",
		"channels.logout",
		"channels.status",

		// Voice-wake read/write.
		"voicewake.get",
		"voicewake.set",

		// Device pairing.
		"device.pair",
		"device.unpair",
		"device.list",

		// Node pairing.
		"node.pair",
		"node.unpair",
		"node.list",
	}

	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}
