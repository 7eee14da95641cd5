package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cagent-gateway/tenantgw/internal/authz"
	"github.com/cagent-gateway/tenantgw/internal/ptymgr"
	"github.com/cagent-gateway/tenantgw/internal/rpc"
	"github.com/cagent-gateway/tenantgw/internal/scheduler"
	"github.com/cagent-gateway/tenantgw/internal/sessionkey"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/cagent-gateway/tenantgw/internal/tenantconfig"
)

// handleFrame parses and dispatches one inbound RPC frame, writing the
// response back to the originating client.
func (gw *Gateway) handleFrame(data []byte, client *rpc.Client) {
	var frame rpc.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		resp := rpc.Response{
			OK:    false,
			Error: &rpc.ErrorShape{Code: rpc.CodeInvalidRequest, Message: "malformed frame"},
		}
		gw.send(client, resp)
		return
	}

	resp := gw.dispatcher.Dispatch(context.Background(), frame, client)
	gw.send(client, resp)
}

func (gw *Gateway) send(client *rpc.Client, resp rpc.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal rpc response", "error", err)
		return
	}
	if err := client.Sender.Send(data); err != nil {
		slog.Debug("failed to send rpc response", "connId", client.ConnID, "error", err)
	}
}

// sink adapts the gateway's connection registry to ptymgr.OutputSink,
// routing terminal output only to the connection that spawned it.
type sink struct {
	conns interface {
		Get(connID string) (*rpc.Client, bool)
	}
}

func (s sink) SendOutput(connID, terminalID string, data []byte) {
	s.deliver(connID, "terminal.output", map[string]any{"terminalId": terminalID, "data": string(data)})
}

func (s sink) SendExit(connID, terminalID string, exitCode int) {
	s.deliver(connID, "terminal.exit", map[string]any{"terminalId": terminalID, "exitCode": exitCode})
}

func (s sink) deliver(connID, event string, payload any) {
	client, ok := s.conns.Get(connID)
	if !ok {
		return
	}
	data, err := json.Marshal(rpc.BroadcastEvent{Event: event, Payload: payload})
	if err != nil {
		return
	}
	_ = rpc.Send(client.Sender, data, true)
}

func isAdmin(c *rpc.Client) bool {
	return c.Auth.Scopes[authz.ScopeAdmin]
}

type terminalSpawnParams struct {
	Cols  int               `json:"cols,omitempty"`
	Rows  int               `json:"rows,omitempty"`
	Shell string            `json:"shell,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

type terminalTargetParams struct {
	TerminalID string `json:"terminalId"`
}

type terminalWriteParams struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

type terminalResizeParams struct {
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

type cronJobParams struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`
	AgentID  string `json:"agentId,omitempty"`
	Prompt   string `json:"prompt"`
}

type cronJobTargetParams struct {
	ID string `json:"id"`
}

// registerHandlers wires every RPC method this gateway serves. The
// terminal.* family adapts directly onto internal/ptymgr; tenants.* onto
// internal/tenant.Registry; everything else follows the same shape and is
// added incrementally as the chat/agent pipeline lands.
func (gw *Gateway) registerHandlers() {
	d := gw.dispatcher

	d.Handle("health", func(rc rpc.RequestContext) {
		rc.Respond(map[string]any{"status": "ok"}, nil)
	})

	d.Handle("terminal.spawn", func(rc rpc.RequestContext) {
		var p terminalSpawnParams
		if len(rc.Params) > 0 {
			if err := json.Unmarshal(rc.Params, &p); err != nil {
				rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
				return
			}
		}

		session, err := gw.ptys.Spawn(rc.Client.TenantID, rc.Client.ConnID, p.Cols, p.Rows, p.Shell, p.Env)
		if err != nil {
			rc.RespondErr(ptymgrError(err))
			return
		}
		rc.Respond(map[string]any{"terminalId": session.TerminalID}, nil)
	})

	d.Handle("terminal.write", func(rc rpc.RequestContext) {
		var p terminalWriteParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if err := gw.ptys.Write(p.TerminalID, rc.Client.TenantID, isAdmin(rc.Client), []byte(p.Data)); err != nil {
			rc.RespondErr(ptymgrError(err))
			return
		}
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("terminal.resize", func(rc rpc.RequestContext) {
		var p terminalResizeParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if err := gw.ptys.Resize(p.TerminalID, rc.Client.TenantID, isAdmin(rc.Client), p.Cols, p.Rows); err != nil {
			rc.RespondErr(ptymgrError(err))
			return
		}
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("terminal.close", func(rc rpc.RequestContext) {
		var p terminalTargetParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if err := gw.ptys.Close(p.TerminalID, rc.Client.TenantID, isAdmin(rc.Client)); err != nil {
			rc.RespondErr(ptymgrError(err))
			return
		}
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("terminal.list", func(rc rpc.RequestContext) {
		rc.Respond(gw.ptys.List(rc.Client.TenantID, isAdmin(rc.Client)), nil)
	})

	d.Handle("tenants.get", func(rc rpc.RequestContext) {
		var p struct {
			TenantID string `json:"tenantId"`
		}
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		entry, ok, err := gw.tenants.Get(p.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "lookup failed"})
			return
		}
		if !ok {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeNotFound, Message: "tenant not found"})
			return
		}
		rc.Respond(entry, nil)
	})

	d.Handle("tenants.create", func(rc rpc.RequestContext) {
		var p struct {
			TenantID    string `json:"tenantId"`
			DisplayName string `json:"displayName"`
		}
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		token, err := gw.tenants.Create(p.TenantID, tenant.CreateOpts{DisplayName: p.DisplayName})
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: err.Error()})
			return
		}
		rc.Respond(map[string]any{"tenantId": p.TenantID, "token": token}, nil)
	})

	d.Handle("tenants.remove", func(rc rpc.RequestContext) {
		var p struct {
			TenantID   string `json:"tenantId"`
			DeleteData bool   `json:"deleteData"`
		}
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if err := gw.tenants.Remove(p.TenantID, tenant.RemoveOpts{DeleteData: p.DeleteData}); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeNotFound, Message: err.Error()})
			return
		}
		// EvictTenant only drops the registry entries, so each evicted
		// websocket is closed here; its read loop then exits.
		for _, c := range gw.conns.EvictTenant(p.TenantID) {
			if ws, ok := c.Sender.(*wsSender); ok {
				_ = ws.close()
			}
		}
		gw.ptys.CloseAllTenantTerminals(p.TenantID)
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("config.get", func(rc rpc.RequestContext) {
		layout := tenant.NewLayout(gw.tenants.StateDir(), rc.Client.TenantID)
		overlay, err := gw.config.Get(layout.ConfigOverlay())
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to load config"})
			return
		}
		rc.Respond(overlay, nil)
	})

	d.Handle("config.patch", func(rc rpc.RequestContext) {
		var patch struct {
			DefaultAgentID string         `json:"defaultAgentId,omitempty"`
			Agents         map[string]any `json:"agents,omitempty"`
		}
		if err := json.Unmarshal(rc.Params, &patch); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		layout := tenant.NewLayout(gw.tenants.StateDir(), rc.Client.TenantID)
		merged, err := gw.config.Patch(layout.ConfigOverlay(), tenantconfigOverlayFrom(patch.DefaultAgentID, patch.Agents))
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to save config"})
			return
		}
		rc.Respond(merged, nil)
	})

	d.Handle("memory.append", func(rc rpc.RequestContext) {
		var p struct {
			AgentID    string `json:"agentId"`
			SessionKey string `json:"sessionKey"`
			Role       string `json:"role"`
			Content    string `json:"content"`
		}
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		scoped, err := sessionkey.ScopeSessionKeyToTenant(p.SessionKey, rc.Client.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnauthorized, Message: err.Error()})
			return
		}
		if err := gw.memory.AppendEntry(rc.Client.TenantID, p.AgentID, scoped, p.Role, p.Content); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to append memory entry"})
			return
		}
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("memory.load", func(rc rpc.RequestContext) {
		var p struct {
			AgentID    string `json:"agentId"`
			SessionKey string `json:"sessionKey"`
		}
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		scoped, err := sessionkey.ScopeSessionKeyToTenant(p.SessionKey, rc.Client.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnauthorized, Message: err.Error()})
			return
		}
		entries, err := gw.memory.LoadSession(rc.Client.TenantID, p.AgentID, scoped)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to load memory"})
			return
		}
		rc.Respond(map[string]any{"entries": entries}, nil)
	})

	d.Handle("cron.create", func(rc rpc.RequestContext) {
		var p cronJobParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		job, err := gw.scheduler.CreateJob(rc.Client.TenantID, scheduler.Job{
			ID:       p.ID,
			Schedule: p.Schedule,
			AgentID:  p.AgentID,
			Prompt:   p.Prompt,
		})
		if err != nil {
			rc.RespondErr(schedulerError(err))
			return
		}
		rc.Respond(job, nil)
	})

	d.Handle("cron.get", func(rc rpc.RequestContext) {
		var p cronJobTargetParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		job, ok, err := gw.scheduler.GetJob(rc.Client.TenantID, p.ID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to load cron job"})
			return
		}
		if !ok {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeNotFound, Message: "cron job not found"})
			return
		}
		rc.Respond(job, nil)
	})

	d.Handle("cron.list", func(rc rpc.RequestContext) {
		jobs, err := gw.scheduler.ListJobs(rc.Client.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to list cron jobs"})
			return
		}
		rc.Respond(map[string]any{"jobs": jobs}, nil)
	})

	d.Handle("cron.update", func(rc rpc.RequestContext) {
		var p cronJobParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		job, err := gw.scheduler.UpdateJob(rc.Client.TenantID, scheduler.Job{
			ID:       p.ID,
			Schedule: p.Schedule,
			AgentID:  p.AgentID,
			Prompt:   p.Prompt,
		})
		if err != nil {
			rc.RespondErr(schedulerError(err))
			return
		}
		rc.Respond(job, nil)
	})

	d.Handle("cron.remove", func(rc rpc.RequestContext) {
		var p cronJobTargetParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		if err := gw.scheduler.RemoveJob(rc.Client.TenantID, p.ID); err != nil {
			rc.RespondErr(schedulerError(err))
			return
		}
		rc.Respond(map[string]any{"ok": true}, nil)
	})

	d.Handle("cron.run", func(rc rpc.RequestContext) {
		var p cronJobTargetParams
		if err := json.Unmarshal(rc.Params, &p); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: "invalid params"})
			return
		}
		job, err := gw.scheduler.RunJobNow(rc.Client.TenantID, p.ID)
		if err != nil {
			rc.RespondErr(schedulerError(err))
			return
		}
		rc.Respond(job, nil)
	})

	d.Handle("usage", func(rc rpc.RequestContext) {
		snap, err := gw.ledger.LoadUsage(rc.Client.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to load usage"})
			return
		}
		rc.Respond(snap, nil)
	})

	d.Handle("quota.status", func(rc rpc.RequestContext) {
		layout := tenant.NewLayout(gw.tenants.StateDir(), rc.Client.TenantID)
		diskUsage, err := gw.diskUsage.Refresh(rc.Client.TenantID, layout.Root)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to refresh disk usage"})
			return
		}
		if err := gw.ledger.ApplyDiskUsage(rc.Client.TenantID, diskUsage); err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to persist disk usage"})
			return
		}
		snap, err := gw.ledger.LoadUsage(rc.Client.TenantID)
		if err != nil {
			rc.RespondErr(&rpc.HandlerError{Code: rpc.CodeUnavailable, Message: "failed to load usage"})
			return
		}

		var quotas *tenant.Quotas
		if entry, ok, err := gw.tenants.Get(rc.Client.TenantID); err == nil && ok {
			quotas = entry.Quotas
		}
		rc.Respond(map[string]any{"usage": snap, "quotas": quotas}, nil)
	})
}

func schedulerError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrJobExists):
		return &rpc.HandlerError{Code: rpc.CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, scheduler.ErrJobNotFound):
		return &rpc.HandlerError{Code: rpc.CodeNotFound, Message: err.Error()}
	default:
		return &rpc.HandlerError{Code: rpc.CodeUnavailable, Message: err.Error()}
	}
}

func ptymgrError(err error) error {
	switch err.(type) {
	case *ptymgr.ErrNotFound:
		return &rpc.HandlerError{Code: rpc.CodeNotFound, Message: err.Error()}
	case *ptymgr.ErrUnauthorized:
		return &rpc.HandlerError{Code: rpc.CodeUnauthorized, Message: err.Error()}
	default:
		return &rpc.HandlerError{Code: rpc.CodeUnavailable, Message: err.Error()}
	}
}

func tenantconfigOverlayFrom(defaultAgentID string, agents map[string]any) tenantconfig.Overlay {
	return tenantconfig.Overlay{DefaultAgentID: defaultAgentID, Agents: agents}
}
