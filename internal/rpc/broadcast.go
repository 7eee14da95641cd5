package rpc

import (
	"encoding/json"
	"log/slog"
)

// Registry is the minimal connection-iteration surface broadcast needs.
// internal/connreg.Registry satisfies it.
type Registry interface {
	ForEachClient(fn func(*Client))
}

// Broadcast fans an event out to every connection in reg.
func Broadcast(reg Registry, event string, payload any, dropIfSlow bool) {
	data, err := json.Marshal(BroadcastEvent{Event: event, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal broadcast event", "event", event, "error", err)
		return
	}

	reg.ForEachClient(func(c *Client) {
		if err := Send(c.Sender, data, dropIfSlow); err != nil {
			slog.Debug("broadcast send failed", "event", event, "connId", c.ConnID, "error", err)
		}
	})
}

// BroadcastToConnIDs restricts the fan-out to connections whose ID is in ids.
func BroadcastToConnIDs(reg Registry, event string, payload any, ids map[string]bool, dropIfSlow bool) {
	data, err := json.Marshal(BroadcastEvent{Event: event, Payload: payload})
	if err != nil {
		slog.Error("failed to marshal broadcast event", "event", event, "error", err)
		return
	}

	reg.ForEachClient(func(c *Client) {
		if !ids[c.ConnID] {
			return
		}
		if err := Send(c.Sender, data, dropIfSlow); err != nil {
			slog.Debug("broadcast send failed", "event", event, "connId", c.ConnID, "error", err)
		}
	})
}
