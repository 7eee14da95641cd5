package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cagent-gateway/tenantgw/internal/authz"
	"github.com/cagent-gateway/tenantgw/internal/quota"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

// dropIfSlowThresholdBytes is the write-buffer size above which a
// dropIfSlow send is discarded rather than queued.
const dropIfSlowThresholdBytes = 1 << 20 // 1 MiB

// Client is the subset of connection state and behavior a handler needs.
// Implementations are expected to be safe for concurrent use.
type Client struct {
	ConnID   string
	TenantID string
	SourceIP string
	Auth     authz.Connection
	Sender   Sender
}

// Sender abstracts the underlying transport so the dispatcher and its
// handlers never depend on a concrete websocket connection.
type Sender interface {
	// Send writes data to the connection. It returns an error if the
	// connection is gone; the dispatcher treats that as a no-op.
	Send(data []byte) error
	// PendingWriteBytes reports the current outbound buffer size, used to
	// decide whether a dropIfSlow send should be discarded.
	PendingWriteBytes() int
}

// RequestContext is passed to every handler.
type RequestContext struct {
	Ctx      context.Context
	Params   json.RawMessage
	Client   *Client
	Respond  func(payload any, meta any)
	RespondErr func(err error)
}

// HandlerFunc implements one RPC method.
type HandlerFunc func(rc RequestContext)

// chargeableMethods marks methods that consume quota and must pass
// checkQuotaBeforeRequest before running. Terminal and agent/session
// activity is chargeable; read-only metadata calls are not.
var chargeableMethods = map[string]bool{
	"terminal.spawn": true,
	"terminal.write": true,
	"agents.create":  true,
	"sessions.list":  false,
	"cron.run":       true,
}

// Dispatcher owns the method-to-handler table and the authorization and
// quota gates every frame passes through before a handler runs.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	ledger   *quota.Ledger
	tenants  *tenant.Registry
}

func NewDispatcher(ledger *quota.Ledger, tenants *tenant.Registry) *Dispatcher {
	return &Dispatcher{
		handlers: map[string]HandlerFunc{},
		ledger:   ledger,
		tenants:  tenants,
	}
}

// Handle registers a handler for method.
func (d *Dispatcher) Handle(method string, fn HandlerFunc) {
	d.handlers[method] = fn
}

// Dispatch runs the full request lifecycle for one frame: parse (already
// done by the caller), authorize, charge quota if applicable, look up the
// handler, and invoke it. It never panics out to the caller; a handler
// panic is recovered and converted into an UNAVAILABLE response.
func (d *Dispatcher) Dispatch(ctx context.Context, frame Frame, client *Client) Response {
	if err := authz.Authorize(frame.Method, client.Auth); err != nil {
		return errorResponse(frame.ID, err)
	}

	if client.TenantID != "" && chargeableMethods[frame.Method] {
		entry, ok, err := d.tenants.Get(client.TenantID)
		if err != nil {
			return errorResponse(frame.ID, &HandlerError{Code: CodeUnavailable, Message: "tenant lookup failed"})
		}
		if !ok {
			return errorResponse(frame.ID, &HandlerError{Code: CodeUnauthorized, Message: "unknown tenant"})
		}
		decision, err := d.ledger.CheckQuotaBeforeRequest(client.TenantID, entry.Quotas)
		if err != nil {
			return errorResponse(frame.ID, &HandlerError{Code: CodeUnavailable, Message: "quota check failed"})
		}
		if !decision.Allowed {
			return Response{
				ID: frame.ID,
				OK: false,
				Error: &ErrorShape{
					Code:         invalidRequestOrDenial(decision.Reason),
					Message:      decision.Message,
					Retryable:    decision.Reason == quota.ReasonRateLimited,
					RetryAfterMs: decision.RetryAfterMs,
				},
			}
		}
	}

	handler, ok := d.handlers[frame.Method]
	if !ok {
		return errorResponse(frame.ID, &HandlerError{Code: CodeNotFound, Message: fmt.Sprintf("unknown method %q", frame.Method)})
	}

	return d.invoke(ctx, frame, client, handler)
}

func invalidRequestOrDenial(reason quota.DenialReason) string {
	if reason == "" {
		return CodeInvalidRequest
	}
	return string(reason)
}

func (d *Dispatcher) invoke(ctx context.Context, frame Frame, client *Client, handler HandlerFunc) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("rpc handler panicked", "method", frame.Method, "connId", client.ConnID, "recover", r)
			resp = errorResponse(frame.ID, &HandlerError{Code: CodeUnavailable, Message: "internal error"})
		}
	}()

	var result Response
	responded := false

	respond := func(payload any, meta any) {
		if responded {
			return
		}
		responded = true
		result = Response{ID: frame.ID, OK: true, Payload: payload, Meta: meta}
	}
	respondErr := func(err error) {
		if responded {
			return
		}
		responded = true
		result = errorResponse(frame.ID, err)
	}

	handler(RequestContext{
		Ctx:        ctx,
		Params:     frame.Params,
		Client:     client,
		Respond:    respond,
		RespondErr: respondErr,
	})

	if !responded {
		return errorResponse(frame.ID, &HandlerError{Code: CodeUnavailable, Message: "handler did not respond"})
	}
	return result
}

func errorResponse(id string, err error) Response {
	if he, ok := err.(*HandlerError); ok {
		return Response{ID: id, OK: false, Error: he.toShape()}
	}
	if ae, ok := err.(*authz.Error); ok {
		return Response{ID: id, OK: false, Error: &ErrorShape{Code: ae.Code, Message: ae.Message}}
	}
	return Response{ID: id, OK: false, Error: &ErrorShape{Code: CodeUnavailable, Message: err.Error()}}
}

// Send delivers data to a single connection's Sender. With dropIfSlow set,
// data is discarded when the Sender reports more than
// dropIfSlowThresholdBytes pending. Every send that is not discarded waits
// until the Sender's own Send returns, so a slow client still blocks the
// caller.
func Send(s Sender, data []byte, dropIfSlow bool) error {
	if dropIfSlow && s.PendingWriteBytes() > dropIfSlowThresholdBytes {
		return nil
	}
	return s.Send(data)
}
