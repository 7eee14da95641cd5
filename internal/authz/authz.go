// Package authz implements the method authorizer (C4): a pure,
// side-effect-free gate that decides whether a connection may invoke a
// given RPC method.
package authz

import (
	"fmt"
	"strings"
)

// Scope is a capability granted to a connection at handshake time.
type Scope string

const (
	ScopeAdmin        Scope = "admin"
	ScopeOperatorRead  Scope = "operator.read"
	ScopeOperatorWrite Scope = "operator.write"
	ScopeApprovals     Scope = "approvals"
	ScopePairing       Scope = "pairing"
)

// Role is the connection's handshake-negotiated role. The zero value Role("")
// is deliberately not "operator" — per the resolved open question, an admin
// connection without an explicit role fails closed rather than being
// silently treated as an operator.
type Role string

const (
	RoleOperator Role = "operator"
	RoleNode     Role = "node"
)

// Connection is the subset of connection state the authorizer consults.
// It never touches I/O; all fields are supplied by the caller.
type Connection struct {
	Role     Role
	TenantID string
	Scopes   map[Scope]bool
}

func (c Connection) hasScope(s Scope) bool {
	return c.Scopes[s]
}

// Error is a structured authorization failure, carrying the RPC error code
// the dispatcher should respond with.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func deny(code, message string) error {
	return &Error{Code: code, Message: message}
}

// nodeCallableMethods is the fixed set of methods a "node" role connection
// may invoke; everything else is rejected for node connections outright.
var nodeCallableMethods = map[string]bool{
	"health":            true,
	"node.pair":         true,
	"node.heartbeat":    true,
	"node.status":       true,
	"node.events.ack":   true,
}

// adminOnlyPrefixes always require admin scope, regardless of any other
// scope the connection carries.
var adminOnlyPrefixes = []string{
	"tenants.",
	"wizard.",
	"system.",
	"gateway.",
}

// approvalsMethods require the approvals scope specifically.
var approvalsMethods = map[string]bool{
	"approvals.list":    true,
	"approvals.approve": true,
	"approvals.deny":    true,
}

// pairingMethods require the pairing scope specifically.
var pairingMethods = map[string]bool{
	"device.pair":   true,
	"device.unpair": true,
	"node.pair":     true,
}

// writeMethodSuffixes marks a method as a write (vs. read) operation by
// its trailing verb. Anything not matched here is treated as a read.
var writeMethodSuffixes = []string{
	".create", ".update", ".remove", ".delete", ".rotate", ".patch",
	".write", ".start", ".stop", ".restore", ".run", ".logout",
}

func isWriteMethod(method string) bool {
	for _, suffix := range writeMethodSuffixes {
		if strings.HasSuffix(method, suffix) {
			return true
		}
	}
	return false
}

// Authorize decides whether conn may invoke method, in the exact order
// specified: node gating, operator-role gating, tenant allow-list gating,
// admin override, scope-specific method sets, read/write scope checks, and
// finally the admin-only prefix list.
func Authorize(method string, conn Connection) error {
	if conn.Role == RoleNode {
		if nodeCallableMethods[method] {
			return nil
		}
		return deny("UNAUTHORIZED", fmt.Sprintf("method %q is not callable by a node connection", method))
	}

	if conn.Role != RoleOperator {
		return deny("UNAUTHORIZED", "connection has no operator role")
	}

	if conn.TenantID != "" && !TenantAllowList[method] {
		return deny("INVALID_REQUEST", "method not available for tenant token")
	}

	if conn.hasScope(ScopeAdmin) {
		return nil
	}

	if approvalsMethods[method] && !conn.hasScope(ScopeApprovals) {
		return deny("UNAUTHORIZED", fmt.Sprintf("method %q requires the approvals scope", method))
	}
	if pairingMethods[method] && !conn.hasScope(ScopePairing) {
		return deny("UNAUTHORIZED", fmt.Sprintf("method %q requires the pairing scope", method))
	}

	if isWriteMethod(method) {
		if !conn.hasScope(ScopeOperatorWrite) {
			return deny("UNAUTHORIZED", fmt.Sprintf("method %q requires write scope", method))
		}
	} else {
		if !conn.hasScope(ScopeOperatorRead) && !conn.hasScope(ScopeOperatorWrite) {
			return deny("UNAUTHORIZED", fmt.Sprintf("method %q requires read or write scope", method))
		}
	}

	for _, prefix := range adminOnlyPrefixes {
		if strings.HasPrefix(method, prefix) {
			return deny("UNAUTHORIZED", fmt.Sprintf("method %q requires admin scope", method))
		}
	}

	return nil
}
