// Package sessionkey implements the pure algebra for building, parsing, and
// scoping session keys into a tenant-prefixed namespace. No I/O.
package sessionkey

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	defaultAgentID = "main"
	maxAgentIDLen  = 64
)

var idCharPattern = regexp.MustCompile(`[^a-z0-9_-]`)

// BuildTenantSessionKey returns the canonical tenant-scoped session key
// "tenant:{tenantId}:agent:{agentId}:{rest}". tenantID is lowercased;
// agentID is normalized: invalid characters collapse to '-', the result is
// clipped to 64 characters, and an empty result falls back to "main".
// mainKey defaults to "main" when empty.
func BuildTenantSessionKey(tenantID, agentID, mainKey string) string {
	tenantID = strings.ToLower(tenantID)
	agentID = normalizeAgentID(agentID)
	if mainKey == "" {
		mainKey = defaultAgentID
	}
	return fmt.Sprintf("tenant:%s:agent:%s:%s", tenantID, agentID, mainKey)
}

func normalizeAgentID(agentID string) string {
	agentID = strings.ToLower(strings.TrimSpace(agentID))
	if agentID == "" {
		return defaultAgentID
	}

	agentID = idCharPattern.ReplaceAllString(agentID, "-")
	if len(agentID) > maxAgentIDLen {
		agentID = agentID[:maxAgentIDLen]
	}
	agentID = strings.Trim(agentID, "-")
	if agentID == "" {
		return defaultAgentID
	}
	return agentID
}

// Parsed is the decomposition of a tenant-scoped session key.
type Parsed struct {
	TenantID string
	AgentID  string
	Rest     string
}

// ParseTenantSessionKey decomposes a key of the form
// "tenant:{tenantId}:agent:{agentId}:{rest}". It reports ok=false if the key
// does not start with "tenant:" or lacks the interior "agent:{id}:" segment.
func ParseTenantSessionKey(key string) (Parsed, bool) {
	const tenantPrefix = "tenant:"
	if !strings.HasPrefix(key, tenantPrefix) {
		return Parsed{}, false
	}

	rest := key[len(tenantPrefix):]
	tenantID, rest, ok := cutFirstSegment(rest)
	if !ok || tenantID == "" {
		return Parsed{}, false
	}

	const agentMarker = "agent:"
	if !strings.HasPrefix(rest, agentMarker) {
		return Parsed{}, false
	}
	rest = rest[len(agentMarker):]

	agentID, rest, ok := cutFirstSegment(rest)
	if !ok || agentID == "" {
		return Parsed{}, false
	}

	return Parsed{TenantID: tenantID, AgentID: agentID, Rest: rest}, true
}

// cutFirstSegment splits s on the first ':' and returns the piece before it,
// the remainder after it, and whether a ':' was found at all.
func cutFirstSegment(s string) (head, tail string, ok bool) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// TenantPrefix returns the "tenant:{id}:" prefix a session key would have if
// owned by tenantID.
func TenantPrefix(tenantID string) string {
	return "tenant:" + tenantID + ":"
}

// ScopeSessionKeyToTenant enforces the tenant-namespacing invariant:
//   - no tenantID: sessionKey is returned unchanged.
//   - sessionKey already prefixed "tenant:X:" with X == tenantID: unchanged.
//   - sessionKey already prefixed "tenant:X:" with X != tenantID: error.
//   - otherwise: prefixed with "tenant:{tenantID}:".
func ScopeSessionKeyToTenant(sessionKey, tenantID string) (string, error) {
	if tenantID == "" {
		return sessionKey, nil
	}

	if strings.HasPrefix(sessionKey, "tenant:") {
		parsed, ok := ParseTenantSessionKey(sessionKey)
		if !ok {
			// Malformed "tenant:" prefixed key without a parseable agent
			// segment; still check the owning tenant segment so we never
			// silently adopt a foreign key.
			rest := sessionKey[len("tenant:"):]
			owner, _, _ := cutFirstSegment(rest)
			if owner != tenantID {
				return "", fmt.Errorf("session key tenant prefix %q does not match authenticated tenant %q", owner, tenantID)
			}
			return sessionKey, nil
		}
		if parsed.TenantID != tenantID {
			return "", fmt.Errorf("session key tenant prefix %q does not match authenticated tenant %q", parsed.TenantID, tenantID)
		}
		return sessionKey, nil
	}

	return TenantPrefix(tenantID) + sessionKey, nil
}
