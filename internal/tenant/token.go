package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const secretByteLen = 32

// GenerateSecret returns 32 bytes of cryptographic randomness, URL-safe
// base64 encoded (no padding).
func GenerateSecret() (string, error) {
	buf := make([]byte, secretByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// BuildToken returns the wire-form token "tenant:{tenantId}:{secret}".
func BuildToken(tenantID, secret string) string {
	return fmt.Sprintf("tenant:%s:%s", tenantID, secret)
}

// HashSecret returns the hex-encoded SHA-256 digest of secret. Only this
// digest is ever persisted; the plaintext secret is returned to the caller
// exactly once, at create or rotate time.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ParseToken splits a wire-form token into its tenantId and secret parts.
// It rejects tokens whose tenantId segment fails the id pattern or whose
// secret segment is empty.
func ParseToken(token string) (tenantID, secret string, err error) {
	const prefix = "tenant:"
	if !strings.HasPrefix(token, prefix) {
		return "", "", fmt.Errorf("malformed token: missing %q prefix", prefix)
	}

	rest := token[len(prefix):]
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("malformed token: missing secret segment")
	}

	tenantID = rest[:idx]
	secret = rest[idx+1:]

	if !ValidID(tenantID) {
		return "", "", fmt.Errorf("malformed token: invalid tenant id %q", tenantID)
	}
	if secret == "" {
		return "", "", fmt.Errorf("malformed token: empty secret")
	}

	return tenantID, secret, nil
}

// SecretMatchesHash reports whether secret hashes to storedHash, using a
// constant-time comparison over equal-length byte strings so the check's
// timing does not leak how many leading bytes matched.
func SecretMatchesHash(secret, storedHash string) bool {
	candidate := HashSecret(secret)
	// Both sides are fixed-length hex-encoded SHA-256 digests, so the
	// lengths are always equal; subtle.ConstantTimeCompare still handles a
	// length mismatch safely (returns 0) if storedHash is ever corrupt.
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(storedHash)) == 1
}
