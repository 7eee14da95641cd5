// Package pairing implements short-lived signed tokens for device and node
// pairing (device.pair, node.pair), distinct from a tenant's own
// tenant:{id}:{secret} bearer token. Tokens are HMAC-signed JWTs with a
// fixed, short lifetime.
package pairing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long a pairing token remains valid after issuance.
const DefaultTTL = 10 * time.Minute

// Kind distinguishes a device pairing token from a node pairing token; the
// claim prevents a token minted for one purpose being replayed as the
// other.
type Kind string

const (
	KindDevice Kind = "device"
	KindNode   Kind = "node"
)

var (
	ErrExpired   = errors.New("pairing: token expired")
	ErrWrongKind = errors.New("pairing: token kind mismatch")
)

// Claims is the JWT payload for a pairing token.
type Claims struct {
	TenantID string `json:"tenantId"`
	Kind     Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer mints and validates pairing tokens using a single HMAC secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue mints a signed token scoping a pairing attempt to tenantID and kind,
// valid for ttl (DefaultTTL if zero).
func (i *Issuer) Issue(tenantID string, kind Kind, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate parses and verifies a pairing token, checking signature,
// expiry, and that it was minted for wantKind.
func (i *Issuer) Validate(tokenString string, wantKind Kind) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, err
	}
	if !token.Valid {
		return Claims{}, errors.New("pairing: invalid token")
	}
	if claims.Kind != wantKind {
		return Claims{}, ErrWrongKind
	}
	return claims, nil
}
