package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueAndValidateRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))

	token, err := issuer.Issue("acme", KindNode, time.Minute)
	require.NoError(t, err)

	claims, err := issuer.Validate(token, KindNode)
	require.NoError(t, err)
	require.Equal(t, "acme", claims.TenantID)
}

func TestValidateRejectsWrongKind(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))

	token, err := issuer.Issue("acme", KindDevice, time.Minute)
	require.NoError(t, err)

	_, err = issuer.Validate(token, KindNode)
	require.ErrorIs(t, err, ErrWrongKind)
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))

	token, err := issuer.Issue("acme", KindNode, -time.Minute)
	require.NoError(t, err)

	_, err = issuer.Validate(token, KindNode)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret"))
	other := NewIssuer([]byte("other-secret"))

	token, err := issuer.Issue("acme", KindNode, time.Minute)
	require.NoError(t, err)

	_, err = other.Validate(token, KindNode)
	require.Error(t, err)
}
