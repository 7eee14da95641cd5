package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	return reg
}

func TestRegistryCreateAndValidateToken(t *testing.T) {
	reg := newTestRegistry(t)

	token, err := reg.Create("acme", CreateOpts{DisplayName: "Acme Corp"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	ctx, err := reg.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acme", ctx.TenantID)
	assert.DirExists(t, ctx.StateDir)
	assert.DirExists(t, filepath.Join(ctx.StateDir, "workspace"))
	assert.DirExists(t, filepath.Join(ctx.StateDir, "agents"))
}

func TestRegistryCreateRejectsDuplicate(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("acme", CreateOpts{})
	require.NoError(t, err)

	_, err = reg.Create("acme", CreateOpts{})
	assert.ErrorIs(t, err, ErrExists)
}

func TestRegistryCreateRejectsInvalidID(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("Not_Valid!", CreateOpts{})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestRegistryValidateTokenRejectsWrongSecret(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("acme", CreateOpts{})
	require.NoError(t, err)

	_, err = reg.ValidateToken("tenant:acme:not-the-real-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegistryValidateTokenRejectsUnknownTenant(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.ValidateToken("tenant:ghost:whatever-secret-value")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRegistryValidateTokenRejectsDisabled(t *testing.T) {
	reg := newTestRegistry(t)

	token, err := reg.Create("acme", CreateOpts{})
	require.NoError(t, err)

	disabled := true
	require.NoError(t, reg.Update("acme", UpdateOpts{Disabled: &disabled}))

	_, err = reg.ValidateToken(token)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRegistryRotateInvalidatesOldToken(t *testing.T) {
	reg := newTestRegistry(t)

	oldToken, err := reg.Create("acme", CreateOpts{})
	require.NoError(t, err)

	newToken, err := reg.Rotate("acme")
	require.NoError(t, err)
	assert.NotEqual(t, oldToken, newToken)

	_, err = reg.ValidateToken(oldToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	ctx, err := reg.ValidateToken(newToken)
	require.NoError(t, err)
	assert.Equal(t, "acme", ctx.TenantID)
}

func TestRegistryRemoveDeletesDataWhenRequested(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("acme", CreateOpts{})
	require.NoError(t, err)

	entry, ok, err := reg.Get("acme")
	require.NoError(t, err)
	require.True(t, ok)
	_ = entry

	layout := NewLayout(reg.StateDir(), "acme")
	require.DirExists(t, layout.Root)

	require.NoError(t, reg.Remove("acme", RemoveOpts{DeleteData: true}))

	_, ok, err = reg.Get("acme")
	require.NoError(t, err)
	assert.False(t, ok)

	_, statErr := os.Stat(layout.Root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegistryRemoveUnknownTenant(t *testing.T) {
	reg := newTestRegistry(t)
	err := reg.Remove("ghost", RemoveOpts{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryListIsSorted(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Create("zebra", CreateOpts{})
	require.NoError(t, err)
	_, err = reg.Create("acme", CreateOpts{})
	require.NoError(t, err)
	_, err = reg.Create("mid", CreateOpts{})
	require.NoError(t, err)

	ids, err := reg.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "mid", "zebra"}, ids)
}

func TestRegistryCorruptFileBootstrapsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tenants.json"), []byte("not json"), 0o600))

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	ids, err := reg.List()
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = reg.Create("acme", CreateOpts{})
	require.NoError(t, err)
}
