package tenantconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetMissingFileReturnsZeroValue(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "openclaw.json")

	overlay, err := s.Get(path)
	require.NoError(t, err)
	require.Equal(t, Overlay{}, overlay)
}

func TestPatchMergesAndPersists(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "openclaw.json")

	_, err := s.Patch(path, Overlay{DefaultAgentID: "main"})
	require.NoError(t, err)

	overlay, err := s.Patch(path, Overlay{Agents: map[string]any{"researcher": map[string]any{"model": "x"}}})
	require.NoError(t, err)
	require.Equal(t, "main", overlay.DefaultAgentID)
	require.Contains(t, overlay.Agents, "researcher")

	s2 := NewStore()
	reloaded, err := s2.Get(path)
	require.NoError(t, err)
	require.Equal(t, "main", reloaded.DefaultAgentID)
}

func TestInvalidateForcesReload(t *testing.T) {
	s := NewStore()
	path := filepath.Join(t.TempDir(), "openclaw.json")

	_, err := s.Patch(path, Overlay{DefaultAgentID: "main"})
	require.NoError(t, err)

	s.Invalidate(path)
	overlay, err := s.Get(path)
	require.NoError(t, err)
	require.Equal(t, "main", overlay.DefaultAgentID)
}
