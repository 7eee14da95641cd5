package memorystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLoadSession(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	defer store.CloseAll()

	require.NoError(t, store.AppendEntry("acme", "main", "tenant:acme:agent:main:s1", "user", "hello"))
	require.NoError(t, store.AppendEntry("acme", "main", "tenant:acme:agent:main:s1", "assistant", "hi there"))

	entries, err := store.LoadSession("acme", "main", "tenant:acme:agent:main:s1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestLoadSessionIsolatedByAgent(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	defer store.CloseAll()

	require.NoError(t, store.AppendEntry("acme", "agent-a", "key1", "user", "a"))
	require.NoError(t, store.AppendEntry("acme", "agent-b", "key1", "user", "b"))

	entriesA, err := store.LoadSession("acme", "agent-a", "key1")
	require.NoError(t, err)
	require.Len(t, entriesA, 1)
	assert.Equal(t, "a", entriesA[0].Content)
}
