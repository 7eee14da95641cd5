package configwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	changed := make(chan string, 1)
	w := New(func(tenantID string) {
		select {
		case changed <- tenantID:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, w.Add("acme", path))

	require.NoError(t, os.WriteFile(path, []byte(`{"x":1}`), 0o600))

	select {
	case tenantID := <-changed:
		require.Equal(t, "acme", tenantID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change signal")
	}
}

func TestWatcherRemoveStopsSignaling(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "openclaw.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	changed := make(chan string, 4)
	w := New(func(tenantID string) { changed <- tenantID })
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, w.Add("acme", path))
	w.Remove("acme", path)

	require.NoError(t, os.WriteFile(path, []byte(`{"x":2}`), 0o600))

	select {
	case <-changed:
		t.Fatal("did not expect a change signal after Remove")
	case <-time.After(800 * time.Millisecond):
	}
}
