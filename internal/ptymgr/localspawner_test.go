package ptymgr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalSpawnerRoundTrip(t *testing.T) {
	spawner := NewLocalSpawner()

	proc, err := spawner.Spawn(SpawnOptions{Shell: "/bin/sh", Cols: 80, Rows: 24})
	require.NoError(t, err)
	defer proc.Close()

	output := make(chan []byte, 16)
	proc.OnData(func(data []byte) { output <- data })

	_, err = proc.Write([]byte("echo hello-ptymgr\n"))
	require.NoError(t, err)

	var got strings.Builder
	deadline := time.After(5 * time.Second)
	for !strings.Contains(got.String(), "hello-ptymgr") {
		select {
		case chunk := <-output:
			got.Write(chunk)
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got so far: %q", got.String())
		}
	}
}

func TestLocalSpawnerExitReportsCode(t *testing.T) {
	spawner := NewLocalSpawner()

	proc, err := spawner.Spawn(SpawnOptions{Shell: "/bin/sh", Cols: 80, Rows: 24})
	require.NoError(t, err)

	exitCh := make(chan int, 1)
	proc.OnExit(func(code int) { exitCh <- code })

	_, err = proc.Write([]byte("exit 3\n"))
	require.NoError(t, err)

	select {
	case code := <-exitCh:
		require.Equal(t, 3, code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process exit")
	}
}
