package scheduler

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, payload any, dropIfSlow bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func TestEnsureTenantIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	b := &recordingBroadcaster{}
	s := New(dir, func(string, Job, string) error { return nil }, b, false)

	c1 := s.EnsureTenant("acme")
	c2 := s.EnsureTenant("acme")
	assert.Same(t, c1, c2)
}

func TestRunJobBroadcastsStartAndFinishAndWritesRunLog(t *testing.T) {
	dir := t.TempDir()
	b := &recordingBroadcaster{}

	var ran bool
	s := New(dir, func(tenantID string, job Job, sessionKey string) error {
		ran = true
		assert.Equal(t, "tenant:acme:cron:job1", sessionKey)
		return nil
	}, b, false)

	s.runJob("acme", Job{ID: "job1", Schedule: "@every 1h"})

	assert.True(t, ran)
	assert.Equal(t, 2, b.count())

	entry := "acme"
	_ = entry
	logPath := filepath.Join(dir, "tenants", "acme", "cron", "runlog", "job1.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status=completed")
}

func TestRunJobRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	b := &recordingBroadcaster{}

	s := New(dir, func(string, Job, string) error {
		return assertError("boom")
	}, b, false)

	s.runJob("acme", Job{ID: "job1", Schedule: "@every 1h"})

	logPath := filepath.Join(dir, "tenants", "acme", "cron", "runlog", "job1.log")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "status=failed")
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestRemoveDropsTenantScheduler(t *testing.T) {
	dir := t.TempDir()
	b := &recordingBroadcaster{}
	s := New(dir, func(string, Job, string) error { return nil }, b, true)

	s.EnsureTenant("acme")
	assert.NotNil(t, s.GetTenant("acme"))

	s.Remove("acme")
	assert.Nil(t, s.GetTenant("acme"))
}

func TestScheduleJobRegistersEntry(t *testing.T) {
	dir := t.TempDir()
	b := &recordingBroadcaster{}
	s := New(dir, func(string, Job, string) error { return nil }, b, true)

	_, err := s.ScheduleJob("acme", Job{ID: "job1", Schedule: "@every 1s"})
	require.NoError(t, err)

	s.mu.Lock()
	_, registered := s.tenants["acme"].entries["job1"]
	s.mu.Unlock()
	assert.True(t, registered)

	time.Sleep(10 * time.Millisecond)
	s.Remove("acme")
}
