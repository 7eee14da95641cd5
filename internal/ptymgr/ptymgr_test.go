package ptymgr

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcess struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
	closeErr error
	onData  func([]byte)
	onExit  func(int)
	cols    int
	rows    int
	pid     int
}

func (p *fakeProcess) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, data)
	return len(data), nil
}

func (p *fakeProcess) Resize(cols, rows int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.closeErr
}

func (p *fakeProcess) OnData(fn func([]byte)) { p.onData = fn }
func (p *fakeProcess) OnExit(fn func(int))    { p.onExit = fn }
func (p *fakeProcess) Pid() int               { return p.pid }

type fakeSpawner struct {
	proc *fakeProcess
	err  error
	opts SpawnOptions
}

func (s *fakeSpawner) Spawn(opts SpawnOptions) (Process, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.proc, nil
}

type recordingSink struct {
	mu      sync.Mutex
	outputs []string
	exits   []string
}

func (s *recordingSink) SendOutput(connID, terminalID string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, connID+":"+terminalID)
}

func (s *recordingSink) SendExit(connID, terminalID string, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, connID+":"+terminalID)
}

func newTestManager() (*Manager, *fakeProcess, *recordingSink) {
	proc := &fakeProcess{}
	sink := &recordingSink{}
	mgr := New(&fakeSpawner{proc: proc}, sink)
	return mgr, proc, sink
}

func TestSpawnRequiresTenant(t *testing.T) {
	mgr, _, _ := newTestManager()
	defer mgr.StopReaper()

	_, err := mgr.Spawn("", "conn1", 80, 24, "", nil)
	require.Error(t, err)
	_, ok := err.(*ErrUnauthorized)
	assert.True(t, ok)
}

func TestSpawnClampsDimensions(t *testing.T) {
	spawner := &fakeSpawner{proc: &fakeProcess{}}
	mgr := New(spawner, &recordingSink{})
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 5000, 1, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", session.TenantID)
	assert.Equal(t, maxCols, spawner.opts.Cols)
	assert.Equal(t, minRows, spawner.opts.Rows)
}

func TestSpawnOnDataRoutesToOriginatingConn(t *testing.T) {
	mgr, proc, sink := newTestManager()
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	proc.onData([]byte("hello"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.outputs, 1)
	assert.Equal(t, "conn1:"+session.TerminalID, sink.outputs[0])
}

func TestWriteRejectsCrossTenant(t *testing.T) {
	mgr, _, _ := newTestManager()
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	err = mgr.Write(session.TerminalID, "other-tenant", false, []byte("x"))
	require.Error(t, err)
	_, ok := err.(*ErrUnauthorized)
	assert.True(t, ok)
}

func TestWriteAllowsAdminWithoutTenant(t *testing.T) {
	mgr, proc, _ := newTestManager()
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	err = mgr.Write(session.TerminalID, "", true, []byte("x"))
	require.NoError(t, err)
	assert.Len(t, proc.written, 1)
}

func TestWriteRejectsAdminWithTenantContextAcrossTenants(t *testing.T) {
	mgr, _, _ := newTestManager()
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	// A tenant-authenticated caller, even with admin scope, cannot cross tenants.
	err = mgr.Write(session.TerminalID, "other-tenant", true, []byte("x"))
	require.Error(t, err)
}

func TestCloseRemovesRecordEvenIfProcCloseErrors(t *testing.T) {
	mgr, proc, _ := newTestManager()
	defer mgr.StopReaper()

	session, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)
	proc.closeErr = errors.New("kill failed")

	require.NoError(t, mgr.Close(session.TerminalID, "acme", false))
	assert.True(t, proc.closed)

	err = mgr.Write(session.TerminalID, "acme", false, []byte("x"))
	require.Error(t, err)
	_, ok := err.(*ErrNotFound)
	assert.True(t, ok)
}

func TestListScopesToCallerTenant(t *testing.T) {
	mgr, _, _ := newTestManager()
	defer mgr.StopReaper()

	_, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	mgr2, _, _ := newTestManager()
	defer mgr2.StopReaper()

	listed := mgr.List("acme", false)
	assert.Len(t, listed, 1)

	listed = mgr.List("other-tenant", false)
	assert.Len(t, listed, 0)

	listed = mgr.List("", true)
	assert.Len(t, listed, 1)
}

func TestCloseAllTenantTerminals(t *testing.T) {
	mgr, _, _ := newTestManager()
	defer mgr.StopReaper()

	_, err := mgr.Spawn("acme", "conn1", 80, 24, "", nil)
	require.NoError(t, err)

	count := mgr.CloseAllTenantTerminals("acme")
	assert.Equal(t, 1, count)
	assert.Len(t, mgr.List("acme", false), 0)
}
