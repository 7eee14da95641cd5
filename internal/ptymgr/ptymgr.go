// Package ptymgr implements the PTY session manager (C8): a process-wide
// registry of sandboxed interactive terminals, owner/admin access control,
// and an idle reaper.
package ptymgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	minCols = 10
	maxCols = 500
	minRows = 5
	maxRows = 200

	reaperInterval = 60 * time.Second
	idleTimeout    = 5 * time.Minute

	defaultShell = "/bin/bash"
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Spawner is the opaque sandboxed PTY spawner the manager delegates to. Its
// concrete implementation (namespace/cgroup wiring, image pulls) is an
// external collaborator outside this package's scope.
type Spawner interface {
	Spawn(opts SpawnOptions) (Process, error)
}

// SpawnOptions describes a requested PTY.
type SpawnOptions struct {
	TenantID string
	Cols     int
	Rows     int
	Shell    string
	Env      map[string]string
}

// Process is a live sandboxed PTY process.
type Process interface {
	Write(data []byte) (int, error)
	Resize(cols, rows int) error
	Close() error
	// OnData and OnExit install the exactly-one sink a session owns; the
	// manager calls each exactly once per process lifetime.
	OnData(func(data []byte))
	OnExit(func(exitCode int))
	// Pid returns the OS process id, valid once the process has started.
	Pid() int
}

// Session is a single tenant-owned PTY, tracked by the manager.
type Session struct {
	TerminalID     string
	TenantID       string
	ConnID         string
	PID            int
	CreatedAt      time.Time
	LastActivityAt time.Time

	proc Process
	mu   sync.Mutex
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivityAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivityAt
}

// OutputSink delivers terminal.output / terminal.exit events to the
// originating connection only.
type OutputSink interface {
	SendOutput(connID, terminalID string, data []byte)
	SendExit(connID, terminalID string, exitCode int)
}

// Manager owns the process-wide terminalId → Session map.
type Manager struct {
	spawner Spawner
	sink    OutputSink

	mu       sync.Mutex
	sessions map[string]*Session

	reaperOnce sync.Once
	stopReaper chan struct{}
}

func New(spawner Spawner, sink OutputSink) *Manager {
	return &Manager{
		spawner:    spawner,
		sink:       sink,
		sessions:   map[string]*Session{},
		stopReaper: make(chan struct{}),
	}
}

// Spawn creates a new PTY session owned by tenantID, attributing output
// events to connID.
func (m *Manager) Spawn(tenantID, connID string, cols, rows int, shell string, env map[string]string) (*Session, error) {
	if tenantID == "" {
		return nil, &ErrUnauthorized{Message: "spawn requires a tenant context"}
	}

	cols = clamp(cols, minCols, maxCols)
	rows = clamp(rows, minRows, maxRows)
	if shell == "" {
		shell = defaultShell
	}

	proc, err := m.spawner.Spawn(SpawnOptions{TenantID: tenantID, Cols: cols, Rows: rows, Shell: shell, Env: env})
	if err != nil {
		return nil, &ErrUnavailable{Message: fmt.Sprintf("spawn failed: %v", err)}
	}

	terminalID := uuid.NewString()
	now := time.Now()
	session := &Session{
		TerminalID:     terminalID,
		TenantID:       tenantID,
		ConnID:         connID,
		PID:            proc.Pid(),
		CreatedAt:      now,
		LastActivityAt: now,
		proc:           proc,
	}

	proc.OnData(func(data []byte) {
		session.touch()
		m.sink.SendOutput(session.ConnID, session.TerminalID, data)
	})
	proc.OnExit(func(exitCode int) {
		m.sink.SendExit(session.ConnID, session.TerminalID, exitCode)
		m.mu.Lock()
		delete(m.sessions, session.TerminalID)
		m.mu.Unlock()
	})

	m.mu.Lock()
	m.sessions[terminalID] = session
	m.mu.Unlock()

	m.ensureReaper()

	return session, nil
}

// canAccess enforces the ownership rule: cross-tenant access is denied
// outright for a tenant-authenticated caller, even with admin scope. Only
// a connection without a tenantId and with admin scope may touch another
// tenant's PTY.
func canAccess(session *Session, callerTenantID string, callerIsAdmin bool) bool {
	if callerTenantID != "" {
		return callerTenantID == session.TenantID
	}
	return callerIsAdmin
}

func (m *Manager) lookup(terminalID, callerTenantID string, callerIsAdmin bool) (*Session, error) {
	m.mu.Lock()
	session, ok := m.sessions[terminalID]
	m.mu.Unlock()
	if !ok {
		return nil, &ErrNotFound{Message: "terminal not found"}
	}
	if !canAccess(session, callerTenantID, callerIsAdmin) {
		return nil, &ErrUnauthorized{Message: "terminal belongs to a different tenant"}
	}
	return session, nil
}

// Write forwards bytes to the session's process and updates its activity
// timestamp.
func (m *Manager) Write(terminalID, callerTenantID string, callerIsAdmin bool, data []byte) error {
	session, err := m.lookup(terminalID, callerTenantID, callerIsAdmin)
	if err != nil {
		return err
	}
	if _, err := session.proc.Write(data); err != nil {
		return &ErrUnavailable{Message: fmt.Sprintf("write failed: %v", err)}
	}
	session.touch()
	return nil
}

// Resize forwards a resize request, clamping cols/rows to bounds.
func (m *Manager) Resize(terminalID, callerTenantID string, callerIsAdmin bool, cols, rows int) error {
	session, err := m.lookup(terminalID, callerTenantID, callerIsAdmin)
	if err != nil {
		return err
	}
	cols = clamp(cols, minCols, maxCols)
	rows = clamp(rows, minRows, maxRows)
	if err := session.proc.Resize(cols, rows); err != nil {
		return &ErrUnavailable{Message: fmt.Sprintf("resize failed: %v", err)}
	}
	session.touch()
	return nil
}

// Close kills the process and removes the record, even if the kill itself
// errors.
func (m *Manager) Close(terminalID, callerTenantID string, callerIsAdmin bool) error {
	session, err := m.lookup(terminalID, callerTenantID, callerIsAdmin)
	if err != nil {
		return err
	}
	_ = session.proc.Close()
	m.mu.Lock()
	delete(m.sessions, terminalID)
	m.mu.Unlock()
	return nil
}

// ListedSession is the subset of session state returned by List.
type ListedSession struct {
	TerminalID     string    `json:"terminalId"`
	TenantID       string    `json:"tenantId"`
	PID            int       `json:"pid"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// List returns every session visible to the caller: all sessions for an
// admin without a tenant id, or only the caller's own tenant's sessions
// otherwise.
func (m *Manager) List(callerTenantID string, callerIsAdmin bool) []ListedSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ListedSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if callerTenantID == "" {
			if !callerIsAdmin {
				continue
			}
		} else if s.TenantID != callerTenantID {
			continue
		}
		out = append(out, ListedSession{
			TerminalID:     s.TerminalID,
			TenantID:       s.TenantID,
			PID:            s.PID,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.lastActivity(),
		})
	}
	return out
}

// CloseAllTenantTerminals terminates every PTY owned by tenantID, returning
// the count closed. Invoked when a tenant is disabled or deleted.
func (m *Manager) CloseAllTenantTerminals(tenantID string) int {
	m.mu.Lock()
	var toClose []*Session
	for id, s := range m.sessions {
		if s.TenantID == tenantID {
			toClose = append(toClose, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range toClose {
		_ = s.proc.Close()
	}
	return len(toClose)
}

func (m *Manager) ensureReaper() {
	m.reaperOnce.Do(func() {
		go m.reapLoop()
	})
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reapIdle()
		case <-m.stopReaper:
			return
		}
	}
}

func (m *Manager) reapIdle() {
	now := time.Now()

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if now.Sub(s.lastActivity()) > idleTimeout {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		_ = s.proc.Close()
	}
}

// StopReaper halts the background reaper goroutine. Intended for tests and
// graceful process shutdown.
func (m *Manager) StopReaper() {
	close(m.stopReaper)
}
