// Package memorystore provisions each tenant agent's isolated SQLite memory
// database, one file per agent under the tenant's memory/ subdirectory.
package memorystore

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
	"github.com/cagent-gateway/tenantgw/pkg/sqliteutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_session_key ON memory_entries(session_key);
`

// Store owns the open *sql.DB handles for every tenant/agent memory file
// accessed so far, one connection pool per file.
type Store struct {
	stateDir string

	mu   sync.Mutex
	dbs  map[string]*sql.DB
}

func New(stateDir string) *Store {
	return &Store{stateDir: stateDir, dbs: map[string]*sql.DB{}}
}

func (s *Store) dbKey(tenantID, agentID string) string {
	return tenantID + "/" + agentID
}

// Open returns the *sql.DB for tenantID's agentID memory file, opening and
// migrating it on first access.
func (s *Store) Open(tenantID, agentID string) (*sql.DB, error) {
	key := s.dbKey(tenantID, agentID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[key]; ok {
		return db, nil
	}

	path := tenant.NewLayout(s.stateDir, tenantID).AgentMemoryDB(agentID)
	db, err := sqliteutil.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("opening memory db for tenant %q agent %q: %w", tenantID, agentID, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating memory db for tenant %q agent %q: %w", tenantID, agentID, err)
	}

	s.dbs[key] = db
	return db, nil
}

// AppendEntry records one memory entry for sessionKey.
func (s *Store) AppendEntry(tenantID, agentID, sessionKey, role, content string) error {
	db, err := s.Open(tenantID, agentID)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO memory_entries (session_key, role, content) VALUES (?, ?, ?)`, sessionKey, role, content)
	return err
}

// Entry is a single persisted memory row.
type Entry struct {
	Role      string
	Content   string
	CreatedAt string
}

// LoadSession returns every entry recorded for sessionKey, oldest first.
func (s *Store) LoadSession(tenantID, agentID, sessionKey string) ([]Entry, error) {
	db, err := s.Open(tenantID, agentID)
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT role, content, created_at FROM memory_entries WHERE session_key = ? ORDER BY id ASC`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CloseAll closes every open database handle. Intended for graceful
// process shutdown.
func (s *Store) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, db := range s.dbs {
		db.Close()
	}
	s.dbs = map[string]*sql.DB{}
}
