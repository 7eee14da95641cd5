// Package tenantconfig manages each tenant's config-overlay file
// (openclaw.json): load, selective-field patch via mergo, and an
// in-memory cache invalidated by internal/configwatch on out-of-band edits.
package tenantconfig

import (
	"encoding/json"
	"os"
	"sync"

	"dario.cat/mergo"
)

// Overlay is the tenant-editable configuration surface: default agent,
// arbitrary per-agent settings, and free-form extension fields.
type Overlay struct {
	DefaultAgentID string         `json:"defaultAgentId,omitempty"`
	Agents         map[string]any `json:"agents,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Store caches each tenant's loaded overlay, keyed by config path, and
// refreshes it from disk on cache miss or explicit invalidation.
type Store struct {
	mu    sync.Mutex
	cache map[string]*Overlay
}

func NewStore() *Store {
	return &Store{cache: map[string]*Overlay{}}
}

// Get returns the cached overlay for path, loading it from disk on first
// access. A missing file yields a zero-value Overlay, not an error.
func (s *Store) Get(path string) (Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[path]; ok {
		return *cached, nil
	}

	overlay, err := loadFromDisk(path)
	if err != nil {
		return Overlay{}, err
	}
	s.cache[path] = &overlay
	return overlay, nil
}

// Invalidate drops path's cached overlay, forcing the next Get to reload
// from disk. Called when configwatch observes an out-of-band edit.
func (s *Store) Invalidate(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, path)
}

// Patch merges patch onto the overlay at path (patch fields override
// existing ones) and persists the result, per dario.cat/mergo.WithOverride.
func (s *Store) Patch(path string, patch Overlay) (Overlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cache[path]
	if !ok {
		loaded, err := loadFromDisk(path)
		if err != nil {
			return Overlay{}, err
		}
		current = &loaded
	}

	if err := mergo.Merge(current, patch, mergo.WithOverride); err != nil {
		return Overlay{}, err
	}

	if err := saveToDisk(path, *current); err != nil {
		return Overlay{}, err
	}

	s.cache[path] = current
	return *current, nil
}

func loadFromDisk(path string) (Overlay, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Overlay{}, nil
	}
	if err != nil {
		return Overlay{}, err
	}

	var overlay Overlay
	if err := json.Unmarshal(data, &overlay); err != nil {
		return Overlay{}, err
	}
	return overlay, nil
}

func saveToDisk(path string, overlay Overlay) error {
	data, err := json.MarshalIndent(overlay, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
