package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

var (
	// ErrInvalidID is returned when a tenantId fails the id pattern.
	ErrInvalidID = errors.New("tenant: invalid tenant id")
	// ErrExists is returned by Create when the tenantId is already registered.
	ErrExists = errors.New("tenant: already exists")
	// ErrNotFound is returned when an operation targets an unknown tenantId.
	ErrNotFound = errors.New("tenant: not found")
	// ErrDisabled is returned by token validation when the tenant is disabled.
	ErrDisabled = errors.New("tenant: disabled")
	// ErrInvalidToken is returned by token validation for any malformed or
	// non-matching token, deliberately without distinguishing "unknown
	// tenant" from "wrong secret" to avoid leaking tenant existence.
	ErrInvalidToken = errors.New("tenant: invalid token")
)

// Registry owns tenants.json: a single JSON document, persisted with
// owner-only file permissions, guarded by a single in-process writer lock
// per spec §5 ("serialize writes via a single-writer lock; readers
// load-and-close").
type Registry struct {
	path     string
	stateDir string

	mu sync.Mutex
}

// NewRegistry opens (or prepares to bootstrap) the tenant registry rooted at
// stateDir. The registry file lives at <stateDir>/tenants.json.
func NewRegistry(stateDir string) (*Registry, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &Registry{
		path:     filepath.Join(stateDir, "tenants.json"),
		stateDir: stateDir,
	}, nil
}

// load reads the registry document. A missing or corrupt file is treated
// as an empty registry, to bootstrap first-run installs.
func (r *Registry) load() (document, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return document{Version: documentVersion, Tenants: map[string]Entry{}}, nil
		}
		return document{}, fmt.Errorf("reading tenant registry: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("tenant registry file is corrupt, treating as empty", "path", r.path, "error", err)
		return document{Version: documentVersion, Tenants: map[string]Entry{}}, nil
	}
	if doc.Tenants == nil {
		doc.Tenants = map[string]Entry{}
	}
	return doc, nil
}

// save writes the registry document atomically with owner-only permissions.
func (r *Registry) save(doc document) error {
	doc.Version = documentVersion

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling tenant registry: %w", err)
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing tenant registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("committing tenant registry: %w", err)
	}
	return nil
}

// Create registers a new tenant, generates its secret, and initializes its
// state directory tree. The returned token is the only time the plaintext
// secret is available.
func (r *Registry) Create(tenantID string, opts CreateOpts) (token string, err error) {
	if !ValidID(tenantID) {
		return "", ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return "", err
	}

	if _, exists := doc.Tenants[tenantID]; exists {
		return "", ErrExists
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}

	doc.Tenants[tenantID] = Entry{
		TenantID:    tenantID,
		TokenHash:   HashSecret(secret),
		DisplayName: opts.DisplayName,
		CreatedAt:   time.Now().UTC(),
	}

	if err := r.bootstrapStateDir(tenantID); err != nil {
		return "", fmt.Errorf("initializing tenant state directory: %w", err)
	}

	if err := r.save(doc); err != nil {
		return "", err
	}

	slog.Info("tenant created", "tenantId", tenantID)
	return BuildToken(tenantID, secret), nil
}

func (r *Registry) bootstrapStateDir(tenantID string) error {
	layout := NewLayout(r.stateDir, tenantID)
	if err := os.MkdirAll(layout.Root, 0o700); err != nil {
		return err
	}
	for _, dir := range layout.bootstrapDirs() {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a tenant's registry entry and, if deleteData is set,
// recursively deletes its state subtree.
func (r *Registry) Remove(tenantID string, opts RemoveOpts) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	if _, exists := doc.Tenants[tenantID]; !exists {
		return ErrNotFound
	}

	delete(doc.Tenants, tenantID)

	if opts.DeleteData {
		layout := NewLayout(r.stateDir, tenantID)
		if err := os.RemoveAll(layout.Root); err != nil {
			return fmt.Errorf("deleting tenant state directory: %w", err)
		}
	}

	if err := r.save(doc); err != nil {
		return err
	}

	slog.Info("tenant removed", "tenantId", tenantID, "deletedData", opts.DeleteData)
	return nil
}

// Rotate replaces a tenant's secret and returns the new plaintext token.
func (r *Registry) Rotate(tenantID string) (token string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return "", err
	}

	entry, exists := doc.Tenants[tenantID]
	if !exists {
		return "", ErrNotFound
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}

	entry.TokenHash = HashSecret(secret)
	doc.Tenants[tenantID] = entry

	if err := r.save(doc); err != nil {
		return "", err
	}

	slog.Info("tenant token rotated", "tenantId", tenantID)
	return BuildToken(tenantID, secret), nil
}

// Update selectively writes fields of a tenant's entry.
func (r *Registry) Update(tenantID string, opts UpdateOpts) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return err
	}

	entry, exists := doc.Tenants[tenantID]
	if !exists {
		return ErrNotFound
	}

	if opts.DisplayName != nil {
		entry.DisplayName = *opts.DisplayName
	}
	if opts.Disabled != nil {
		entry.Disabled = *opts.Disabled
	}
	if opts.Quotas != nil {
		entry.Quotas = opts.Quotas
	}

	doc.Tenants[tenantID] = entry
	return r.save(doc)
}

// Get returns a tenant's entry, or ok=false if unknown.
func (r *Registry) Get(tenantID string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return Entry{}, false, err
	}

	entry, exists := doc.Tenants[tenantID]
	return entry, exists, nil
}

// List returns all tenant IDs, sorted for stable output.
func (r *Registry) List() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(doc.Tenants))
	for id := range doc.Tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ValidateToken parses and validates a wire-form token, returning a
// Context on success. Missing or disabled tenants, and secrets that don't
// match the stored hash, all fail identically via ErrInvalidToken /
// ErrDisabled so as not to leak which part of the token was wrong.
func (r *Registry) ValidateToken(tokenString string) (Context, error) {
	tenantID, secret, err := ParseToken(tokenString)
	if err != nil {
		return Context{}, ErrInvalidToken
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.load()
	if err != nil {
		return Context{}, err
	}

	entry, exists := doc.Tenants[tenantID]
	if !exists {
		return Context{}, ErrInvalidToken
	}
	if entry.Disabled {
		return Context{}, ErrDisabled
	}
	if !SecretMatchesHash(secret, entry.TokenHash) {
		return Context{}, ErrInvalidToken
	}

	entry.LastSeenAt = time.Now().UTC()
	doc.Tenants[tenantID] = entry
	if err := r.save(doc); err != nil {
		// Last-seen bookkeeping failure shouldn't fail authentication.
		slog.Warn("failed to persist tenant last-seen timestamp", "tenantId", tenantID, "error", err)
	}

	return Context{
		TenantID: tenantID,
		StateDir: NewLayout(r.stateDir, tenantID).Root,
	}, nil
}

// StateDir returns the root state directory the registry was opened with.
func (r *Registry) StateDir() string { return r.stateDir }
