// Package backup implements the backup orchestrator (C10): archiving a
// tenant's state directory to a gzipped tar, uploading it to object
// storage, and restoring it under a strict extraction security filter.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cagent-gateway/tenantgw/internal/objectstore"
	"github.com/cagent-gateway/tenantgw/internal/pathsafe"
	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

const archiveVersion = "1"

// ErrBackupNotOwned is returned by DeleteBackup when key does not belong
// to the tenant requesting its deletion.
var ErrBackupNotOwned = errors.New("backup does not belong to tenant")

// ObjectStore is the subset of objectstore.Store the orchestrator needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]objectstore.Object, error)
}

// Orchestrator ties a tenant's on-disk state directory to an object store.
type Orchestrator struct {
	stateDir string
	store    ObjectStore
	prefix   string
}

func New(stateDir string, store ObjectStore, prefix string) *Orchestrator {
	return &Orchestrator{stateDir: stateDir, store: store, prefix: prefix}
}

func (o *Orchestrator) keyFor(tenantID string, ts time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.tar.gz", o.prefix, tenantID, tenantID, ts.UTC().Format("20060102T150405.000000000Z"))
}

// Backup streams a gzipped tar of tenantID's state directory and uploads
// it with {tenantId, timestamp, version} metadata.
func (o *Orchestrator) Backup(ctx context.Context, tenantID string) (key string, err error) {
	root := tenant.NewLayout(o.stateDir, tenantID).Root
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("tenant state directory missing: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("tenant state path is not a directory: %s", root)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		// Portable headers: zero out owner/group/mtime-dependent fields.
		header.Uid, header.Gid = 0, 0
		header.Uname, header.Gname = "", ""
		header.ModTime = time.Time{}

		if fi.IsDir() {
			header.Name += "/"
			return tw.WriteHeader(header)
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tw, f)
		return err
	}); err != nil {
		return "", fmt.Errorf("archiving tenant state directory: %w", err)
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("closing gzip writer: %w", err)
	}

	now := time.Now()
	key = o.keyFor(tenantID, now)

	metadata := map[string]string{
		"tenantId":  tenantID,
		"timestamp": now.UTC().Format(time.RFC3339),
		"version":   archiveVersion,
	}

	if err := o.store.Put(ctx, key, buf.Bytes(), metadata); err != nil {
		return "", err
	}

	return key, nil
}

// Restore fetches the archive at key, clears the tenant's state directory,
// and extracts it under the strict security filter described by the
// extraction invariants: no absolute paths, no escaping links, no
// honoring stored mtimes/modes.
func (o *Orchestrator) Restore(ctx context.Context, tenantID, key string) error {
	data, err := o.store.Get(ctx, key)
	if err != nil {
		return err
	}

	root := tenant.NewLayout(o.stateDir, tenantID).Root
	if err := clearDirectory(root); err != nil {
		return fmt.Errorf("clearing tenant state directory: %w", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("opening archive gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		isLink := header.Typeflag == tar.TypeSymlink || header.Typeflag == tar.TypeLink
		resolved, err := pathsafe.ValidateArchiveEntry(root, header.Name, header.Linkname, isLink)
		if err != nil {
			return fmt.Errorf("rejecting unsafe archive entry: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(resolved, 0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(resolved), 0o700); err != nil {
				return err
			}
			f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink, tar.TypeLink:
			// Already validated above; links are otherwise skipped rather
			// than materialized, since the sandboxed state tree never
			// needs them and they are the highest-risk entry type.
			continue
		default:
			continue
		}
	}

	return nil
}

func clearDirectory(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(root, 0o700)
		}
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// ListBackups returns every archived snapshot for tenantID, newest-first.
func (o *Orchestrator) ListBackups(ctx context.Context, tenantID string) ([]objectstore.Object, error) {
	prefix := fmt.Sprintf("%s/%s/", o.prefix, tenantID)
	objects, err := o.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].LastModified > objects[j].LastModified })
	return objects, nil
}

// Prune deletes every snapshot beyond the newest keepCount.
func (o *Orchestrator) Prune(ctx context.Context, tenantID string, keepCount int) (int, error) {
	objects, err := o.ListBackups(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].LastModified > objects[j].LastModified })

	if len(objects) <= keepCount {
		return 0, nil
	}

	toDelete := objects[keepCount:]
	for _, obj := range toDelete {
		if err := o.store.Delete(ctx, obj.Key); err != nil {
			return 0, fmt.Errorf("pruning object %q: %w", obj.Key, err)
		}
	}
	return len(toDelete), nil
}

// DeleteBackup removes a single snapshot by key, after confirming key
// falls under tenantID's own backup prefix.
func (o *Orchestrator) DeleteBackup(ctx context.Context, tenantID, key string) error {
	prefix := fmt.Sprintf("%s/%s/", o.prefix, tenantID)
	if !strings.HasPrefix(key, prefix) {
		return ErrBackupNotOwned
	}
	return o.store.Delete(ctx, key)
}
