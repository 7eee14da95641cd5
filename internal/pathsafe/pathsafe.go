// Package pathsafe validates that a path resolves inside an allowed
// directory, rejecting directory-traversal and absolute-path escapes. It
// backs both configuration-file path checks and archive-extraction checks
// (tar entries, symlink/hardlink targets).
package pathsafe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateInDirectory resolves path (optionally relative to allowedDir) and
// verifies the resolved absolute path is inside allowedDir. It returns the
// resolved absolute path on success.
func ValidateInDirectory(path, allowedDir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == "" || cleanPath == "." {
		return "", fmt.Errorf("empty or invalid path")
	}

	if allowedDir == "" {
		return "", fmt.Errorf("allowed directory must be set")
	}

	absAllowedDir, err := filepath.Abs(filepath.Clean(allowedDir))
	if err != nil {
		return "", fmt.Errorf("invalid allowed directory: %w", err)
	}

	var targetPath string
	if filepath.IsAbs(cleanPath) {
		targetPath = cleanPath
	} else {
		targetPath = filepath.Join(absAllowedDir, cleanPath)
	}

	absTargetPath, err := filepath.Abs(targetPath)
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if !isWithin(absAllowedDir, absTargetPath) {
		return "", fmt.Errorf("path outside allowed directory: %s", path)
	}

	return absTargetPath, nil
}

// isWithin reports whether target is equal to base or nested under it,
// comparing against base with its trailing separator so "/tenants/foo-evil"
// is never mistaken for being inside "/tenants/foo".
func isWithin(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(filepath.Separator))
}

// ValidateArchiveEntry validates a tar entry's name (and, for link entries,
// its resolved link target) against the extraction root. It rejects:
//   - absolute entry paths
//   - entries whose resolved path escapes targetDir
//   - link entries whose resolved target escapes targetDir
func ValidateArchiveEntry(targetDir, entryName, linkTarget string, isLink bool) (string, error) {
	if filepath.IsAbs(entryName) {
		return "", fmt.Errorf("archive entry has absolute path: %s", entryName)
	}

	resolved, err := ValidateInDirectory(entryName, targetDir)
	if err != nil {
		return "", fmt.Errorf("archive entry escapes target directory: %s", entryName)
	}

	if isLink {
		var resolvedLink string
		if filepath.IsAbs(linkTarget) {
			resolvedLink = filepath.Clean(linkTarget)
		} else {
			resolvedLink = filepath.Clean(filepath.Join(filepath.Dir(resolved), linkTarget))
		}
		absTargetDir, err := filepath.Abs(targetDir)
		if err != nil {
			return "", fmt.Errorf("invalid target directory: %w", err)
		}
		if !isWithin(absTargetDir, resolvedLink) {
			return "", fmt.Errorf("archive link target escapes target directory: %s -> %s", entryName, linkTarget)
		}
	}

	return resolved, nil
}
