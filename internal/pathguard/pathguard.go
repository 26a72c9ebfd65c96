// Package pathguard enforces a job's declared filesystem scope. Every check
// is a distinct predicate so each rejection reason is independently testable.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrAbsolutePath     = errors.New("absolute path not allowed")
	ErrTraversal        = errors.New("path escapes repo root")
	ErrForbiddenPattern = errors.New("forbidden pattern in path")
	ErrSystemDirectory  = errors.New("access to system directory forbidden")
	ErrOutsideAllowList = errors.New("path not under an allowed prefix")
	ErrSymlinkEscape    = errors.New("symlink target escapes repo root")
)

// DefaultForbiddenPatterns is used when a worker config does not override it.
var DefaultForbiddenPatterns = []string{"../", "~/", "~"}

// systemDirs are denied regardless of allow-list contents.
var systemDirs = []string{
	"/etc/", "/root/", "/sys/", "/proc/", "/boot/",
	"/dev/", "/var/", "/usr/bin/", "/usr/sbin/",
	"/.ssh/", "/.aws/", "/.kube/",
}

// Validate runs every scope check against a single declared path and returns
// the resolved absolute path on success. Order matters: cheap syntactic
// checks first, filesystem-touching checks last.
func Validate(path, repoRoot string, allowedPrefixes, forbiddenPatterns []string) (string, error) {
	if forbiddenPatterns == nil {
		forbiddenPatterns = DefaultForbiddenPatterns
	}

	if err := CheckRelative(path); err != nil {
		return "", err
	}
	if err := CheckForbiddenPatterns(path, forbiddenPatterns); err != nil {
		return "", err
	}

	abs, err := ResolveWithinRoot(path, repoRoot)
	if err != nil {
		return "", err
	}

	if err := CheckSystemDirectories(abs); err != nil {
		return "", err
	}
	if err := CheckAllowedPrefixes(abs, repoRoot, allowedPrefixes); err != nil {
		return "", err
	}
	if err := CheckSymlink(abs, repoRoot); err != nil {
		return "", err
	}

	return abs, nil
}

// CheckRelative rejects absolute paths; job paths are always relative to the
// declared repo root.
func CheckRelative(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s", ErrAbsolutePath, path)
	}
	return nil
}

// ResolveWithinRoot joins and lexically resolves the path, rejecting any
// result outside the repo root (".." traversal).
func ResolveWithinRoot(path, repoRoot string) (string, error) {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", fmt.Errorf("resolving repo root: %w", err)
	}

	abs := filepath.Clean(filepath.Join(absRoot, path))
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrTraversal, path, repoRoot)
	}
	return abs, nil
}

// CheckForbiddenPatterns rejects paths containing any blacklisted substring.
func CheckForbiddenPatterns(path string, patterns []string) error {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(path, pattern) {
			return fmt.Errorf("%w: %q in %s", ErrForbiddenPattern, pattern, path)
		}
	}
	return nil
}

// CheckSystemDirectories rejects resolved paths under known sensitive roots.
// This holds even when a misconfigured repo root sits inside one.
func CheckSystemDirectories(absPath string) error {
	p := absPath + "/"
	for _, dir := range systemDirs {
		if strings.HasPrefix(p, dir) || strings.Contains(absPath, dir) {
			return fmt.Errorf("%w: %s", ErrSystemDirectory, dir)
		}
	}
	return nil
}

// CheckAllowedPrefixes enforces the allow-list on the path relative to the
// repo root. Root-level files require the empty prefix to be listed. An
// absolute entry admits everything beneath it; listing the repo root itself
// grants whole-repo access.
func CheckAllowedPrefixes(absPath, repoRoot string, allowedPrefixes []string) error {
	if len(allowedPrefixes) == 0 {
		return fmt.Errorf("%w: allow-list is empty", ErrOutsideAllowList)
	}

	for _, prefix := range allowedPrefixes {
		if filepath.IsAbs(prefix) &&
			(absPath == prefix || strings.HasPrefix(absPath, prefix+string(filepath.Separator))) {
			return nil
		}
	}

	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return fmt.Errorf("resolving repo root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return fmt.Errorf("relativizing path: %w", err)
	}
	rel = filepath.ToSlash(rel)

	if !strings.Contains(rel, "/") {
		for _, prefix := range allowedPrefixes {
			if prefix == "" {
				return nil
			}
		}
		return fmt.Errorf("%w: root-level file %s", ErrOutsideAllowList, rel)
	}

	for _, prefix := range allowedPrefixes {
		if prefix != "" && strings.HasPrefix(rel, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (allowed: %v)", ErrOutsideAllowList, rel, allowedPrefixes)
}

// CheckSymlink rejects existing symlinks whose target resolves outside the
// repo root. Paths that do not exist yet pass; they cannot be symlinks.
func CheckSymlink(absPath, repoRoot string) error {
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}

	real, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return fmt.Errorf("resolving symlink %s: %w", absPath, err)
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return fmt.Errorf("resolving repo root: %w", err)
	}
	if real != absRoot && !strings.HasPrefix(real, absRoot+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s -> %s", ErrSymlinkEscape, absPath, real)
	}
	return nil
}
