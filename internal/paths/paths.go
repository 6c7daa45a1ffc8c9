// Package paths resolves configured locations against the project root.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultStateDir holds the analysis cache and build history.
const DefaultStateDir = ".esmloader"

// Resolve returns p as an absolute, cleaned path. Relative paths are taken
// relative to root.
func Resolve(root, p string) string {
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

// Canonicalize converts an absolute path to a root-relative path with
// forward slashes. Symlinks are resolved when the path exists.
func Canonicalize(absolutePath string, root string) (string, error) {
	resolved, err := evalIfExists(absolutePath)
	if err != nil {
		return "", err
	}
	rootResolved, err := evalIfExists(root)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func evalIfExists(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return "", err
	}
	return resolved, nil
}

// IsWithin reports whether path lies inside root (or is root).
func IsWithin(path string, root string) bool {
	canonical, err := Canonicalize(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// Display shortens path for log output: root-relative when inside root,
// unchanged otherwise.
func Display(path string, root string) string {
	if !IsWithin(path, root) {
		return path
	}
	rel, err := Canonicalize(path, root)
	if err != nil {
		return path
	}
	return rel
}

// StateDir returns the absolute state directory for root.
func StateDir(root, dir string) string {
	if dir == "" {
		dir = DefaultStateDir
	}
	return Resolve(root, dir)
}
