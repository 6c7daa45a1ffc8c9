package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	ckerrors "esmloader/internal/errors"
)

// PruneStaleArtifacts deletes every file in dir that is neither in current
// nor a manifest artifact (its name contains manifestName). Subdirectories
// are left alone. It returns the removed names; removal failures are
// collected and returned together.
func PruneStaleArtifacts(dir string, current []string, manifestName string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ckerrors.New(ckerrors.PruneFailed, "failed to list "+dir, err)
	}

	keep := make(map[string]bool, len(current))
	for _, name := range current {
		keep[filepath.ToSlash(name)] = true
	}

	var removed []string
	var errs error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || keep[name] || (manifestName != "" && strings.Contains(name, manifestName)) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		removed = append(removed, name)
	}
	sort.Strings(removed)

	if errs != nil {
		return removed, ckerrors.New(ckerrors.PruneFailed, "failed to remove stale artifacts", errs)
	}
	return removed, nil
}
