package manifest

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"esmloader/internal/dispatcher"
	ckerrors "esmloader/internal/errors"
)

// ImportKey is the URL the runtime imports a module file from.
func ImportKey(publicPath, moduleFile string) string {
	publicPath = strings.TrimRight(publicPath, "/")
	if publicPath == "" {
		return "./" + moduleFile
	}
	return publicPath + "/" + moduleFile
}

// LoadingMapFromManifest reshapes the manifest into the per-trigger lookup
// the runtime consumes. Static entries are skipped. Two modules binding the
// same selector on one trigger is an error; every such clash is reported.
func LoadingMapFromManifest(m Manifest, publicPath string) (dispatcher.LoadingMap, error) {
	var lm dispatcher.LoadingMap
	var dups, invalid error
	owner := make(map[string]string)

	for _, e := range m {
		if !e.LoadingPoint.IsLazy() || e.Selector == "" {
			continue
		}
		sel := string(e.Selector)
		added, err := lm.Add(e.LoadingPoint, sel, ImportKey(publicPath, e.ModuleFile))
		if err != nil {
			invalid = multierr.Append(invalid, fmt.Errorf("%s: %w", e.ModuleFile, err))
			continue
		}
		slot := string(e.LoadingPoint) + "\x00" + sel
		if !added {
			dups = multierr.Append(dups, fmt.Errorf("%s: selector %q is bound by both %s and %s",
				e.LoadingPoint, sel, owner[slot], e.ModuleFile))
			continue
		}
		owner[slot] = e.ModuleFile
	}

	if invalid != nil {
		return dispatcher.LoadingMap{}, ckerrors.New(ckerrors.ConfigInvalid, "manifest has entries with unknown triggers", invalid)
	}
	if dups != nil {
		return dispatcher.LoadingMap{}, ckerrors.New(ckerrors.DuplicateSelector, "selectors must be unique per trigger", dups)
	}
	return lm, nil
}
