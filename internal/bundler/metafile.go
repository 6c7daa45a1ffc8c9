package bundler

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Metafile is the esbuild metafile JSON structure.
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput is one source file that took part in a build.
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"` // "cjs" or "esm"
}

// MetafileImport is an import edge recorded for an input or output.
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput is one file the build produced.
type MetafileOutput struct {
	Bytes      int                     `json:"bytes"`
	Inputs     map[string]InputContrib `json:"inputs"`
	Imports    []MetafileImport        `json:"imports"`
	Exports    []string                `json:"exports"`
	EntryPoint string                  `json:"entryPoint,omitempty"`
}

// InputContrib is the share of an input that ended up in an output.
type InputContrib struct {
	BytesInOutput int `json:"bytesInOutput"`
}

// ParseMetafile decodes the metafile text returned by a build.
func ParseMetafile(data string) (*Metafile, error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("empty metafile")
	}
	var mf Metafile
	if err := json.Unmarshal([]byte(data), &mf); err != nil {
		return nil, fmt.Errorf("failed to parse metafile: %w", err)
	}
	return &mf, nil
}

// ModuleSet returns every input reachable from entry through static and
// dynamic imports, entry first, then depth-first in import order. External
// imports are skipped; each input appears once.
func (mf *Metafile) ModuleSet(entry string) ([]string, error) {
	if _, ok := mf.Inputs[entry]; !ok {
		return nil, fmt.Errorf("entry %q not found in metafile inputs", entry)
	}

	var order []string
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(p string) {
		if seen[p] {
			return
		}
		seen[p] = true
		order = append(order, p)
		for _, imp := range mf.Inputs[p].Imports {
			if imp.External {
				continue
			}
			if _, ok := mf.Inputs[imp.Path]; ok {
				visit(imp.Path)
			}
		}
	}
	visit(entry)
	return order, nil
}

// OutputPaths returns the JavaScript output paths sorted lexically.
// Source maps are left out.
func (mf *Metafile) OutputPaths() []string {
	out := make([]string, 0, len(mf.Outputs))
	for p := range mf.Outputs {
		if path.Ext(p) == ".map" {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
