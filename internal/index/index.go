package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	ckerrors "esmloader/internal/errors"
)

// DefaultIndexFile is the index file name looked up inside the JS source root
const DefaultIndexFile = "index.json"

// rawFile is the on-disk shape shared by the json, toml and yaml variants.
type rawFile struct {
	Modules      map[string]map[string]interface{} `json:"modules" toml:"modules" yaml:"modules"`
	DomPolyfills []string                          `json:"domPolyfills" toml:"domPolyfills" yaml:"domPolyfills"`
}

// Index is a loaded module index.
type Index struct {
	// Path is the file the index was read from
	Path string
	// JSPath is the absolute source root module keys are relative to
	JSPath string
	// DomPolyfills are package names that must be declared as devDependencies
	DomPolyfills []string

	keys    []string
	raw     map[string]map[string]interface{}
	configs map[string]ModuleConfig
}

// Load reads an index file. The format is chosen by extension: .json, .toml,
// .yaml or .yml. Option values are not validated here; see Validate.
func Load(path string, jsPath string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module index: %w", err)
	}
	return Parse(data, filepath.Ext(path), path, jsPath)
}

// Parse decodes index data in the format named by ext.
func Parse(data []byte, ext string, path string, jsPath string) (*Index, error) {
	var rf rawFile
	var err error
	switch strings.ToLower(ext) {
	case ".json", "":
		err = json.Unmarshal(data, &rf)
	case ".toml":
		err = toml.Unmarshal(data, &rf)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rf)
	default:
		return nil, fmt.Errorf("unsupported module index format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse module index %s: %w", path, err)
	}

	absJS, err := filepath.Abs(jsPath)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		Path:         path,
		JSPath:       absJS,
		DomPolyfills: rf.DomPolyfills,
		raw:          rf.Modules,
		configs:      make(map[string]ModuleConfig, len(rf.Modules)),
	}
	for key, opts := range rf.Modules {
		ix.keys = append(ix.keys, key)
		ix.configs[key] = decodeOptions(opts).Defaults()
	}
	sort.Strings(ix.keys)
	return ix, nil
}

func decodeOptions(opts map[string]interface{}) ModuleConfig {
	var c ModuleConfig
	if v, ok := opts[OptionPriority].(string); ok {
		c.Priority = Priority(v)
	}
	if v, ok := opts[OptionLoadingPoint].(string); ok {
		c.LoadingPoint = LoadingPoint(v)
	}
	if v, ok := opts[OptionSelector].(string); ok {
		c.Selector = v
	}
	return c
}

// Keys returns the module keys in lexical order.
func (ix *Index) Keys() []string {
	out := make([]string, len(ix.keys))
	copy(out, ix.keys)
	return out
}

// AbsPath resolves a module key against the source root.
func (ix *Index) AbsPath(key string) string {
	return filepath.Join(ix.JSPath, filepath.FromSlash(key))
}

// EntryPoints returns the absolute path of every module, in key order.
func (ix *Index) EntryPoints() []string {
	out := make([]string, 0, len(ix.keys))
	for _, key := range ix.keys {
		out = append(out, ix.AbsPath(key))
	}
	return out
}

// Config returns the declaration for a module key.
func (ix *Index) Config(key string) (ModuleConfig, bool) {
	c, ok := ix.configs[key]
	return c, ok
}

// Lookup finds the declaration for a source file given as an absolute path
// or a path relative to the source root. The second result is false when the
// file is not a tracked module.
func (ix *Index) Lookup(source string) (string, ModuleConfig, bool) {
	rel := source
	if filepath.IsAbs(source) {
		r, err := filepath.Rel(ix.JSPath, source)
		if err != nil || strings.HasPrefix(r, "..") {
			return "", ModuleConfig{}, false
		}
		rel = r
	}
	key := filepath.ToSlash(filepath.Clean(rel))
	c, ok := ix.configs[key]
	return key, c, ok
}

// Problem is one validation failure.
type Problem struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (p Problem) Error() string {
	return p.Key + ": " + p.Message
}

// Validate checks every entry and returns a single CONFIG_INVALID error that
// lists all problems, or nil. devDependencies is the set declared in the
// project's package file; it is only consulted for domPolyfills.
func (ix *Index) Validate(devDependencies map[string]string) error {
	var problems []Problem

	for _, key := range ix.keys {
		if !HasModuleExtension(key) {
			problems = append(problems, Problem{Key: key, Message: fmt.Sprintf("missing %q file extension", strings.Join(Extensions, "|"))})
		}
	}
	for _, key := range ix.keys {
		if _, err := os.Stat(ix.AbsPath(key)); err != nil {
			problems = append(problems, Problem{Key: ix.AbsPath(key), Message: "file not found"})
		}
	}
	for _, polyfill := range ix.DomPolyfills {
		if _, ok := devDependencies[polyfill]; !ok {
			problems = append(problems, Problem{Key: polyfill, Message: "not found in devDependencies"})
		}
	}
	for _, key := range ix.keys {
		if invalid := invalidOptions(ix.raw[key]); len(invalid) > 0 {
			problems = append(problems, Problem{Key: key, Message: "invalid options: " + strings.Join(invalid, ", ")})
		}
	}

	if len(problems) == 0 {
		return nil
	}

	var combined error
	for _, p := range problems {
		combined = multierr.Append(combined, p)
	}
	return ckerrors.New(ckerrors.ConfigInvalid,
		fmt.Sprintf("module index %s is not valid (%d problems)", ix.Path, len(problems)), combined).
		WithDetails(problems)
}

func invalidOptions(opts map[string]interface{}) []string {
	names := make([]string, 0, len(opts))
	for name := range opts {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		value := opts[name]
		s, isString := value.(string)
		switch name {
		case OptionPriority:
			if _, err := ParsePriority(s); !isString || err != nil {
				out = append(out, fmt.Sprintf("%q is not a valid %s", fmt.Sprint(value), name))
			}
		case OptionLoadingPoint:
			if _, err := ParseLoadingPoint(s); !isString || err != nil {
				out = append(out, fmt.Sprintf("%q is not a valid %s", fmt.Sprint(value), name))
			}
		case OptionSelector:
			if !isString || strings.TrimSpace(s) == "" {
				out = append(out, fmt.Sprintf("%q is not a valid %s", fmt.Sprint(value), name))
			}
		default:
			out = append(out, fmt.Sprintf("%q is not a valid option name", name))
		}
	}
	return out
}

// packageFile is the subset of package.json the index cares about.
type packageFile struct {
	DevDependencies map[string]string `json:"devDependencies"`
}

// ReadDevDependencies returns the devDependencies of a package.json. A
// missing file yields an empty set.
func ReadDevDependencies(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var pf packageFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if pf.DevDependencies == nil {
		pf.DevDependencies = map[string]string{}
	}
	return pf.DevDependencies, nil
}
