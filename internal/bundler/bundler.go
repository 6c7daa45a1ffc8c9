// Package bundler drives esbuild for the two builds the manifest needs: the
// split build of every indexed module, and the isolated re-bundle of a single
// output file that recovers its complete module set.
package bundler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	ckerrors "esmloader/internal/errors"
)

// Options configures a Bundler.
type Options struct {
	// JSPath is the source root; entry points and module keys are relative to it
	JSPath string
	// DistPath is the output directory
	DistPath string
	// Production enables minification
	Production bool
	// Aliases maps import prefixes to replacement paths (e.g. coreComponents)
	Aliases map[string]string
	// NodePaths are extra bare-import resolution roots
	NodePaths []string
}

// OutputFile is one file produced by the split build.
type OutputFile struct {
	// Path is the absolute path on disk
	Path string
	// Name is the path relative to DistPath, slash separated
	Name string
	// EntryPoint is the contributing source relative to JSPath, empty for shared chunks
	EntryPoint string
}

// Result is the outcome of the split build.
type Result struct {
	Outputs  []OutputFile
	Metafile *Metafile
	Warnings []string
}

// Names returns the output names, in output order.
func (r *Result) Names() []string {
	out := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		out[i] = o.Name
	}
	return out
}

// Isolated is the result of re-bundling one output file on its own.
type Isolated struct {
	// ModuleFile is the re-bundled file's name relative to DistPath
	ModuleFile string
	// Source is the module's own compiled text
	Source []byte
	// Dependencies are the other files of its module set, relative to DistPath
	Dependencies []string
}

// Bundler wraps the esbuild Go API.
type Bundler struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Bundler. Relative paths in opts are made absolute.
func New(opts Options, logger *slog.Logger) (*Bundler, error) {
	var err error
	if opts.JSPath, err = filepath.Abs(opts.JSPath); err != nil {
		return nil, err
	}
	if opts.DistPath, err = filepath.Abs(opts.DistPath); err != nil {
		return nil, err
	}
	if len(opts.NodePaths) == 0 {
		opts.NodePaths = []string{opts.JSPath}
	}
	return &Bundler{opts: opts, logger: logger}, nil
}

// DistPath returns the absolute output directory.
func (b *Bundler) DistPath() string {
	return b.opts.DistPath
}

// Build bundles every entry point into DistPath with code splitting so each
// entry gets its own output and shared code lands in shared chunks.
func (b *Bundler) Build(ctx context.Context, entryPoints []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(entryPoints) == 0 {
		return nil, ckerrors.New(ckerrors.BundleFailed, "no entry points to bundle", nil)
	}
	if err := os.MkdirAll(b.opts.DistPath, 0755); err != nil {
		return nil, ckerrors.New(ckerrors.BundleFailed, "failed to create output directory", err)
	}

	res := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		AbsWorkingDir:     b.opts.JSPath,
		Outdir:            b.opts.DistPath,
		Bundle:            true,
		Splitting:         true,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            api.ES2020,
		EntryNames:        "[name]-[hash]",
		ChunkNames:        "[name]-[hash]",
		MinifyWhitespace:  b.opts.Production,
		MinifyIdentifiers: b.opts.Production,
		MinifySyntax:      b.opts.Production,
		NodePaths:         b.opts.NodePaths,
		Alias:             b.opts.Aliases,
		Metafile:          true,
		Write:             true,
		LogLevel:          api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, ckerrors.New(ckerrors.BundleFailed, "bundling failed", messagesError(res.Errors)).
			WithDetails(formatMessages(res.Errors))
	}

	mf, err := ParseMetafile(res.Metafile)
	if err != nil {
		return nil, ckerrors.New(ckerrors.BundleFailed, "bundler returned no usable metafile", err)
	}

	result := &Result{Metafile: mf, Warnings: formatMessages(res.Warnings)}
	for _, key := range mf.OutputPaths() {
		abs := filepath.Join(b.opts.JSPath, filepath.FromSlash(key))
		name, err := filepath.Rel(b.opts.DistPath, abs)
		if err != nil {
			return nil, ckerrors.New(ckerrors.InternalError, "output outside of output directory", err)
		}
		result.Outputs = append(result.Outputs, OutputFile{
			Path:       abs,
			Name:       filepath.ToSlash(name),
			EntryPoint: mf.Outputs[key].EntryPoint,
		})
	}

	for _, w := range result.Warnings {
		b.logger.Warn("Bundler warning", "message", w)
	}
	b.logger.Debug("Bundled entry points",
		"entries", len(entryPoints),
		"outputs", len(result.Outputs),
	)
	return result, nil
}

// Rebundle bundles a single output file in isolation, without writing, and
// reports every file of DistPath it pulls in. Modules that the split build
// hoisted into shared chunks come back as dependencies of this module.
func (b *Bundler) Rebundle(ctx context.Context, outputFile string) (*Isolated, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	abs := outputFile
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(b.opts.DistPath, filepath.FromSlash(outputFile))
	}
	rel, err := filepath.Rel(b.opts.DistPath, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, ckerrors.New(ckerrors.AnalysisFailed, fmt.Sprintf("%s is not inside %s", outputFile, b.opts.DistPath), err)
	}
	entry := filepath.ToSlash(rel)

	source, err := os.ReadFile(abs)
	if err != nil {
		return nil, ckerrors.New(ckerrors.AnalysisFailed, "failed to read "+entry, err)
	}

	res := api.Build(api.BuildOptions{
		EntryPoints:   []string{entry},
		AbsWorkingDir: b.opts.DistPath,
		Bundle:        true,
		Format:        api.FormatESModule,
		Platform:      api.PlatformBrowser,
		Metafile:      true,
		Write:         false,
		LogLevel:      api.LogLevelSilent,
	})
	if len(res.Errors) > 0 {
		return nil, ckerrors.New(ckerrors.AnalysisFailed, "isolated re-bundle of "+entry+" failed", messagesError(res.Errors)).
			WithDetails(formatMessages(res.Errors))
	}

	mf, err := ParseMetafile(res.Metafile)
	if err != nil {
		return nil, ckerrors.New(ckerrors.AnalysisFailed, "isolated re-bundle of "+entry+" returned no metafile", err)
	}
	set, err := mf.ModuleSet(entry)
	if err != nil {
		return nil, ckerrors.New(ckerrors.AnalysisFailed, "isolated re-bundle of "+entry, err)
	}

	return &Isolated{
		ModuleFile:   entry,
		Source:       source,
		Dependencies: set[1:],
	}, nil
}

func formatMessages(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			out = append(out, fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		out = append(out, m.Text)
	}
	return out
}

func messagesError(msgs []api.Message) error {
	return fmt.Errorf("%s", strings.Join(formatMessages(msgs), "; "))
}
