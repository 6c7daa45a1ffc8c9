package manifest

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
	"golang.org/x/crypto/blake2b"

	"esmloader/internal/bundler"
	ckerrors "esmloader/internal/errors"
	"esmloader/internal/index"
	"esmloader/internal/selector"
)

// Rebundler re-bundles one output file in isolation.
type Rebundler interface {
	Rebundle(ctx context.Context, outputFile string) (*bundler.Isolated, error)
}

// Cache stores serialized entries by output file and content key.
type Cache interface {
	Get(ctx context.Context, moduleFile, key string) ([]byte, bool, error)
	Put(ctx context.Context, moduleFile, key string, value []byte) error
}

// Builder analyzes bundler outputs into a Manifest.
type Builder struct {
	index       *index.Index
	rebundler   Rebundler
	cache       Cache
	concurrency int
	logger      *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithCache makes the builder reuse entries whose output content and
// declaration are unchanged.
func WithCache(c Cache) Option {
	return func(b *Builder) {
		b.cache = c
	}
}

// WithConcurrency bounds the number of analyses running at once.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBuilder creates a Builder over a loaded index.
func NewBuilder(ix *index.Index, rb Rebundler, logger *slog.Logger, opts ...Option) *Builder {
	b := &Builder{
		index:       ix,
		rebundler:   rb,
		concurrency: runtime.NumCPU(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AnalyzeEntry produces the entry for one output file. Outputs that do not
// come from a tracked module (shared chunks) yield nil without error.
func (b *Builder) AnalyzeEntry(ctx context.Context, out bundler.OutputFile) (*GraphEntry, error) {
	if out.EntryPoint == "" {
		return nil, nil
	}
	key, cfg, ok := b.index.Lookup(out.EntryPoint)
	if !ok {
		return nil, nil
	}

	var cacheKey string
	if b.cache != nil {
		content, err := os.ReadFile(out.Path)
		if err != nil {
			return nil, ckerrors.New(ckerrors.AnalysisFailed, "failed to read "+out.Name, err)
		}
		cacheKey = CacheKey(content, cfg)
		if entry, hit := b.cached(ctx, out.Name, cacheKey); hit {
			b.logger.Debug("Analysis cache hit", "module", key, "moduleFile", out.Name)
			return entry, requireSelector(key, entry)
		}
	}

	iso, err := b.rebundler.Rebundle(ctx, out.Path)
	if err != nil {
		if ckerrors.CodeOf(err) == ckerrors.InternalError {
			err = ckerrors.New(ckerrors.AnalysisFailed, "isolated re-bundle of "+out.Name+" failed", err)
		}
		return nil, err
	}

	sel := cfg.Selector
	if sel == "" {
		sel, _ = selector.Extract(ctx, iso.Source)
	}
	entry := &GraphEntry{
		Selector:     Selector(sel),
		ModuleFile:   iso.ModuleFile,
		Dependencies: iso.Dependencies,
		Priority:     cfg.Priority,
		LoadingPoint: cfg.LoadingPoint,
	}
	if err := requireSelector(key, entry); err != nil {
		return nil, err
	}

	b.logger.Debug("Analyzed module",
		"module", key,
		"moduleFile", entry.ModuleFile,
		"dependencies", len(entry.Dependencies),
		"selector", sel,
	)

	if b.cache != nil {
		if data, err := json.Marshal(entry); err == nil {
			if err := b.cache.Put(ctx, out.Name, cacheKey, data); err != nil {
				b.logger.Warn("Failed to store analysis", "moduleFile", out.Name, "error", err)
			}
		}
	}
	return entry, nil
}

func (b *Builder) cached(ctx context.Context, moduleFile, key string) (*GraphEntry, bool) {
	data, hit, err := b.cache.Get(ctx, moduleFile, key)
	if err != nil {
		b.logger.Warn("Analysis cache lookup failed", "moduleFile", moduleFile, "error", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}
	var entry GraphEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// requireSelector rejects lazily-loaded entries that declare no selector.
func requireSelector(key string, e *GraphEntry) error {
	if !e.LoadingPoint.IsLazy() || e.Selector != "" {
		return nil
	}
	return ckerrors.New(ckerrors.ConfigurationError,
		fmt.Sprintf("%q is dynamically loaded {loadingPoint: %s} but no %q was found in its code (output %s) to link it to an HTML element",
			key, e.LoadingPoint, selector.BindingName, e.ModuleFile), nil).
		WithDetails(map[string]string{
			"module":       key,
			"moduleFile":   e.ModuleFile,
			"loadingPoint": string(e.LoadingPoint),
		})
}

type analysis struct {
	pos   int
	entry *GraphEntry
	err   error
}

// Build analyzes every output concurrently and waits for all of them. Any
// failure fails the whole build; all failures are returned together and no
// manifest is produced. Entries are grouped by tier in output order.
func (b *Builder) Build(ctx context.Context, outputs []bundler.OutputFile) (Manifest, error) {
	start := time.Now()

	p := pool.NewWithResults[analysis]().WithMaxGoroutines(b.concurrency)
	for i, out := range outputs {
		p.Go(func() analysis {
			entry, err := b.AnalyzeEntry(ctx, out)
			return analysis{pos: i, entry: entry, err: err}
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].pos < results[j].pos })

	var entries []GraphEntry
	var errs error
	for _, r := range results {
		switch {
		case r.err != nil:
			errs = multierr.Append(errs, r.err)
		case r.entry != nil:
			entries = append(entries, *r.entry)
		}
	}
	if errs != nil {
		b.logger.Error("Manifest build failed", "failures", len(multierr.Errors(errs)))
		return nil, errs
	}

	m := SortByPriority(entries)
	b.logger.Info("Manifest built",
		"entries", len(m),
		"outputs", len(outputs),
		"duration", time.Since(start),
	)
	return m, nil
}

// CacheKey hashes an output's content together with its declaration.
func CacheKey(content []byte, cfg index.ModuleConfig) string {
	h, _ := blake2b.New256(nil)
	h.Write(content)
	h.Write([]byte{0})
	h.Write([]byte(string(cfg.Priority) + "\x00" + string(cfg.LoadingPoint) + "\x00" + cfg.Selector))
	return hex.EncodeToString(h.Sum(nil))
}
