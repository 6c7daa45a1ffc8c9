// Package pipeline runs one build: validate the module index, bundle, prune
// stale artifacts, analyze outputs into a manifest and persist it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"esmloader/internal/bundler"
	"esmloader/internal/config"
	"esmloader/internal/index"
	"esmloader/internal/manifest"
	"esmloader/internal/storage"
)

// Stats summarizes a successful build.
type Stats struct {
	BuildID  string
	Entries  int
	Outputs  int
	Written  []string
	Pruned   []string
	Evicted  int64
	Warnings []string
	Duration time.Duration
}

// Pipeline builds one project. It is safe to Run repeatedly (watch mode) but
// not concurrently.
type Pipeline struct {
	cfg    *config.Config
	paths  config.Paths
	db     *storage.DB
	cache  *storage.AnalysisCache
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStorage attaches the analysis cache and build history.
func WithStorage(db *storage.DB) Option {
	return func(p *Pipeline) {
		p.db = db
		if db != nil {
			p.cache = storage.NewAnalysisCache(db)
		}
	}
}

// New creates a pipeline for the project at root.
func New(root string, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolved, err := cfg.ResolvePaths(root)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, paths: resolved, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Paths returns the resolved project locations.
func (p *Pipeline) Paths() config.Paths {
	return p.paths
}

// LoadIndex reads and validates the module index. Every problem is
// reported at once in a single CONFIG_INVALID error.
func (p *Pipeline) LoadIndex() (*index.Index, error) {
	ix, err := index.Load(p.paths.IndexFile, p.paths.JSPath)
	if err != nil {
		return nil, err
	}
	devDeps, err := index.ReadDevDependencies(p.paths.PackageFile)
	if err != nil {
		return nil, err
	}
	if err := ix.Validate(devDeps); err != nil {
		return nil, err
	}
	return ix, nil
}

// Run performs a full build. Nothing is written to the manifest unless
// every output analyzed cleanly.
func (p *Pipeline) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()
	buildID := uuid.NewString()
	logger := p.logger.With("build", buildID)
	lock, err := AcquireLock(p.paths.StateDir)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	logger.Info("Build started", "mode", p.cfg.Mode, "jsPath", p.paths.JSPath)

	stats, err := p.run(ctx, buildID, logger)
	duration := time.Since(start)
	p.record(ctx, buildID, start, duration, stats, err)
	if err != nil {
		logger.Error("Build failed", "duration", duration, "error", err)
		return nil, err
	}

	stats.Duration = duration
	logger.Info("Build complete",
		"entries", stats.Entries,
		"outputs", stats.Outputs,
		"pruned", len(stats.Pruned),
		"duration", duration,
	)
	return stats, nil
}

func (p *Pipeline) run(ctx context.Context, buildID string, logger *slog.Logger) (*Stats, error) {
	stats := &Stats{BuildID: buildID}

	// 1. Load and validate the module index
	ix, err := p.LoadIndex()
	if err != nil {
		return stats, err
	}
	logger.Debug("Module index loaded", "modules", len(ix.Keys()), "path", ix.Path)

	// 2. Split build of every module
	b, err := bundler.New(bundler.Options{
		JSPath:     p.paths.JSPath,
		DistPath:   p.paths.DistPath,
		Production: p.cfg.Production(),
		Aliases:    p.cfg.Aliases,
	}, logger)
	if err != nil {
		return stats, err
	}
	result, err := b.Build(ctx, ix.EntryPoints())
	if err != nil {
		return stats, err
	}
	stats.Outputs = len(result.Outputs)
	stats.Warnings = result.Warnings

	// 3. Remove artifacts of previous builds
	pruned, err := manifest.PruneStaleArtifacts(p.paths.DistPath, result.Names(), p.cfg.ManifestName)
	stats.Pruned = pruned
	if err != nil {
		return stats, err
	}
	for _, name := range pruned {
		logger.Info("Pruned stale artifact", "file", name)
	}

	// 4. Analyze outputs
	opts := []manifest.Option{manifest.WithConcurrency(p.cfg.Concurrency)}
	if p.cache != nil {
		opts = append(opts, manifest.WithCache(p.cache.ForBuild(buildID)))
	}
	m, err := manifest.NewBuilder(ix, b, logger, opts...).Build(ctx, result.Outputs)
	if err != nil {
		return stats, err
	}
	stats.Entries = len(m)

	// 5. Persist
	written, err := manifest.Write(p.paths.DistPath, p.cfg.ManifestName, m, manifest.WriteOptions{
		Gzip: p.cfg.Compress.Gzip,
		Zstd: p.cfg.Compress.Zstd,
	})
	stats.Written = written
	if err != nil {
		return stats, err
	}

	// 6. Drop cache rows for outputs that no longer exist
	if p.cache != nil {
		evicted, err := p.cache.Retain(ctx, result.Names())
		if err != nil {
			logger.Warn("Failed to trim analysis cache", "error", err)
		}
		stats.Evicted = evicted
	}
	return stats, nil
}

func (p *Pipeline) record(ctx context.Context, buildID string, start time.Time, duration time.Duration, stats *Stats, buildErr error) {
	if p.db == nil {
		return
	}
	rec := storage.BuildRecord{
		ID:        buildID,
		Mode:      p.cfg.Mode,
		StartedAt: start,
		Duration:  duration,
		Status:    storage.BuildSucceeded,
	}
	if stats != nil {
		rec.Entries = stats.Entries
	}
	if buildErr != nil {
		rec.Status = storage.BuildFailed
		rec.Error = buildErr.Error()
	}
	if err := p.db.RecordBuild(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("Failed to record build", "build", buildID, "error", err)
	}
}

// ReadManifest loads the manifest of the last successful build.
func (p *Pipeline) ReadManifest() (manifest.Manifest, error) {
	m, err := manifest.Read(p.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("no manifest found, run a build first: %w", err)
	}
	return m, nil
}

// ManifestPath is where Run writes the manifest.
func (p *Pipeline) ManifestPath() string {
	return filepath.Join(p.paths.DistPath, p.cfg.ManifestName)
}

// Logger returns the pipeline's logger.
func (p *Pipeline) Logger() *slog.Logger {
	return p.logger
}
