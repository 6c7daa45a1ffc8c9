package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"esmloader/internal/config"
	"esmloader/internal/paths"
	"esmloader/internal/pipeline"
	"esmloader/internal/storage"
	"esmloader/internal/watcher"
)

var (
	buildWatch   bool
	buildMode    string
	buildNoCache bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle modules and write the manifest",
	Long: `Validate the module index, bundle every module with code splitting,
remove stale artifacts, analyze each output and write the manifest.

Examples:
  esmloader build                 # Development build
  esmloader build --mode prod     # Minified build into dist/prod/js
  esmloader build --watch -v      # Rebuild whenever a module changes`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVarP(&buildWatch, "watch", "w", false, "Rebuild when sources change")
	buildCmd.Flags().StringVar(&buildMode, "mode", "", "Build mode: dev or prod (default from config or NODE_ENV)")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Analyze every output, ignoring the analysis cache")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	cfg := proj.cfg
	if buildMode != "" && buildMode != cfg.Mode {
		// A derived dist path follows the mode; an explicit one is kept.
		if cfg.DistPath == filepath.ToSlash(filepath.Join("dist", cfg.Mode, "js")) {
			cfg.DistPath = ""
		}
		cfg.Mode = buildMode
		cfg.Resolve()
	}
	if buildNoCache {
		cfg.Cache.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	if cfg.Cache.Enabled {
		resolved, err := cfg.ResolvePaths(rootDir)
		if err != nil {
			return err
		}
		db, err := storage.Open(resolved.StateDir, proj.logger)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		opts = append(opts, pipeline.WithStorage(db))
	}

	p, err := pipeline.New(rootDir, cfg, proj.logger, opts...)
	if err != nil {
		return err
	}

	stats, err := p.Run(ctx)
	if err != nil && !buildWatch {
		return err
	}
	if stats != nil {
		printBuildStats(p, stats)
	}
	if !buildWatch {
		return nil
	}

	return watch(ctx, p, cfg)
}

func watch(ctx context.Context, p *pipeline.Pipeline, cfg *config.Config) error {
	resolved := p.Paths()
	w, err := watcher.New(watcher.Config{
		Root:           resolved.JSPath,
		Debounce:       time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		IgnorePatterns: cfg.Watch.IgnorePatterns,
		Exclude:        []string{resolved.DistPath, resolved.StateDir},
	}, func(ctx context.Context, events []watcher.Event) error {
		stats, err := p.Run(ctx)
		if err != nil {
			return err
		}
		printBuildStats(p, stats)
		return nil
	}, p.Logger())
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", paths.Display(resolved.JSPath, resolved.Root))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printBuildStats(p *pipeline.Pipeline, stats *pipeline.Stats) {
	root := p.Paths().Root
	fmt.Printf("Built %d modules from %d outputs in %s -> %s\n",
		stats.Entries, stats.Outputs, stats.Duration.Round(time.Millisecond), paths.Display(p.ManifestPath(), root))
	if len(stats.Pruned) > 0 {
		fmt.Printf("Removed %d stale artifacts\n", len(stats.Pruned))
	}
}
