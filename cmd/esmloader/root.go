package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"esmloader/internal/config"
	"esmloader/internal/slogutil"
	"esmloader/internal/version"
)

var (
	rootDir   string
	verbosity int
	quiet     bool
	logFormat string
	logFile   string
)

var rootCmd = &cobra.Command{
	Use:   "esmloader",
	Short: "esmloader - selector-triggered lazy loading for ES modules",
	Long: `esmloader bundles the modules listed in a module index, analyzes each
output to recover its full dependency set and binding selector, and writes a
priority-ordered manifest (graph.json) that the runtime dispatcher uses to
load every lazy module exactly once when its trigger fires.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("esmloader version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", ".", "Project root")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all log output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated by logging.maxSize)")
}

// project is the loaded configuration and logger for one command run.
type project struct {
	cfg    *config.Config
	source string
	logger *slog.Logger
	closer io.Closer
}

func (p *project) Close() {
	if p.closer != nil {
		_ = p.closer.Close()
	}
}

func loadProject() (*project, error) {
	result, err := config.LoadConfigWithDetails(rootDir)
	if err != nil {
		return nil, err
	}
	cfg := result.Config

	level := slogutil.LevelFromVerbosity(verbosity, quiet)
	if verbosity == 0 && !quiet && cfg.Logging.Level != "" {
		level = slogutil.LevelFromString(cfg.Logging.Level)
	}
	format := slogutil.Format(cfg.Logging.Format)
	if logFormat != "" {
		format = slogutil.Format(logFormat)
	}

	p := &project{cfg: cfg, source: result.ConfigPath}
	p.logger = slogutil.New(os.Stderr, format, level)

	path := logFile
	if path == "" {
		path = cfg.Logging.File
	}
	if path != "" {
		fileLogger, closer, err := slogutil.NewFileLogger(path, format, slog.LevelDebug, cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
		if err != nil {
			return nil, err
		}
		p.closer = closer
		p.logger = slog.New(slogutil.NewTeeHandler(p.logger.Handler(), fileLogger.Handler()))
	}

	if result.UsedDefaults {
		p.logger.Debug("No config file found, using defaults", "root", rootDir)
	} else {
		p.logger.Debug("Loaded config", "path", result.ConfigPath)
	}
	return p, nil
}
