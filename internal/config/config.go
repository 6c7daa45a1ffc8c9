package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"esmloader/internal/paths"
)

// FileName is the config file base name looked up at the project root;
// any extension viper understands (json, toml, yaml) is accepted.
const FileName = "esmloader"

// EnvPrefix prefixes environment overrides, e.g. ESMLOADER_MODE=prod.
const EnvPrefix = "ESMLOADER"

// EnvConfigPath names an explicit config file, bypassing the lookup.
const EnvConfigPath = "ESMLOADER_CONFIG_PATH"

// Build modes.
const (
	ModeDev  = "dev"
	ModeProd = "prod"
)

// Config is the complete esmloader configuration.
type Config struct {
	Mode         string            `json:"mode" toml:"mode" mapstructure:"mode"`
	JSPath       string            `json:"jsPath" toml:"jsPath" mapstructure:"jsPath"`
	DistPath     string            `json:"distPath" toml:"distPath" mapstructure:"distPath"`
	IndexFile    string            `json:"indexFile" toml:"indexFile" mapstructure:"indexFile"`
	PackageFile  string            `json:"packageFile" toml:"packageFile" mapstructure:"packageFile"`
	ManifestName string            `json:"manifestName" toml:"manifestName" mapstructure:"manifestName"`
	PublicPath   string            `json:"publicPath" toml:"publicPath" mapstructure:"publicPath"`
	Aliases      map[string]string `json:"aliases" toml:"aliases" mapstructure:"aliases"`
	Concurrency  int               `json:"concurrency" toml:"concurrency" mapstructure:"concurrency"`

	Compress CompressConfig `json:"compress" toml:"compress" mapstructure:"compress"`
	Cache    CacheConfig    `json:"cache" toml:"cache" mapstructure:"cache"`
	Watch    WatchConfig    `json:"watch" toml:"watch" mapstructure:"watch"`
	Logging  LoggingConfig  `json:"logging" toml:"logging" mapstructure:"logging"`
}

// CompressConfig selects precompressed manifest siblings.
type CompressConfig struct {
	Gzip bool `json:"gzip" toml:"gzip" mapstructure:"gzip"`
	Zstd bool `json:"zstd" toml:"zstd" mapstructure:"zstd"`
}

// CacheConfig controls the analysis cache.
type CacheConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled" mapstructure:"enabled"`
	Dir     string `json:"dir" toml:"dir" mapstructure:"dir"`
}

// WatchConfig controls build --watch.
type WatchConfig struct {
	DebounceMs     int      `json:"debounceMs" toml:"debounceMs" mapstructure:"debounceMs"`
	IgnorePatterns []string `json:"ignorePatterns" toml:"ignorePatterns" mapstructure:"ignorePatterns"`
}

// LoggingConfig contains logging configuration. An empty level defers to
// the command line verbosity.
type LoggingConfig struct {
	Format     string `json:"format" toml:"format" mapstructure:"format"`
	Level      string `json:"level" toml:"level" mapstructure:"level"`
	File       string `json:"file" toml:"file" mapstructure:"file"`
	MaxSize    string `json:"maxSize" toml:"maxSize" mapstructure:"maxSize"`
	MaxBackups int    `json:"maxBackups" toml:"maxBackups" mapstructure:"maxBackups"`
}

// DefaultConfig returns the default configuration. DistPath, IndexFile and
// Concurrency are derived by Resolve when left empty.
func DefaultConfig() *Config {
	return &Config{
		Mode:         ModeDev,
		JSPath:       "assets/js",
		PackageFile:  "package.json",
		ManifestName: "graph.json",
		PublicPath:   "/js",
		Aliases:      map[string]string{},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     paths.DefaultStateDir,
		},
		Watch: WatchConfig{
			DebounceMs:     300,
			IgnorePatterns: []string{"*.tmp", "*.swp", "*~", "node_modules/**"},
		},
		Logging: LoggingConfig{
			Format:     "text",
			MaxSize:    "10MB",
			MaxBackups: 3,
		},
	}
}

// LoadResult describes where a configuration came from.
type LoadResult struct {
	Config *Config
	// ConfigPath is the file that was read, empty when none was found.
	ConfigPath string
	// UsedDefaults is true when no config file was found.
	UsedDefaults bool
}

// LoadConfig loads esmloader.{json,toml,yaml} from root, applies environment
// overrides and resolves derived defaults.
func LoadConfig(root string) (*Config, error) {
	result, err := LoadConfigWithDetails(root)
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadConfigWithDetails is LoadConfig plus the file that was used.
func LoadConfigWithDetails(root string) (*LoadResult, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicit := os.Getenv(EnvConfigPath); explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(root)
	}

	result := &LoadResult{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		result.UsedDefaults = true
	} else {
		result.ConfigPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if result.ConfigPath != "" {
		// viper lower-cases map keys; alias names are import specifiers.
		aliases, err := readAliases(result.ConfigPath)
		if err != nil {
			return nil, err
		}
		if aliases != nil {
			cfg.Aliases = aliases
		}
	}
	cfg.Resolve()
	result.Config = &cfg
	return result, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	mode := d.Mode
	if os.Getenv("NODE_ENV") == ModeProd {
		mode = ModeProd
	}
	v.SetDefault("mode", mode)
	v.SetDefault("jsPath", d.JSPath)
	v.SetDefault("distPath", d.DistPath)
	v.SetDefault("indexFile", d.IndexFile)
	v.SetDefault("packageFile", d.PackageFile)
	v.SetDefault("manifestName", d.ManifestName)
	v.SetDefault("publicPath", d.PublicPath)
	v.SetDefault("aliases", d.Aliases)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("compress.gzip", d.Compress.Gzip)
	v.SetDefault("compress.zstd", d.Compress.Zstd)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("watch.debounceMs", d.Watch.DebounceMs)
	v.SetDefault("watch.ignorePatterns", d.Watch.IgnorePatterns)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.maxSize", d.Logging.MaxSize)
	v.SetDefault("logging.maxBackups", d.Logging.MaxBackups)
}

func readAliases(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Aliases map[string]string `json:"aliases" toml:"aliases" yaml:"aliases"`
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read aliases from %s: %w", path, err)
	}
	return raw.Aliases, nil
}

// Resolve fills the defaults that depend on other fields.
func (c *Config) Resolve() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.DistPath == "" {
		c.DistPath = filepath.ToSlash(filepath.Join("dist", c.Mode, "js"))
	}
	if c.IndexFile == "" {
		c.IndexFile = filepath.ToSlash(filepath.Join(c.JSPath, "index.json"))
	}
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	if c.Aliases == nil {
		c.Aliases = map[string]string{}
	}
}

// Production reports whether output is minified.
func (c *Config) Production() bool {
	return c.Mode == ModeProd
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeProd {
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("%q is not one of dev, prod", c.Mode)}
	}
	if strings.TrimSpace(c.JSPath) == "" {
		return &ConfigError{Field: "jsPath", Message: "must not be empty"}
	}
	if c.ManifestName == "" || strings.ContainsAny(c.ManifestName, `/\`) {
		return &ConfigError{Field: "manifestName", Message: "must be a plain file name"}
	}
	if c.Watch.DebounceMs < 0 {
		return &ConfigError{Field: "watch.debounceMs", Message: "must not be negative"}
	}
	for _, pattern := range c.Watch.IgnorePatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return &ConfigError{Field: "watch.ignorePatterns", Message: fmt.Sprintf("bad pattern %q", pattern)}
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "human":
	default:
		return &ConfigError{Field: "logging.format", Message: fmt.Sprintf("%q is not one of text, json", c.Logging.Format)}
	}
	return nil
}

// Save writes the configuration as esmloader.json under root.
func (c *Config) Save(root string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, FileName+".json"), append(data, '\n'), 0644)
}

// Paths are the configured locations made absolute against a project root.
type Paths struct {
	Root        string
	JSPath      string
	DistPath    string
	IndexFile   string
	PackageFile string
	StateDir    string
}

// ResolvePaths makes every configured location absolute.
func (c *Config) ResolvePaths(root string) (Paths, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Root:        absRoot,
		JSPath:      paths.Resolve(absRoot, c.JSPath),
		DistPath:    paths.Resolve(absRoot, c.DistPath),
		IndexFile:   paths.Resolve(absRoot, c.IndexFile),
		PackageFile: paths.Resolve(absRoot, c.PackageFile),
		StateDir:    paths.StateDir(absRoot, c.Cache.Dir),
	}, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
