package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/hashstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/l3aro/go-bundle/internal/log"
	"github.com/l3aro/go-bundle/pkg/build"
	"github.com/l3aro/go-bundle/pkg/generate"
	"github.com/l3aro/go-bundle/pkg/resolver"
)

// Mode selects the build defaults.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// Output configures where and how chunks are written.
type Output struct {
	Path         string `yaml:"path"`
	PublicPath   string `yaml:"public_path"`
	FilenameHash bool   `yaml:"filename_hash"`
	RuntimeChunk bool   `yaml:"runtime_chunk"`
}

// Resolve configures module resolution.
type Resolve struct {
	Extensions []string          `yaml:"extensions"`
	Alias      map[string]string `yaml:"alias,omitempty"`
	MainFields []string          `yaml:"main_fields"`
	Conditions []string          `yaml:"conditions"`
}

// Optimization toggles the production optimizations.
type Optimization struct {
	TreeShaking        bool `yaml:"tree_shaking"`
	ConcatenateModules bool `yaml:"concatenate_modules"`
}

// Watch configures the polling watcher.
type Watch struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Ignore       []string      `yaml:"ignore,omitempty"`
}

// HMR configures the dev server.
type HMR struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Cache configures the persisted analysis cache.
type Cache struct {
	Enabled    bool   `yaml:"enabled"`
	Dir        string `yaml:"dir"`
	MaxEntries int    `yaml:"max_entries"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds all configuration for go-bundle. Fields tagged hash:"ignore"
// do not change build output and are left out of Fingerprint.
type Config struct {
	// Root is the project directory; relative paths are resolved against it.
	Root string `yaml:"root"`

	// Entry maps entry names to files relative to Root.
	Entry map[string]string `yaml:"entry"`

	Output       Output            `yaml:"output"`
	Mode         Mode              `yaml:"mode"`
	Resolve      Resolve           `yaml:"resolve"`
	Externals    map[string]string `yaml:"externals,omitempty"`
	Optimization Optimization      `yaml:"optimization"`

	Watch       Watch `yaml:"watch" hash:"ignore"`
	HMR         HMR   `yaml:"hmr" hash:"ignore"`
	Parallelism int   `yaml:"parallelism" hash:"ignore"`
	Cache       Cache `yaml:"cache" hash:"ignore"`
	Stats       bool  `yaml:"stats" hash:"ignore"`
	Log         Log   `yaml:"log" hash:"ignore"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Root:  ".",
		Entry: map[string]string{"index": "src/index.js"},
		Output: Output{
			Path:       "dist",
			PublicPath: "/",
		},
		Mode: ModeProduction,
		Resolve: Resolve{
			Extensions: []string{".js", ".mjs", ".cjs", ".json", ".css"},
			MainFields: []string{"browser", "module", "main"},
			Conditions: []string{"browser", "import", "module"},
		},
		Optimization: Optimization{
			TreeShaking:        true,
			ConcatenateModules: true,
		},
		Watch: Watch{
			PollInterval: 300 * time.Millisecond,
		},
		HMR: HMR{
			Enabled: true,
			Host:    "localhost",
			Port:    8080,
		},
		Cache: Cache{
			Enabled:    true,
			Dir:        ".gbl/cache",
			MaxEntries: 4096,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// globalConfigFilePath returns the global config file path (~/.gbl/config.yaml)
func globalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gbl/config.yaml"
	}
	return filepath.Join(home, ".gbl", "config.yaml")
}

// ProjectConfigFilePath returns the project-level config file path (./.gbl/config.yaml)
func ProjectConfigFilePath() string {
	return filepath.Join(".gbl", "config.yaml")
}

// Load reads configuration with the following priority (highest to lowest):
// 1. Environment variables (a ./.env file is read first and never overrides
// variables already set)
// 2. Project-level config (./.gbl/config.yaml)
// 3. Global config (~/.gbl/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range []string{globalConfigFilePath(), ProjectConfigFilePath()} {
		if err := readInto(cfg, path, false); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads configuration from a specific YAML file path. The .env
// file next to it is honored.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := readInto(cfg, path, true); err != nil {
		return nil, err
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readInto(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	// yaml merges into existing maps; a file that names entries replaces them.
	var probe struct {
		Entry map[string]string `yaml:"entry"`
	}
	if err := yaml.Unmarshal(data, &probe); err == nil && probe.Entry != nil {
		cfg.Entry = nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration to the specified YAML file path.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies GBL_* environment variables to the config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("GBL_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("GBL_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("GBL_OUTPUT_PATH"); v != "" {
		cfg.Output.Path = v
	}
	if v := os.Getenv("GBL_PUBLIC_PATH"); v != "" {
		cfg.Output.PublicPath = v
	}
	if v := os.Getenv("GBL_HMR_HOST"); v != "" {
		cfg.HMR.Host = v
	}
	if v := os.Getenv("GBL_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("GBL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"GBL_HMR_PORT", &cfg.HMR.Port},
		{"GBL_PARALLELISM", &cfg.Parallelism},
		{"GBL_CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", e.name, err)
			}
			*e.dst = i
		}
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"GBL_FILENAME_HASH", &cfg.Output.FilenameHash},
		{"GBL_RUNTIME_CHUNK", &cfg.Output.RuntimeChunk},
		{"GBL_TREE_SHAKING", &cfg.Optimization.TreeShaking},
		{"GBL_CONCATENATE_MODULES", &cfg.Optimization.ConcatenateModules},
		{"GBL_HMR_ENABLED", &cfg.HMR.Enabled},
		{"GBL_CACHE_ENABLED", &cfg.Cache.Enabled},
		{"GBL_STATS", &cfg.Stats},
		{"GBL_LOG_JSON", &cfg.Log.JSON},
	}
	for _, e := range bools {
		if v := os.Getenv(e.name); v != "" {
			*e.dst = parseBool(v)
		}
	}

	if v := os.Getenv("GBL_WATCH_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GBL_WATCH_POLL_INTERVAL: %w", err)
		}
		cfg.Watch.PollInterval = d
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks that the configuration has valid required fields
func (c *Config) Validate() error {
	if len(c.Entry) == 0 {
		return fmt.Errorf("at least one entry is required")
	}
	for name, path := range c.Entry {
		if name == "" {
			return fmt.Errorf("entry names must not be empty")
		}
		if path == "" {
			return fmt.Errorf("entry %q has no path", name)
		}
	}

	switch c.Mode {
	case ModeProduction, ModeDevelopment:
	default:
		return fmt.Errorf("invalid mode: %s (must be 'production' or 'development')", c.Mode)
	}

	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	for _, ext := range c.Resolve.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("resolve.extensions must start with a dot: %q", ext)
		}
	}

	if c.Watch.PollInterval < 0 {
		return fmt.Errorf("watch.poll_interval must be non-negative")
	}
	if c.HMR.Port < 0 || c.HMR.Port > 65535 {
		return fmt.Errorf("hmr.port must be between 0 and 65535")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("parallelism must be non-negative")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be non-negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Fingerprint hashes the settings that change build output. Persisted caches
// written under a different fingerprint are discarded.
func (c *Config) Fingerprint() (uint64, error) {
	h, err := hashstructure.Hash(c, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to fingerprint config: %w", err)
	}
	return h, nil
}

// AbsRoot returns Root as an absolute path.
func (c *Config) AbsRoot() (string, error) {
	return filepath.Abs(c.Root)
}

// path resolves p against the root.
func (c *Config) path(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// OutDir returns the absolute output directory.
func (c *Config) OutDir() (string, error) {
	root, err := c.AbsRoot()
	if err != nil {
		return "", err
	}
	return c.path(root, c.Output.Path), nil
}

// CacheDir returns the absolute cache directory.
func (c *Config) CacheDir() (string, error) {
	root, err := c.AbsRoot()
	if err != nil {
		return "", err
	}
	return c.path(root, c.Cache.Dir), nil
}

// ResolverOptions maps the resolve section to resolver options.
func (c *Config) ResolverOptions() (resolver.Options, error) {
	root, err := c.AbsRoot()
	if err != nil {
		return resolver.Options{}, err
	}
	opts := resolver.DefaultOptions(root)
	if len(c.Resolve.Extensions) > 0 {
		opts.Extensions = c.Resolve.Extensions
	}
	if len(c.Resolve.MainFields) > 0 {
		opts.MainFields = c.Resolve.MainFields
	}
	if len(c.Resolve.Conditions) > 0 {
		opts.Conditions = c.Resolve.Conditions
	}
	opts.Alias = c.Resolve.Alias
	opts.Externals = c.Externals
	return opts, nil
}

// BuildOptions maps the config to compiler options. Development mode turns
// off the production optimizations and filename hashing; watch adds the hot
// update client when HMR is enabled.
func (c *Config) BuildOptions(watch bool) (build.Options, error) {
	outDir, err := c.OutDir()
	if err != nil {
		return build.Options{}, err
	}
	production := c.Mode == ModeProduction
	opts := build.Options{
		Entries:     c.Entry,
		OutDir:      outDir,
		TreeShaking: production && c.Optimization.TreeShaking,
		Watch:       watch,
		Stats:       c.Stats,
		Parallelism: c.Parallelism,
		Generate: generate.Options{
			PublicPath:   c.Output.PublicPath,
			FilenameHash: production && c.Output.FilenameHash,
			RuntimeChunk: c.Output.RuntimeChunk,
			Concatenate:  production && c.Optimization.ConcatenateModules,
			HMR:          watch && c.HMR.Enabled,
		},
	}
	return opts, nil
}

// Addr returns the dev server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HMR.Host, c.HMR.Port)
}

// Logger creates the logger described by the log section.
func (c *Config) Logger() log.Logger {
	level, _ := log.ParseLevel(c.Log.Level)
	return log.New(log.LoggerConfig{Level: level, JSONOutput: c.Log.JSON})
}
