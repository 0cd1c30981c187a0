// Package config provides configuration loading for codegraph.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up from the target repository
// root upward.
const FileName = "codegraph.yaml"

// Config is the complete codegraph configuration.
type Config struct {
	DB       DBConfig       `yaml:"db"`
	Index    IndexConfig    `yaml:"index"`
	Resolver ResolverConfig `yaml:"resolver"`
	Query    QueryConfig    `yaml:"query"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Log      LogConfig      `yaml:"log"`
}

// DBConfig configures graph persistence.
type DBConfig struct {
	// Path is the SQLite database file. Relative paths resolve against the
	// indexed repository root.
	Path string `yaml:"path"`
}

// IndexConfig configures batch construction.
type IndexConfig struct {
	// Workers bounds concurrent per-file ingestion.
	Workers int `yaml:"workers"`
}

// ResolverConfig configures call resolution policy.
type ResolverConfig struct {
	// CrossFile permits resolving a bare callee name to a same-named
	// function defined in another file. The match is a heuristic.
	CrossFile bool `yaml:"cross_file"`
}

// QueryConfig configures the dependency query service.
type QueryConfig struct {
	// MaxHops caps transitive traversals when the caller passes no bound.
	MaxHops int `yaml:"max_hops"`
	// CacheSize bounds the memoized query cache. Zero disables it.
	CacheSize int `yaml:"cache_size"`
}

// FetchConfig configures remote repository fetching.
type FetchConfig struct {
	// CacheDir overrides where fetched snapshots land. Empty selects the
	// XDG default.
	CacheDir string `yaml:"cache_dir"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns a Config with working defaults.
func Default() *Config {
	return &Config{
		DB:       DBConfig{Path: ".codegraph.db"},
		Index:    IndexConfig{Workers: runtime.NumCPU()},
		Resolver: ResolverConfig{CrossFile: true},
		Query:    QueryConfig{MaxHops: 5, CacheSize: 256},
		Log:      LogConfig{Level: "info"},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("index.workers must be at least 1")
	}
	if c.Query.MaxHops < 1 {
		return fmt.Errorf("query.max_hops must be at least 1")
	}
	if c.Query.CacheSize < 0 {
		return fmt.Errorf("query.cache_size must not be negative")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q: expected debug, info, warn, or error", c.Log.Level)
}

// LoadFromFile reads a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Discover searches for a codegraph.yaml from start upward to the filesystem
// root. Defaults apply when none exists.
func Discover(start string) (*Config, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFromFile(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}
