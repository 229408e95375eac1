// Package config loads the client configuration file.
//
// Configuration lives in a TOML file, by default ~/.tt/config.toml, and
// every field has a built-in default so a missing file is a valid setup.
// Values present in the file override defaults; blank values fall back.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultConfigPath = "~/.tt/config.toml"
	defaultStorePath  = "~/.tt/tt.db"
	defaultBaseURL    = "http://localhost:8000"
)

// Duration wraps time.Duration so intervals read naturally in TOML,
// e.g. probe_interval = "30s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the on-disk client configuration.
type Config struct {
	API     API     `toml:"api"`
	Storage Storage `toml:"storage"`
	Sync    Sync    `toml:"sync"`
	Daemon  Daemon  `toml:"daemon"`
}

// API configures the TimeTracker server endpoint.
type API struct {
	BaseURL string `toml:"base_url"`
}

// Storage configures the local offline store.
type Storage struct {
	Path string `toml:"path"`

	// Driver selects the database/sql driver. Empty means the embedded
	// WASM driver; "libsql" is available on cgo builds.
	Driver string `toml:"driver"`
}

// Sync tunes delivery and connectivity timing.
type Sync struct {
	RequestTimeout Duration `toml:"request_timeout"`
	ProbeInterval  Duration `toml:"probe_interval"`
	WakeInterval   Duration `toml:"wake_interval"`
}

// Daemon configures the background sync process.
type Daemon struct {
	DebounceInterval Duration `toml:"debounce_interval"`
	LogPath          string   `toml:"log_path"`
	Dashboard        bool     `toml:"dashboard"`
	DashboardPort    int      `toml:"dashboard_port"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return mustExpand(defaultConfigPath)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API:     API{BaseURL: defaultBaseURL},
		Storage: Storage{Path: defaultStorePath},
		Sync: Sync{
			RequestTimeout: Duration(15 * time.Second),
			ProbeInterval:  Duration(30 * time.Second),
			WakeInterval:   Duration(5 * time.Minute),
		},
		Daemon: Daemon{
			DebounceInterval: Duration(2 * time.Second),
			DashboardPort:    8080,
		},
	}
}

// Load parses the config file at path, falling back to defaults when the
// file is missing. An empty path means the default location.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if _, err := os.Stat(resolved); errors.Is(err, os.ErrNotExist) {
		cfg.Storage.Path = mustExpand(cfg.Storage.Path)
		return cfg, nil
	}
	if _, err := toml.DecodeFile(resolved, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", resolved, err)
	}
	cfg.Storage.Path = mustExpand(cfg.Storage.Path)
	if cfg.Daemon.LogPath != "" {
		cfg.Daemon.LogPath = mustExpand(cfg.Daemon.LogPath)
	}
	return cfg, nil
}

// Validate checks field values after fallbacks have been applied.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api.base_url %q is not a valid URL", c.API.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	switch c.Storage.Driver {
	case "", "sqlite3", "libsql":
	default:
		return fmt.Errorf("storage.driver %q is not supported (sqlite3 or libsql)", c.Storage.Driver)
	}
	if c.Daemon.DashboardPort < 1 || c.Daemon.DashboardPort > 65535 {
		return fmt.Errorf("daemon.dashboard_port %d out of range", c.Daemon.DashboardPort)
	}
	return nil
}

// applyFallbacks replaces blank or non-positive values with defaults so a
// sparse config file still yields a complete configuration.
func (c *Config) applyFallbacks() {
	def := Default()
	c.API.BaseURL = strings.TrimSpace(c.API.BaseURL)
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}
	if c.Sync.RequestTimeout <= 0 {
		c.Sync.RequestTimeout = def.Sync.RequestTimeout
	}
	if c.Sync.ProbeInterval <= 0 {
		c.Sync.ProbeInterval = def.Sync.ProbeInterval
	}
	if c.Sync.WakeInterval <= 0 {
		c.Sync.WakeInterval = def.Sync.WakeInterval
	}
	if c.Daemon.DebounceInterval <= 0 {
		c.Daemon.DebounceInterval = def.Daemon.DebounceInterval
	}
	if c.Daemon.DashboardPort == 0 {
		c.Daemon.DashboardPort = def.Daemon.DashboardPort
	}
	c.Daemon.LogPath = strings.TrimSpace(c.Daemon.LogPath)
	c.Storage.Driver = strings.TrimSpace(c.Storage.Driver)
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
