// Package config loads sync configuration from .sage/config.yaml with
// SAGE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Tracker configures the external issue tracker connection.
type Tracker struct {
	Owner   string        `mapstructure:"owner"`
	Repo    string        `mapstructure:"repo"`
	Token   string        `mapstructure:"token"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

// Log configures the rotating sync log.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full sync configuration.
type Config struct {
	// Dir is the data directory holding the canonical store, projections,
	// cache, and reports. Relative paths resolve against the working
	// directory.
	Dir string `mapstructure:"dir"`

	Parallelism int `mapstructure:"parallelism"`

	Tracker Tracker `mapstructure:"tracker"`
	Log     Log     `mapstructure:"log"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Dir: ".sage",
		Log: Log{
			File:       "logs/sync.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Tracker: Tracker{
			Timeout: 10 * time.Second,
			Retries: 3,
		},
	}
}

// Load reads .sage/config.yaml under dir, if present, and applies SAGE_*
// environment overrides (SAGE_TRACKER_TOKEN, SAGE_TRACKER_OWNER, ...).
// A missing config file is not an error; defaults apply.
func Load(dir string) (*Config, error) {
	cfg := Default()
	if dir != "" {
		cfg.Dir = dir
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(cfg.Dir, "config.yaml"))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Tracker.Timeout <= 0 {
		cfg.Tracker.Timeout = 10 * time.Second
	}
	if cfg.Tracker.Retries <= 0 {
		cfg.Tracker.Retries = 3
	}
	return cfg, nil
}

// bindEnvKeys registers the nested keys so AutomaticEnv sees them even when
// the config file omits the section.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"dir",
		"parallelism",
		"tracker.owner",
		"tracker.repo",
		"tracker.token",
		"tracker.base_url",
		"log.file",
	} {
		_ = v.BindEnv(key)
	}
}

// StorePath returns the canonical record store location.
func (c *Config) StorePath() string { return filepath.Join(c.Dir, "tickets.json") }

// ProjectionDir returns the markdown projection directory.
func (c *Config) ProjectionDir() string { return filepath.Join(c.Dir, "tickets") }

// CachePath returns the SQLite query cache location.
func (c *Config) CachePath() string { return filepath.Join(c.Dir, "cache.db") }

// ReportPath returns the last-run report location.
func (c *Config) ReportPath() string { return filepath.Join(c.Dir, "report.json") }

// HistoryPath returns the append-only run journal location.
func (c *Config) HistoryPath() string { return filepath.Join(c.Dir, "history.jsonl") }

// LogPath returns the rotating log file location, resolved against Dir
// when relative.
func (c *Config) LogPath() string {
	if filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.Dir, c.Log.File)
}

// TrackerEnabled reports whether an external tracker is configured.
func (c *Config) TrackerEnabled() bool {
	return c.Tracker.Owner != "" && c.Tracker.Repo != ""
}
