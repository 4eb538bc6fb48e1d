// Package config loads convosync configuration from file and environment.
//
// Configuration is read with viper from $CONVOSYNC_DATA_DIR/config.yaml
// (default ~/.convosync), with CONVOSYNC_* environment variables
// overriding file values. Every knob has a default, so a missing config
// file is fine.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration.
type Config struct {
	// DataDir holds the database, credential and inbox paths by default.
	DataDir string `mapstructure:"data_dir"`

	// DBPath is the SQLite conversation store.
	DBPath string `mapstructure:"db_path"`

	// InboxDir is the record drop directory watched by the daemon.
	InboxDir string `mapstructure:"inbox_dir"`

	// TokenPath is where the remote credential is persisted.
	TokenPath string `mapstructure:"token_path"`

	// DeviceID optionally tags pushed snapshots.
	DeviceID string `mapstructure:"device_id"`

	Gist      GistConfig      `mapstructure:"gist"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// GistConfig configures the remote blob transport.
type GistConfig struct {
	APIBase     string `mapstructure:"api_base"`
	Description string `mapstructure:"description"`
	Filename    string `mapstructure:"filename"`
	OwnerTag    string `mapstructure:"owner_tag"`

	// TimeoutSeconds bounds each HTTP request.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	DebounceSeconds     int `mapstructure:"debounce_seconds"`
	ChangeThreshold     int `mapstructure:"change_threshold"`
	MinIntervalSeconds  int `mapstructure:"min_interval_seconds"`
	MaxAttempts         int `mapstructure:"max_attempts"`
	RetryBackoffSeconds int `mapstructure:"retry_backoff_seconds"`
}

// DashboardConfig configures the status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LogConfig configures rotating file logging for the daemon.
type LogConfig struct {
	// File is the log file path; empty means stderr only.
	File string `mapstructure:"file"`

	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
	MaxAgeDays int `mapstructure:"max_age_days"`
}

// DefaultDataDir returns ~/.convosync, falling back to the working
// directory when the home directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".convosync"
	}
	return filepath.Join(home, ".convosync")
}

// Load resolves configuration from the data dir's config.yaml and the
// environment. dataDir may be empty to use the default.
func Load(dataDir string) (*Config, error) {
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	v.SetEnvPrefix("CONVOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db_path", filepath.Join(dataDir, "conversations.db"))
	v.SetDefault("inbox_dir", filepath.Join(dataDir, "inbox"))
	v.SetDefault("token_path", filepath.Join(dataDir, "token"))
	v.SetDefault("device_id", "")

	v.SetDefault("gist.api_base", "https://api.github.com")
	v.SetDefault("gist.description", "convosync conversation backup")
	v.SetDefault("gist.filename", "convosync-backup.json")
	v.SetDefault("gist.owner_tag", "convosync")
	v.SetDefault("gist.timeout_seconds", 30)

	v.SetDefault("sync.debounce_seconds", 30)
	v.SetDefault("sync.change_threshold", 5)
	v.SetDefault("sync.min_interval_seconds", 60)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.retry_backoff_seconds", 5)

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8799)

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Debounce returns the debounce delay before a scheduled sync.
func (c *SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds) * time.Second
}

// MinInterval returns the threshold-trigger spacing.
func (c *SyncConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

// RetryBackoff returns the linear backoff base.
func (c *SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// Timeout returns the per-request HTTP bound.
func (c *GistConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
