// Package config loads qfleet configuration from a YAML file, a .env file
// and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderType selects the persistence topology.
type ProviderType string

const (
	ProviderLocal  ProviderType = "local"
	ProviderRemote ProviderType = "remote"
	ProviderHybrid ProviderType = "hybrid"
)

// Privacy is the default access level for new memory entries.
type Privacy string

const (
	PrivacyPrivate Privacy = "private"
	PrivacyTeam    Privacy = "team"
	PrivacyPublic  Privacy = "public"
)

// Config holds all qfleet configuration.
type Config struct {
	ProjectID string `yaml:"project_id"`

	Provider    ProviderType `yaml:"provider"`
	DatabaseDir string       `yaml:"database_dir"`

	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`

	DefaultPrivacy Privacy `yaml:"default_privacy"`
	AutoShare      bool    `yaml:"auto_share"`
	AutoImport     bool    `yaml:"auto_import"`

	Logging LoggingConfig `yaml:"logging"`
}

// RemoteConfig points at the remote store.
type RemoteConfig struct {
	URL        string `yaml:"url"`
	AnonKey    string `yaml:"anon_key"`
	ServiceKey string `yaml:"service_key"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	IntervalMs    int `yaml:"interval_ms"`
	DebounceMs    int `yaml:"debounce_ms"`
	MaxQueueSize  int `yaml:"max_queue_size"`
	RetryAttempts int `yaml:"retry_attempts"`
	RetryDelayMs  int `yaml:"retry_delay_ms"`
	// ConflictStrategy: local, remote or newest.
	ConflictStrategy string `yaml:"conflict_strategy"`
}

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
	Dir       string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:       ProviderLocal,
		DatabaseDir:    ".qfleet",
		DefaultPrivacy: PrivacyPrivate,
		Sync: SyncConfig{
			IntervalMs:       30000,
			DebounceMs:       1000,
			MaxQueueSize:     100,
			RetryAttempts:    3,
			RetryDelayMs:     1000,
			ConflictStrategy: "newest",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration: defaults, then the YAML file at path (missing
// file is fine), then a .env file next to it, then process env overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// A .env beside the config file is loaded without clobbering
		// variables already present in the environment.
		_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("QFLEET_REMOTE_URL"); v != "" {
		c.Remote.URL = v
	}
	if v := os.Getenv("QFLEET_REMOTE_ANON_KEY"); v != "" {
		c.Remote.AnonKey = v
	}
	if v := os.Getenv("QFLEET_REMOTE_SERVICE_KEY"); v != "" {
		c.Remote.ServiceKey = v
	}
	if v := os.Getenv("QFLEET_PROJECT_ID"); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv("QFLEET_PROVIDER"); v != "" {
		c.Provider = ProviderType(v)
	}
	if v := os.Getenv("QFLEET_DEFAULT_PRIVACY"); v != "" {
		c.DefaultPrivacy = Privacy(v)
	}
	if v := os.Getenv("QFLEET_AUTO_SHARE"); v != "" {
		c.AutoShare = parseBool(v)
	}
	if v := os.Getenv("QFLEET_AUTO_IMPORT"); v != "" {
		c.AutoImport = parseBool(v)
	}
	if v := os.Getenv("QFLEET_SYNC_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Sync.IntervalMs = ms
		}
	}
	if v := os.Getenv("QFLEET_DB_DIR"); v != "" {
		c.DatabaseDir = v
	}
	if v := os.Getenv("QFLEET_DEBUG"); v != "" {
		c.Logging.DebugMode = parseBool(v)
	}
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderLocal, ProviderRemote, ProviderHybrid:
	default:
		return fmt.Errorf("invalid provider type %q", c.Provider)
	}
	switch c.DefaultPrivacy {
	case PrivacyPrivate, PrivacyTeam, PrivacyPublic:
	default:
		return fmt.Errorf("invalid default privacy %q", c.DefaultPrivacy)
	}
	if c.Provider != ProviderLocal && c.Remote.URL == "" {
		return fmt.Errorf("provider %q requires a remote URL", c.Provider)
	}
	switch c.Sync.ConflictStrategy {
	case "local", "remote", "newest":
	default:
		return fmt.Errorf("invalid conflict strategy %q", c.Sync.ConflictStrategy)
	}
	return nil
}

// DatabasePath returns the local SQLite file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DatabaseDir, "qfleet.db")
}

// LogDir returns the logging directory, defaulting next to the database.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return filepath.Join(c.DatabaseDir, "logs")
}

// SyncInterval returns the background sync interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMs) * time.Millisecond
}

// Debounce returns the flush debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Sync.DebounceMs) * time.Millisecond
}

// RetryDelay returns the base retry delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Sync.RetryDelayMs) * time.Millisecond
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
