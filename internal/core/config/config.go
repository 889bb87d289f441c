// Package config handles configuration loading and validation for daybook.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/colonyops/daybook/internal/core/docstore"
	"github.com/colonyops/daybook/internal/core/styles"
	"github.com/colonyops/daybook/internal/core/todo"
	"gopkg.in/yaml.v3"
)

// BackendType names a document store backend.
type BackendType string

const (
	BackendMemory   BackendType = "memory"
	BackendJSONFile BackendType = "jsonfile"
	BackendSQLite   BackendType = "sqlite"
	BackendRedis    BackendType = "redis"
	BackendRemote   BackendType = "remote"
)

// IsValid reports whether t is a known backend.
func (t BackendType) IsValid() bool {
	switch t {
	case BackendMemory, BackendJSONFile, BackendSQLite, BackendRedis, BackendRemote:
		return true
	default:
		return false
	}
}

// Config holds the application configuration.
type Config struct {
	// Namespace is the document namespace items live in.
	Namespace string `yaml:"namespace"`
	// Device identifies this installation's writes. Empty mints a fresh id
	// per process.
	Device       string        `yaml:"device"`
	Timezone     string        `yaml:"timezone"`
	DefaultEmoji string        `yaml:"default_emoji"`
	Sort         string        `yaml:"sort"`
	Theme        string        `yaml:"theme"`
	Backend      BackendConfig `yaml:"backend"`
	Sync         SyncConfig    `yaml:"sync"`
	LLM          LLMConfig     `yaml:"llm"`
	Server       ServerConfig  `yaml:"server"`
	DataDir      string        `yaml:"-"` // set by caller, not from config file
}

// BackendConfig selects and configures the document store backend.
type BackendConfig struct {
	Type BackendType `yaml:"type"`
	// Dir is the jsonfile root. Defaults to <data dir>/documents.
	Dir    string       `yaml:"dir"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Redis  RedisConfig  `yaml:"redis"`
	Remote RemoteConfig `yaml:"remote"`
}

// SQLiteConfig holds SQLite backend settings.
type SQLiteConfig struct {
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RemoteConfig holds settings for the daybook document server client.
type RemoteConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SyncConfig tunes the reconciliation engine.
type SyncConfig struct {
	SettleDelay   time.Duration `yaml:"settle_delay"`
	RoutineMaxAge time.Duration `yaml:"routine_max_age"`
}

// LLMConfig configures the action interpreter's model provider.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

// ServerConfig configures `daybook serve`.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	Token        string `yaml:"token"`
	ReadToken    string `yaml:"read_token"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:    docstore.DefaultNamespace,
		DefaultEmoji: "📝",
		Sort:         string(todo.SortNewest),
		Theme:        styles.DefaultTheme,
		Backend: BackendConfig{
			Type: BackendJSONFile,
			SQLite: SQLiteConfig{
				MaxOpenConns: 10,
				MaxIdleConns: 5,
				BusyTimeout:  5 * time.Second,
				PollInterval: 500 * time.Millisecond,
			},
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "daybook",
			},
			Remote: RemoteConfig{
				URL:        "http://127.0.0.1:8080",
				Timeout:    15 * time.Second,
				MaxRetries: 3,
			},
		},
		Sync: SyncConfig{
			SettleDelay:   300 * time.Millisecond,
			RoutineMaxAge: 24 * time.Hour,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 20 * time.Second,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			MaxBodyBytes: 1 << 20,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Namespace == "" {
		c.Namespace = defaults.Namespace
	}
	if c.Sort == "" {
		c.Sort = defaults.Sort
	}
	if c.Theme == "" {
		c.Theme = defaults.Theme
	}
	if c.Backend.Type == "" {
		c.Backend.Type = defaults.Backend.Type
	}
	if c.Backend.Dir == "" && c.DataDir != "" {
		c.Backend.Dir = filepath.Join(c.DataDir, "documents")
	}

	sq := &c.Backend.SQLite
	if sq.MaxOpenConns == 0 {
		sq.MaxOpenConns = defaults.Backend.SQLite.MaxOpenConns
	}
	if sq.MaxIdleConns == 0 {
		sq.MaxIdleConns = defaults.Backend.SQLite.MaxIdleConns
	}
	if sq.BusyTimeout == 0 {
		sq.BusyTimeout = defaults.Backend.SQLite.BusyTimeout
	}
	if sq.PollInterval == 0 {
		sq.PollInterval = defaults.Backend.SQLite.PollInterval
	}

	if c.Backend.Redis.Addr == "" {
		c.Backend.Redis.Addr = defaults.Backend.Redis.Addr
	}
	if c.Backend.Redis.Prefix == "" {
		c.Backend.Redis.Prefix = defaults.Backend.Redis.Prefix
	}

	if c.Backend.Remote.URL == "" {
		c.Backend.Remote.URL = defaults.Backend.Remote.URL
	}
	if c.Backend.Remote.Timeout == 0 {
		c.Backend.Remote.Timeout = defaults.Backend.Remote.Timeout
	}

	if c.Sync.SettleDelay == 0 {
		c.Sync.SettleDelay = defaults.Sync.SettleDelay
	}
	if c.Sync.RoutineMaxAge == 0 {
		c.Sync.RoutineMaxAge = defaults.Sync.RoutineMaxAge
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaults.LLM.BaseURL
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaults.LLM.Model
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = defaults.LLM.Timeout
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
}

// Validate checks that the configuration is structurally valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if err := docstore.ValidateNamespace(c.Namespace); err != nil {
		return fmt.Errorf("namespace: %w", err)
	}

	if !c.Backend.Type.IsValid() {
		return fmt.Errorf("backend.type %q is not one of memory, jsonfile, sqlite, redis, remote", c.Backend.Type)
	}

	if !todo.SortOrder(c.Sort).IsValid() {
		return fmt.Errorf("sort %q is not a valid sort order", c.Sort)
	}

	if _, ok := styles.GetPalette(c.Theme); !ok {
		return fmt.Errorf("theme %q is not one of %v", c.Theme, styles.ThemeNames())
	}

	if c.Backend.Remote.MaxRetries < 0 {
		return fmt.Errorf("backend.remote.max_retries cannot be negative")
	}

	if c.Sync.SettleDelay < 0 {
		return fmt.Errorf("sync.settle_delay cannot be negative")
	}

	if c.Server.Token != "" && c.Server.Token == c.Server.ReadToken {
		return fmt.Errorf("server.token and server.read_token must differ")
	}

	return nil
}

// SQLitePath returns the path of the SQLite database file.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "daybook.db")
}

// LogFile returns the default log file path.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "daybook.log")
}

// Location returns the configured timezone, or local time when unset.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}
