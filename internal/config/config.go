// ABOUTME: Configuration loading and parsing for live-companion
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/live-companion/internal/conversation"
)

const (
	// DefaultRealtimeURL is the realtime inference websocket endpoint
	DefaultRealtimeURL = "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"
	DefaultVoice       = "Cherry"
	DefaultLanguage    = "zh-CN"

	// APIKeyEnv supplies realtime.api_key when the file leaves it empty
	APIKeyEnv = "LIVE_COMPANION_API_KEY"
)

// Config represents the complete live-companion configuration
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime" toml:"realtime"`
	Storage  StorageConfig  `yaml:"storage" toml:"storage"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// RealtimeConfig holds the realtime service endpoint and session parameters
type RealtimeConfig struct {
	URL          string `yaml:"url" toml:"url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	Model        string `yaml:"model" toml:"model"`
	Voice        string `yaml:"voice" toml:"voice"`
	Instructions string `yaml:"instructions" toml:"instructions"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir      string `yaml:"data_dir" toml:"data_dir"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
	ImagesDir    string `yaml:"images_dir" toml:"images_dir"`
}

// SessionConfig holds live session behavior
type SessionConfig struct {
	EnableImageInput bool   `yaml:"enable_image_input" toml:"enable_image_input"`
	Language         string `yaml:"language" toml:"language"`
	Category         string `yaml:"category" toml:"category"`

	ReconnectDelay   time.Duration `yaml:"-" toml:"-"`
	ImageUnlockDelay time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectDelayRaw   string `yaml:"reconnect_delay" toml:"reconnect_delay"`
	ImageUnlockDelayRaw string `yaml:"image_unlock_delay" toml:"image_unlock_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if c.Realtime.APIKey == "" {
		c.Realtime.APIKey = os.Getenv(APIKeyEnv)
	}
	if c.Realtime.Model == "" {
		c.Realtime.Model = conversation.DefaultModel
	}
	if c.Realtime.Voice == "" {
		c.Realtime.Voice = DefaultVoice
	}

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir()
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = filepath.Join(c.Storage.DataDir, "live-companion.db")
	}
	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = filepath.Join(c.Storage.DataDir, "images")
	}

	if c.Session.Language == "" {
		c.Session.Language = DefaultLanguage
	}
	if c.Session.Category == "" {
		c.Session.Category = string(conversation.CategoryLiveAI)
	}
	if c.Session.ReconnectDelay == 0 {
		c.Session.ReconnectDelay = 400 * time.Millisecond
	}
	if c.Session.ImageUnlockDelay == 0 {
		c.Session.ImageUnlockDelay = time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Realtime.URL)
	if err != nil {
		return fmt.Errorf("realtime.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("realtime.url must use ws or wss, got %q", u.Scheme)
	}

	switch conversation.Category(c.Session.Category) {
	case conversation.CategoryLiveAI, conversation.CategoryLiveTranslate, conversation.CategoryLiveChat:
	default:
		return fmt.Errorf("session.category %q is not one of liveAI, liveTranslate, liveChat", c.Session.Category)
	}

	if c.Session.ReconnectDelay < 0 {
		return fmt.Errorf("session.reconnect_delay must not be negative")
	}
	if c.Session.ImageUnlockDelay < 0 {
		return fmt.Errorf("session.image_unlock_delay must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// RequireAPIKey reports an error when no realtime credentials are configured
func (c *Config) RequireAPIKey() error {
	if c.Realtime.APIKey == "" {
		return fmt.Errorf("realtime.api_key is required (or set %s)", APIKeyEnv)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.ReconnectDelayRaw != "" {
		cfg.Session.ReconnectDelay, err = time.ParseDuration(cfg.Session.ReconnectDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_delay %q: %w", cfg.Session.ReconnectDelayRaw, err)
		}
	}

	if cfg.Session.ImageUnlockDelayRaw != "" {
		cfg.Session.ImageUnlockDelay, err = time.ParseDuration(cfg.Session.ImageUnlockDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing image_unlock_delay %q: %w", cfg.Session.ImageUnlockDelayRaw, err)
		}
	}

	return nil
}

// Path returns the config file location: LIVE_COMPANION_CONFIG if set,
// otherwise $XDG_CONFIG_HOME/live-companion/config.yaml
func Path() string {
	if p := os.Getenv("LIVE_COMPANION_CONFIG"); p != "" {
		return p
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "live-companion", "config.yaml")
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "live-companion", "config.yaml")
}

// DefaultDataDir returns $XDG_DATA_HOME/live-companion, falling back to ~/.local/share
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "live-companion")
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "live-companion")
}
