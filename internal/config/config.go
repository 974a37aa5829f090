// ABOUTME: Configuration loading and parsing for coven-chat
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

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-chat/internal/chat"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "COVEN_CHAT_CONFIG"

// Config represents the complete coven-chat configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Chat    ChatConfig    `yaml:"chat" toml:"chat"`
	Archive ArchiveConfig `yaml:"archive" toml:"archive"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ServerConfig locates the remote execution service
type ServerConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
	UserID  string `yaml:"user_id" toml:"user_id"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// ChatConfig holds dispatch behaviour
type ChatConfig struct {
	DefaultTarget TargetConfig `yaml:"default_target" toml:"default_target"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`
}

// TargetConfig names the target used for messages without mentions
type TargetConfig struct {
	Kind string `yaml:"kind" toml:"kind"`
	ID   string `yaml:"id" toml:"id"`
}

// ArchiveConfig holds the local session archive settings
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults returns the values used for every field a file leaves empty.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			BaseURL:           "http://localhost:7777",
			RequestTimeoutRaw: "10m",
		},
		Chat: ChatConfig{
			DefaultTarget: TargetConfig{Kind: string(chat.KindAgent)},
			DedupeTTLRaw:  "3s",
			DedupeSize:    1024,
		},
		Archive: ArchiveConfig{
			Path: defaultArchivePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
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
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(&cfg)
}

// LoadOrDefault loads path when it exists and falls back to Defaults when it
// does not. Any other read or parse failure is returned.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}
	cfg := Defaults()
	return finish(&cfg)
}

// Path returns the config file location: $COVEN_CHAT_CONFIG, then
// $XDG_CONFIG_HOME/coven/chat.yaml, then ~/.config/coven/chat.yaml.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coven", "chat.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "coven", "chat.yaml")
	}
	return filepath.Join(home, ".config", "coven", "chat.yaml")
}

func finish(cfg *Config) (*Config, error) {
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("server.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.base_url must use http or https scheme")
	}

	switch chat.TargetKind(c.Chat.DefaultTarget.Kind) {
	case chat.KindAgent, chat.KindTeam, chat.KindWorkflow:
	default:
		return fmt.Errorf("chat.default_target.kind must be agent, team or workflow, got %q", c.Chat.DefaultTarget.Kind)
	}
	if c.Chat.DedupeSize < 1 {
		return fmt.Errorf("chat.dedupe_size must be positive")
	}

	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive.path is required when the archive is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.RequestTimeoutRaw != "" {
		cfg.Server.RequestTimeout, err = time.ParseDuration(cfg.Server.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.Server.RequestTimeoutRaw, err)
		}
	}

	if cfg.Chat.DedupeTTLRaw != "" {
		cfg.Chat.DedupeTTL, err = time.ParseDuration(cfg.Chat.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Chat.DedupeTTLRaw, err)
		}
	}

	return nil
}

// DefaultKind is the configured default target kind.
func (c *Config) DefaultKind() chat.TargetKind {
	return chat.TargetKind(c.Chat.DefaultTarget.Kind)
}

func defaultArchivePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "coven", "chat.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "coven-chat.db"
	}
	return filepath.Join(home, ".local", "share", "coven", "chat.db")
}
