// Package config provides YAML-based configuration loading for Crier.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Crier configuration, loaded from crier.yaml.
type Config struct {
	Bot         BotConfig         `yaml:"bot"`
	Cooldown    CooldownConfig    `yaml:"cooldown"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Platform    PlatformConfig    `yaml:"platform"`
	Database    DatabaseConfig    `yaml:"database"`
	Health      HealthConfig      `yaml:"health"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Log         LogConfig         `yaml:"log"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// BotConfig holds the command grammar and mention rules.
type BotConfig struct {
	Name               string   `yaml:"name"`
	Prefix             string   `yaml:"prefix"`
	MaxMentions        int      `yaml:"max_mentions"`
	DefaultCountryCode string   `yaml:"default_country_code"`
	CountryPrefixes    []string `yaml:"country_prefixes"`
	NationalLength     int      `yaml:"national_length"`
}

// CooldownConfig holds the per-command cooldown windows.
type CooldownConfig struct {
	Broadcast time.Duration `yaml:"broadcast"`
	Mention   time.Duration `yaml:"mention"`
}

// SupervisorConfig controls the connection lifecycle.
type SupervisorConfig struct {
	Backoff            BackoffConfig `yaml:"backoff"`
	LivenessInterval   time.Duration `yaml:"liveness_interval"`
	StartTimeout       time.Duration `yaml:"start_timeout"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
	Workers            int           `yaml:"workers"`
	ResolveConcurrency int           `yaml:"resolve_concurrency"`
}

// BackoffConfig is the restart schedule. Disconnect and Launch are the base
// delays for the two failure classes; both double per consecutive attempt
// up to Max, with ±Jitter applied.
type BackoffConfig struct {
	Disconnect time.Duration `yaml:"disconnect"`
	Launch     time.Duration `yaml:"launch"`
	Max        time.Duration `yaml:"max"`
	Jitter     float64       `yaml:"jitter"`
}

// PlatformConfig selects the chat platform and its credentials.
type PlatformConfig struct {
	Name    string        `yaml:"name"` // "discord" or "slack"
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DatabaseConfig holds contact book storage settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// HealthConfig controls the liveness HTTP server.
type HealthConfig struct {
	Disabled bool `yaml:"disabled"`
	Port     int  `yaml:"port"`
}

// RecoveryConfig controls where pairing challenges are written.
type RecoveryConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
	Dir    string `yaml:"dir"`    // optional directory for daily log files
}

// MaintenanceConfig holds cron specs for periodic jobs.
type MaintenanceConfig struct {
	Heartbeat string `yaml:"heartbeat"`
	Reap      string `yaml:"reap"`
}

// Load reads a YAML config file from path and returns a validated Config.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Bot.Name == "" {
		c.Bot.Name = "Crier"
	}
	if c.Bot.Prefix == "" {
		c.Bot.Prefix = "."
	}
	if c.Bot.MaxMentions == 0 {
		c.Bot.MaxMentions = 10
	}
	if c.Bot.DefaultCountryCode == "" {
		c.Bot.DefaultCountryCode = "52"
	}
	if c.Bot.CountryPrefixes == nil {
		c.Bot.CountryPrefixes = []string{"1", "52", "55", "57"}
	}
	if c.Bot.NationalLength == 0 {
		c.Bot.NationalLength = 10
	}

	if c.Cooldown.Broadcast == 0 {
		c.Cooldown.Broadcast = 30 * time.Second
	}
	if c.Cooldown.Mention == 0 {
		c.Cooldown.Mention = 5 * time.Second
	}

	s := &c.Supervisor
	if s.Backoff.Disconnect == 0 {
		s.Backoff.Disconnect = 5 * time.Second
	}
	if s.Backoff.Launch == 0 {
		s.Backoff.Launch = 30 * time.Second
	}
	if s.Backoff.Max == 0 {
		s.Backoff.Max = 2 * time.Minute
	}
	if s.Backoff.Jitter == 0 {
		s.Backoff.Jitter = 0.2
	}
	if s.LivenessInterval == 0 {
		s.LivenessInterval = time.Second
	}
	if s.StartTimeout == 0 {
		s.StartTimeout = 60 * time.Second
	}
	if s.CallTimeout == 0 {
		s.CallTimeout = 15 * time.Second
	}
	if s.ShutdownGrace == 0 {
		s.ShutdownGrace = 10 * time.Second
	}
	if s.Workers == 0 {
		s.Workers = 8
	}
	if s.ResolveConcurrency == 0 {
		s.ResolveConcurrency = 4
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "crier.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "crier"
		}
	}

	if c.Health.Port == 0 {
		c.Health.Port = 3000
	}
	if c.Recovery.Path == "" {
		c.Recovery.Path = "qr-info.txt"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Maintenance.Heartbeat == "" {
		c.Maintenance.Heartbeat = "@every 1m"
	}
	if c.Maintenance.Reap == "" {
		c.Maintenance.Reap = "@every 10m"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if utf8.RuneCountInString(c.Bot.Prefix) != 1 || strings.TrimSpace(c.Bot.Prefix) == "" {
		errs = append(errs, "bot.prefix must be a single non-space character")
	}
	if c.Bot.MaxMentions < 1 {
		errs = append(errs, "bot.max_mentions must be at least 1")
	}
	if !isDigits(c.Bot.DefaultCountryCode) {
		errs = append(errs, "bot.default_country_code must be digits")
	}
	for i, p := range c.Bot.CountryPrefixes {
		if !isDigits(p) {
			errs = append(errs, fmt.Sprintf("bot.country_prefixes[%d] must be digits", i))
		}
	}

	if c.Cooldown.Broadcast < 0 || c.Cooldown.Mention < 0 {
		errs = append(errs, "cooldown windows must not be negative")
	}
	if c.Supervisor.Backoff.Jitter < 0 || c.Supervisor.Backoff.Jitter >= 1 {
		errs = append(errs, "supervisor.backoff.jitter must be in [0, 1)")
	}
	if c.Supervisor.Backoff.Max < c.Supervisor.Backoff.Disconnect {
		errs = append(errs, "supervisor.backoff.max must not be below backoff.disconnect")
	}
	if c.Supervisor.Workers < 1 {
		errs = append(errs, "supervisor.workers must be at least 1")
	}

	switch c.Platform.Name {
	case "discord":
		if c.Platform.Discord.BotToken == "" {
			errs = append(errs, "platform.discord.bot_token is required")
		}
	case "slack":
		if c.Platform.Slack.BotToken == "" {
			errs = append(errs, "platform.slack.bot_token is required")
		}
		if c.Platform.Slack.AppToken == "" {
			errs = append(errs, "platform.slack.app_token is required for socket mode")
		}
	case "":
		errs = append(errs, "platform.name is required")
	default:
		errs = append(errs, fmt.Sprintf("platform.name %q is not supported (discord, slack)", c.Platform.Name))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
