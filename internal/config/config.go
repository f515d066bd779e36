// Package config provides configuration loading and validation for vk-masscan.
// Configuration is a single document describing scan targets, sweeper and
// probe parameters, the notification channel, and the schedule.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/GarussMisha/VK-masscan/internal/logging"
)

// Config represents the complete application configuration.
type Config struct {
	// Targets is the list of scan targets. At least one is required.
	Targets []TargetConfig `yaml:"targets" json:"targets"`

	// Masscan holds sweeper subprocess settings.
	Masscan MasscanConfig `yaml:"masscan" json:"masscan"`

	// Probe holds service identification settings.
	Probe ProbeConfig `yaml:"probe" json:"probe"`

	// Telegram holds notification channel settings.
	Telegram TelegramConfig `yaml:"telegram" json:"telegram"`

	// Schedule holds recurring-run settings.
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`

	// History holds history-store settings.
	History HistoryConfig `yaml:"history" json:"history"`

	// Logging configuration.
	Logging logging.Config `yaml:"logging" json:"logging"`

	// Metrics holds prometheus endpoint settings.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// TargetConfig describes a single scan target.
type TargetConfig struct {
	// Name is a human-readable label used in logs and notifications.
	Name string `yaml:"name" json:"name"`

	// Target is an address or CIDR range handed to the sweeper.
	Target string `yaml:"target" json:"target"`

	// Ports is the port specification (e.g. "80,443" or "1-65535").
	Ports string `yaml:"ports" json:"ports"`
}

// MasscanConfig holds sweeper subprocess settings.
type MasscanConfig struct {
	// Binary is the sweeper executable name or path.
	Binary string `yaml:"binary" json:"binary"`

	// Rate is the packet rate passed to the sweeper.
	Rate int `yaml:"rate" json:"rate"`

	// WaitSeconds bounds a single sweeper invocation.
	WaitSeconds int `yaml:"wait_seconds" json:"wait_seconds"`
}

// ProbeConfig holds service identification settings.
type ProbeConfig struct {
	// TimeoutSeconds bounds a single per-address probe batch.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// TelegramConfig holds notification channel settings.
type TelegramConfig struct {
	// Enabled toggles notification delivery.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// BotToken is the bot API token.
	BotToken string `yaml:"bot_token" json:"bot_token"`

	// ChatID is the destination chat.
	ChatID string `yaml:"chat_id" json:"chat_id"`
}

// ScheduleConfig holds recurring-run settings.
type ScheduleConfig struct {
	// Enabled toggles scheduled mode.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// IntervalHours is the sleep between cycles in interval mode.
	IntervalHours int `yaml:"interval_hours" json:"interval_hours"`

	// Cron is an optional cron expression; when set it takes
	// precedence over IntervalHours.
	Cron string `yaml:"cron" json:"cron"`
}

// HistoryConfig holds history-store settings.
type HistoryConfig struct {
	// Path is the location of the persisted history document.
	Path string `yaml:"path" json:"path"`
}

// MetricsConfig holds prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled toggles the /metrics endpoint in watch mode.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen is the metrics listen address.
	Listen string `yaml:"listen" json:"listen"`
}

// Default returns a configuration with sensible defaults.
// Targets and Telegram credentials have no defaults and must come
// from the configuration document.
func Default() *Config {
	return &Config{
		Masscan: MasscanConfig{
			Binary:      "masscan",
			Rate:        1000,
			WaitSeconds: 600,
		},
		Probe: ProbeConfig{
			TimeoutSeconds: 120,
		},
		Telegram: TelegramConfig{
			Enabled: true,
		},
		Schedule: ScheduleConfig{
			Enabled:       false,
			IntervalHours: 12,
		},
		History: HistoryConfig{
			Path: "scan_history.json",
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9641",
		},
	}
}

// Load loads configuration from a file. Unlike the history store, a
// missing or malformed configuration document is a fatal startup error.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// yaml.v3 parses both YAML and JSON documents, so the original
	// config.json format keeps working unchanged.
	ext := filepath.Ext(path)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config (%s): %w", ext, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("target list must not be empty")
	}
	for i, t := range c.Targets {
		if t.Target == "" {
			return fmt.Errorf("target %d: address or CIDR is required", i)
		}
		if t.Ports == "" {
			return fmt.Errorf("target %q: port specification is required", t.Name)
		}
	}

	if c.Masscan.Binary == "" {
		return fmt.Errorf("masscan binary is required")
	}
	if c.Masscan.Rate <= 0 {
		return fmt.Errorf("masscan rate must be positive")
	}
	if c.Masscan.WaitSeconds <= 0 {
		return fmt.Errorf("masscan wait_seconds must be positive")
	}

	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe timeout_seconds must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram chat_id is required when telegram is enabled")
		}
	}

	if c.Schedule.Enabled {
		if c.Schedule.Cron != "" {
			if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
				return fmt.Errorf("invalid schedule cron expression: %w", err)
			}
		} else if c.Schedule.IntervalHours <= 0 {
			return fmt.Errorf("schedule interval_hours must be positive when no cron expression is set")
		}
	}

	if c.History.Path == "" {
		return fmt.Errorf("history path is required")
	}

	validLogLevels := map[logging.LogLevel]bool{
		logging.LevelDebug: true,
		logging.LevelInfo:  true,
		logging.LevelWarn:  true,
		logging.LevelError: true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validLogFormats := map[logging.LogFormat]bool{
		logging.FormatText: true,
		logging.FormatJSON: true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}

// SweepTimeout returns the bounded wait for one sweeper invocation.
func (c *Config) SweepTimeout() time.Duration {
	return time.Duration(c.Masscan.WaitSeconds) * time.Second
}

// ProbeTimeout returns the bounded wait for one probe batch.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}

// Interval returns the sleep between scheduled cycles.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Schedule.IntervalHours) * time.Hour
}

// IsScheduled returns true if recurring-run mode is enabled.
func (c *Config) IsScheduled() bool {
	return c.Schedule.Enabled
}
