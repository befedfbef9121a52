package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskdeck.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Nudge struct {
		WindowMinutes int `yaml:"window_minutes"`
	} `yaml:"nudge"`
	Reminders struct {
		Enabled bool `yaml:"enabled"`
		// Cron schedule for the pending-review sweeper.
		Schedule string `yaml:"schedule"`
		// Tasks sitting in pending_review longer than this are nudged.
		StaleAfterHours int `yaml:"stale_after_hours"`
	} `yaml:"reminders"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL string `yaml:"url"`
	// Event type prefixes to deliver; empty means all.
	Types          []string `yaml:"types"`
	Secret         string   `yaml:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Nudge.WindowMinutes < 0 {
		return fmt.Errorf("config.nudge.window_minutes cannot be negative")
	}
	if c.Reminders.Enabled {
		if c.Reminders.Schedule == "" {
			return fmt.Errorf("config.reminders.schedule is required when reminders are enabled")
		}
		if c.Reminders.StaleAfterHours <= 0 {
			return fmt.Errorf("config.reminders.stale_after_hours must be positive")
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdeck.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run td config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Nudge.WindowMinutes = 240
	cfg.Reminders.Schedule = "@every 30m"
	cfg.Reminders.StaleAfterHours = 24
	return &cfg
}

// GenerateDefault returns default config YAML for td config init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: false

nudge:
  window_minutes: 240

reminders:
  enabled: false
  schedule: "@every 30m"
  stale_after_hours: 24

webhooks: []
#  - url: https://example.com/hooks/taskdeck
#    types: [task.approved, task.changes_requested]
`
