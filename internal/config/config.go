// Package config defines the recal application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level recal configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Generator GeneratorConfig `json:"generator" yaml:"generator"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
}

// ServerConfig controls the HTTP control plane.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., "127.0.0.1:7380"
}

// StoreConfig controls the SQLite document store.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"` // database file path
}

// GeneratorConfig controls the roadmap generation service client.
type GeneratorConfig struct {
	Provider  string        `json:"provider" yaml:"provider"` // "anthropic" or "mock"
	Model     string        `json:"model,omitempty" yaml:"model"`
	APIKeyEnv string        `json:"api_key_env" yaml:"api_key_env"` // env var holding the key
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"` // bound on one generation call
}

// RulesConfig holds the rule engine thresholds. Pace thresholds compare the
// pace ratio (actual vs planned completions per elapsed week).
type RulesConfig struct {
	MissedThresholdPercent float64 `json:"missed_threshold_percent" yaml:"missed_threshold_percent"` // in [0,100]
	PaceBehindThreshold    float64 `json:"pace_behind_threshold" yaml:"pace_behind_threshold"`
	PaceAheadThreshold     float64 `json:"pace_ahead_threshold" yaml:"pace_ahead_threshold"`
}

// MonitorConfig controls the background drift monitor.
type MonitorConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	LockTTL  time.Duration `json:"lock_ttl" yaml:"lock_ttl"` // advisory rebalance lock TTL
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:7380",
		},
		Store: StoreConfig{
			Path: defaultDBPath(),
		},
		Generator: GeneratorConfig{
			Provider:  "anthropic",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   60 * time.Second,
		},
		Rules: RulesConfig{
			MissedThresholdPercent: 30,
			PaceBehindThreshold:    0.6,
			PaceAheadThreshold:     1.5,
		},
		Monitor: MonitorConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
			LockTTL:  5 * time.Minute,
		},
	}
}

// Load reads a YAML config file over the defaults and returns the result.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks threshold ranges and required fields.
func (c *Config) Validate() error {
	if c.Rules.MissedThresholdPercent < 0 || c.Rules.MissedThresholdPercent > 100 {
		return fmt.Errorf("missed_threshold_percent must be in [0,100], got %v", c.Rules.MissedThresholdPercent)
	}
	if c.Generator.Timeout <= 0 {
		return fmt.Errorf("generator timeout must be positive, got %v", c.Generator.Timeout)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path must not be empty")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recal.db"
	}
	return home + "/.recal/recal.db"
}
