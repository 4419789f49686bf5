package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the gateway configuration. Values come from an optional YAML
// file, overridden by environment variables, with defaults filling the rest.
type Config struct {
	Listen   string `yaml:"listen" env:"LISTEN"`
	Upstream string `yaml:"upstream" env:"UPSTREAM"`

	CacheDB  string `yaml:"cache_db" env:"CACHE_DB"`
	StoreDB  string `yaml:"store_db" env:"STORE_DB"`
	EventsDB string `yaml:"events_db" env:"EVENTS_DB"`

	// Generation names the deployed shell version. Changing it triggers a
	// fresh install on boot.
	Generation string `yaml:"generation" env:"GENERATION"`

	ShellPath   string   `yaml:"shell_path" env:"SHELL_PATH"`
	OfflinePath string   `yaml:"offline_path" env:"OFFLINE_PATH"`
	Precache    []string `yaml:"precache" env:"PRECACHE" envSeparator:","`

	// DiscoverAssets extends the precache list by scanning the shell entry
	// HTML for same-origin assets.
	DiscoverAssets bool `yaml:"discover_assets" env:"DISCOVER_ASSETS"`

	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	BackendHosts   []string `yaml:"backend_hosts" env:"BACKEND_HOSTS" envSeparator:","`

	NetworkTimeout time.Duration `yaml:"network_timeout" env:"NETWORK_TIMEOUT"`
	UpdateInterval time.Duration `yaml:"update_interval" env:"UPDATE_INTERVAL"`
	Retention      time.Duration `yaml:"retention" env:"RETENTION"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func (c *Config) defaults() {
	if c.Listen == "" {
		c.Listen = ":8090"
	}
	if c.CacheDB == "" {
		c.CacheDB = "db/cache.db"
	}
	if c.StoreDB == "" {
		c.StoreDB = "db/store.db"
	}
	if c.EventsDB == "" {
		c.EventsDB = "db/events.db"
	}
	if c.Generation == "" {
		c.Generation = "v1"
	}
	if c.ShellPath == "" {
		c.ShellPath = "/"
	}
	if c.OfflinePath == "" {
		c.OfflinePath = "/offline.html"
	}
	if len(c.Precache) == 0 {
		c.Precache = []string{c.ShellPath, c.OfflinePath}
	}
	if c.NetworkTimeout == 0 {
		c.NetworkTimeout = 8 * time.Second
	}
	if c.UpdateInterval == 0 {
		c.UpdateInterval = 15 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// LoadConfig reads path (when non-empty), applies environment overrides
// and defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.defaults()

	if cfg.Upstream == "" {
		return nil, fmt.Errorf("upstream origin is required (UPSTREAM or upstream in config)")
	}
	return cfg, nil
}
