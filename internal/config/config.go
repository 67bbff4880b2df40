package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultBaseURL = "https://apis.roblox.com"

// Config holds the tunables of a run. Credentials are kept separately, see Credentials.
type Config struct {
	BaseURL               string `yaml:"base_url" validate:"required,url"`
	PollIntervalSeconds   int    `yaml:"poll_interval_seconds" validate:"gt=0"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"gte=0"`
	Retry                 struct {
		Attempts     int `yaml:"attempts" validate:"gte=1"`
		DelaySeconds int `yaml:"delay_seconds" validate:"gte=0"`
	} `yaml:"retry"`
	History struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`
}

// Default returns the settings used when no config file exists.
func Default() Config {
	var cfg Config
	cfg.BaseURL = DefaultBaseURL
	cfg.PollIntervalSeconds = 3
	cfg.Retry.Attempts = 3
	cfg.Retry.DelaySeconds = 1
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(configDir(), "history.db")
	return cfg
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelaySeconds) * time.Second
}

// RequestTimeout bounds a single HTTP attempt. Zero, the default, means no limit.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadConfig reads YAML settings from a path on top of Default(). If path is empty, it resolves
// $XDG_CONFIG_HOME/luaurun/config.yaml or ~/.config/luaurun/config.yaml, and a missing file there is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir(), "config.yaml")
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func configDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "luaurun")
}
