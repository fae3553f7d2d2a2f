// Package config loads the hub configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults used when the file or a field is absent.
const (
	DefaultListenAddr   = ":8080"
	DefaultDatabasePath = "hub.db"
	DefaultMediaRoot    = "media"
	DefaultWorkers      = 4
	DefaultHistorySize  = 1000
)

// Config is the hub configuration.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`
	MediaRoot    string `yaml:"media_root"`
	Workers      int    `yaml:"workers"`
	HistorySize  int    `yaml:"history_size"`
	Verbose      bool   `yaml:"verbose"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{
		ListenAddr:   DefaultListenAddr,
		DatabasePath: DefaultDatabasePath,
		MediaRoot:    DefaultMediaRoot,
		Workers:      DefaultWorkers,
		HistorySize:  DefaultHistorySize,
	}
}

// Load reads the YAML file at path, filling omitted fields with
// defaults. A missing file yields the defaults; path == "" skips the
// read entirely.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.DatabasePath == "" {
		c.DatabasePath = DefaultDatabasePath
	}
	if c.MediaRoot == "" {
		c.MediaRoot = DefaultMediaRoot
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history_size must be positive, got %d", c.HistorySize)
	}
	return nil
}
