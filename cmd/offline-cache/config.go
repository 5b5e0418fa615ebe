package main

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	offlinecache "github.com/always-cache/offline-cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

const envPrefix = "OFFLINE_CACHE_"

// Config is read from the yaml config file, then overridden by
// OFFLINE_CACHE_* environment variables.
type Config struct {
	Origin    string `yaml:"origin" env:"ORIGIN"`
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
	DB        string `yaml:"db" env:"DB"`
	LogFile   string `yaml:"logFile" env:"LOG_FILE"`
	Version   string `yaml:"version" env:"VERSION"`
	APIPrefix string `yaml:"apiPrefix" env:"API_PREFIX"`
	// Paths pre-cached on install
	Manifest []string `yaml:"manifest" env:"MANIFEST" envSeparator:","`
	// Paths fetched on the background-sync trigger
	Sync     []string        `yaml:"sync" env:"SYNC" envSeparator:","`
	Bindings []ConfigBinding `yaml:"bindings"`
	Default  *ConfigBinding  `yaml:"default"`
}

type ConfigBinding struct {
	Prefix   string `yaml:"prefix"`
	Strategy string `yaml:"strategy"`
	// Go duration string, e.g. `24h`. Entries never expire if empty.
	TTL string `yaml:"ttl"`
}

// getConfig loads the config file (if any) and applies environment overrides.
// If environ is nil, the process environment is used.
func getConfig(filename string, environ map[string]string) (Config, error) {
	var config Config
	if filename != "" {
		configBytes, err := os.ReadFile(filename)
		if err != nil {
			return config, err
		}
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return config, fmt.Errorf("parse %s: %w", filename, err)
		}
	}
	opts := env.Options{Prefix: envPrefix, Environment: environ}
	if err := env.ParseWithOptions(&config, opts); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Table returns the strategy table of the config.
// A config without bindings yields the zero table, for which the cache uses its defaults.
func (c Config) Table() (offlinecache.Table, error) {
	var table offlinecache.Table
	for _, cb := range c.Bindings {
		b, err := cb.binding()
		if err != nil {
			return table, err
		}
		table.Bindings = append(table.Bindings, b)
	}
	if c.Default != nil {
		b, err := c.Default.binding()
		if err != nil {
			return table, err
		}
		table.Default = b
	}
	return table, nil
}

func (cb ConfigBinding) binding() (offlinecache.Binding, error) {
	strategy, err := offlinecache.ParseStrategy(cb.Strategy)
	if err != nil {
		return offlinecache.Binding{}, fmt.Errorf("binding %q: %w", cb.Prefix, err)
	}
	// without a ttl entries never expire
	ttl := serializer.NoTTL
	if cb.TTL != "" {
		if ttl, err = time.ParseDuration(cb.TTL); err != nil {
			return offlinecache.Binding{}, fmt.Errorf("binding %q: %w", cb.Prefix, err)
		}
	}
	return offlinecache.Binding{Prefix: cb.Prefix, Strategy: strategy, TTL: ttl}, nil
}
