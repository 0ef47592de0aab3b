// Package config loads node configuration from YAML with environment
// overrides, and builds the process logger.
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/VanDung-dev/Seamless-Engine/engine"
	"github.com/VanDung-dev/Seamless-Engine/state"
)

// Environment variables read by ApplyEnv.
const (
	EnvWorkers         = "BACH_WORKERS"
	EnvMaxRetries      = "BACH_MAX_RETRIES"
	EnvStore           = "BACH_STORE"
	EnvStorePath       = "BACH_STORE_PATH"
	EnvLogLevel        = "BACH_LOG_LEVEL"
	EnvMetricsAddr     = "BACH_METRICS_ADDR"
	EnvPublishEndpoint = "BACH_PUBLISH_ENDPOINT"
)

// StoreConfig selects the state backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the pebble directory. Empty means in-memory pebble.
	Path string `yaml:"path"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// PublisherConfig controls schedule publication over ZeroMQ.
type PublisherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	NodeID   string `yaml:"node_id"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the complete node configuration.
type Config struct {
	Scheduler engine.Config   `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Publisher PublisherConfig `yaml:"publisher"`
	Log       LogConfig       `yaml:"log"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Scheduler: engine.DefaultConfig(),
		Store:     StoreConfig{Backend: state.BackendMemory},
		Metrics: MetricsConfig{
			Address:   ":9100",
			Namespace: "seamless",
		},
		Publisher: PublisherConfig{
			Endpoint: "tcp://127.0.0.1:7100",
			NodeID:   "node-0",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BACH_* environment variables. Setting
// a metrics address or publish endpoint also enables that component.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvWorkers)
		}
		c.Scheduler.Workers = n
	}
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s", EnvMaxRetries)
		}
		c.Scheduler.MaxRetries = n
	}
	if v, ok := lookup(EnvStore); ok {
		c.Store.Backend = v
	}
	if v, ok := lookup(EnvStorePath); ok {
		c.Store.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvMetricsAddr); ok {
		c.Metrics.Address = v
		c.Metrics.Enabled = v != ""
	}
	if v, ok := lookup(EnvPublishEndpoint); ok {
		c.Publisher.Endpoint = v
		c.Publisher.Enabled = v != ""
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return errors.Wrap(err, "scheduler")
	}
	switch c.Store.Backend {
	case "", state.BackendMemory, state.BackendPebble:
	default:
		return errors.Newf("unknown store backend %q", c.Store.Backend)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("metrics enabled without an address")
	}
	if c.Publisher.Enabled && c.Publisher.Endpoint == "" {
		return errors.New("publisher enabled without an endpoint")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
