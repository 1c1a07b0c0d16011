// Package config provides configuration management for linkgraph.
//
// Every component receives its settings from an explicit Config section;
// nothing reads global state. Values missing from the file keep their
// defaults and environment variables override the file.
//
// Config file locations (priority order):
//  1. $LINKGRAPH_CONFIG
//  2. ./linkgraph.yaml
//  3. $XDG_CONFIG_HOME/linkgraph/config.yaml
//  4. ~/.config/linkgraph/config.yaml
//  5. /etc/linkgraph/config.yaml
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		cfg := DefaultConfig()
		cfg.ApplyEnv(os.Getenv)
		return cfg, "", cfg.Validate()
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		Database: DatabaseConfig{Path: "./linkgraph.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Interval:    Duration(5 * time.Minute),
			Concurrency: 4,
			Snapshots:   true,
		},
		Parser: ParserConfig{
			Timeout:     Duration(30 * time.Second),
			SNMPRetries: 1,
		},
		Expiration: ExpirationConfig{LinkDays: 60},
		Mesh: MeshConfig{
			Cutoff:         Duration(5 * time.Minute),
			ExpirationTime: 360,
			Mode:           "802.11s",
			CacheSize:      1024,
		},
		Lock: LockConfig{
			Backend:     LockLocal,
			DialTimeout: Duration(5 * time.Second),
			TTL:         Duration(30 * time.Second),
		},
		Watch: WatchConfig{Debounce: Duration(500 * time.Millisecond)},
	}
}

// applyDefaults fills in values explicitly zeroed in the file
func (c *Config) applyDefaults() {
	def := DefaultConfig()

	if c.Version == 0 {
		c.Version = def.Version
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = def.HTTP.Addr
	}
	if c.HTTP.ReadHeaderTimeout <= 0 {
		c.HTTP.ReadHeaderTimeout = def.HTTP.ReadHeaderTimeout
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = def.HTTP.ShutdownTimeout
	}
	if c.Scheduler.Interval <= 0 {
		c.Scheduler.Interval = def.Scheduler.Interval
	}
	if c.Scheduler.Concurrency <= 0 {
		c.Scheduler.Concurrency = def.Scheduler.Concurrency
	}
	if c.Parser.Timeout <= 0 {
		c.Parser.Timeout = def.Parser.Timeout
	}
	if c.Mesh.Cutoff <= 0 {
		c.Mesh.Cutoff = def.Mesh.Cutoff
	}
	if c.Mesh.ExpirationTime <= 0 {
		c.Mesh.ExpirationTime = def.Mesh.ExpirationTime
	}
	if c.Mesh.Mode == "" {
		c.Mesh.Mode = def.Mesh.Mode
	}
	if c.Mesh.CacheSize <= 0 {
		c.Mesh.CacheSize = def.Mesh.CacheSize
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = def.Lock.Backend
	}
	if c.Lock.DialTimeout <= 0 {
		c.Lock.DialTimeout = def.Lock.DialTimeout
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = def.Lock.TTL
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = def.Watch.Debounce
	}
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format))
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockEtcd:
		if len(c.Lock.Endpoints) == 0 {
			errs = append(errs, errors.New("lock.endpoints: required for etcd backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend: must be local or etcd, got %q", c.Lock.Backend))
	}
	if c.Expiration.LinkDays < 0 || c.Expiration.NodeDays < 0 {
		errs = append(errs, errors.New("expiration: days cannot be negative"))
	}
	if c.Mesh.Enabled && len(c.Mesh.Organizations) == 0 {
		errs = append(errs, errors.New("mesh.organizations: required when mesh is enabled"))
	}

	return errors.Join(errs...)
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Database: %s, HTTP: %s, Lock: %s\n", c.Database.Path, c.HTTP.Addr, c.Lock.Backend)
	summary += fmt.Sprintf("Scheduler: enabled=%t interval=%s concurrency=%d\n",
		c.Scheduler.Enabled, c.Scheduler.Interval.Duration(), c.Scheduler.Concurrency)
	summary += fmt.Sprintf("Expiration: links=%dd nodes=%dd", c.Expiration.LinkDays, c.Expiration.NodeDays)
	if c.Mesh.Enabled {
		summary += fmt.Sprintf("\nMesh: %s organizations=%s", c.Mesh.Mode, strings.Join(c.Mesh.Organizations, ","))
	}
	return summary
}
