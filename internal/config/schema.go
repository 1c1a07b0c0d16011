package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Parser     ParserConfig     `yaml:"parser"`
	Expiration ExpirationConfig `yaml:"expiration"`
	Mesh       MeshConfig       `yaml:"mesh"`
	Lock       LockConfig       `yaml:"lock"`
	Watch      WatchConfig      `yaml:"watch"`
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	// File enables rotated file output in addition to stderr
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Addr              string   `yaml:"addr"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	// LabelProperty names the node user property shown as label
	LabelProperty string `yaml:"label_property,omitempty"`
}

// SchedulerConfig holds the periodic batch settings
type SchedulerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Interval    Duration `yaml:"interval"`
	Concurrency int      `yaml:"concurrency"`
	// Snapshots saves a daily snapshot of every topology after each batch
	Snapshots bool `yaml:"snapshots"`
}

// ParserConfig holds parser and fetcher settings
type ParserConfig struct {
	Timeout     Duration `yaml:"timeout"`
	SSHKeyPath  string   `yaml:"ssh_key_path,omitempty"`
	SNMPRetries int      `yaml:"snmp_retries"`
}

// ExpirationConfig holds sweep windows in days. Zero disables a sweep.
type ExpirationConfig struct {
	LinkDays int `yaml:"link_days"`
	NodeDays int `yaml:"node_days"`
}

// MeshConfig holds mesh aggregation settings
type MeshConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Organizations  []string `yaml:"organizations,omitempty"`
	Cutoff         Duration `yaml:"cutoff"`
	ExpirationTime int      `yaml:"expiration_time"` // seconds
	Mode           string   `yaml:"mode"`
	CacheSize      int      `yaml:"cache_size"`
}

// LockConfig selects the per-topology lock backend
type LockConfig struct {
	Backend     string   `yaml:"backend"` // local, etcd
	Endpoints   []string `yaml:"endpoints,omitempty"`
	DialTimeout Duration `yaml:"dial_timeout"`
	TTL         Duration `yaml:"ttl"`
}

// WatchConfig holds file watcher settings
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Debounce Duration `yaml:"debounce"`
}

// Lock backends
const (
	LockLocal = "local"
	LockEtcd  = "etcd"
)

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
