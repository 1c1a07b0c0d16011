package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "LINKGRAPH_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "linkgraph.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "linkgraph"
)

// SearchPaths lists the config file candidates in priority order.
// Locations whose base variable is unset are omitted.
func SearchPaths(getenv func(string) string) []string {
	var paths []string

	if path := getenv(EnvConfigPath); path != "" {
		paths = append(paths, path)
	}

	local := ConfigFileName
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		local = abs
	}
	paths = append(paths, local)

	if xdgHome := getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		paths = append(paths, filepath.Join(xdgHome, ConfigDirName, "config.yaml"))
	}
	if home := getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, "config.yaml"))
	}

	return append(paths, filepath.Join("/etc", ConfigDirName, "config.yaml"))
}

// FindConfigPath returns the first existing candidate of SearchPaths, or
// "" if there is none
func FindConfigPath() string {
	for _, path := range SearchPaths(os.Getenv) {
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// DefaultConfigPath returns the preferred location for a new config file
// Prefers XDG config home, falls back to working directory
func DefaultConfigPath() string {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, ConfigDirName, "config.yaml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
