package config

import (
	"strconv"
	"strings"
)

// Environment overrides, applied after the config file
const (
	EnvDatabasePath  = "LINKGRAPH_DATABASE_PATH"
	EnvHTTPAddr      = "LINKGRAPH_HTTP_ADDR"
	EnvLogLevel      = "LINKGRAPH_LOG_LEVEL"
	EnvLogFormat     = "LINKGRAPH_LOG_FORMAT"
	EnvLockBackend   = "LINKGRAPH_LOCK_BACKEND"
	EnvEtcdEndpoints = "LINKGRAPH_ETCD_ENDPOINTS"
	EnvMeshOrgs      = "LINKGRAPH_MESH_ORGANIZATIONS"
	EnvLinkDays      = "LINKGRAPH_LINK_EXPIRATION_DAYS"
	EnvNodeDays      = "LINKGRAPH_NODE_EXPIRATION_DAYS"
)

// ApplyEnv overrides settings from environment variables. Unset or
// unparsable values leave the setting alone.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDatabasePath); v != "" {
		c.Database.Path = v
	}
	if v := getenv(EnvHTTPAddr); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv(EnvLogFormat); v != "" {
		c.Log.Format = strings.ToLower(v)
	}
	if v := getenv(EnvLockBackend); v != "" {
		c.Lock.Backend = strings.ToLower(v)
	}
	if v := getenv(EnvEtcdEndpoints); v != "" {
		c.Lock.Endpoints = splitList(v)
	}
	if v := getenv(EnvMeshOrgs); v != "" {
		c.Mesh.Organizations = splitList(v)
		c.Mesh.Enabled = len(c.Mesh.Organizations) > 0
	}
	if n, ok := envInt(getenv, EnvLinkDays); ok {
		c.Expiration.LinkDays = n
	}
	if n, ok := envInt(getenv, EnvNodeDays); ok {
		c.Expiration.NodeDays = n
	}
}

func envInt(getenv func(string) string, key string) (int, bool) {
	v := getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
