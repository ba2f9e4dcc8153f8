// Package config loads the fetchcache service configuration from YAML or
// TOML. The format follows the file extension.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/fetchcache/auth"
	"github.com/unkn0wn-root/fetchcache/codec"
	"github.com/unkn0wn-root/fetchcache/datasource"
	"github.com/unkn0wn-root/fetchcache/submit"
)

const (
	DriverMemory    = "memory"
	DriverSQLite    = "sqlite"
	DriverRedis     = "redis"
	DriverBigcache  = "bigcache"
	DriverRistretto = "ristretto"

	DefaultNamespace = "ds"
	DefaultAddr      = ":8080"
)

var ErrUnknownFormat = errors.New("config: unknown file format")

type CacheConfig struct {
	Enabled           *bool   `yaml:"enabled" toml:"enabled"` // nil => true
	Namespace         string  `yaml:"namespace" toml:"namespace"`
	DefaultTTLMinutes float64 `yaml:"default_ttl_minutes" toml:"default_ttl_minutes"`
	LockWaitMs        int     `yaml:"lock_wait_ms" toml:"lock_wait_ms"`
	LockPollMs        int     `yaml:"lock_poll_ms" toml:"lock_poll_ms"`
	LockExpiryMs      int     `yaml:"lock_expiry_ms" toml:"lock_expiry_ms"`
	Codec             string  `yaml:"codec" toml:"codec"`                     // json | msgpack | cbor | protobuf
	MaxEntryBytes     int     `yaml:"max_entry_bytes" toml:"max_entry_bytes"` // 0 => unlimited
}

func (c CacheConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes * float64(time.Minute))
}
func (c CacheConfig) LockWait() time.Duration   { return ms(c.LockWaitMs) }
func (c CacheConfig) LockPoll() time.Duration   { return ms(c.LockPollMs) }
func (c CacheConfig) LockExpiry() time.Duration { return ms(c.LockExpiryMs) }

type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`

	// sqlite
	Path string `yaml:"path" toml:"path"`

	// redis
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`

	// bigcache
	LifeWindowMinutes  int `yaml:"life_window_minutes" toml:"life_window_minutes"`
	HardMaxCacheSizeMB int `yaml:"hard_max_cache_size_mb" toml:"hard_max_cache_size_mb"`

	// ristretto
	NumCounters int64 `yaml:"num_counters" toml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost" toml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items" toml:"buffer_items"`
}

// ListConfig points the list backend, submissions and the profile service
// at a list store site.
type ListConfig struct {
	Site     string `yaml:"site" toml:"site"`
	Identity string `yaml:"identity" toml:"identity"` // "" => default HTTP client
}

type Stage struct {
	Sources []datasource.SourceConfig `yaml:"sources" toml:"sources"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type Config struct {
	Cache      CacheConfig                    `yaml:"cache" toml:"cache"`
	Store      StoreConfig                    `yaml:"store" toml:"store"`
	List       ListConfig                     `yaml:"list" toml:"list"`
	Identities map[string]auth.OAuth2Identity `yaml:"identities" toml:"identities"`
	Context    map[string]any                 `yaml:"context" toml:"context"`
	Primary    *datasource.SourceConfig       `yaml:"primary" toml:"primary"` // rendered as {{items}}
	Stages     []Stage                        `yaml:"stages" toml:"stages"`
	Submit     []submit.Endpoint              `yaml:"submit" toml:"submit"`
	Server     ServerConfig                   `yaml:"server" toml:"server"`
}

// Sources returns the stages as source lists, in order.
func (c *Config) Sources() [][]datasource.SourceConfig {
	out := make([][]datasource.SourceConfig, len(c.Stages))
	for i, s := range c.Stages {
		out[i] = s.Sources
	}
	return out
}

// Load reads path, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
}

// Parse decodes data in format ("yaml", "yml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default is an in-memory configuration with no sources.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	c.Cache.Namespace = coalesce(c.Cache.Namespace, DefaultNamespace)
	c.Cache.Codec = coalesce(strings.ToLower(c.Cache.Codec), "json")
	c.Store.Driver = coalesce(strings.ToLower(c.Store.Driver), DriverMemory)
	c.Server.Addr = coalesce(c.Server.Addr, DefaultAddr)
	c.List.Site = strings.TrimRight(c.List.Site, "/")
	switch c.Store.Driver {
	case DriverSQLite:
		c.Store.Path = coalesce(c.Store.Path, "fetchcache.db")
	case DriverRedis:
		c.Store.Addr = coalesce(c.Store.Addr, "localhost:6379")
	case DriverRistretto:
		if c.Store.NumCounters <= 0 {
			c.Store.NumCounters = 1e5
		}
		if c.Store.MaxCost <= 0 {
			c.Store.MaxCost = 64 << 20
		}
		if c.Store.BufferItems <= 0 {
			c.Store.BufferItems = 64
		}
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Cache.DefaultTTLMinutes < 0 {
		return fmt.Errorf("cache.default_ttl_minutes must not be negative, got %v", c.Cache.DefaultTTLMinutes)
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"cache.lock_wait_ms", c.Cache.LockWaitMs},
		{"cache.lock_poll_ms", c.Cache.LockPollMs},
		{"cache.lock_expiry_ms", c.Cache.LockExpiryMs},
		{"cache.max_entry_bytes", c.Cache.MaxEntryBytes},
	} {
		if f.v < 0 {
			return fmt.Errorf("%s must not be negative, got %d", f.name, f.v)
		}
	}
	if _, err := codec.ForName(c.Cache.Codec); err != nil {
		return fmt.Errorf("invalid cache.codec: %w", err)
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverRedis, DriverBigcache, DriverRistretto:
	default:
		return fmt.Errorf("invalid store.driver %q: must be one of memory, sqlite, redis, bigcache, ristretto", c.Store.Driver)
	}
	for id, ident := range c.Identities {
		if ident.ClientID == "" || ident.TokenURL == "" {
			return fmt.Errorf("identities.%s: client_id and token_url are required", id)
		}
	}
	if c.List.Identity != "" {
		if _, ok := c.Identities[c.List.Identity]; !ok {
			return fmt.Errorf("list.identity %q is not a configured identity", c.List.Identity)
		}
	}
	if c.Primary != nil {
		if err := validateSource("primary", *c.Primary); err != nil {
			return err
		}
	}
	for i, st := range c.Stages {
		for j, src := range st.Sources {
			if err := validateSource(fmt.Sprintf("stages[%d].sources[%d]", i, j), src); err != nil {
				return err
			}
		}
	}
	seen := make(map[string]bool, len(c.Submit))
	for i, ep := range c.Submit {
		if ep.Key == "" {
			return fmt.Errorf("submit[%d].key is required", i)
		}
		if seen[ep.Key] {
			return fmt.Errorf("submit[%d].key %q is duplicated", i, ep.Key)
		}
		seen[ep.Key] = true
	}
	return nil
}

func validateSource(field string, src datasource.SourceConfig) error {
	if src.Key == "" {
		return fmt.Errorf("%s.key is required", field)
	}
	if src.Kind != datasource.KindHTTP && src.Kind != datasource.KindList {
		return fmt.Errorf("%s.kind %q: must be \"http\" or \"list\"", field, src.Kind)
	}
	return nil
}

func coalesce(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
