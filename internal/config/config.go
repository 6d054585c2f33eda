// Package config loads dualcached settings from an optional YAML or TOML file
// and then from environment variables, which win.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	goredis "github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/dualcache"
)

type Config struct {
	Mode        string `yaml:"mode" toml:"mode"`
	ListenAddr  string `yaml:"listen_addr" toml:"listen_addr"`
	UpstreamURL string `yaml:"upstream_url" toml:"upstream_url"`
	Redis       Redis  `yaml:"redis" toml:"redis"`

	// RevokedPrefix namespaces revoked-token markers; "" stores them under the bare token.
	RevokedPrefix string `yaml:"revoked_prefix" toml:"revoked_prefix"`
}

type Redis struct {
	ReadHost  string `yaml:"read_host" toml:"read_host"`
	ReadPort  string `yaml:"read_port" toml:"read_port"`
	WriteHost string `yaml:"write_host" toml:"write_host"`
	WritePort string `yaml:"write_port" toml:"write_port"`
	Auth      string `yaml:"auth" toml:"auth"`
	DB        int    `yaml:"db" toml:"db"`

	MaxClients          int `yaml:"max_clients" toml:"max_clients"`
	ConnectionTimeoutMS int `yaml:"connection_timeout_ms" toml:"connection_timeout_ms"` // per-operation budget
	TTLSeconds          int `yaml:"ttl_seconds" toml:"ttl_seconds"`                     // default expiry for writes
}

func Default() Config {
	return Config{
		Mode:          "development",
		ListenAddr:    ":8080",
		RevokedPrefix: dualcache.DefaultRevokedPrefix,
		Redis: Redis{
			ReadHost:            "127.0.0.1",
			ReadPort:            "6379",
			WriteHost:           "127.0.0.1",
			WritePort:           "6379",
			MaxClients:          50,
			ConnectionTimeoutMS: 2000,
			TTLSeconds:          5000,
		},
	}
}

// Load reads path (skipped when empty) over Default and applies the process environment.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, cfg)
	case ".toml":
		err = toml.Unmarshal(raw, cfg)
	default:
		return fmt.Errorf("config %s: unsupported extension", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("NODE_ENV", &cfg.Mode)
	str("DUALCACHE_MODE", &cfg.Mode)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("UPSTREAM_URL", &cfg.UpstreamURL)
	if v, ok := lookup("REVOKED_TOKEN_PREFIX"); ok {
		cfg.RevokedPrefix = strings.TrimSpace(v)
	}
	str("REDIS_READ_HOST", &cfg.Redis.ReadHost)
	str("REDIS_READ_PORT", &cfg.Redis.ReadPort)
	str("REDIS_WRITE_HOST", &cfg.Redis.WriteHost)
	str("REDIS_WRITE_PORT", &cfg.Redis.WritePort)
	str("REDIS_AUTH", &cfg.Redis.Auth)

	for name, dst := range map[string]*int{
		"REDIS_MAX_CLIENT":         &cfg.Redis.MaxClients,
		"REDIS_CONNECTION_TIMEOUT": &cfg.Redis.ConnectionTimeoutMS,
		"REDIS_TIMEOUT":            &cfg.Redis.TTLSeconds,
		"REDIS_DB":                 &cfg.Redis.DB,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) Validate() error {
	switch {
	case c.Redis.ReadHost == "":
		return fmt.Errorf("config: redis read host is required")
	case c.CacheMode() == dualcache.ModeProduction && c.Redis.WriteHost == "":
		return fmt.Errorf("config: redis write host is required in production")
	case c.Redis.MaxClients < 0, c.Redis.ConnectionTimeoutMS < 0, c.Redis.TTLSeconds < 0:
		return fmt.Errorf("config: negative redis limits")
	}
	return nil
}

func (c Config) CacheMode() dualcache.Mode { return dualcache.ParseMode(c.Mode) }

func (c Config) Timeout() time.Duration {
	return time.Duration(c.Redis.ConnectionTimeoutMS) * time.Millisecond
}

func (c Config) DefaultTTL() time.Duration {
	return time.Duration(c.Redis.TTLSeconds) * time.Second
}

func (c Config) ReadOptions() *goredis.Options {
	return c.redisOptions(c.Redis.ReadHost, c.Redis.ReadPort)
}

func (c Config) WriteOptions() *goredis.Options {
	return c.redisOptions(c.Redis.WriteHost, c.Redis.WritePort)
}

func (c Config) redisOptions(host, port string) *goredis.Options {
	if port == "" {
		port = "6379"
	}
	return &goredis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: c.Redis.Auth,
		DB:       c.Redis.DB,
		PoolSize: c.Redis.MaxClients,
	}
}
