package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
	"gopkg.in/yaml.v3"
)

const configver = "1.0.0"

// Source locations
const (
	LocationFilesystem = "filesystem"
	LocationHTTP       = "http"
	LocationS3         = "s3"
)

// Cache backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var upstreamProtocols = map[string]bool{
	"udp":   true,
	"tcp":   true,
	"tls":   true,
	"https": true,
	"quic":  true,
}

var logLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Config type
type Config struct {
	Version         string    `toml:"version" yaml:"version"`
	LogLevel        string    `toml:"loglevel" yaml:"loglevel"`
	API             string    `toml:"api" yaml:"api"`
	AccessList      []string  `toml:"accesslist" yaml:"accesslist"`
	AccessLog       string    `toml:"accesslog" yaml:"accesslog"`
	ClientRateLimit int       `toml:"clientratelimit" yaml:"clientratelimit"`
	Server          Server    `toml:"server" yaml:"server"`
	Upstream        Upstream  `toml:"upstream" yaml:"upstream"`
	Blocklist       Blocklist `toml:"blocklist" yaml:"blocklist"`
	Cache           Cache     `toml:"cache" yaml:"cache"`

	sVersion string
}

// Server holds the listener addresses.
type Server struct {
	UDP []string      `toml:"udp" yaml:"udp"`
	TLS []TLSListener `toml:"tls" yaml:"tls"`
}

// TLSListener is a DNS-over-TLS bind address with its certificate material.
type TLSListener struct {
	Bind        string   `toml:"bind" yaml:"bind"`
	Cert        Source   `toml:"cert" yaml:"cert"`
	Key         Source   `toml:"key" yaml:"key"`
	IdleTimeout Duration `toml:"idle_timeout" yaml:"idle_timeout"`
}

// Source points at bytes kept outside of the config file.
type Source struct {
	Location string `toml:"location" yaml:"location"`
	Path     string `toml:"path" yaml:"path"`
	URL      string `toml:"url" yaml:"url"`
	Bucket   string `toml:"bucket" yaml:"bucket"`
	Key      string `toml:"key" yaml:"key"`
	Region   string `toml:"region" yaml:"region"`
}

// String describes the source for logs.
func (s Source) String() string {
	switch s.Location {
	case LocationFilesystem:
		return s.Path
	case LocationHTTP:
		return s.URL
	case LocationS3:
		return "s3://" + s.Bucket + "/" + s.Key
	}
	return s.Location
}

// Upstream is the recursive resolver queries are forwarded to.
type Upstream struct {
	Resolver string   `toml:"resolver" yaml:"resolver"`
	Port     int      `toml:"port" yaml:"port"`
	Protocol string   `toml:"protocol" yaml:"protocol"`
	Timeout  Duration `toml:"timeout" yaml:"timeout"`
	Path     string   `toml:"path" yaml:"path"`
}

// Blocklist type
type Blocklist struct {
	Source          Source   `toml:"source" yaml:"source"`
	RefreshInterval Duration `toml:"refresh_interval" yaml:"refresh_interval"`
}

// Cache type
type Cache struct {
	Backend    string   `toml:"backend" yaml:"backend"`
	MaxEntries int64    `toml:"max_entries" yaml:"max_entries"`
	DefaultTTL Duration `toml:"default_ttl" yaml:"default_ttl"`
	Redis      Redis    `toml:"redis" yaml:"redis"`
}

// Redis holds the redis cache backend connection settings.
type Redis struct {
	Addr      string `toml:"addr" yaml:"addr"`
	Password  string `toml:"password" yaml:"password"`
	DB        int    `toml:"db" yaml:"db"`
	KeyPrefix string `toml:"key_prefix" yaml:"key_prefix"`
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// UnmarshalYAML for duration type
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Default returns a config with every optional field populated.
func Default() *Config {
	return &Config{
		Version:  configver,
		LogLevel: "info",
		Upstream: Upstream{
			Port:     53,
			Protocol: "udp",
			Timeout:  Duration{5 * time.Second},
			Path:     "/dns-query",
		},
		Blocklist: Blocklist{
			RefreshInterval: Duration{time.Hour},
		},
		Cache: Cache{
			Backend:    BackendMemory,
			MaxEntries: 10000,
			DefaultTTL: Duration{5 * time.Minute},
			Redis: Redis{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "fdns:",
			},
		},
	}
}

var defaultConfig = `
# Config version, config and build versions can be different.
version = "%s"

# What kind of information should be logged, possible values: debug, info, warn, error
loglevel = "info"

# Address to bind to for the http API server, metrics and health check
# api = "127.0.0.1:8080"

# Which clients allowed to make queries, empty allows everyone
accesslist = [
]

# Query log file, one line per answered query, empty disables
accesslog = ""

# Query limit per minute for every client, 0 disables
clientratelimit = 0

[server]
# Addresses to bind to for the plain DNS server (UDP)
udp = [":53"]

# DNS-over-TLS listeners, the certificate and key can be loaded
# from the filesystem, an http url or an s3 object.
# [[server.tls]]
# bind = ":853"
# idle_timeout = "2m"
# cert = { location = "filesystem", path = "server.crt" }
# key = { location = "filesystem", path = "server.key" }

[upstream]
# Recursive resolver all queries forwarded to, hostname or ip address
resolver = "1.1.1.1"
port = 53

# Protocol used for the upstream: udp, tcp, tls, https, quic
protocol = "udp"

# Query timeout for the upstream
timeout = "5s"

# Path used for the https protocol
path = "/dns-query"

[blocklist]
# Refresh period of the blocklist
refresh_interval = "1h"

# One domain per line, lines starting with # ignored.
# Location can be filesystem (path), http (url) or s3 (bucket, key, region)
[blocklist.source]
location = "filesystem"
path = "blocklist.txt"

[cache]
# Cache backend, memory or redis
backend = "memory"

# Maximum number of cached responses for the memory backend
max_entries = 10000

# TTL used for responses without answer records
default_ttl = "5m"

[cache.redis]
addr = "127.0.0.1:6379"
password = ""
db = 0
key_prefix = "fdns:"
`

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	config := Default()

	ext := strings.ToLower(filepath.Ext(cfgfile))

	if _, err := os.Stat(cfgfile); errors.Is(err, os.ErrNotExist) && (ext == ".toml" || ext == ".conf") {
		if err := generateConfig(cfgfile); err != nil {
			return nil, err
		}
	}

	zlog.Info("Loading config file", "path", cfgfile)

	switch ext {
	case ".yaml", ".yml":
		f, err := os.Open(cfgfile)
		if err != nil {
			return nil, fmt.Errorf("could not load config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("could not load config: %w", err)
		}
	default:
		md, err := toml.DecodeFile(cfgfile, config)
		if err != nil {
			return nil, fmt.Errorf("could not load config: %w", err)
		}

		for _, key := range md.Undecoded() {
			zlog.Warn("Unknown config key", "key", key.String())
		}
	}

	if config.Version != configver {
		zlog.Warn("Config file is out of version, you can generate new one and check the changes.")
	}

	config.sVersion = version

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the config for missing or conflicting values.
func (c *Config) Validate() error {
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("invalid loglevel %q", c.LogLevel)
	}

	if c.ClientRateLimit < 0 {
		return errors.New("clientratelimit must not be negative")
	}

	for i, l := range c.Server.TLS {
		if l.Bind == "" {
			return fmt.Errorf("server.tls[%d]: bind address required", i)
		}
		if l.IdleTimeout.Duration < 0 {
			return fmt.Errorf("server.tls[%d]: idle_timeout must not be negative", i)
		}
		if err := l.Cert.Validate(); err != nil {
			return fmt.Errorf("server.tls[%d].cert: %w", i, err)
		}
		if err := l.Key.Validate(); err != nil {
			return fmt.Errorf("server.tls[%d].key: %w", i, err)
		}
	}

	if c.Upstream.Resolver == "" {
		return errors.New("upstream.resolver required")
	}
	if !upstreamProtocols[c.Upstream.Protocol] {
		return fmt.Errorf("upstream.protocol %q not supported", c.Upstream.Protocol)
	}
	if c.Upstream.Port <= 0 || c.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port %d out of range", c.Upstream.Port)
	}
	if c.Upstream.Timeout.Duration <= 0 {
		return errors.New("upstream.timeout must be positive")
	}

	if err := c.Blocklist.Source.Validate(); err != nil {
		return fmt.Errorf("blocklist.source: %w", err)
	}
	if c.Blocklist.RefreshInterval.Duration <= 0 {
		return errors.New("blocklist.refresh_interval must be positive")
	}

	switch c.Cache.Backend {
	case BackendMemory:
		if c.Cache.MaxEntries <= 0 {
			return errors.New("cache.max_entries must be positive")
		}
	case BackendRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New("cache.redis.addr required")
		}
	default:
		return fmt.Errorf("cache.backend %q not supported", c.Cache.Backend)
	}
	if c.Cache.DefaultTTL.Duration <= 0 {
		return errors.New("cache.default_ttl must be positive")
	}

	return nil
}

// Validate checks the fields required by the source location.
func (s Source) Validate() error {
	switch s.Location {
	case LocationFilesystem:
		if s.Path == "" {
			return errors.New("path required")
		}
	case LocationHTTP:
		if s.URL == "" {
			return errors.New("url required")
		}
	case LocationS3:
		if s.Bucket == "" || s.Key == "" {
			return errors.New("bucket and key required")
		}
	case "":
		return errors.New("location required")
	default:
		return fmt.Errorf("unknown location %q", s.Location)
	}
	return nil
}

func generateConfig(path string) error {
	output, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not generate config: %w", err)
	}

	defer func() {
		err := output.Close()
		if err != nil {
			zlog.Warn("Config generation failed while file closing", "error", err.Error())
		}
	}()

	r := strings.NewReader(fmt.Sprintf(defaultConfig, configver))
	if _, err := io.Copy(output, r); err != nil {
		return fmt.Errorf("could not copy default config: %w", err)
	}

	if abs, err := filepath.Abs(path); err == nil {
		zlog.Info("Default config file generated", "config", abs)
	}

	return nil
}
