// Package config loads the server configuration. Sources are layered, each
// overriding the previous one: built-in defaults, an optional YAML file, a
// .env file, CHORUS_* environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/jmcleod/chorus/internal/logging"
)

// EnvPrefix prefixes every environment variable the loader reads, e.g.
// CHORUS_STORAGE_DRIVER for storage.driver.
const EnvPrefix = "CHORUS_"

// LegacyMongoURIEnv is read when no storage.mongo_uri is configured.
const LegacyMongoURIEnv = "MONGO_URI"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bbolt"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Sessions  SessionsConfig  `koanf:"sessions"`
	Cookie    CookieConfig    `koanf:"cookie"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Audit     AuditConfig     `koanf:"audit"`
}

type ServerConfig struct {
	Listen string `koanf:"listen"`
	// TLSCert and TLSKey name a PEM key pair. When both are empty a
	// self-signed certificate is generated at startup.
	TLSCert string `koanf:"tls_cert"`
	TLSKey  string `koanf:"tls_key"`
	// Insecure serves plain HTTP, for deployments behind a TLS-terminating
	// proxy.
	Insecure          bool          `koanf:"insecure"`
	TrustedProxies    []string      `koanf:"trusted_proxies"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects the backend for users, and for sessions unless
// SessionsConfig overrides it.
type StorageConfig struct {
	Driver        string        `koanf:"driver"`
	Path          string        `koanf:"path"`
	MongoURI      string        `koanf:"mongo_uri"`
	MongoDatabase string        `koanf:"mongo_database"`
	PostgresDSN   string        `koanf:"postgres_dsn"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// SessionsConfig optionally moves sessions to redis.
type SessionsConfig struct {
	Driver        string `koanf:"driver"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
}

type CookieConfig struct {
	// Secret keys the session cookie. Empty means a random per-process key.
	Secret string `koanf:"secret"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type RateLimitConfig struct {
	Rate  float64 `koanf:"rate"`
	Burst int     `koanf:"burst"`
}

type AuditConfig struct {
	WebhookURL    string `koanf:"webhook_url"`
	WebhookHeader string `koanf:"webhook_header"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8443",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Driver:        DriverBolt,
			Path:          "chorus.db",
			MongoDatabase: "chorus",
			SweepInterval: 5 * time.Minute,
		},
		Sessions: SessionsConfig{
			RedisAddr:   "localhost:6379",
			RedisPrefix: "chorus:session:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Rate:  1.0 / 6,
			Burst: 10,
		},
	}
}

// flagKeys maps command-line flag names to configuration keys. Flags not
// listed here are ignored by Load.
var flagKeys = map[string]string{
	"listen":       "server.listen",
	"tls-cert":     "server.tls_cert",
	"tls-key":      "server.tls_key",
	"insecure":     "server.insecure",
	"storage":      "storage.driver",
	"db-path":      "storage.path",
	"mongo-uri":    "storage.mongo_uri",
	"postgres-dsn": "storage.postgres_dsn",
	"sessions":     "sessions.driver",
	"redis-addr":   "sessions.redis_addr",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// RegisterFlags defines the command-line flags Load understands.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("env-file", ".env", "Path to a dotenv file (ignored when missing)")
	flags.String("listen", d.Server.Listen, "Address to listen on")
	flags.String("tls-cert", "", "Path to TLS certificate file")
	flags.String("tls-key", "", "Path to TLS key file")
	flags.Bool("insecure", false, "Serve plain HTTP (only behind a TLS-terminating proxy)")
	flags.String("storage", d.Storage.Driver, "Storage driver: bbolt, memory, mongo or postgres")
	flags.String("db-path", d.Storage.Path, "Database file for the bbolt driver")
	flags.String("mongo-uri", "", "MongoDB connection URI")
	flags.String("postgres-dsn", "", "PostgreSQL connection string")
	flags.String("sessions", "", "Session store override: redis")
	flags.String("redis-addr", d.Sessions.RedisAddr, "Redis address for the redis session store")
	flags.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	flags.String("log-format", d.Log.Format, "Log format: json or text")
}

// Load builds the configuration from all sources. flags may be nil; when
// set, its "config" and "env-file" flags name the files to read and only
// flags the user actually set override other sources.
func Load(flags *pflag.FlagSet) (*Config, error) {
	configFile, envFile := "", ".env"
	if flags != nil {
		if v, err := flags.GetString("config"); err == nil {
			configFile = v
		}
		if v, err := flags.GetString("env-file"); err == nil {
			envFile = v
		}
	}

	k := koanf.New(".")
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configFile, err)
		}
	}

	// Existing environment variables win over the dotenv file.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	if uri := os.Getenv(LegacyMongoURIEnv); uri != "" && !k.Exists("storage.mongo_uri") {
		if err := k.Set("storage.mongo_uri", uri); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKeyValue), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, changedFlag(flags)), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeyValue maps CHORUS_SECTION_SOME_KEY to section.some_key. Lists are
// comma-separated.
func envKeyValue(name, value string) (string, any) {
	rest := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, key, ok := strings.Cut(rest, "_")
	if !ok || key == "" {
		return "", nil
	}
	if section == "server" && key == "trusted_proxies" {
		return section + "." + key, splitList(value)
	}
	return section + "." + key, value
}

func changedFlag(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SessionDriver is the effective session store driver.
func (c *Config) SessionDriver() string {
	if c.Sessions.Driver != "" {
		return c.Sessions.Driver
	}
	return c.Storage.Driver
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Listen != "", "server.listen is required")
	check((c.Server.TLSCert == "") == (c.Server.TLSKey == ""),
		"server.tls_cert and server.tls_key must be set together")
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverBolt:
		check(c.Storage.Path != "", "storage.path is required for the bbolt driver")
	case DriverMongo:
		check(c.Storage.MongoURI != "", "storage.mongo_uri (or %s) is required for the mongo driver", LegacyMongoURIEnv)
		check(c.Storage.MongoDatabase != "", "storage.mongo_database is required for the mongo driver")
	case DriverPostgres:
		check(c.Storage.PostgresDSN != "", "storage.postgres_dsn is required for the postgres driver")
	default:
		check(false, "unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Sessions.Driver {
	case "":
	case DriverRedis:
		check(c.Sessions.RedisAddr != "", "sessions.redis_addr is required for the redis driver")
		check(c.Sessions.RedisDB >= 0, "sessions.redis_db must not be negative")
	default:
		check(false, "unknown sessions.driver %q", c.Sessions.Driver)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format must be json or text, got %q", c.Log.Format)

	check(c.RateLimit.Rate >= 0, "ratelimit.rate must not be negative")
	check(c.RateLimit.Burst >= 0, "ratelimit.burst must not be negative")

	if c.Audit.WebhookURL != "" {
		u, err := url.Parse(c.Audit.WebhookURL)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"audit.webhook_url must be an http(s) URL")
	}
	if c.Audit.WebhookHeader != "" {
		check(strings.Contains(c.Audit.WebhookHeader, ":"), "audit.webhook_header must look like \"Name: value\"")
	}
	return errors.Join(errs...)
}
