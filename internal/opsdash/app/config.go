package app

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aussiebroadwan/opsdash/pkg/authsdk"
	"github.com/aussiebroadwan/opsdash/pkg/httpx"
	"gopkg.in/yaml.v3"
)

// Storage drivers accepted in Config.StorageDriver.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	APIURL       string // Required: base URL of the dashboard API (default: http://localhost:8000/api/v1)
	APIKey       string // Optional: tenant API key sent on every request
	APIKeyHeader string // Optional: header carrying APIKey (default: X-API-Key)

	StorageDriver    string // Optional: memory, file, sqlite, redis (default: file)
	StoragePath      string // Optional: state file for the file and sqlite drivers (default: ~/.config/opsdash/state.json)
	RedisURL         string // Required for the redis driver
	RedisPrefix      string // Optional: key prefix in redis (default: opsdash)
	EncryptionSecret string // Optional: when set, stored values are sealed at rest
	Namespace        string // Optional: storage key namespace (default: opsdash)

	HTTPTimeout time.Duration         // Optional: per-request timeout (default: 10s)
	RateLimit   httpx.RateLimitConfig // Optional: outgoing request budget (default: httpx.ClientLimit)

	TOTPSecret string // Optional: generates second-factor codes without prompting

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (json, text) (default: text)

	// ConfigFile is the YAML file the config was overlaid from, if any.
	ConfigFile string
}

// fileConfig is the YAML layout. Durations are strings ("10s", "1m").
type fileConfig struct {
	APIURL       string `yaml:"api_url"`
	APIKey       string `yaml:"api_key"`
	APIKeyHeader string `yaml:"api_key_header"`
	Namespace    string `yaml:"namespace"`
	HTTPTimeout  string `yaml:"http_timeout"`
	TOTPSecret   string `yaml:"totp_secret"`
	Env          string `yaml:"env"`

	Storage struct {
		Driver           string `yaml:"driver"`
		Path             string `yaml:"path"`
		RedisURL         string `yaml:"redis_url"`
		RedisPrefix      string `yaml:"redis_prefix"`
		EncryptionSecret string `yaml:"encryption_secret"`
	} `yaml:"storage"`

	RateLimit struct {
		Requests int    `yaml:"requests"`
		Window   string `yaml:"window"`
		Burst    int    `yaml:"burst"`
	} `yaml:"rate_limit"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig returns the built-in defaults without consulting the environment.
func DefaultConfig() Config {
	return Config{
		APIURL:        "http://localhost:8000/api/v1",
		APIKeyHeader:  authsdk.APIKeyHeader,
		StorageDriver: DriverFile,
		StoragePath:   filepath.Join(configDir(), "state.json"),
		RedisPrefix:   "opsdash",
		Namespace:     "opsdash",
		HTTPTimeout:   10 * time.Second,
		RateLimit:     httpx.ClientLimit,
		Env:           "dev",
		LogLevel:      "warn",
		LogFormat:     "text",
	}
}

// LoadConfig layers defaults, the YAML file named by OPSDASH_CONFIG (or the
// default location when present) and environment variables, in that order.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("OPSDASH_CONFIG")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir(), "config.yaml")
	}
	if err := cfg.overlayFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}

	cfg.overlayEnv()
	if cfg.StorageDriver == DriverSQLite && cfg.StoragePath == DefaultConfig().StoragePath {
		cfg.StoragePath = filepath.Join(configDir(), "state.db")
	}
	return cfg, cfg.Validate()
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.ConfigFile = path

	setString(&c.APIURL, fc.APIURL)
	setString(&c.APIKey, fc.APIKey)
	setString(&c.APIKeyHeader, fc.APIKeyHeader)
	setString(&c.Namespace, fc.Namespace)
	setString(&c.TOTPSecret, fc.TOTPSecret)
	setString(&c.Env, fc.Env)
	setString(&c.StorageDriver, fc.Storage.Driver)
	setString(&c.StoragePath, expandHome(fc.Storage.Path))
	setString(&c.RedisURL, fc.Storage.RedisURL)
	setString(&c.RedisPrefix, fc.Storage.RedisPrefix)
	setString(&c.EncryptionSecret, fc.Storage.EncryptionSecret)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)

	if fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("parse config %s: http_timeout: %w", path, err)
		}
		c.HTTPTimeout = d
	}
	if fc.RateLimit.Requests > 0 {
		c.RateLimit.RequestsPerWindow = fc.RateLimit.Requests
	}
	if fc.RateLimit.Burst > 0 {
		c.RateLimit.Burst = fc.RateLimit.Burst
	}
	if fc.RateLimit.Window != "" {
		d, err := time.ParseDuration(fc.RateLimit.Window)
		if err != nil {
			return fmt.Errorf("parse config %s: rate_limit.window: %w", path, err)
		}
		c.RateLimit.Window = d
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.APIURL = getEnvOrDefault("OPSDASH_API_URL", c.APIURL)
	c.APIKey = getEnvOrDefault("OPSDASH_API_KEY", c.APIKey)
	c.APIKeyHeader = getEnvOrDefault("OPSDASH_API_KEY_HEADER", c.APIKeyHeader)
	c.StorageDriver = getEnvOrDefault("OPSDASH_STORAGE", c.StorageDriver)
	c.StoragePath = expandHome(getEnvOrDefault("OPSDASH_STORAGE_PATH", c.StoragePath))
	c.RedisURL = getEnvOrDefault("OPSDASH_REDIS_URL", c.RedisURL)
	c.RedisPrefix = getEnvOrDefault("OPSDASH_REDIS_PREFIX", c.RedisPrefix)
	c.EncryptionSecret = getEnvOrDefault("OPSDASH_ENCRYPTION_SECRET", c.EncryptionSecret)
	c.Namespace = getEnvOrDefault("OPSDASH_NAMESPACE", c.Namespace)
	c.HTTPTimeout = getEnvDurationOrDefault("OPSDASH_HTTP_TIMEOUT", c.HTTPTimeout)
	c.TOTPSecret = getEnvOrDefault("OPSDASH_TOTP_SECRET", c.TOTPSecret)
	c.RateLimit.RequestsPerWindow = getEnvIntOrDefault("OPSDASH_RATELIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Burst = getEnvIntOrDefault("OPSDASH_RATELIMIT_BURST", c.RateLimit.Burst)
	c.Env = getEnvOrDefault("ENV", c.Env)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid API URL %q", c.APIURL)
	}

	switch c.StorageDriver {
	case DriverMemory:
	case DriverFile, DriverSQLite:
		if c.StoragePath == "" {
			return fmt.Errorf("storage driver %s needs a path", c.StorageDriver)
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("storage driver redis needs OPSDASH_REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.Namespace == "" {
		return errors.New("namespace must not be empty")
	}
	return nil
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "opsdash")
	}
	return ".opsdash"
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "10s", "1m")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
