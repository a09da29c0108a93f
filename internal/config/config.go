package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Cache backends accepted in CACHE_BACKEND / cache.backend.
const (
	CacheBackendNone      = "none"
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"
	CacheBackendRedis     = "redis"
)

const (
	defaultPort            = "8080"
	defaultAPIURL          = "https://api.weatherapi.com/v1/current.json"
	defaultCORSOrigin      = "http://localhost:3000"
	defaultFreshnessWindow = 30 * time.Minute
	defaultMaxCityLength   = 100
	defaultKafkaTopic      = "weather.recorded"
)

// Config holds service configuration. It is built once in main and passed to
// the components that need it; nothing reads the environment after Load.
type Config struct {
	ServerPort string
	LogLevel   string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration // 0 keeps the transport default

	DatabaseURL string

	CORSAllowedOrigin string

	FreshnessWindow  time.Duration
	CoalesceResolves bool
	MaxCityLength    int

	CacheBackend          string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisURL              string

	KafkaBrokers string
	KafkaTopic   string

	ShutdownTimeout  time.Duration
	DegradedWindow   time.Duration
	DegradedErrorPct int

	TrackedLocations []string
}

// APIKeyConfigured reports whether an upstream key was supplied.
func (c *Config) APIKeyConfigured() bool {
	return c.WeatherAPIKey != ""
}

// EventsEnabled reports whether record events should be published.
func (c *Config) EventsEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	CORS struct {
		AllowedOrigin string `yaml:"allowed_origin"`
	} `yaml:"cors"`

	Resolver struct {
		FreshnessWindow string `yaml:"freshness_window"`
		Coalesce        *bool  `yaml:"coalesce"`
		MaxCityLength   int    `yaml:"max_city_length"`
	} `yaml:"resolver"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			URL string `yaml:"url"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Kafka struct {
		Brokers string `yaml:"brokers"`
		Topic   string `yaml:"topic"`
	} `yaml:"kafka"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration relative to the working directory. See LoadFrom.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom builds a Config from, in increasing precedence: defaults,
// root/config/{ENV_NAME}.yaml (default dev, optional), and the process
// environment after root/.env has been merged into it (existing variables win).
// The API key comes from WEATHER_API_KEY or root/config/secrets.yaml; a
// missing key is not an error here.
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	var fc fileConfig
	configPath := filepath.Join(root, "config", env+".yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	var errs []error

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, defaultPort)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.Log.Level, "INFO")

	apiKey, err := loadAPIKey(root)
	if err != nil {
		return nil, err
	}
	cfg.WeatherAPIKey = apiKey
	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, defaultAPIURL)
	cfg.WeatherAPITimeout = durationSetting(&errs, "WEATHER_API_TIMEOUT", fc.WeatherAPI.Timeout, 0)

	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), fc.Database.URL)
	cfg.CORSAllowedOrigin = firstNonEmpty(os.Getenv("CORS_ALLOWED_ORIGIN"), fc.CORS.AllowedOrigin, defaultCORSOrigin)

	cfg.FreshnessWindow = durationSetting(&errs, "FRESHNESS_WINDOW", fc.Resolver.FreshnessWindow, defaultFreshnessWindow)
	cfg.CoalesceResolves = true
	if fc.Resolver.Coalesce != nil {
		cfg.CoalesceResolves = *fc.Resolver.Coalesce
	}
	if v := strings.TrimSpace(os.Getenv("COALESCE_RESOLVES")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("COALESCE_RESOLVES: %w", err))
		}
		cfg.CoalesceResolves = b
	}
	cfg.MaxCityLength = fc.Resolver.MaxCityLength
	if cfg.MaxCityLength <= 0 {
		cfg.MaxCityLength = defaultMaxCityLength
	}

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, CacheBackendNone))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisURL = firstNonEmpty(os.Getenv("REDIS_URL"), fc.Cache.Redis.URL, "redis://localhost:6379/0")

	cfg.KafkaBrokers = firstNonEmpty(os.Getenv("KAFKA_BROKERS"), fc.Kafka.Brokers)
	cfg.KafkaTopic = firstNonEmpty(os.Getenv("KAFKA_TOPIC"), fc.Kafka.Topic, defaultKafkaTopic)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.TrackedLocations = fc.Metrics.TrackedLocations

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(root string) (string, error) {
	if key := strings.TrimSpace(os.Getenv("WEATHER_API_KEY")); key != "" {
		return key, nil
	}
	data, err := os.ReadFile(filepath.Join(root, "config", "secrets.yaml"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// durationSetting prefers the environment variable, which must parse, over the
// file value, which falls back to defaultVal when empty or malformed.
func durationSetting(errs *[]error, envKey, fileVal string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", envKey, err))
			return defaultVal
		}
		return d
	}
	return parseDurationOrZero(fileVal, defaultVal)
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is for validate to reject.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL required (set env or database.url)")
	}
	if cfg.FreshnessWindow <= 0 {
		return fmt.Errorf("FRESHNESS_WINDOW must be positive, got %s", cfg.FreshnessWindow)
	}
	if cfg.WeatherAPITimeout < 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must not be negative")
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	switch cfg.CacheBackend {
	case CacheBackendNone, CacheBackendInMemory, CacheBackendMemcached, CacheBackendRedis:
	default:
		return fmt.Errorf("cache.backend must be none, in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	return nil
}
