package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	ForecastAPIURL  string
	ForecastTimeout time.Duration

	GeocodeAPIKey  string
	GeocodeAPIURL  string
	GeocodeTimeout time.Duration

	RequestTimeout time.Duration

	// CacheTTL is the single freshness constant: a record older than
	// this is never served and is eligible for pruning.
	CacheTTL     time.Duration
	CacheBackend string // "in_memory", "sqlite" or "memcached"

	SQLitePath string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout            time.Duration
	ShutdownDrainTimeout       time.Duration
	ShutdownDrainCheckInterval time.Duration

	WarmCache          bool
	WarmInterval       time.Duration
	TrackedCoordinates []Coordinate
}

// Coordinate is a tracked (lat, lon) pair for cache warming.
type Coordinate struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"forecast_api"`

	GeocodeAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"geocode_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		SQLite  struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Coalesce struct {
			Enabled bool   `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Warming struct {
			Enabled     bool         `yaml:"enabled"`
			Interval    string       `yaml:"interval"`
			Coordinates []Coordinate `yaml:"coordinates"`
		} `yaml:"warming"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout            string `yaml:"timeout"`
		DrainTimeout       string `yaml:"drain_timeout"`
		DrainCheckInterval string `yaml:"drain_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	GeocodeAPIKey string `yaml:"geocode_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev)
// and config/secrets.yaml. The geocode API key comes from the
// GEOCODE_API_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.ForecastAPIURL = fc.ForecastAPI.URL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ForecastTimeout = parseDuration(fc.ForecastAPI.Timeout, 5*time.Second)

	cfg.GeocodeAPIKey = os.Getenv("GEOCODE_API_KEY")
	if cfg.GeocodeAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.GeocodeAPIKey = sec.GeocodeAPIKey
		}
	}
	if cfg.GeocodeAPIKey == "" {
		return nil, fmt.Errorf("GEOCODE_API_KEY required (set env or config/secrets.yaml geocode_api_key)")
	}

	cfg.GeocodeAPIURL = fc.GeocodeAPI.URL
	if cfg.GeocodeAPIURL == "" {
		cfg.GeocodeAPIURL = "https://us1.locationiq.com/v1/reverse"
	}
	cfg.GeocodeTimeout = parseDuration(fc.GeocodeAPI.Timeout, 5*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}

	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = strings.TrimSpace(fc.Cache.SQLite.Path)
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "weather-cache.db"
	}

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CoalesceEnabled = fc.Cache.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 5*time.Second)

	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS < 0 {
		cfg.RateLimitRPS = 0
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS * 2
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownDrainTimeout = parseDuration(fc.Shutdown.DrainTimeout, 10*time.Second)
	cfg.ShutdownDrainCheckInterval = parseDuration(fc.Shutdown.DrainCheckInterval, 100*time.Millisecond)

	cfg.WarmCache = fc.Cache.Warming.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warming.Interval, 0)
	cfg.TrackedCoordinates = fc.Cache.Warming.Coordinates

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and falls back to defaultVal
// when parsing fails or the result is not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on
// empty string or parse error. Zero and negative values pass through.
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

// validate performs post-load validation. The request timeout must
// leave room for both upstream calls; it is auto-raised if not.
func validate(cfg *Config) error {
	if cfg.ForecastTimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.GeocodeTimeout <= 0 {
		return fmt.Errorf("geocode_api.timeout must be positive")
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	upstream := cfg.ForecastTimeout
	if cfg.GeocodeTimeout > upstream {
		upstream = cfg.GeocodeTimeout
	}
	if cfg.RequestTimeout <= upstream {
		cfg.RequestTimeout = upstream + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "sqlite", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, sqlite or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.WarmCache && len(cfg.TrackedCoordinates) == 0 {
		return fmt.Errorf("cache.warming.enabled requires cache.warming.coordinates")
	}
	return nil
}
