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

const (
	CacheBackendInMemory  = "in_memory"
	CacheBackendMemcached = "memcached"

	ArchiveBackendS3         = "s3"
	ArchiveBackendFilesystem = "filesystem"
	ArchiveBackendMemory     = "memory"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string

	// WeatherAPIKey may be empty; the service then serves mock readings.
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration

	LLMAPIKey      string
	LLMURL         string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMTemperature float32
	LLMMaxTokens   int

	RequestTimeout time.Duration
	CacheTTL       time.Duration
	CacheBackend   string // "in_memory" or "memcached"
	CacheWarm      bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ArchiveBackend string // "s3", "filesystem" or "memory"
	ArchiveBucket  string
	ArchiveDir     string
	ArchiveRegion  string
	LocalMode      bool

	RetryAttempts         int
	RetryBackoffStep      time.Duration
	RateLimitRPS          int
	RateLimitBurst        int
	CircuitBreakerEnabled bool
	CircuitBreakerTimeout time.Duration

	CoalesceEnabled bool

	AnalyticsDSN   string
	AnalyticsTable string

	IngestEnabled    bool
	IngestInterval   time.Duration
	TrackedLocations []string

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	LLM struct {
		URL         string   `yaml:"url"`
		Model       string   `yaml:"model"`
		Timeout     string   `yaml:"timeout"`
		Temperature *float32 `yaml:"temperature"`
		MaxTokens   int      `yaml:"max_tokens"`
	} `yaml:"llm"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		Warm    bool   `yaml:"warm"`
	} `yaml:"cache"`

	Memcached struct {
		Addrs        string `yaml:"addrs"`
		Timeout      string `yaml:"timeout"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"memcached"`

	Archive struct {
		Backend string `yaml:"backend"`
		Bucket  string `yaml:"bucket"`
		Dir     string `yaml:"dir"`
		Region  string `yaml:"region"`
	} `yaml:"archive"`

	LocalMode bool `yaml:"local_mode"`

	Reliability struct {
		RetryMaxAttempts      int    `yaml:"retry_max_attempts"`
		RetryBackoffStep      string `yaml:"retry_backoff_step"`
		RateLimitRPS          int    `yaml:"rate_limit_rps"`
		RateLimitBurst        int    `yaml:"rate_limit_burst"`
		CircuitBreakerEnabled *bool  `yaml:"circuit_breaker_enabled"`
		CircuitBreakerTimeout string `yaml:"circuit_breaker_timeout"`
	} `yaml:"reliability"`

	Coalesce struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"coalesce"`

	Analytics struct {
		DSN   string `yaml:"dsn"`
		Table string `yaml:"table"`
	} `yaml:"analytics"`

	Ingest struct {
		Enabled   bool     `yaml:"enabled"`
		Interval  string   `yaml:"interval"`
		Locations []string `yaml:"locations"`
	} `yaml:"ingest"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey    string `yaml:"weather_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`
	AnalyticsDSN     string `yaml:"analytics_dsn"`
}

// Load reads configuration relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom reads root/.env (optional), root/config/{ENV_NAME}.yaml (default dev)
// and root/config/secrets.yaml (optional). Environment variables win over files.
func LoadFrom(root string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(root, "config", env+".yaml")
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

	var sec secretsFile
	secretsData, err := os.ReadFile(filepath.Join(root, "config", "secrets.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(secretsData, &sec); err != nil {
			return nil, fmt.Errorf("parse secrets file: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHER_API_KEY"), sec.WeatherAPIKey)
	cfg.WeatherAPIURL = firstNonEmpty(fc.WeatherAPI.URL, "https://api.weatherapi.com/v1")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 15*time.Second)

	cfg.LLMAPIKey = firstNonEmpty(os.Getenv("OPENROUTER_API_KEY"), sec.OpenRouterAPIKey)
	cfg.LLMURL = firstNonEmpty(fc.LLM.URL, "https://openrouter.ai/api/v1")
	cfg.LLMModel = firstNonEmpty(fc.LLM.Model, "openai/gpt-4o-mini")
	cfg.LLMTimeout = parseDurationOrZero(fc.LLM.Timeout, 20*time.Second)
	cfg.LLMTemperature = 0.7
	if fc.LLM.Temperature != nil {
		cfg.LLMTemperature = *fc.LLM.Temperature
	}
	cfg.LLMMaxTokens = fc.LLM.MaxTokens
	if cfg.LLMMaxTokens <= 0 {
		cfg.LLMMaxTokens = 300
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 900*time.Second)
	cfg.CacheBackend = lower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, CacheBackendInMemory))
	cfg.CacheWarm = fc.Cache.Warm

	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.LocalMode = fc.LocalMode
	if v, ok := envBool("IS_LOCAL"); ok {
		cfg.LocalMode = v
	}
	cfg.ArchiveBucket = firstNonEmpty(os.Getenv("WEATHER_BUCKET_NAME"), fc.Archive.Bucket)
	cfg.ArchiveDir = firstNonEmpty(fc.Archive.Dir, "data/archive")
	cfg.ArchiveRegion = firstNonEmpty(os.Getenv("AWS_REGION"), fc.Archive.Region, "us-east-1")
	cfg.ArchiveBackend = lower(fc.Archive.Backend)
	if cfg.ArchiveBackend == "" {
		cfg.ArchiveBackend = ArchiveBackendS3
	}
	// Local runs without a bucket archive to disk.
	if cfg.LocalMode && cfg.ArchiveBackend == ArchiveBackendS3 && cfg.ArchiveBucket == "" {
		cfg.ArchiveBackend = ArchiveBackendFilesystem
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBackoffStep = parseDuration(fc.Reliability.RetryBackoffStep, time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.CircuitBreakerEnabled = true
	if fc.Reliability.CircuitBreakerEnabled != nil {
		cfg.CircuitBreakerEnabled = *fc.Reliability.CircuitBreakerEnabled
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreakerTimeout, 30*time.Second)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled

	cfg.AnalyticsDSN = firstNonEmpty(os.Getenv("ANALYTICS_DSN"), sec.AnalyticsDSN, fc.Analytics.DSN)
	cfg.AnalyticsTable = firstNonEmpty(fc.Analytics.Table, "weather_data")

	cfg.IngestEnabled = fc.Ingest.Enabled
	cfg.IngestInterval = parseDuration(fc.Ingest.Interval, 24*time.Hour)
	cfg.TrackedLocations = fc.Ingest.Locations

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaskSecret keeps the first four characters of s. Empty stays empty.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "..."
	}
	return s[:4] + "..."
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
// Returns zero or negative durations as-is so validate can reject them.
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

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func envBool(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// validate performs post-load validation. RequestTimeout is raised above the
// worst-case upstream budget when it is too small.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.LLMTimeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}
	if cfg.LLMTemperature < 0 || cfg.LLMTemperature > 2 {
		return fmt.Errorf("llm.temperature must be within 0..2, got %v", cfg.LLMTemperature)
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.CacheBackend {
	case CacheBackendInMemory, CacheBackendMemcached:
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.ArchiveBackend {
	case ArchiveBackendS3:
		if cfg.ArchiveBucket == "" {
			return fmt.Errorf("archive.bucket (or WEATHER_BUCKET_NAME) required for s3 backend")
		}
	case ArchiveBackendFilesystem:
		if cfg.ArchiveDir == "" {
			return fmt.Errorf("archive.dir required for filesystem backend")
		}
	case ArchiveBackendMemory:
	default:
		return fmt.Errorf("archive.backend must be s3, filesystem or memory, got %q", cfg.ArchiveBackend)
	}
	if cfg.IngestEnabled && len(cfg.TrackedLocations) == 0 {
		return fmt.Errorf("ingest.locations required when ingest.enabled is true")
	}
	return nil
}
