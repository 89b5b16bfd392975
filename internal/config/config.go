package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/forecast-service/internal/ratelimit"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("invalid configuration")

// Rate limit store backends.
const (
	BackendInMemory  = "in_memory"
	BackendRedis     = "redis"
	BackendMemcached = "memcached"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	RequestTimeout        time.Duration
	ShutdownTimeout       time.Duration
	InFlightTimeout       time.Duration
	InFlightCheckInterval time.Duration

	MinTemperatureC int
	MaxTemperatureC int
	ForecastSeed    uint64 // 0 uses the shared generator

	RateLimitEnabled        bool
	PermitLimit             int
	Window                  time.Duration
	QueueLimit              int
	RateLimitBackend        string // "in_memory", "redis" or "memcached"
	RateLimitKeyPrefix      string
	JanitorInterval         time.Duration
	TrustForwardedFor       bool
	GlobalRPS               int
	GlobalBurst             int
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisDialTimeout time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	AuthJWTSecret      string
	AuthPrincipalClaim string

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Forecast struct {
		MinTemperatureC *int   `yaml:"min_temperature_c"`
		MaxTemperatureC *int   `yaml:"max_temperature_c"`
		Seed            uint64 `yaml:"seed"`
	} `yaml:"forecast"`

	RateLimit struct {
		Enabled                 *bool  `yaml:"enabled"`
		PermitLimit             *int   `yaml:"permit_limit"`
		Window                  string `yaml:"window"`
		QueueLimit              int    `yaml:"queue_limit"`
		Backend                 string `yaml:"backend"`
		KeyPrefix               string `yaml:"key_prefix"`
		JanitorInterval         string `yaml:"janitor_interval"`
		TrustForwardedFor       bool   `yaml:"trust_forwarded_for"`
		GlobalRPS               int    `yaml:"global_rps"`
		GlobalBurst             int    `yaml:"global_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"rate_limit"`

	Redis struct {
		Addr        string `yaml:"addr"`
		Password    string `yaml:"password"`
		DB          int    `yaml:"db"`
		DialTimeout string `yaml:"dial_timeout"`
	} `yaml:"redis"`

	Memcached struct {
		Addrs        string `yaml:"addrs"`
		Timeout      string `yaml:"timeout"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"memcached"`

	Auth struct {
		PrincipalClaim string `yaml:"principal_claim"`
	} `yaml:"auth"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	AuthJWTSecret string `yaml:"auth_jwt_secret"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after loading a .env file from the working directory if present. Environment variables
// override file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
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

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.InFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.MinTemperatureC = 15
	if fc.Forecast.MinTemperatureC != nil {
		cfg.MinTemperatureC = *fc.Forecast.MinTemperatureC
	}
	cfg.MaxTemperatureC = 35
	if fc.Forecast.MaxTemperatureC != nil {
		cfg.MaxTemperatureC = *fc.Forecast.MaxTemperatureC
	}
	cfg.ForecastSeed = fc.Forecast.Seed

	cfg.RateLimitEnabled = true
	if fc.RateLimit.Enabled != nil {
		cfg.RateLimitEnabled = *fc.RateLimit.Enabled
	}
	defaultPolicy := ratelimit.DefaultPolicy()
	cfg.PermitLimit = defaultPolicy.PermitLimit
	if fc.RateLimit.PermitLimit != nil {
		cfg.PermitLimit = *fc.RateLimit.PermitLimit
	}
	cfg.Window = parseDurationOrZero(fc.RateLimit.Window, defaultPolicy.Window)
	cfg.QueueLimit = fc.RateLimit.QueueLimit
	cfg.RateLimitBackend = strings.TrimSpace(strings.ToLower(os.Getenv("RATE_LIMIT_BACKEND")))
	if cfg.RateLimitBackend == "" {
		cfg.RateLimitBackend = strings.TrimSpace(strings.ToLower(fc.RateLimit.Backend))
	}
	if cfg.RateLimitBackend == "" {
		cfg.RateLimitBackend = BackendInMemory
	}
	cfg.RateLimitKeyPrefix = fc.RateLimit.KeyPrefix
	if cfg.RateLimitKeyPrefix == "" {
		cfg.RateLimitKeyPrefix = "forecast:ratelimit:"
	}
	cfg.JanitorInterval = parseDuration(fc.RateLimit.JanitorInterval, 2*time.Minute)
	cfg.TrustForwardedFor = fc.RateLimit.TrustForwardedFor
	cfg.GlobalRPS = fc.RateLimit.GlobalRPS
	cfg.GlobalBurst = fc.RateLimit.GlobalBurst
	if cfg.GlobalRPS > 0 && cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = cfg.GlobalRPS
	}
	cfg.BreakerFailureThreshold = fc.RateLimit.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.RateLimit.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.RateLimit.BreakerTimeout, 30*time.Second)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = strings.TrimSpace(fc.Redis.Addr)
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = sec.RedisPassword
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = fc.Redis.Password
	}
	cfg.RedisDB = fc.Redis.DB
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: REDIS_DB %q is not a number", ErrInvalid, v)
		}
		cfg.RedisDB = db
	}
	cfg.RedisDialTimeout = parseDuration(fc.Redis.DialTimeout, 500*time.Millisecond)

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	if cfg.AuthJWTSecret == "" {
		cfg.AuthJWTSecret = sec.AuthJWTSecret
	}
	cfg.AuthPrincipalClaim = strings.TrimSpace(fc.Auth.PrincipalClaim)
	if cfg.AuthPrincipalClaim == "" {
		cfg.AuthPrincipalClaim = "sub"
	}

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadSecrets reads the optional secrets file. A missing file yields zero values.
func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// RateLimitPolicy returns the per-partition window budget.
func (c *Config) RateLimitPolicy() ratelimit.Policy {
	return ratelimit.Policy{PermitLimit: c.PermitLimit, Window: c.Window}
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
// Returns zero or negative durations as-is (caller should handle fallback).
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

// validate rejects values the service cannot run with. Requests are never queued,
// so queue_limit must stay 0.
func validate(cfg *Config) error {
	if cfg.MinTemperatureC >= cfg.MaxTemperatureC {
		return fmt.Errorf("%w: forecast.min_temperature_c (%d) must be below max_temperature_c (%d)",
			ErrInvalid, cfg.MinTemperatureC, cfg.MaxTemperatureC)
	}
	if cfg.QueueLimit != 0 {
		return fmt.Errorf("%w: rate_limit.queue_limit must be 0, got %d", ErrInvalid, cfg.QueueLimit)
	}
	if err := cfg.RateLimitPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch cfg.RateLimitBackend {
	case BackendInMemory, BackendRedis, BackendMemcached:
		// valid
	default:
		return fmt.Errorf("%w: rate_limit.backend must be in_memory, redis or memcached, got %q",
			ErrInvalid, cfg.RateLimitBackend)
	}
	if cfg.GlobalRPS < 0 {
		return fmt.Errorf("%w: rate_limit.global_rps must not be negative", ErrInvalid)
	}
	if cfg.OverloadThresholdPct > 100 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("%w: lifecycle percentages must be at most 100", ErrInvalid)
	}
	return nil
}
