package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the jobwatch server and CLI.
type Config struct {
	Server     ServerConfig
	Backend    BackendConfig
	Polling    PollingConfig
	Registry   RegistryConfig
	Simulator  SimulatorConfig
	Validation ValidationConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PollingConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	MaxDuration  time.Duration
	CancelPolicy string
}

// RegistryConfig controls pruning of finished jobs. A zero Retention keeps them forever.
type RegistryConfig struct {
	Retention     time.Duration
	PruneInterval time.Duration
}

type SimulatorConfig struct {
	Debounce      time.Duration
	RiskThreshold float64
	MinReduction  float64
}

type ValidationConfig struct {
	MemoTTL time.Duration
}

// DatabaseConfig is optional; an empty URL disables the job history archive.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig is optional; an empty URL selects the in-memory cache.
type RedisConfig struct {
	URL string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	CancelPolicyReconcile  = "reconcile"
	CancelPolicyOptimistic = "optimistic"
)

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables without validating it.
func FromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               envInt("JOBWATCH_PORT", 8090),
			Env:                envString("JOBWATCH_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 600),
		},
		Backend: BackendConfig{
			BaseURL: strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
			Timeout: envDuration("BACKEND_TIMEOUT", 30*time.Second),
		},
		Polling: PollingConfig{
			Interval:     envDuration("POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  envInt("POLL_MAX_ATTEMPTS", 1800),
			MaxDuration:  envDuration("POLL_MAX_DURATION", 2*time.Hour),
			CancelPolicy: envString("CANCEL_POLICY", CancelPolicyReconcile),
		},
		Registry: RegistryConfig{
			Retention:     envDuration("REGISTRY_RETENTION", 0),
			PruneInterval: envDuration("REGISTRY_PRUNE_INTERVAL", time.Minute),
		},
		Simulator: SimulatorConfig{
			Debounce:      envDuration("SIMULATE_DEBOUNCE", 500*time.Millisecond),
			RiskThreshold: envFloat("SIMULATE_RISK_THRESHOLD", 0.3),
			MinReduction:  envFloat("SIMULATE_MIN_REDUCTION", 0.01),
		},
		Validation: ValidationConfig{
			MemoTTL: envDuration("VALIDATION_MEMO_TTL", time.Hour),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(envString("LOG_LEVEL", "info")),
			Format: strings.ToLower(envString("LOG_FORMAT", "json")),
		},
	}
}

// Validate checks the loaded values. The CLI calls it again after applying flag overrides.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}

	if c.Polling.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Polling.Interval)
	}
	if c.Polling.MaxAttempts < 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must not be negative, got %d", c.Polling.MaxAttempts)
	}
	if c.Polling.CancelPolicy != CancelPolicyReconcile && c.Polling.CancelPolicy != CancelPolicyOptimistic {
		return fmt.Errorf("CANCEL_POLICY must be one of reconcile, optimistic; got %q", c.Polling.CancelPolicy)
	}

	if c.Registry.Retention < 0 {
		return fmt.Errorf("REGISTRY_RETENTION must not be negative, got %s", c.Registry.Retention)
	}

	if c.Simulator.Debounce <= 0 {
		return fmt.Errorf("SIMULATE_DEBOUNCE must be positive, got %s", c.Simulator.Debounce)
	}
	if c.Simulator.RiskThreshold < 0 || c.Simulator.RiskThreshold > 1 {
		return fmt.Errorf("SIMULATE_RISK_THRESHOLD must be within [0, 1], got %v", c.Simulator.RiskThreshold)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of json, console; got %q", c.Log.Format)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
