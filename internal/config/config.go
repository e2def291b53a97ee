package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full application configuration, loaded from YAML with
// environment overrides for the values that differ between deployments.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Venue      VenueConfig      `yaml:"venue"`
	Collection CollectionConfig `yaml:"collection"`
	Retention  RetentionConfig  `yaml:"retention"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VenueConfig points the fetcher at the external P2P market venue.
type VenueConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RowsCeiling    int     `yaml:"rows_ceiling"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
}

// CollectionConfig tunes the scheduler and task runner.
type CollectionConfig struct {
	TickSchedule   string  `yaml:"tick_schedule"`
	LockKey        string  `yaml:"lock_key"`
	LockTTLMinutes int     `yaml:"lock_ttl_minutes"`
	Workers        int     `yaml:"workers"`
	RetryAttempts  int     `yaml:"retry_attempts"`
	RetryInitialMS int     `yaml:"retry_initial_ms"`
	RetryMaxMS     int     `yaml:"retry_max_ms"`
	RetryFactor    float64 `yaml:"retry_factor"`
}

type RetentionConfig struct {
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"`
}

type HealthConfig struct {
	ErrorRateThreshold float64 `yaml:"error_rate_threshold"`
	WindowSize         int     `yaml:"window_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, ShutdownSeconds: 10},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Venue: VenueConfig{
			BaseURL:        "https://p2p.binance.com",
			TimeoutSeconds: 10,
			RowsCeiling:    50,
			RatePerSecond:  8,
			RateBurst:      4,
		},
		Collection: CollectionConfig{
			TickSchedule:   "@every 1m",
			LockKey:        "peertrack:collector:tick",
			LockTTLMinutes: 10,
			Workers:        4,
			RetryAttempts:  3,
			RetryInitialMS: 2000,
			RetryMaxMS:     30000,
			RetryFactor:    2.0,
		},
		Retention: RetentionConfig{Days: 30, Schedule: "@every 1h"},
		Health:    HealthConfig{ErrorRateThreshold: 0.5, WindowSize: 20},
		Logging:   LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads the YAML file at path (CONFIG_PATH or config/config.yaml when
// empty), applies environment overrides, and validates the result. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/config.yaml"
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Venue.BaseURL == "" {
		return fmt.Errorf("venue base_url is required")
	}
	if c.Venue.RowsCeiling <= 0 || c.Venue.RowsCeiling > 50 {
		return fmt.Errorf("venue rows_ceiling must be in (0, 50]")
	}
	if c.Collection.Workers <= 0 {
		return fmt.Errorf("collection workers must be positive")
	}
	if c.Collection.LockTTLMinutes <= 0 {
		return fmt.Errorf("collection lock_ttl_minutes must be positive")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention days must be positive")
	}
	if c.Health.ErrorRateThreshold <= 0 || c.Health.ErrorRateThreshold > 1 {
		return fmt.Errorf("health error_rate_threshold must be in (0, 1]")
	}
	return nil
}

// VenueTimeout converts the configured timeout into a duration.
func (c *Config) VenueTimeout() time.Duration {
	return time.Duration(c.Venue.TimeoutSeconds) * time.Second
}

// LockTTL converts the configured lock hold bound into a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Collection.LockTTLMinutes) * time.Minute
}
