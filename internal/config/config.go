package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue backends for QUEUE_BACKEND.
const (
	QueueMemory   = "memory"
	QueuePostgres = "postgres"
	QueueRedis    = "redis"
)

type Config struct {
	Port               string   `mapstructure:"PORT"`
	Env                string   `mapstructure:"ENV"`
	LogLevel           string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL           string   `mapstructure:"REDIS_URL"`
	QueueBackend       string   `mapstructure:"QUEUE_BACKEND"`
	ClinicTimezone     string   `mapstructure:"CLINIC_TIMEZONE"`
	MaxAdvanceDays     int      `mapstructure:"SCHEDULER_MAX_ADVANCE_DAYS"`
	MaxDurationMinutes int      `mapstructure:"SCHEDULER_MAX_DURATION_MINUTES"`
	AuthSigningKey     string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthJWKSURL        string   `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer         string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "QUEUE_BACKEND",
	"CLINIC_TIMEZONE", "SCHEDULER_MAX_ADVANCE_DAYS", "SCHEDULER_MAX_DURATION_MINUTES",
	"AUTH_SIGNING_KEY", "AUTH_JWKS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment, with an optional .env file
// in the working directory underneath it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("QUEUE_BACKEND", "")
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("SCHEDULER_MAX_ADVANCE_DAYS", 14)
	v.SetDefault("SCHEDULER_MAX_DURATION_MINUTES", 480)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if cfg.QueueBackend == "" {
		cfg.QueueBackend = cfg.defaultQueueBackend()
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) defaultQueueBackend() string {
	switch {
	case c.RedisURL != "":
		return QueueRedis
	case c.DatabaseURL != "":
		return QueuePostgres
	default:
		return QueueMemory
	}
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// UsesMemoryStore reports whether bookings live in process memory.
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == ""
}

// AuthEnabled reports whether bearer tokens are required on the API.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// Location loads CLINIC_TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Production refuses
// to start on in-memory storage or without token verification, since both
// break the guarantees a multi-instance deployment relies on.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.MaxAdvanceDays < 0 {
		return fmt.Errorf("SCHEDULER_MAX_ADVANCE_DAYS must not be negative, got %d", c.MaxAdvanceDays)
	}
	if c.MaxDurationMinutes <= 0 {
		return fmt.Errorf("SCHEDULER_MAX_DURATION_MINUTES must be positive, got %d", c.MaxDurationMinutes)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	switch c.QueueBackend {
	case QueueMemory:
		if !c.UsesMemoryStore() {
			return fmt.Errorf("QUEUE_BACKEND=memory cannot be combined with DATABASE_URL")
		}
	case QueuePostgres:
		if c.UsesMemoryStore() {
			return fmt.Errorf("QUEUE_BACKEND=postgres requires DATABASE_URL")
		}
	case QueueRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("QUEUE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("QUEUE_BACKEND must be memory, postgres or redis, got %q", c.QueueBackend)
	}

	if c.AuthJWKSURL != "" && c.AuthSigningKey != "" {
		return fmt.Errorf("set only one of AUTH_JWKS_URL and AUTH_SIGNING_KEY")
	}
	if c.IsProduction() {
		if c.UsesMemoryStore() {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if !c.AuthEnabled() {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY is required in production")
		}
	}
	return nil
}
