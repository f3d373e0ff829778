// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database holds connection and pool settings for Postgres.
type Database struct {
	User     string `mapstructure:"postgres_user"`
	Password string `mapstructure:"postgres_password"`
	Host     string `mapstructure:"postgres_host"`
	Port     int    `mapstructure:"postgres_port"`
	Name     string `mapstructure:"postgres_db"`
	SSLMode  string `mapstructure:"postgres_sslmode"`

	MaxConns       int32         `mapstructure:"pool_max_conns"`
	AcquireTimeout time.Duration `mapstructure:"pool_acquire_timeout"`
	IdleTimeout    time.Duration `mapstructure:"pool_idle_timeout"`
	DrainTimeout   time.Duration `mapstructure:"pool_drain_timeout"`
}

// Server holds HTTP listener settings.
type Server struct {
	Port             int           `mapstructure:"port"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// Log holds logger settings.
type Log struct {
	Level  string `mapstructure:"log_level"`
	Format string `mapstructure:"log_format"`
}

// Config is the full service configuration. Every key maps to an
// upper-cased environment variable of the same name.
type Config struct {
	Database Database `mapstructure:",squash"`
	Server   Server   `mapstructure:",squash"`
	Log      Log      `mapstructure:",squash"`
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// Load reads the configuration from the environment.
// defaultPort differs per service (3001 for service A, 3002 for service B).
func Load(defaultPort int) (*Config, error) {
	return load(viper.New(), defaultPort)
}

func load(v *viper.Viper, defaultPort int) (*Config, error) {
	// Keys must be registered for AutomaticEnv to be seen by Unmarshal.
	v.SetDefault("postgres_user", "")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_host", "postgres-db-service")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_db", "")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("pool_max_conns", 10)
	v.SetDefault("pool_acquire_timeout", 5*time.Second)
	v.SetDefault("pool_idle_timeout", 10*time.Second)
	v.SetDefault("pool_drain_timeout", 10*time.Second)
	v.SetDefault("port", defaultPort)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("statement_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Database.Port <= 0 || c.Database.Port > 65535:
		return fmt.Errorf("invalid POSTGRES_PORT %d", c.Database.Port)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	case c.Database.MaxConns <= 0:
		return fmt.Errorf("POOL_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	case c.Database.AcquireTimeout <= 0:
		return fmt.Errorf("POOL_ACQUIRE_TIMEOUT must be positive, got %s", c.Database.AcquireTimeout)
	case c.Database.DrainTimeout <= 0:
		return fmt.Errorf("POOL_DRAIN_TIMEOUT must be positive, got %s", c.Database.DrainTimeout)
	case c.Server.ShutdownTimeout <= 0:
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %s", c.Server.ShutdownTimeout)
	case c.Server.StatementTimeout <= 0:
		return fmt.Errorf("STATEMENT_TIMEOUT must be positive, got %s", c.Server.StatementTimeout)
	case c.Log.Format != "json" && c.Log.Format != "console":
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}
