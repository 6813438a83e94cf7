package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every variable, e.g. MARKET_OWNER.
const EnvPrefix = "MARKET"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config is the marketd process configuration.
type Config struct {
	Owner           string        `envconfig:"OWNER" required:"true"`
	Currency        string        `envconfig:"CURRENCY" default:"usd"`
	Addr            string        `envconfig:"ADDR" default:":8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	HookTimeout     time.Duration `envconfig:"HOOK_TIMEOUT" default:"5s"`

	Store    string         `envconfig:"STORE" default:"memory"`
	SQLite   SQLiteConfig   `envconfig:"SQLITE"`
	Postgres PostgresConfig `envconfig:"POSTGRES"`
	Mongo    MongoConfig    `envconfig:"MONGO"`

	Redis RedisConfig `envconfig:"REDIS"`
	AMQP  AMQPConfig  `envconfig:"AMQP"`

	Metrics bool `envconfig:"METRICS" default:"true"`
	Audit   bool `envconfig:"AUDIT" default:"true"`
}

type SQLiteConfig struct {
	DSN string `envconfig:"DSN" default:"file:market.db"`
}

type PostgresConfig struct {
	URL string `envconfig:"URL"`
}

type MongoConfig struct {
	URI      string `envconfig:"URI"`
	Database string `envconfig:"DB" default:"market"`
}

// RedisConfig enables the Redis relay when URL is set.
type RedisConfig struct {
	URL    string `envconfig:"URL"`
	Prefix string `envconfig:"PREFIX"`
}

// AMQPConfig enables the AMQP relay when URL is set.
type AMQPConfig struct {
	URL      string `envconfig:"URL"`
	Exchange string `envconfig:"EXCHANGE" default:"market.events"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: %s_OWNER is required", EnvPrefix)
	}
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("config: %s_POSTGRES_URL is required for the postgres store", EnvPrefix)
		}
	case StoreMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("config: %s_MONGO_URI is required for the mongo store", EnvPrefix)
		}
	default:
		return fmt.Errorf("config: unknown store %q", c.Store)
	}
	return nil
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
